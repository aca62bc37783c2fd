//go:build linux

package capability

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openRadio drives the named GPIO line high and returns a closer that drives
// it low and releases it.
func openRadio(chipName, lineName string) (io.Closer, error) {
	if chipName == "" {
		chipName = "gpiochip0"
	}
	if !strings.HasPrefix(chipName, "/") {
		chipName = filepath.Join("/dev", chipName)
	}

	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("gpslink-radio"))
	if err != nil {
		return nil, err
	}
	offset, err := chip.FindLine(lineName)
	if err != nil {
		_ = chip.Close()
		return nil, err
	}
	line, err := chip.RequestLine(offset, gpiocdev.AsOutput(1))
	if err != nil {
		_ = chip.Close()
		return nil, fmt.Errorf("request line %s: %w", lineName, err)
	}
	return &radioLine{chip: chip, line: line}, nil
}

var openRadioFn = openRadio

type radioLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (r *radioLine) Close() error {
	if r == nil || r.line == nil {
		return nil
	}
	_ = r.line.SetValue(0)
	err := r.line.Close()
	r.line = nil
	if r.chip != nil {
		_ = r.chip.Close()
		r.chip = nil
	}
	return err
}

//go:build !linux

package capability

import (
	"fmt"
	"io"
)

func openRadio(chipName, lineName string) (io.Closer, error) {
	return nil, fmt.Errorf("gpio radio control unsupported on this platform")
}

var openRadioFn = openRadio

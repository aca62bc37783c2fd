package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrPermissionDenied means the host refused access to a resource the
	// link needs (Bluetooth socket, GPS device).
	ErrPermissionDenied = errors.New("permission denied")
	// ErrCapabilityDisabled means the resource exists but is switched off or
	// absent (radio powered down, GPS device missing).
	ErrCapabilityDisabled = errors.New("capability disabled")
)

// Config describes the out-of-band steps required before connecting.
//
// All fields are optional. An empty RadioLine means the radio is assumed to be
// on already; an empty LocationDevice skips the location access check.
type Config struct {
	// RadioChip and RadioLine name a GPIO line that powers the transport
	// radio (for example the EN pin of an HC-05 module), e.g. "gpiochip0" / "GPIO17".
	RadioChip string
	RadioLine string

	// LocationDevice is checked for read access before location reporting.
	LocationDevice string
}

// Gate performs the capability and authorization steps and remembers the
// resources it acquired so they can be released on Close.
type Gate struct {
	cfg Config

	mu    sync.Mutex
	radio io.Closer
}

func New(cfg Config) *Gate {
	cfg.RadioChip = strings.TrimSpace(cfg.RadioChip)
	cfg.RadioLine = strings.TrimSpace(cfg.RadioLine)
	cfg.LocationDevice = strings.TrimSpace(cfg.LocationDevice)
	return &Gate{cfg: cfg}
}

// RequireTransport makes sure the transport radio is powered. It is safe to
// call repeatedly; the radio line is acquired once and held until Close.
func (g *Gate) RequireTransport(ctx context.Context) error {
	if g == nil || g.cfg.RadioLine == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.radio != nil {
		return nil
	}

	r, err := openRadioFn(g.cfg.RadioChip, g.cfg.RadioLine)
	if err != nil {
		return fmt.Errorf("radio %s/%s: %w: %v", g.cfg.RadioChip, g.cfg.RadioLine, ErrCapabilityDisabled, err)
	}
	g.radio = r
	log.Info().Str("module", "capability").Str("chip", g.cfg.RadioChip).Str("line", g.cfg.RadioLine).Msg("radio enabled")
	return nil
}

// RequireLocation checks that the configured position device may be read.
func (g *Gate) RequireLocation() error {
	if g == nil || g.cfg.LocationDevice == "" {
		return nil
	}
	return checkReadable(g.cfg.LocationDevice)
}

// Close powers the radio down again if this gate powered it up.
func (g *Gate) Close() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	r := g.radio
	g.radio = nil
	g.mu.Unlock()

	if r == nil {
		return nil
	}
	return r.Close()
}

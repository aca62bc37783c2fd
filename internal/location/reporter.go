package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gpslink/internal/gps"
	"gpslink/internal/metrics"
	"gpslink/internal/protocol"
)

// DefaultMinInterval matches the one second update interval of the phone app.
const DefaultMinInterval = time.Second

// Source is a position provider with push and pull access.
type Source interface {
	Subscribe(fn func(gps.Fix)) (unsubscribe func())
	LastKnown() (gps.Fix, bool)
}

// Authorizer grants access to positioning before a subscription starts.
type Authorizer interface {
	RequireLocation() error
}

type Config struct {
	// MinInterval is the minimum spacing between periodic reports. There is
	// no distance threshold: every spaced fix is reported.
	MinInterval time.Duration

	// OnReport, when set, sees every report that was written.
	OnReport func(msg protocol.Message)
}

// Reporter streams fixes to the peer and answers last-known queries.
type Reporter struct {
	source Source
	sender protocol.Sender
	auth   Authorizer
	cfg    Config

	mu       sync.Mutex
	ctx      context.Context
	unsub    func()
	lastSent time.Time

	nowFn func() time.Time
}

// NewReporter builds a reporter; auth may be nil when no authorization step
// is needed.
func NewReporter(source Source, sender protocol.Sender, auth Authorizer, cfg Config) *Reporter {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	return &Reporter{source: source, sender: sender, auth: auth, cfg: cfg, nowFn: time.Now}
}

// Start authorizes and subscribes for the lifetime of ctx. It is a no-op
// while already running for a live ctx, and fails without subscribing when
// ctx is already done.
func (r *Reporter) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("location reporter is nil")
	}
	if r.source == nil {
		return fmt.Errorf("location source is nil")
	}
	if r.auth != nil {
		if err := r.auth.RequireLocation(); err != nil {
			return fmt.Errorf("location authorization: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// The connection may have gone away while authorization ran.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("location reporting: %w", err)
	}
	if r.unsub != nil {
		if r.ctx.Err() == nil {
			return nil
		}
		// Left over from a connection that is gone.
		r.unsub()
	}
	r.ctx = ctx
	r.lastSent = time.Time{}
	r.unsub = r.source.Subscribe(r.onFix)
	log.Info().Str("module", "location").Dur("min_interval", r.cfg.MinInterval).Msg("location reporting started")
	return nil
}

// Stop removes the subscription. Safe to call repeatedly.
func (r *Reporter) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
		log.Info().Str("module", "location").Msg("location reporting stopped")
	}
}

// Running reports whether a subscription is active.
func (r *Reporter) Running() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsub != nil
}

// LastKnown returns the source's most recent fix, which may be stale.
func (r *Reporter) LastKnown() (gps.Fix, bool) {
	if r == nil || r.source == nil {
		return gps.Fix{}, false
	}
	return r.source.LastKnown()
}

func (r *Reporter) onFix(fix gps.Fix) {
	now := r.nowFn()

	r.mu.Lock()
	if r.unsub == nil {
		r.mu.Unlock()
		return
	}
	if !r.lastSent.IsZero() && now.Sub(r.lastSent) < r.cfg.MinInterval {
		r.mu.Unlock()
		metrics.LocationReports.WithLabelValues("throttled").Inc()
		return
	}
	r.lastSent = now
	ctx := r.ctx
	r.mu.Unlock()

	msg := protocol.FormatFix(fix)
	if err := r.sender.Send(ctx, msg); err != nil {
		metrics.LocationReports.WithLabelValues("failed").Inc()
		if !errors.Is(err, context.Canceled) {
			log.Warn().Str("module", "location").Err(err).Msg("location report failed")
		}
		return
	}
	metrics.LocationReports.WithLabelValues("sent").Inc()
	if r.cfg.OnReport != nil {
		r.cfg.OnReport(msg)
	}
}

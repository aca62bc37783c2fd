package protocol

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"gpslink/internal/gps"
	"gpslink/internal/metrics"
)

// Locator answers "where are we" from the most recent known fix.
type Locator interface {
	LastKnown() (gps.Fix, bool)
}

// Sender writes one outbound message atomically.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Observer receives every inbound line and every reply sent, for display.
type Observer interface {
	Line(line string)
	Sent(msg Message)
}

// Authorizer grants access to the position before a fix is handed out.
type Authorizer interface {
	RequireLocation() error
}

// Dispatcher interprets inbound lines against the request vocabulary.
type Dispatcher struct {
	locator  Locator
	sender   Sender
	observer Observer
	auth     Authorizer
	token    string
}

// NewDispatcher returns a dispatcher for the GET_LOCATION vocabulary.
// observer may be nil.
func NewDispatcher(locator Locator, sender Sender, observer Observer) *Dispatcher {
	return &Dispatcher{locator: locator, sender: sender, observer: observer, token: RequestLocation}
}

// WithRequestToken overrides the location request token.
func (d *Dispatcher) WithRequestToken(token string) *Dispatcher {
	if token != "" {
		d.token = token
	}
	return d
}

// WithAuthorizer makes location requests go unanswered while auth denies
// access to the position.
func (d *Dispatcher) WithAuthorizer(auth Authorizer) *Dispatcher {
	d.auth = auth
	return d
}

// HandleLine shows the line to the observer and, for a location request,
// sends the last known fix and shows the reply too. A request with no known
// fix, or while location access is denied, is dropped without a reply. Send
// failures are logged; they never stop the reader.
func (d *Dispatcher) HandleLine(ctx context.Context, line string) {
	if d.observer != nil {
		d.observer.Line(line)
	}
	if line != d.token {
		return
	}

	if d.auth != nil {
		if err := d.auth.RequireLocation(); err != nil {
			metrics.LocationRequests.WithLabelValues("denied").Inc()
			log.Warn().Str("module", "protocol").Err(err).Msg("location request dropped: not authorized")
			return
		}
	}
	if d.locator == nil {
		metrics.LocationRequests.WithLabelValues("no_fix").Inc()
		return
	}
	fix, ok := d.locator.LastKnown()
	if !ok {
		metrics.LocationRequests.WithLabelValues("no_fix").Inc()
		log.Debug().Str("module", "protocol").Msg("location request dropped: no known fix")
		return
	}

	msg := FormatFix(fix)
	if err := d.sender.Send(ctx, msg); err != nil {
		metrics.LocationRequests.WithLabelValues("send_failed").Inc()
		if !errors.Is(err, context.Canceled) {
			log.Warn().Str("module", "protocol").Err(err).Msg("location reply failed")
		}
		return
	}
	metrics.LocationRequests.WithLabelValues("answered").Inc()
	if d.observer != nil {
		d.observer.Sent(msg)
	}
}

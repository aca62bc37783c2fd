package link

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"gpslink/internal/metrics"
	"gpslink/internal/protocol"
	"gpslink/internal/transport"
)

// Writer serializes outbound messages onto the write half of a connection so
// that concurrent producers never interleave bytes within a message.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closed *atomic.Bool
	tap    Tap

	sent  atomic.Uint64
	bytes atomic.Uint64
}

func newWriter(w io.Writer, closed *atomic.Bool) *Writer {
	if closed == nil {
		closed = new(atomic.Bool)
	}
	return &Writer{w: w, closed: closed}
}

// Send writes msg in full. A closed connection fails fast with
// transport.ErrClosed; a write error is returned as *SendError and is not
// retried.
func (w *Writer) Send(ctx context.Context, msg protocol.Message) error {
	if w == nil || w.closed.Load() {
		return transport.ErrClosed
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if len(msg) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return transport.ErrClosed
	}

	p := []byte(msg)
	for len(p) > 0 {
		n, err := w.w.Write(p)
		if err != nil {
			metrics.SendFailures.Inc()
			return &SendError{Err: err}
		}
		if n == 0 {
			metrics.SendFailures.Inc()
			return &SendError{Err: io.ErrShortWrite}
		}
		p = p[n:]
	}

	if w.tap != nil {
		w.tap.Outbound(msg)
	}
	w.sent.Add(1)
	w.bytes.Add(uint64(len(msg)))
	metrics.MessagesSent.Inc()
	metrics.BytesSent.Add(float64(len(msg)))
	return nil
}

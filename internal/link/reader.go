package link

import (
	"errors"

	"github.com/rs/zerolog/log"

	"gpslink/internal/frame"
	"gpslink/internal/metrics"
	"gpslink/internal/transport"
)

// readChunk blocks until at least one byte arrives or the connection ends.
// After shutdown it fails fast with transport.ErrClosed.
func (c *connection) readChunk(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, transport.ErrClosed
	}
	return c.conn.Read(p)
}

// readLoop is the only owner of the decoder. It exits on the stop signal or
// the first read failure; a failure that was not caused by a local shutdown
// is reported as *LostError exactly once.
func (s *Session) readLoop(c *connection, handler LineHandler) {
	defer close(c.done)

	dec := frame.NewDecoder(s.cfg.MaxLineBytes)
	buf := make([]byte, s.cfg.ReadChunkBytes)

	for {
		if c.ctx.Err() != nil {
			s.shutdown(c, nil)
			return
		}

		n, err := c.readChunk(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			if s.tap != nil {
				s.tap.Inbound(buf[:n])
			}
			lines, errs := dec.Feed(buf[:n])
			for _, lerr := range errs {
				c.linesDropped.Add(1)
				metrics.LinesDropped.WithLabelValues(dropReason(lerr)).Inc()
				log.Debug().Str("module", "link").Str("id", c.id).Err(lerr).Msg("line dropped")
				s.observer.LineDropped(lerr)
			}
			for _, line := range lines {
				c.linesIn.Add(1)
				metrics.LinesReceived.Inc()
				if handler != nil {
					handler.HandleLine(c.ctx, line)
				}
			}
		}
		if err == nil {
			continue
		}

		if c.closed.Load() || c.ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
			s.shutdown(c, nil)
			return
		}

		lost := &LostError{Addr: c.addr, ID: c.id, Err: err}
		s.shutdown(c, lost)
		metrics.ConnectionsLost.Inc()
		log.Warn().Str("module", "link").Str("id", c.id).Err(err).Msg("connection lost")
		s.observer.ConnectionLost(lost)
		return
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrLineTooLong):
		return "too_long"
	case errors.Is(err, frame.ErrEncoding):
		return "encoding"
	default:
		return "other"
	}
}

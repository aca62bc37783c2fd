package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gpslink/internal/frame"
	"gpslink/internal/metrics"
	"gpslink/internal/protocol"
	"gpslink/internal/transport"
)

// Dialer opens the underlying duplex stream.
type Dialer func(ctx context.Context, addr string) (transport.Conn, error)

// Gate performs out-of-band capability steps before a connect.
type Gate interface {
	RequireTransport(ctx context.Context) error
}

// LineHandler consumes inbound lines in arrival order.
type LineHandler interface {
	HandleLine(ctx context.Context, line string)
}

// Reporter is a background producer tied to the lifetime of a connection.
type Reporter interface {
	Start(ctx context.Context) error
	Stop()
}

// Observer is the one-way presentation sink for link events. Calls may come
// from any goroutine.
type Observer interface {
	LineDropped(err error)
	ConnectionLost(err error)
}

// Tap sees the raw bytes of every connection, e.g. a transcript recorder.
type Tap interface {
	Inbound(p []byte)
	Outbound(p []byte)
}

type Config struct {
	ReadChunkBytes int
	MaxLineBytes   int
	DialTimeout    time.Duration
	// CloseTimeout bounds how long Close waits for the reader to exit.
	CloseTimeout time.Duration
	// AppendNewline makes SendCommand terminate operator commands with "\n".
	AppendNewline bool
}

type Options struct {
	Dial     Dialer
	Gate     Gate
	Observer Observer
	Tap      Tap
}

const (
	StateIdle      = "idle"
	StateConnected = "connected"
	StateClosed    = "closed"
)

type Snapshot struct {
	State          string `json:"state"`
	ID             string `json:"id,omitempty"`
	Addr           string `json:"addr,omitempty"`
	ConnectedAtUTC string `json:"connected_at_utc,omitempty"`
	LinesIn        uint64 `json:"lines_in"`
	BytesIn        uint64 `json:"bytes_in"`
	LinesDropped   uint64 `json:"lines_dropped"`
	MessagesOut    uint64 `json:"messages_out"`
	BytesOut       uint64 `json:"bytes_out"`
	Reporting      bool   `json:"location_reporting"`
	LastError      string `json:"last_error,omitempty"`
}

// Session exclusively owns at most one open connection. The reader loop gets
// the read half and the Writer the write half; shutdown of either side tears
// both down together.
type Session struct {
	cfg      Config
	dial     Dialer
	gate     Gate
	observer Observer
	tap      Tap

	mu        sync.Mutex
	handler   LineHandler
	reporter  Reporter
	cur       *connection
	last      *connection
	closed    bool
	reporting bool
	lastErr   string
	endErr    error
}

// connection is one open Connection and everything whose lifetime is bound
// to it.
type connection struct {
	id          string
	addr        string
	conn        transport.Conn
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	err    error // set by shutdown before done is closed

	writer *Writer

	linesIn      atomic.Uint64
	bytesIn      atomic.Uint64
	linesDropped atomic.Uint64
}

func New(cfg Config, opts Options) *Session {
	if cfg.ReadChunkBytes <= 0 {
		cfg.ReadChunkBytes = 1024
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = frame.DefaultMaxLineBytes
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = transport.Dial
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Session{cfg: cfg, dial: opts.Dial, gate: opts.Gate, observer: opts.Observer, tap: opts.Tap}
}

// SetHandler installs the consumer of inbound lines. Must be called before
// Connect.
func (s *Session) SetHandler(h LineHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// SetReporter installs a producer that is started after each successful
// connect and stopped whenever the connection goes away.
func (s *Session) SetReporter(r Reporter) {
	s.mu.Lock()
	s.reporter = r
	s.mu.Unlock()
}

// Connect runs the capability step, dials addr and starts the reader loop.
// The connection lives until Close, a read failure, or cancellation of ctx.
// Connect failures are returned unchanged and never retried.
func (s *Session) Connect(ctx context.Context, addr string) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return transport.ErrClosed
	case s.cur != nil:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	handler := s.handler
	reporter := s.reporter
	s.mu.Unlock()

	if s.gate != nil {
		if err := s.gate.RequireTransport(ctx); err != nil {
			s.setLastErr(err)
			return err
		}
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, err := s.dial(dialCtx, addr)
	cancelDial()
	if err != nil {
		s.setLastErr(err)
		return err
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &connection{
		id:          uuid.NewString(),
		addr:        conn.Addr(),
		conn:        conn,
		connectedAt: time.Now().UTC(),
		ctx:         cctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	c.writer = newWriter(conn, &c.closed)
	c.writer.tap = s.tap

	s.mu.Lock()
	if s.closed || s.cur != nil {
		closedNow := s.closed
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		if closedNow {
			return transport.ErrClosed
		}
		return ErrAlreadyConnected
	}
	s.cur = c
	s.last = c
	s.lastErr = ""
	s.endErr = nil
	s.mu.Unlock()

	metrics.Connected.Set(1)
	log.Info().Str("module", "link").Str("id", c.id).Str("addr", c.addr).Msg("connected")

	go s.readLoop(c, handler)
	go func() {
		// Owning-context teardown.
		<-cctx.Done()
		s.shutdown(c, nil)
	}()

	if reporter != nil {
		if err := reporter.Start(cctx); err != nil {
			if cctx.Err() != nil {
				log.Debug().Str("module", "link").Str("id", c.id).Err(err).Msg("location reporting not started: connection gone")
			} else {
				log.Warn().Str("module", "link").Err(err).Msg("location reporting not started")
				s.setLastErr(err)
			}
		} else {
			s.mu.Lock()
			live := s.cur == c
			s.reporting = live
			s.mu.Unlock()
			if !live {
				// Torn down while the reporter was starting.
				reporter.Stop()
			}
		}
	}
	return nil
}

// Send writes one message on the current connection.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	c := s.current()
	if c == nil {
		return transport.ErrClosed
	}
	err := c.writer.Send(ctx, msg)
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		log.Warn().Str("module", "link").Str("id", c.id).Err(err).Msg("send failed")
	}
	return err
}

// Write sends p as a single message.
func (s *Session) Write(p []byte) error {
	return s.Send(context.Background(), protocol.Message(p))
}

// SendCommand sends operator-entered text, applying the AppendNewline policy.
func (s *Session) SendCommand(ctx context.Context, text string) error {
	msg, err := protocol.CommandMessage(text, s.cfg.AppendNewline)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}

// Close shuts the session down for good. It is idempotent and safe after an
// I/O error.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.closed = true
	c := s.cur
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	s.shutdown(c, nil)

	select {
	case <-c.done:
	case <-time.After(s.cfg.CloseTimeout):
		log.Warn().Str("module", "link").Str("id", c.id).Msg("reader did not exit before close timeout")
	}
	return nil
}

// Done is closed when the most recent connection has been torn down and its
// reader has exited. It returns nil before the first successful Connect.
func (s *Session) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return s.last.done
}

// Err returns the error that ended the most recent connection, or nil when it
// was closed locally or is still open.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// Connected reports whether a connection is open.
func (s *Session) Connected() bool {
	return s.current() != nil
}

func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	c := s.cur
	snap := Snapshot{State: StateIdle, LastError: s.lastErr, Reporting: s.reporting}
	if s.closed {
		snap.State = StateClosed
	}
	s.mu.Unlock()

	if c != nil {
		snap.State = StateConnected
		snap.ID = c.id
		snap.Addr = c.addr
		snap.ConnectedAtUTC = c.connectedAt.Format(time.RFC3339Nano)
		snap.LinesIn = c.linesIn.Load()
		snap.BytesIn = c.bytesIn.Load()
		snap.LinesDropped = c.linesDropped.Load()
		snap.MessagesOut = c.writer.sent.Load()
		snap.BytesOut = c.writer.bytes.Load()
	}
	return snap
}

func (s *Session) current() *connection {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.closed.Load() {
		return nil
	}
	return s.cur
}

// shutdown stops the reader, unblocks its pending read, stops the reporter
// and releases the connection. It runs once per connection no matter which
// path triggers it.
func (s *Session) shutdown(c *connection, cause error) {
	c.once.Do(func() {
		c.closed.Store(true)
		c.err = cause
		c.cancel()
		if err := c.conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			log.Debug().Str("module", "link").Str("id", c.id).Err(err).Msg("close")
		}

		s.mu.Lock()
		reporter := s.reporter
		if s.cur == c {
			s.cur = nil
		}
		s.reporting = false
		s.endErr = cause
		if cause != nil {
			s.lastErr = cause.Error()
		}
		s.mu.Unlock()

		if reporter != nil {
			reporter.Stop()
		}
		metrics.Connected.Set(0)
		log.Info().Str("module", "link").Str("id", c.id).Str("addr", c.addr).Msg("disconnected")
	})
}

func (s *Session) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

type nopObserver struct{}

func (nopObserver) LineDropped(error)    {}
func (nopObserver) ConnectionLost(error) {}

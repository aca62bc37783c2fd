package link

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gpslink/internal/capability"
	"gpslink/internal/frame"
	"gpslink/internal/gps"
	"gpslink/internal/location"
	"gpslink/internal/protocol"
	"gpslink/internal/transport"
)

type lineRecorder struct {
	ch chan string
}

func newLineRecorder() *lineRecorder { return &lineRecorder{ch: make(chan string, 64)} }

func (r *lineRecorder) HandleLine(_ context.Context, line string) { r.ch <- line }

func (r *lineRecorder) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-r.ch:
		return l
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line")
		return ""
	}
}

type eventRecorder struct {
	mu      sync.Mutex
	dropped []error
	lost    []error
	lostCh  chan struct{}
}

func newEventRecorder() *eventRecorder { return &eventRecorder{lostCh: make(chan struct{}, 8)} }

func (r *eventRecorder) LineDropped(err error) {
	r.mu.Lock()
	r.dropped = append(r.dropped, err)
	r.mu.Unlock()
}

func (r *eventRecorder) ConnectionLost(err error) {
	r.mu.Lock()
	r.lost = append(r.lost, err)
	r.mu.Unlock()
	r.lostCh <- struct{}{}
}

func (r *eventRecorder) snapshot() (dropped, lost []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.dropped...), append([]error(nil), r.lost...)
}

type fakeReporter struct {
	starts atomic.Int32
	stops  atomic.Int32
	err    error
}

func (r *fakeReporter) Start(context.Context) error {
	r.starts.Add(1)
	return r.err
}

func (r *fakeReporter) Stop() { r.stops.Add(1) }

// countingSource is a position source that only counts subscriptions.
type countingSource struct {
	mu     sync.Mutex
	subs   int
	unsubs int
}

func (c *countingSource) Subscribe(func(gps.Fix)) func() {
	c.mu.Lock()
	c.subs++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.unsubs++
		c.mu.Unlock()
	}
}

func (c *countingSource) LastKnown() (gps.Fix, bool) { return gps.Fix{}, false }

func (c *countingSource) counts() (subs, unsubs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs, c.unsubs
}

type authFunc func() error

func (f authFunc) RequireLocation() error { return f() }

type gateFunc func(ctx context.Context) error

func (f gateFunc) RequireTransport(ctx context.Context) error { return f(ctx) }

type fixedLocator struct {
	fix gps.Fix
	ok  bool
}

func (l fixedLocator) LastKnown() (gps.Fix, bool) { return l.fix, l.ok }

// pipeSession returns a session dialing one end of a net.Pipe; the other end
// plays the peripheral.
func pipeSession(t *testing.T, cfg Config, obs Observer) (*Session, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })
	s := New(cfg, Options{
		Dial: func(ctx context.Context, addr string) (transport.Conn, error) {
			return transport.NewConn(local, addr), nil
		},
		Observer: obs,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s, peer
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	require.NotNil(t, ch)
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connection teardown")
	}
}

func TestSession_LinesDispatchedInOrderAcrossChunks(t *testing.T) {
	s, peer := pipeSession(t, Config{}, nil)
	rec := newLineRecorder()
	s.SetHandler(rec)
	require.NoError(t, s.Connect(context.Background(), "pipe"))

	for _, chunk := range []string{"HELLO\nGET_LOC", "ATION\n", "\n", "A\nB\n"} {
		_, err := peer.Write([]byte(chunk))
		require.NoError(t, err)
	}

	for _, want := range []string{"HELLO", "GET_LOCATION", "", "A", "B"} {
		require.Equal(t, want, rec.next(t))
	}
	snap := s.Snapshot()
	require.Equal(t, StateConnected, snap.State)
	require.EqualValues(t, 5, snap.LinesIn)
}

func TestSession_AnswersLocationRequest(t *testing.T) {
	s, peer := pipeSession(t, Config{}, nil)
	loc := fixedLocator{fix: gps.Fix{LatDeg: 37, LonDeg: -122, Time: time.Now()}, ok: true}
	s.SetHandler(protocol.NewDispatcher(loc, s, nil))
	require.NoError(t, s.Connect(context.Background(), "pipe"))

	_, err := peer.Write([]byte("GET_LOCATION\n"))
	require.NoError(t, err)

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, 0, 32)
	buf := make([]byte, 32)
	for len(got) == 0 || got[len(got)-1] != '\n' {
		n, err := peer.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, "37.0,-122.0\n", string(got))
}

func TestSession_NoFixSendsNothing(t *testing.T) {
	s, peer := pipeSession(t, Config{}, nil)
	rec := newLineRecorder()
	d := protocol.NewDispatcher(fixedLocator{}, s, nil)
	s.SetHandler(lineHandlerFunc(func(ctx context.Context, line string) {
		d.HandleLine(ctx, line)
		rec.HandleLine(ctx, line)
	}))
	require.NoError(t, s.Connect(context.Background(), "pipe"))

	_, err := peer.Write([]byte("GET_LOCATION\nNEXT\n"))
	require.NoError(t, err)
	require.Equal(t, "GET_LOCATION", rec.next(t))
	require.Equal(t, "NEXT", rec.next(t))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = peer.Read(make([]byte, 8))
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected no reply, got err=%v", err)
}

type lineHandlerFunc func(ctx context.Context, line string)

func (f lineHandlerFunc) HandleLine(ctx context.Context, line string) { f(ctx, line) }

func TestSession_SendAfterCloseFailsFast(t *testing.T) {
	s, _ := pipeSession(t, Config{}, nil)
	require.NoError(t, s.Connect(context.Background(), "pipe"))
	require.NoError(t, s.Close())

	start := time.Now()
	err := s.Send(context.Background(), protocol.Message("x\n"))
	require.ErrorIs(t, err, transport.ErrClosed)
	require.ErrorIs(t, s.Write([]byte("y\n")), transport.ErrClosed)
	require.Less(t, time.Since(start), 100*time.Millisecond)

	require.ErrorIs(t, s.Connect(context.Background(), "pipe"), transport.ErrClosed)
	require.Equal(t, StateClosed, s.Snapshot().State)
}

func TestSession_SendWithoutConnection(t *testing.T) {
	s := New(Config{}, Options{})
	require.ErrorIs(t, s.Send(context.Background(), protocol.Message("x\n")), transport.ErrClosed)
	require.Nil(t, s.Done())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestSession_CloseUnblocksReaderAndStopsReporterOnce(t *testing.T) {
	s, _ := pipeSession(t, Config{}, nil)
	rep := &fakeReporter{}
	s.SetReporter(rep)
	require.NoError(t, s.Connect(context.Background(), "pipe"))
	require.EqualValues(t, 1, rep.starts.Load())
	require.True(t, s.Snapshot().Reporting)

	done := s.Done()
	start := time.Now()
	require.NoError(t, s.Close())
	waitClosed(t, done)
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, s.Close())
	require.EqualValues(t, 1, rep.stops.Load())
	require.NoError(t, s.Err())
}

func TestSession_PeerEOFReportsLostOnce(t *testing.T) {
	obs := newEventRecorder()
	s, peer := pipeSession(t, Config{}, obs)
	rep := &fakeReporter{}
	s.SetReporter(rep)
	require.NoError(t, s.Connect(context.Background(), "pipe"))
	done := s.Done()

	require.NoError(t, peer.Close())
	waitClosed(t, done)

	select {
	case <-obs.lostCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection lost not reported")
	}
	require.NoError(t, s.Close())

	_, lost := obs.snapshot()
	require.Len(t, lost, 1)
	require.ErrorIs(t, lost[0], ErrConnectionLost)
	require.ErrorIs(t, lost[0], io.EOF)
	var le *LostError
	require.ErrorAs(t, lost[0], &le)
	require.Equal(t, "pipe", le.Addr)

	require.ErrorIs(t, s.Err(), ErrConnectionLost)
	require.EqualValues(t, 1, rep.stops.Load())
	require.False(t, s.Connected())
	require.ErrorIs(t, s.Send(context.Background(), protocol.Message("x\n")), transport.ErrClosed)
}

func TestSession_ContextCancelTearsDown(t *testing.T) {
	obs := newEventRecorder()
	s, _ := pipeSession(t, Config{}, obs)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Connect(ctx, "pipe"))
	done := s.Done()

	cancel()
	waitClosed(t, done)
	require.NoError(t, s.Err())
	_, lost := obs.snapshot()
	require.Empty(t, lost)
	require.Equal(t, StateIdle, s.Snapshot().State)
}

func TestSession_ConnectTwice(t *testing.T) {
	s, _ := pipeSession(t, Config{}, nil)
	require.NoError(t, s.Connect(context.Background(), "pipe"))
	require.ErrorIs(t, s.Connect(context.Background(), "pipe"), ErrAlreadyConnected)
}

func TestSession_GateErrorSurfacedVerbatim(t *testing.T) {
	dialed := false
	s := New(Config{}, Options{
		Gate: gateFunc(func(context.Context) error { return capability.ErrCapabilityDisabled }),
		Dial: func(context.Context, string) (transport.Conn, error) {
			dialed = true
			return nil, errors.New("unexpected dial")
		},
	})
	err := s.Connect(context.Background(), "pipe")
	require.Same(t, capability.ErrCapabilityDisabled, err)
	require.False(t, dialed)
	require.Equal(t, capability.ErrCapabilityDisabled.Error(), s.Snapshot().LastError)
}

func TestSession_DialErrorReturnedUnchanged(t *testing.T) {
	want := &transport.ConnectError{Kind: transport.Unreachable, Addr: "rfcomm://00:11:22:33:44:55/1", Err: errors.New("host is down")}
	s := New(Config{}, Options{
		Dial: func(context.Context, string) (transport.Conn, error) { return nil, want },
	})
	err := s.Connect(context.Background(), want.Addr)
	require.Same(t, want, err)
	require.ErrorIs(t, err, transport.ErrUnreachable)
	require.False(t, s.Connected())
}

func TestSession_ReporterStartFailureKeepsConnection(t *testing.T) {
	s, peer := pipeSession(t, Config{}, nil)
	rec := newLineRecorder()
	s.SetHandler(rec)
	s.SetReporter(&fakeReporter{err: capability.ErrPermissionDenied})
	require.NoError(t, s.Connect(context.Background(), "pipe"))
	require.True(t, s.Connected())
	require.False(t, s.Snapshot().Reporting)

	_, err := peer.Write([]byte("OK\n"))
	require.NoError(t, err)
	require.Equal(t, "OK", rec.next(t))
}

func TestSession_DecodeErrorsDoNotStopReader(t *testing.T) {
	obs := newEventRecorder()
	s, peer := pipeSession(t, Config{MaxLineBytes: 8}, obs)
	rec := newLineRecorder()
	s.SetHandler(rec)
	require.NoError(t, s.Connect(context.Background(), "pipe"))

	_, err := peer.Write([]byte("\xff\xfe\nTHIS LINE IS TOO LONG\nOK\n"))
	require.NoError(t, err)
	require.Equal(t, "OK", rec.next(t))

	dropped, _ := obs.snapshot()
	require.Len(t, dropped, 2)
	require.ErrorIs(t, dropped[0], frame.ErrEncoding)
	require.ErrorIs(t, dropped[1], frame.ErrLineTooLong)
	require.EqualValues(t, 2, s.Snapshot().LinesDropped)
}

func TestSession_SendCommandPolicy(t *testing.T) {
	s, peer := pipeSession(t, Config{AppendNewline: true}, nil)
	require.NoError(t, s.Connect(context.Background(), "pipe"))

	errc := make(chan error, 1)
	go func() { errc <- s.SendCommand(context.Background(), "LED ON") }()

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, 0, 16)
	buf := make([]byte, 16)
	for len(got) < len("LED ON\n") {
		n, err := peer.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, "LED ON\n", string(got))
	require.NoError(t, <-errc)

	require.ErrorIs(t, s.SendCommand(context.Background(), "A\nB"), protocol.ErrInvalidPayload)
	require.EqualValues(t, 1, s.Snapshot().MessagesOut)
}

type recordingTap struct {
	mu  sync.Mutex
	in  []byte
	out []byte
}

func (r *recordingTap) Inbound(p []byte) {
	r.mu.Lock()
	r.in = append(r.in, p...)
	r.mu.Unlock()
}

func (r *recordingTap) Outbound(p []byte) {
	r.mu.Lock()
	r.out = append(r.out, p...)
	r.mu.Unlock()
}

func TestSession_TapSeesRawTraffic(t *testing.T) {
	local, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })
	tap := &recordingTap{}
	s := New(Config{}, Options{
		Dial: func(context.Context, string) (transport.Conn, error) { return transport.NewConn(local, "pipe"), nil },
		Tap:  tap,
	})
	t.Cleanup(func() { _ = s.Close() })
	loc := fixedLocator{fix: gps.Fix{LatDeg: 1.5, LonDeg: 2, Time: time.Now()}, ok: true}
	s.SetHandler(protocol.NewDispatcher(loc, s, nil))
	require.NoError(t, s.Connect(context.Background(), "pipe"))

	_, err := peer.Write([]byte("\xffX\nGET_LOCATION\n"))
	require.NoError(t, err)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 32)
	n, err := peer.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "1.5,2.0\n", string(buf[:n]))

	require.Eventually(t, func() bool {
		tap.mu.Lock()
		defer tap.mu.Unlock()
		return string(tap.out) == "1.5,2.0\n"
	}, 2*time.Second, 5*time.Millisecond)
	tap.mu.Lock()
	defer tap.mu.Unlock()
	require.Equal(t, "\xffX\nGET_LOCATION\n", string(tap.in))
}

func TestSession_PeerDropDuringReporterStartLeavesNoSubscription(t *testing.T) {
	s, peer := pipeSession(t, Config{}, nil)
	src := &countingSource{}
	rep := location.NewReporter(src, s, authFunc(func() error {
		// The peer hangs up while authorization is pending.
		_ = peer.Close()
		waitClosed(t, s.Done())
		return nil
	}), location.Config{})
	s.SetReporter(rep)

	require.NoError(t, s.Connect(context.Background(), "pipe"))

	require.False(t, s.Connected())
	require.False(t, rep.Running())
	subs, unsubs := src.counts()
	require.Equal(t, subs, unsubs)
	snap := s.Snapshot()
	require.False(t, snap.Reporting)
	require.Contains(t, snap.LastError, "connection lost")
}

func TestSession_CloseDuringReporterStartLeavesNoSubscription(t *testing.T) {
	s, _ := pipeSession(t, Config{}, nil)
	src := &countingSource{}
	rep := location.NewReporter(src, s, authFunc(func() error {
		require.NoError(t, s.Close())
		return nil
	}), location.Config{})
	s.SetReporter(rep)

	require.NoError(t, s.Connect(context.Background(), "pipe"))
	waitClosed(t, s.Done())

	require.False(t, rep.Running())
	subs, unsubs := src.counts()
	require.Equal(t, subs, unsubs)
	require.False(t, s.Snapshot().Reporting)
	require.Equal(t, StateClosed, s.Snapshot().State)
}

// lateReporter becomes running only after the connection has been torn
// down, the way a reporter that ignores its context would.
type lateReporter struct {
	mu      sync.Mutex
	running bool
	stops   int
	before  func()
}

func (r *lateReporter) Start(context.Context) error {
	r.before()
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	return nil
}

func (r *lateReporter) Stop() {
	r.mu.Lock()
	r.running = false
	r.stops++
	r.mu.Unlock()
}

func TestSession_ReporterStartedAfterTeardownIsStopped(t *testing.T) {
	s, peer := pipeSession(t, Config{}, nil)
	rep := &lateReporter{}
	rep.before = func() {
		_ = peer.Close()
		waitClosed(t, s.Done())
	}
	s.SetReporter(rep)

	require.NoError(t, s.Connect(context.Background(), "pipe"))

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.False(t, rep.running)
	require.Equal(t, 2, rep.stops)
	require.False(t, s.Snapshot().Reporting)
}

package gps

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	SourceNMEA   = "nmea"
	SourceGPSD   = "gpsd"
	SourceStatic = "static"
)

// Config controls the position source.
//
// Device may be empty to auto-detect /dev/ttyACM* and /dev/ttyUSB*.
type Config struct {
	Enable bool

	// Source is "nmea" (direct serial), "gpsd" or "static". Defaults to "nmea".
	Source string

	GPSDAddr string

	Device string
	Baud   int

	// StaticLatDeg/StaticLonDeg are reported every StaticInterval when
	// Source is "static".
	StaticLatDeg   float64
	StaticLonDeg   float64
	StaticInterval time.Duration
}

type Snapshot struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`

	LatDeg     float64 `json:"lat_deg,omitempty"`
	LonDeg     float64 `json:"lon_deg,omitempty"`
	Satellites *int    `json:"satellites,omitempty"`
	LastFixUTC string  `json:"last_fix_utc,omitempty"`

	Subscribers int    `json:"subscribers"`
	LastError   string `json:"last_error,omitempty"`
}

// Service reads fixes from the configured source and fans them out to
// subscribers. Subscriber callbacks run on the source goroutine and should
// not block for long.
type Service struct {
	cfg Config
	src string

	fix atomic.Value // Fix

	stateMu sync.Mutex
	state   Snapshot

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu  sync.Mutex
	subs   map[uint64]func(Fix)
	nextID uint64
}

func New(cfg Config) *Service {
	src := strings.ToLower(strings.TrimSpace(cfg.Source))
	if src == "" {
		src = SourceNMEA
	}
	if cfg.StaticInterval <= 0 {
		cfg.StaticInterval = time.Second
	}
	return &Service{
		cfg:   cfg,
		src:   src,
		subs:  make(map[uint64]func(Fix)),
		state: Snapshot{Enabled: cfg.Enable, Source: src},
	}
}

// Start launches the source. A serial receiver that cannot be opened is
// reported here; gpsd connection failures are retried in the background.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return nil
	}

	var run func(context.Context)
	switch s.src {
	case SourceStatic:
		s.publish(s.staticFix(), nil)
		run = s.runStatic
	case SourceNMEA:
		feed, err := s.nmeaFeed(ctx)
		if err != nil {
			s.setError(err.Error())
			return err
		}
		run = feed.run
	case SourceGPSD:
		run = s.gpsdFeed().run
	default:
		return fmt.Errorf("gps source %q unsupported", s.src)
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(childCtx)
	}()
	return nil
}

// Close stops the source and waits for its goroutine.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Subscribe registers fn for every new fix. The returned function removes the
// subscription; calling it more than once is harmless.
func (s *Service) Subscribe(fn func(Fix)) (unsubscribe func()) {
	if s == nil || fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// LastKnown returns the most recent fix, which may be stale.
func (s *Service) LastKnown() (Fix, bool) {
	if s == nil {
		return Fix{}, false
	}
	v, ok := s.fix.Load().(Fix)
	if !ok || !v.Valid() {
		return Fix{}, false
	}
	return v, true
}

// Seed installs a previously persisted fix as the last known position. It is
// ignored once the live source has produced a fix, and subscribers are not
// notified.
func (s *Service) Seed(fix Fix) {
	if s == nil || !fix.Valid() {
		return
	}
	if !s.fix.CompareAndSwap(nil, fix) {
		return
	}
	s.update(func(st *Snapshot) {
		if !st.Valid {
			st.setFix(fix)
		}
	})
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.stateMu.Lock()
	snap := s.state
	s.stateMu.Unlock()

	s.subMu.Lock()
	snap.Subscribers = len(s.subs)
	s.subMu.Unlock()
	return snap
}

func (s *Service) publish(fix Fix, sats *int) {
	if !fix.Valid() {
		return
	}
	s.fix.Store(fix)
	s.update(func(st *Snapshot) {
		st.setFix(fix)
		if sats != nil {
			st.Satellites = sats
		}
	})

	s.subMu.Lock()
	fns := make([]func(Fix), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(fix)
	}
}

func (s *Service) update(fn func(*Snapshot)) {
	s.stateMu.Lock()
	fn(&s.state)
	s.stateMu.Unlock()
}

// setError records a source problem. Validity of the last fix is kept.
func (s *Service) setError(msg string) {
	s.update(func(st *Snapshot) { st.LastError = msg })
}

func (st *Snapshot) setFix(fix Fix) {
	st.Valid = true
	st.LatDeg = fix.LatDeg
	st.LonDeg = fix.LonDeg
	st.LastFixUTC = fix.Time.UTC().Format(time.RFC3339Nano)
}

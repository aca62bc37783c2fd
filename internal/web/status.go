package web

import (
	"sync/atomic"
	"time"

	"gpslink/internal/gps"
	"gpslink/internal/link"
)

const ServiceName = "gpslink"

// Status assembles /api/status from the live components. Providers may be
// nil when a component is disabled.
type Status struct {
	startUnixNano int64
	peer          atomic.Value // string

	Link func() link.Snapshot
	GPS  func() gps.Snapshot
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.peer.Store("")
	return s
}

// SetPeer records the configured peer address.
func (s *Status) SetPeer(addr string) {
	s.peer.Store(addr)
}

type StatusSnapshot struct {
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec int64          `json:"uptime_sec"`
	Peer      string         `json:"peer"`
	Link      *link.Snapshot `json:"link,omitempty"`
	GPS       *gps.Snapshot  `json:"gps,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   ServiceName,
		Version:   Version,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Peer:      s.peer.Load().(string),
	}
	if s.Link != nil {
		ls := s.Link()
		snap.Link = &ls
	}
	if s.GPS != nil {
		gs := s.GPS()
		snap.GPS = &gs
	}
	return snap
}

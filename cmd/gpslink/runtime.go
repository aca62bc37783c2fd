package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"gpslink/internal/capability"
	"gpslink/internal/config"
	"gpslink/internal/gps"
	"gpslink/internal/link"
	"gpslink/internal/location"
	"gpslink/internal/protocol"
	"gpslink/internal/replay"
	"gpslink/internal/store"
	"gpslink/internal/web"
)

// linkRuntime owns every component of one gpslink process, wired in
// dependency order: position source, capability gate, session, reporter,
// dispatcher and presentation.
type linkRuntime struct {
	cfg config.Config

	gate     *capability.Gate
	gpsSvc   *gps.Service
	fixes    *store.FixStore
	recorder *replay.Recorder
	session  *link.Session
	reporter *location.Reporter

	feed   *web.Feed
	status *web.Status
	view   fanout

	unsubStore func()
}

// runtimeOptions lets tests swap the dialer and capture console output.
type runtimeOptions struct {
	Console io.Writer
	Dial    link.Dialer
}

func newLinkRuntime(cfg config.Config, opts runtimeOptions) (*linkRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	r := &linkRuntime{
		cfg:    c,
		feed:   web.NewFeed(c.Web.LineBuffer),
		status: web.NewStatus(),
	}
	r.view = fanout{r.feed}
	if opts.Console != nil {
		r.view = append(r.view, newConsole(opts.Console))
	}

	r.gate = capability.New(capability.Config{
		RadioChip:      c.Capability.RadioGPIOChip,
		RadioLine:      c.Capability.RadioGPIOLine,
		LocationDevice: c.Capability.LocationDevice,
	})

	r.gpsSvc = gps.New(gps.Config{
		Enable:         c.GPS.Enable,
		Source:         c.GPS.Source,
		GPSDAddr:       c.GPS.GPSDAddr,
		Device:         c.GPS.Device,
		Baud:           c.GPS.Baud,
		StaticLatDeg:   c.GPS.StaticLatDeg,
		StaticLonDeg:   c.GPS.StaticLonDeg,
		StaticInterval: c.GPS.StaticInterval,
	})

	if c.Store.Enable {
		fs, err := store.Open(store.Config{Path: c.Store.Path, Keep: c.Store.Keep, MinInterval: c.Store.MinInterval})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("fix store: %w", err)
		}
		r.fixes = fs
	}

	var tap link.Tap
	if path := strings.TrimSpace(c.Link.RecordPath); path != "" {
		rec, err := replay.CreateRecorder(path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("link transcript: %w", err)
		}
		r.recorder = rec
		tap = rec
	}

	r.session = link.New(link.Config{
		ReadChunkBytes: c.Link.ReadChunkBytes,
		MaxLineBytes:   c.Link.MaxLineBytes,
		DialTimeout:    c.Link.DialTimeout,
		CloseTimeout:   c.Link.CloseTimeout,
		AppendNewline:  c.Link.AppendsNewline(),
	}, link.Options{
		Dial:     opts.Dial,
		Gate:     r.gate,
		Observer: r.view,
		Tap:      tap,
	})

	r.reporter = location.NewReporter(r.gpsSvc, r.session, r.gate, location.Config{
		MinInterval: c.Location.MinInterval,
		OnReport:    r.view.Sent,
	})
	if c.Location.Enabled() {
		r.session.SetReporter(r.reporter)
	}
	r.session.SetHandler(protocol.NewDispatcher(r.reporter, r.session, r.view).
		WithRequestToken(c.Link.RequestToken).
		WithAuthorizer(r.gate))

	r.status.SetPeer(c.Link.Address)
	r.status.Link = r.session.Snapshot
	r.status.GPS = r.gpsSvc.Snapshot
	return r, nil
}

// Start brings up the position source and connects to the peer. A connect
// failure is returned unchanged; there is no retry.
func (r *linkRuntime) Start(ctx context.Context) error {
	if r.fixes != nil {
		if fix, ok, err := r.fixes.Last(ctx); err != nil {
			log.Warn().Str("module", "store").Err(err).Msg("last fix not loaded")
		} else if ok {
			r.gpsSvc.Seed(fix)
			log.Info().Str("module", "store").Time("fix_time", fix.Time).Msg("last known fix restored")
		}
		r.unsubStore = r.gpsSvc.Subscribe(r.fixes.Record)
	}

	if err := r.gpsSvc.Start(ctx); err != nil {
		// Keep the link usable without a live position source.
		log.Warn().Str("module", "gps").Err(err).Msg("gps init failed")
	}

	if err := r.session.Connect(ctx, r.cfg.Link.Address); err != nil {
		return fmt.Errorf("connect %s: %w", r.cfg.Link.Address, err)
	}
	return nil
}

// Wait blocks until the connection ends or ctx is done. It returns the
// connection-lost error, if any.
func (r *linkRuntime) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-r.session.Done():
		return r.session.Err()
	}
}

func (r *linkRuntime) webDeps() web.Deps {
	d := web.Deps{
		Status:  r.status,
		Feed:    r.feed,
		Command: r.session,
	}
	if r.fixes != nil {
		d.Fixes = r.fixes
	}
	return d
}

func (r *linkRuntime) Close() {
	if r == nil {
		return
	}
	if r.session != nil {
		_ = r.session.Close()
	}
	if r.gpsSvc != nil {
		r.gpsSvc.Close()
	}
	if r.unsubStore != nil {
		r.unsubStore()
		r.unsubStore = nil
	}
	if r.fixes != nil {
		_ = r.fixes.Close()
		r.fixes = nil
	}
	if r.recorder != nil {
		_ = r.recorder.Close()
		r.recorder = nil
	}
	if r.gate != nil {
		_ = r.gate.Close()
	}
}

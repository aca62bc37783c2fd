package web

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gpslink/internal/gps"
	"gpslink/internal/protocol"
	"gpslink/internal/transport"
)

// Commander accepts operator-entered commands for the peer.
type Commander interface {
	SendCommand(ctx context.Context, text string) error
}

// FixHistory lists persisted fixes, newest first.
type FixHistory interface {
	Recent(ctx context.Context, n int) ([]gps.Fix, error)
}

type Deps struct {
	Status  *Status
	Feed    *Feed
	Logs    *LogBuffer
	Command Commander
	Fixes   FixHistory
}

const maxCommandBytes = 4096

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, d.Status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/about", aboutHandler)

	if d.Feed != nil {
		mux.Handle("/api/lines", d.Feed.Lines.Handler())
		mux.HandleFunc("/api/lines/ws", streamHandler(d.Feed.Events))
	}
	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if d.Command == nil {
			http.Error(w, "command entry unavailable", http.StatusNotFound)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes+1))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		if len(body) > maxCommandBytes {
			http.Error(w, "command too long", http.StatusRequestEntityTooLarge)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		err = d.Command.SendCommand(ctx, string(body))
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		case errors.Is(err, protocol.ErrInvalidPayload):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, transport.ErrClosed):
			http.Error(w, "not connected", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
	})

	mux.HandleFunc("/api/fixes", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.Fixes == nil {
			http.Error(w, "fix history disabled", http.StatusNotFound)
			return
		}
		n := 50
		if s := strings.TrimSpace(r.URL.Query().Get("n")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 1000 {
				http.Error(w, "n must be an integer in [1,1000]", http.StatusBadRequest)
				return
			}
			n = v
		}
		fixes, err := d.Fixes.Recent(r.Context(), n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type fixJSON struct {
			LatDeg  float64 `json:"lat_deg"`
			LonDeg  float64 `json:"lon_deg"`
			TimeUTC string  `json:"time_utc"`
			Source  string  `json:"source,omitempty"`
		}
		out := make([]fixJSON, 0, len(fixes))
		for _, f := range fixes {
			out = append(out, fixJSON{LatDeg: f.LatDeg, LonDeg: f.LonDeg, TimeUTC: f.Time.UTC().Format(time.RFC3339Nano), Source: f.Source})
		}
		writeJSON(w, http.StatusOK, map[string]any{"fixes": out})
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := d.Status.Snapshot(time.Now().UTC())
		state := "disabled"
		if snap.Link != nil {
			state = snap.Link.State
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>gpslink</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>gpslink</h1>")
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a>, <a href=\"/api/lines?format=text\">/api/lines</a> and <a href=\"/metrics\">/metrics</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>peer=%s\nlink=%s\nuptime_sec=%d</pre>", html.EscapeString(snap.Peer), html.EscapeString(state), snap.UptimeSec)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

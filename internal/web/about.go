package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// Version is stamped at build time with -ldflags "-X gpslink/internal/web.Version=...".
var Version = "dev"

type AboutResponse struct {
	Service    string `json:"service"`
	NowUTC     string `json:"now_utc"`
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

// About describes the running binary.
func About(nowUTC time.Time) AboutResponse {
	resp := AboutResponse{
		Service:   ServiceName,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
		Version:   Version,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return resp
	}
	resp.ModulePath = bi.Main.Path
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			resp.Commit = s.Value
		case "vcs.modified":
			resp.Dirty = s.Value == "true"
		case "vcs.time":
			resp.BuildTime = s.Value
		}
	}
	return resp
}

func aboutHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, About(time.Now()))
}

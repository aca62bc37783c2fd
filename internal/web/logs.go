package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer keeps the newest lines of a text stream in a fixed ring. Daemon
// log output arrives through Write; peer lines are added with Append.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	next    int // slot for the next line
	n       int // lines currently held
	partial []byte
	total   uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{ring: make([]string, maxLines)}
}

// Write implements io.Writer. Bytes after the last newline are held until
// the line is completed; blank log lines are skipped.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			b.partial = append(b.partial, rest...)
			break
		}
		line := rest[:i]
		if len(b.partial) > 0 {
			line = append(b.partial, line...)
			b.partial = b.partial[:0]
		}
		if s := strings.TrimRight(string(line), "\r"); s != "" {
			b.pushLocked(s)
		}
		rest = rest[i+1:]
	}
	return len(p), nil
}

// Append adds one line verbatim. Empty lines are kept; they are valid
// messages on the link.
func (b *LogBuffer) Append(line string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushLocked(line)
}

func (b *LogBuffer) pushLocked(line string) {
	b.total++
	b.ring[b.next] = line
	b.next = (b.next + 1) % len(b.ring)
	if b.n < len(b.ring) {
		b.n++
	}
}

// Total is the number of lines ever added.
func (b *LogBuffer) Total() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Snapshot returns up to tail of the newest lines, oldest first, and the
// number of lines that have fallen out of the ring.
func (b *LogBuffer) Snapshot(tail int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tail <= 0 {
		tail = 200
	}
	tail = min(tail, b.n)
	lines = make([]string, 0, tail)
	start := b.next - tail
	if start < 0 {
		start += len(b.ring)
	}
	for i := 0; i < tail; i++ {
		lines = append(lines, b.ring[(start+i)%len(b.ring)])
	}
	return lines, b.total - uint64(b.n)
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Total   uint64   `json:"total"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// Handler serves the buffer as JSON, or as plain text with ?format=text.
// ?tail=N limits the response to the newest N lines.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}

		q := r.URL.Query()
		tail := 200
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}

		lines, dropped := b.Snapshot(tail)
		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			_, _ = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
			return
		}

		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Total:   b.Total(),
			Dropped: dropped,
			Lines:   lines,
		})
	})
}

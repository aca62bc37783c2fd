// Package replay records the raw byte traffic of a link to a transcript file
// and plays the peer's side of it back, so a recorded session can stand in
// for the real peripheral.
package replay

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transcript format: line-oriented text.
//
//   - Blank lines and lines starting with '#' are ignored.
//   - "START" resets the origin; following times are relative to it.
//   - Data lines are <t_ns>,<dir>,<hex>, where dir is "<" for bytes received
//     from the peer and ">" for bytes sent to it.

type Direction byte

const (
	FromPeer Direction = '<'
	ToPeer   Direction = '>'
)

type Record struct {
	At   time.Duration
	Dir  Direction
	Data []byte // nil for a START marker
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 256)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: want <t_ns>,<dir>,<hex>: %q", lineNo, line)
		}
		tsNs, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || tsNs < 0 {
			return nil, fmt.Errorf("line %d: invalid timestamp %q", lineNo, parts[0])
		}
		dir := strings.TrimSpace(parts[1])
		if dir != string(FromPeer) && dir != string(ToPeer) {
			return nil, fmt.Errorf("line %d: invalid direction %q", lineNo, dir)
		}
		b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(parts[2]), " ", ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid hex payload: %w", lineNo, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("line %d: empty payload", lineNo)
		}
		recs = append(recs, Record{At: time.Duration(tsNs), Dir: Direction(dir[0]), Data: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Recorder appends link traffic to a transcript. It is safe for concurrent
// use by the reader loop and writers.
type Recorder struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
	nowFn  func() time.Time
}

func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Recorder{f: f, w: bw, start: time.Now(), nowFn: time.Now}, nil
}

// Inbound records bytes received from the peer.
func (r *Recorder) Inbound(p []byte) { r.record(FromPeer, p) }

// Outbound records bytes written to the peer.
func (r *Recorder) Outbound(p []byte) { r.record(ToPeer, p) }

func (r *Recorder) record(dir Direction, p []byte) {
	if r == nil || len(p) == 0 {
		return
	}
	_ = r.Write(dir, r.nowFn(), p)
}

func (r *Recorder) Write(dir Direction, now time.Time, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder is closed")
	}
	d := now.Sub(r.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(r.w, "%d,%c,%s\n", d.Nanoseconds(), dir, hex.EncodeToString(p))
	return err
}

func (r *Recorder) Flush() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.w.Flush()
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		return err
	}
	return r.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays the records of one direction with their relative timing,
// calling cb for each payload. START markers reset the origin.
//
// speed: 1.0 = real time, 2.0 = twice as fast.
func Play(ctx context.Context, records []Record, dir Direction, speed float64, loop bool, sleeper Sleeper, cb func(p []byte) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var (
			origin   time.Duration
			lastAt   time.Duration
			haveLast bool
		)
		for _, r := range records {
			if r.Data == nil {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}
			if r.Dir != dir {
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := time.Duration(float64(at-lastAt) / speed)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := cb(r.Data); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}
		if !loop {
			return nil
		}
	}
}

package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"gpslink/internal/transport"
)

// lineParser turns one text line from a receiver into a fix.
type lineParser interface {
	parse(now time.Time, line string) (Fix, bool, error)
	sats() *int
}

// lineFeed is a source that delivers fixes as text lines over a stream.
type lineFeed struct {
	svc *Service

	name    string
	open    func(ctx context.Context) (io.ReadWriteCloser, error)
	hello   func(w io.Writer) error
	parser  lineParser
	maxLine int

	// first is an already opened stream; redial is set for sources that
	// reconnect after a failure.
	first  io.ReadWriteCloser
	redial bool
}

func (f *lineFeed) run(ctx context.Context) {
	backoff := 250 * time.Millisecond
	const maxBackoff = 10 * time.Second

	conn := f.first
	for {
		if conn == nil {
			c, err := f.open(ctx)
			if err != nil {
				f.svc.setError(fmt.Sprintf("%s open failed: %v", f.name, err))
				if !f.redial {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			conn = c
			backoff = 250 * time.Millisecond
		}

		err := f.consume(ctx, conn)
		conn = nil
		if ctx.Err() != nil {
			return
		}
		f.svc.setError(fmt.Sprintf("%s read stopped: %v", f.name, err))
		if !f.redial {
			return
		}
	}
}

// consume reads lines until the stream ends. Canceling ctx closes the
// stream, which unblocks the pending read.
func (f *lineFeed) consume(ctx context.Context, conn io.ReadWriteCloser) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if f.hello != nil {
		if err := f.hello(conn); err != nil {
			return err
		}
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 256), f.maxLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fix, ok, err := f.parser.parse(time.Now().UTC(), line)
		if err != nil {
			f.svc.setError(err.Error())
			continue
		}
		if ok {
			f.svc.publish(fix, f.parser.sats())
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

// nmeaFeed opens the serial receiver up front so a missing device fails Start.
func (s *Service) nmeaFeed(ctx context.Context) (*lineFeed, error) {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		if device = autoDetectDevice(); device == "" {
			return nil, fmt.Errorf("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	baud := s.cfg.Baud
	if baud == 0 {
		baud = transport.DefaultBaud
	}

	conn, err := transport.DialAddress(ctx, transport.Address{Scheme: transport.SchemeSerial, Target: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("gps open failed device=%s baud=%d: %w", device, baud, err)
	}
	s.update(func(st *Snapshot) {
		st.Device = device
		st.Baud = baud
	})
	log.Info().Str("module", "gps").Str("device", device).Int("baud", baud).Msg("gps enabled")

	return &lineFeed{
		svc:  s,
		name: "gps",
		// NMEA sentences are at most 82 characters.
		maxLine: 4096,
		parser:  &nmeaState{},
		first:   conn,
	}, nil
}

func (s *Service) gpsdFeed() *lineFeed {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}
	s.update(func(st *Snapshot) {
		st.GPSDAddr = addr
		st.Device = "gpsd"
	})
	log.Info().Str("module", "gps").Str("addr", addr).Msg("gps enabled source=gpsd")

	return &lineFeed{
		svc:  s,
		name: "gpsd",
		open: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return dialGPSD(ctx, addr)
		},
		hello:   gpsdWatch,
		maxLine: 256 * 1024,
		parser:  &gpsdState{},
		redial:  true,
	}
}

func (s *Service) staticFix() Fix {
	return Fix{LatDeg: s.cfg.StaticLatDeg, LonDeg: s.cfg.StaticLonDeg, Time: time.Now().UTC(), Source: SourceStatic}
}

func (s *Service) runStatic(ctx context.Context) {
	log.Info().Str("module", "gps").Float64("lat", s.cfg.StaticLatDeg).Float64("lon", s.cfg.StaticLonDeg).Msg("gps enabled source=static")
	t := time.NewTicker(s.cfg.StaticInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.publish(s.staticFix(), nil)
		}
	}
}

func satsPtr(v int, ok bool) *int {
	if !ok {
		return nil
	}
	return &v
}

func autoDetectDevice() string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

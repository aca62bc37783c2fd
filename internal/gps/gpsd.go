package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn io.Writer) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Mode *int     `json:"mode"`
	Time string   `json:"time"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

type gpsdSKY struct {
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`
}

type gpsdState struct {
	satellites int
	satsOK     bool
}

func (s *gpsdState) parse(nowUTC time.Time, line string) (Fix, bool, error) {
	return s.applyLine(nowUTC, line)
}

func (s *gpsdState) sats() *int { return satsPtr(s.satellites, s.satsOK) }

// applyLine returns a fix when the report is a TPV with at least a 2D fix.
func (s *gpsdState) applyLine(nowUTC time.Time, line string) (Fix, bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return Fix{}, false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return Fix{}, false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		if tpv.Mode == nil || *tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
			return Fix{}, false, nil
		}
		ts := nowUTC
		if strings.TrimSpace(tpv.Time) != "" {
			if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
				ts = t.UTC()
			}
		}
		return Fix{LatDeg: *tpv.Lat, LonDeg: *tpv.Lon, Time: ts, Source: SourceGPSD}, true, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return Fix{}, false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		if len(sky.Satellites) > 0 {
			s.satellites = used
			s.satsOK = true
		}
		return Fix{}, false, nil
	default:
		// VERSION/DEVICES/WATCH and friends.
		return Fix{}, false, nil
	}
}

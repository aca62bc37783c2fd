package gps

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GNRMC, GPRMC, ... all normalize to RMC.
	t := parts[0]
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// nmeaState folds RMC/GGA sentences into fixes.
type nmeaState struct {
	satellites int
	satsOK     bool
}

func (s *nmeaState) parse(nowUTC time.Time, line string) (Fix, bool, error) {
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, nil
	}
	sent, err := parseNMEASentence(line)
	if err != nil {
		return Fix{}, false, err
	}
	fix, ok := s.apply(nowUTC, sent)
	return fix, ok, nil
}

func (s *nmeaState) sats() *int { return satsPtr(s.satellites, s.satsOK) }

// apply returns a fix when the sentence carried a valid position.
func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) (Fix, bool) {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		return s.applyGGA(nowUTC, sent.Fields)
	default:
		return Fix{}, false
	}
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3,4: latitude ddmm.mmmm, N/S
//	5,6: longitude dddmm.mmmm, E/W
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) (Fix, bool) {
	if len(f) < 10 {
		return Fix{}, false
	}
	if strings.TrimSpace(f[2]) != "A" {
		return Fix{}, false
	}
	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return Fix{}, false
	}
	ts, ok := parseRMCTime(f[1], f[9])
	if !ok {
		ts = nowUTC
	}
	return Fix{LatDeg: lat, LonDeg: lon, Time: ts, Source: SourceNMEA}, true
}

// GGA: Global Positioning System Fix Data
//
//	2,3: latitude, N/S
//	4,5: longitude, E/W
//	6: fix quality (0=invalid)
//	7: satellites in use
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) (Fix, bool) {
	if len(f) < 8 {
		return Fix{}, false
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		return Fix{}, false
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.satellites = sats
		s.satsOK = true
	}
	lat, latOK := parseNMEALatLon(f[2], f[3])
	lon, lonOK := parseNMEALatLon(f[4], f[5])
	if !latOK || !lonOK {
		return Fix{}, false
	}
	return Fix{LatDeg: lat, LonDeg: lon, Time: nowUTC, Source: SourceNMEA}, true
}

func parseRMCTime(hms, dmy string) (time.Time, bool) {
	hms = strings.TrimSpace(hms)
	dmy = strings.TrimSpace(dmy)
	if len(hms) < 6 || len(dmy) != 6 {
		return time.Time{}, false
	}
	layout := "020106150405"
	if dot := strings.IndexByte(hms, '.'); dot != -1 {
		layout += "." + strings.Repeat("0", len(hms)-dot-1)
	}
	t, err := time.ParseInLocation(layout, dmy+hms, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseNMEALatLon parses ddmm.mmmm / dddmm.mmmm plus hemisphere into degrees.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}

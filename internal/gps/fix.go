package gps

import "time"

// Fix is one position sample.
type Fix struct {
	LatDeg float64
	LonDeg float64
	// Time is when the fix was taken (receiver time when known), UTC.
	Time   time.Time
	Source string
}

// Valid reports whether the fix holds a usable coordinate.
func (f Fix) Valid() bool {
	return !f.Time.IsZero() &&
		f.LatDeg >= -90 && f.LatDeg <= 90 &&
		f.LonDeg >= -180 && f.LonDeg <= 180
}

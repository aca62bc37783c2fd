// Package gps is the position source for location reports.
//
// It reads fixes from a USB/serial NMEA receiver (RMC and GGA sentences), from
// gpsd's JSON stream, or from a fixed configured position for bench use, and
// offers both a push subscription and a last-known-fix query.
package gps

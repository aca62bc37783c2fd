package frame

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Delimiter terminates every line on the wire.
const Delimiter byte = '\n'

// DefaultMaxLineBytes bounds the decode buffer when no cap is configured.
const DefaultMaxLineBytes = 64 * 1024

var (
	ErrEncoding    = errors.New("frame: line is not valid utf-8")
	ErrLineTooLong = errors.New("frame: line too long")
)

// LineError describes a line that was dropped by the decoder.
type LineError struct {
	Err error
	// Len is the number of payload bytes that were discarded.
	Len int
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%v (%d bytes dropped)", e.Err, e.Len)
}

func (e *LineError) Unwrap() error { return e.Err }

// Decoder splits a byte stream into newline-delimited lines.
//
// It is not safe for concurrent use; the reader loop owns it.
type Decoder struct {
	max int
	buf []byte

	// discarding is set after an overflow until the next delimiter.
	discarding bool
}

func NewDecoder(maxLineBytes int) *Decoder {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &Decoder{max: maxLineBytes}
}

// Feed consumes one chunk and returns the lines completed by it, in order.
// Dropped lines are reported as *LineError values; they never stop decoding.
func (d *Decoder) Feed(chunk []byte) (lines []string, errs []error) {
	for _, b := range chunk {
		if b == Delimiter {
			if d.discarding {
				d.discarding = false
				continue
			}
			line, err := d.take()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			lines = append(lines, line)
			continue
		}

		if d.discarding {
			continue
		}
		if len(d.buf) >= d.max {
			errs = append(errs, &LineError{Err: ErrLineTooLong, Len: len(d.buf) + 1})
			d.buf = d.buf[:0]
			d.discarding = true
			continue
		}
		d.buf = append(d.buf, b)
	}
	return lines, errs
}

func (d *Decoder) take() (string, error) {
	defer func() { d.buf = d.buf[:0] }()
	if !utf8.Valid(d.buf) {
		return "", &LineError{Err: ErrEncoding, Len: len(d.buf)}
	}
	return string(d.buf), nil
}

// Buffered reports how many bytes of an incomplete line are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partial line.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.discarding = false
}

package protocol

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"gpslink/internal/frame"
	"gpslink/internal/gps"
)

// RequestLocation is the inbound token that asks for a location report.
const RequestLocation = "GET_LOCATION"

var ErrInvalidPayload = errors.New("protocol: payload contains a line delimiter")

// Message is an outbound payload, ready to be written as-is.
type Message []byte

func (m Message) String() string { return string(m) }

// FormatFix renders a fix as "<lat>,<lon>\n".
//
// Numbers use the shortest decimal text that round-trips to the same float64,
// with ".0" kept on integral values: (37, -122) becomes "37.0,-122.0\n".
func FormatFix(fix gps.Fix) Message {
	var b bytes.Buffer
	b.WriteString(formatDegrees(fix.LatDeg))
	b.WriteByte(',')
	b.WriteString(formatDegrees(fix.LonDeg))
	b.WriteByte(frame.Delimiter)
	return Message(b.Bytes())
}

func formatDegrees(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// CommandMessage builds an operator command. With appendDelimiter set a
// trailing newline is added unless the text already ends with one. Text with a
// newline anywhere else is rejected, since the peer would see two lines.
func CommandMessage(text string, appendDelimiter bool) (Message, error) {
	body := strings.TrimSuffix(text, "\n")
	if strings.IndexByte(body, frame.Delimiter) >= 0 {
		return nil, ErrInvalidPayload
	}
	if appendDelimiter && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return Message(text), nil
}

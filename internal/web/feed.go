package web

import (
	"strings"

	"gpslink/internal/protocol"
)

// Feed is the web side of the presentation layer. It records inbound lines
// for /api/lines and republishes every link event to live listeners.
type Feed struct {
	Lines  *LogBuffer
	Events *Broadcaster
}

func NewFeed(maxLines int) *Feed {
	return &Feed{Lines: NewLogBuffer(maxLines), Events: NewBroadcaster()}
}

func (f *Feed) Line(line string) {
	if f == nil {
		return
	}
	f.Lines.Append(line)
	f.Events.Publish(EventIn, line)
}

// Sent records an outbound message such as a location report.
func (f *Feed) Sent(msg protocol.Message) {
	if f == nil {
		return
	}
	f.Events.Publish(EventOut, strings.TrimSuffix(msg.String(), "\n"))
}

func (f *Feed) LineDropped(err error) {
	if f == nil || err == nil {
		return
	}
	f.Events.Publish(EventDropped, err.Error())
}

func (f *Feed) ConnectionLost(err error) {
	if f == nil || err == nil {
		return
	}
	f.Events.Publish(EventLost, err.Error())
}

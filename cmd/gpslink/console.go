package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"gpslink/internal/protocol"
)

// console prints link traffic for an operator. Inbound lines are prefixed
// with "<", outbound reports with ">".
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	if c == nil || c.out == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *console) Line(line string) { c.printf("< %s\n", line) }
func (c *console) Sent(msg protocol.Message) { c.printf("> %s\n", strings.TrimSuffix(msg.String(), "\n")) }
func (c *console) LineDropped(err error) { c.printf("! dropped: %v\n", err) }
func (c *console) ConnectionLost(err error) { c.printf("! %v\n", err) }

// presenter is any presentation sink for link events.
type presenter interface {
	Line(line string)
	Sent(msg protocol.Message)
	LineDropped(err error)
	ConnectionLost(err error)
}

// fanout forwards every event to each presenter in order.
type fanout []presenter

func (f fanout) Line(line string) {
	for _, p := range f {
		p.Line(line)
	}
}

func (f fanout) Sent(msg protocol.Message) {
	for _, p := range f {
		p.Sent(msg)
	}
}

func (f fanout) LineDropped(err error) {
	for _, p := range f {
		p.LineDropped(err)
	}
}

func (f fanout) ConnectionLost(err error) {
	for _, p := range f {
		p.ConnectionLost(err)
	}
}

//go:build !linux

package transport

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// The portable serial driver cannot interrupt a blocking read, so reads use a
// short timeout and re-check the closed flag.
const serialReadTimeout = 250 * time.Millisecond

func openSerial(a Address) (Conn, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        a.Target,
		Baud:        a.Baud,
		Parity:      serial.ParityNone,
		ReadTimeout: serialReadTimeout,
	})
	if err != nil {
		return nil, classifyConnect(a.String(), err)
	}
	return &portConn{port: p, addr: a.String()}, nil
}

type portConn struct {
	port   *serial.Port
	addr   string
	closed atomic.Bool
}

func (c *portConn) Read(p []byte) (int, error) {
	for {
		if c.closed.Load() {
			return 0, ErrClosed
		}
		n, err := c.port.Read(p)
		if n > 0 {
			return n, nil
		}
		// A timeout surfaces as (0, nil) or (0, io.EOF) depending on platform.
		if err == nil || errors.Is(err, io.EOF) {
			continue
		}
		if c.closed.Load() {
			return 0, ErrClosed
		}
		return 0, err
	}
}

func (c *portConn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.port.Write(p)
}

func (c *portConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.port.Close()
}

func (c *portConn) Addr() string { return c.addr }

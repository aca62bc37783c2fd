package transport

import (
	"errors"
	"io"
	"net"
	"os"
)

// fileConn adapts a pollable *os.File (RFCOMM socket or serial tty).
type fileConn struct {
	f    *os.File
	addr string
}

func (c *fileConn) Read(p []byte) (int, error) {
	n, err := c.f.Read(p)
	return n, mapClosed(err)
}

func (c *fileConn) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	return n, mapClosed(err)
}

func (c *fileConn) Close() error {
	return mapClosed(c.f.Close())
}

func (c *fileConn) Addr() string { return c.addr }

type netConn struct {
	net.Conn
	addr string
}

func (c *netConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	return n, mapClosed(err)
}

func (c *netConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	return n, mapClosed(err)
}

func (c *netConn) Close() error {
	return mapClosed(c.Conn.Close())
}

func (c *netConn) Addr() string { return c.addr }

// NewConn wraps an already established net.Conn, for bridges and tests.
func NewConn(c net.Conn, addr string) Conn {
	return &netConn{Conn: c, addr: addr}
}

func mapClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

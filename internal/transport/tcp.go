package transport

import (
	"context"
	"net"
	"time"
)

const tcpDialTimeout = 5 * time.Second

func dialTCP(ctx context.Context, a Address) (Conn, error) {
	d := &net.Dialer{Timeout: tcpDialTimeout}
	c, err := d.DialContext(ctx, "tcp", a.Target)
	if err != nil {
		return nil, classifyConnect(a.String(), err)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		// Line messages are tiny; do not hold them back.
		_ = tc.SetNoDelay(true)
	}
	return &netConn{Conn: c, addr: a.String()}, nil
}

//go:build linux

package transport

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const rfcommPollInterval = 100 * time.Millisecond

// dialRFCOMM opens an RFCOMM (Bluetooth SPP) stream socket. The connect is
// done non-blocking so ctx cancellation is honoured; the resulting fd stays
// non-blocking so the runtime poller can interrupt reads on Close.
func dialRFCOMM(ctx context.Context, a Address) (Conn, error) {
	bd, err := parseBDAddr(a.Target)
	if err != nil {
		return nil, &ConnectError{Kind: Unreachable, Addr: a.String(), Err: err}
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, classifyConnect(a.String(), err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	sa := &unix.SockaddrRFCOMM{Addr: bd, Channel: uint8(a.Channel)}
	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		return nil, classifyConnect(a.String(), err)
	}
	if err != nil {
		if err := waitConnected(ctx, fd); err != nil {
			return nil, classifyConnect(a.String(), err)
		}
	}

	f := os.NewFile(uintptr(fd), "rfcomm:"+a.Target)
	if f == nil {
		return nil, &ConnectError{Kind: Unsupported, Addr: a.String(), Err: errors.New("os.NewFile failed")}
	}
	ok = true
	return &fileConn{f: f, addr: a.String()}, nil
}

func waitConnected(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(rfcommPollInterval/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}

//go:build linux

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// openSerial opens a tty (USB serial adapter or a bound /dev/rfcommN) in raw
// 8N1 mode. The fd is left non-blocking so Close interrupts a pending Read.
func openSerial(a Address) (Conn, error) {
	fd, err := unix.Open(a.Target, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, classifyConnect(a.String(), err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := configureTTY(fd, a.Baud); err != nil {
		return nil, &ConnectError{Kind: Unsupported, Addr: a.String(), Err: err}
	}

	f := os.NewFile(uintptr(fd), a.Target)
	if f == nil {
		return nil, &ConnectError{Kind: Unsupported, Addr: a.String(), Err: fmt.Errorf("os.NewFile failed")}
	}
	ok = true
	return &fileConn{f: f, addr: a.String()}, nil
}

func configureTTY(fd int, baud int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("not a tty: %w", err)
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}

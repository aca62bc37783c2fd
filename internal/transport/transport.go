package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// ErrClosed is returned by reads and writes on a connection that has been
// closed locally.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one open duplex byte stream to the peripheral.
//
// Read and Write may be used from different goroutines. Close may be called
// at any time and unblocks a pending Read.
type Conn interface {
	io.ReadWriteCloser
	Addr() string
}

const (
	SchemeRFCOMM = "rfcomm"
	SchemeSerial = "serial"
	SchemeTCP    = "tcp"

	// DefaultRFCOMMChannel is the channel HC-05/HC-06 style SPP modules listen on.
	DefaultRFCOMMChannel = 1
	DefaultBaud          = 9600
)

// Address is a parsed peer address.
type Address struct {
	Scheme string
	// Target is a Bluetooth MAC, a device path or host:port depending on Scheme.
	Target  string
	Channel int
	Baud    int
}

func (a Address) String() string {
	switch a.Scheme {
	case SchemeRFCOMM:
		return fmt.Sprintf("rfcomm://%s/%d", a.Target, a.Channel)
	case SchemeSerial:
		return fmt.Sprintf("serial://%s?baud=%d", a.Target, a.Baud)
	default:
		return a.Scheme + "://" + a.Target
	}
}

// ParseAddress parses rfcomm://MAC[/channel], serial://PATH[?baud=N] and
// tcp://host:port. A bare MAC address is treated as rfcomm.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}, fmt.Errorf("address is empty")
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		if _, err := parseBDAddr(raw); err == nil {
			return Address{Scheme: SchemeRFCOMM, Target: strings.ToUpper(raw), Channel: DefaultRFCOMMChannel}, nil
		}
		return Address{}, fmt.Errorf("address %q: missing scheme", raw)
	}

	switch strings.ToLower(scheme) {
	case SchemeRFCOMM:
		mac, ch, hasCh := strings.Cut(rest, "/")
		if _, err := parseBDAddr(mac); err != nil {
			return Address{}, fmt.Errorf("address %q: %w", raw, err)
		}
		a := Address{Scheme: SchemeRFCOMM, Target: strings.ToUpper(mac), Channel: DefaultRFCOMMChannel}
		if hasCh && ch != "" {
			n, err := strconv.Atoi(ch)
			if err != nil || n < 1 || n > 30 {
				return Address{}, fmt.Errorf("address %q: rfcomm channel must be in [1,30]", raw)
			}
			a.Channel = n
		}
		return a, nil

	case SchemeSerial:
		path, query, _ := strings.Cut(rest, "?")
		if path == "" {
			return Address{}, fmt.Errorf("address %q: serial device path is empty", raw)
		}
		a := Address{Scheme: SchemeSerial, Target: path, Baud: DefaultBaud}
		if query != "" {
			q, err := url.ParseQuery(query)
			if err != nil {
				return Address{}, fmt.Errorf("address %q: %w", raw, err)
			}
			if b := q.Get("baud"); b != "" {
				n, err := strconv.Atoi(b)
				if err != nil || n <= 0 {
					return Address{}, fmt.Errorf("address %q: invalid baud %q", raw, b)
				}
				a.Baud = n
			}
		}
		return a, nil

	case SchemeTCP:
		if rest == "" {
			return Address{}, fmt.Errorf("address %q: host:port is empty", raw)
		}
		return Address{Scheme: SchemeTCP, Target: rest}, nil

	default:
		return Address{}, &ConnectError{Kind: Unsupported, Addr: raw, Err: fmt.Errorf("unknown scheme %q", scheme)}
	}
}

// Dial opens a connection to addr. Connect failures are *ConnectError values,
// or wrap capability.ErrPermissionDenied / capability.ErrCapabilityDisabled.
func Dial(ctx context.Context, addr string) (Conn, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	return DialAddress(ctx, a)
}

func DialAddress(ctx context.Context, a Address) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch a.Scheme {
	case SchemeRFCOMM:
		return dialRFCOMM(ctx, a)
	case SchemeSerial:
		return openSerial(a)
	case SchemeTCP:
		return dialTCP(ctx, a)
	default:
		return nil, &ConnectError{Kind: Unsupported, Addr: a.String(), Err: fmt.Errorf("unknown scheme %q", a.Scheme)}
	}
}

// parseBDAddr parses "AA:BB:CC:DD:EE:FF" into the little-endian byte order
// used by the kernel's bdaddr_t.
func parseBDAddr(s string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return out, fmt.Errorf("invalid bluetooth address %q", s)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return out, fmt.Errorf("invalid bluetooth address %q", s)
		}
		out[5-i] = byte(v)
	}
	return out, nil
}

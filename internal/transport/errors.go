package transport

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"gpslink/internal/capability"
)

// Kind classifies why a connection attempt failed.
type Kind int

const (
	// Unsupported: this host has no such transport.
	Unsupported Kind = iota + 1
	// Unreachable: the peer was not found or did not answer.
	Unreachable
	// Refused: the peer (or device) rejected the connection.
	Refused
)

func (k Kind) String() string {
	switch k {
	case Unsupported:
		return "unsupported"
	case Unreachable:
		return "unreachable"
	case Refused:
		return "refused"
	default:
		return "unknown"
	}
}

var (
	ErrUnsupported = errors.New("transport unsupported")
	ErrUnreachable = errors.New("peer unreachable")
	ErrRefused     = errors.New("peer refused connection")
)

type ConnectError struct {
	Kind Kind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %s", e.Addr, e.Kind)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is lets callers match on the kind with errors.Is(err, ErrRefused).
func (e *ConnectError) Is(target error) bool {
	switch target {
	case ErrUnsupported:
		return e.Kind == Unsupported
	case ErrUnreachable:
		return e.Kind == Unreachable
	case ErrRefused:
		return e.Kind == Refused
	}
	return false
}

// classifyConnect maps an OS level connect/open error onto the connect
// taxonomy.
func classifyConnect(addr string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("connect %s: %w: %v", addr, capability.ErrPermissionDenied, err)
	case errors.Is(err, syscall.ENETDOWN):
		return fmt.Errorf("connect %s: %w: %v", addr, capability.ErrCapabilityDisabled, err)
	case errors.Is(err, syscall.EAFNOSUPPORT), errors.Is(err, syscall.EPROTONOSUPPORT):
		return &ConnectError{Kind: Unsupported, Addr: addr, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EBUSY):
		return &ConnectError{Kind: Refused, Addr: addr, Err: err}
	case errors.Is(err, context.Canceled):
		return err
	default:
		// Host down, no route, timeouts and missing devices all mean we could
		// not reach the peer.
		return &ConnectError{Kind: Unreachable, Addr: addr, Err: err}
	}
}

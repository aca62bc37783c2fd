package link

import (
	"errors"
	"fmt"
)

var (
	ErrSendFailed       = errors.New("send failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrAlreadyConnected = errors.New("link: already connected")
)

// SendError reports a failed write to the caller that attempted it.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("%v: %v", ErrSendFailed, e.Err) }

func (e *SendError) Unwrap() []error { return []error{ErrSendFailed, e.Err} }

// LostError is reported once when a read failure ends a connection.
type LostError struct {
	Addr string
	ID   string
	Err  error
}

func (e *LostError) Error() string {
	return fmt.Sprintf("%v addr=%s id=%s: %v", ErrConnectionLost, e.Addr, e.ID, e.Err)
}

func (e *LostError) Unwrap() []error { return []error{ErrConnectionLost, e.Err} }

//go:build !linux

package transport

import (
	"context"
	"errors"
)

func dialRFCOMM(ctx context.Context, a Address) (Conn, error) {
	return nil, &ConnectError{Kind: Unsupported, Addr: a.String(), Err: errors.New("rfcomm sockets are only supported on linux")}
}

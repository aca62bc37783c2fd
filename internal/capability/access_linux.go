//go:build linux

package capability

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func checkReadable(path string) error {
	err := unix.Access(path, unix.R_OK)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%s: %w", path, ErrPermissionDenied)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%s: %w", path, ErrCapabilityDisabled)
	default:
		return fmt.Errorf("%s: %w", path, err)
	}
}

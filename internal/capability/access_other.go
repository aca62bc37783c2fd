//go:build !linux

package capability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

func checkReadable(path string) error {
	f, err := os.Open(path)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", path, ErrPermissionDenied)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", path, ErrCapabilityDisabled)
	default:
		return fmt.Errorf("%s: %w", path, err)
	}
}

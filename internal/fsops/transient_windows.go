//go:build windows

package fsops

import (
	"errors"

	"golang.org/x/sys/windows"
)

// IsTransient reports whether err is a sharing or lock violation that may
// clear once another process releases its handle.
func IsTransient(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_BUSY)
}

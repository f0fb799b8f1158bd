//go:build unix

package fsops

import (
	"errors"
	"syscall"
)

// IsTransient reports whether err is a busy or would-block condition.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EAGAIN)
}

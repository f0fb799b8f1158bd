package exitcodes

import (
	"errors"

	"system-toolbox/internal/config"
	"system-toolbox/internal/safety"
	"system-toolbox/internal/scheduler"
)

// Exit codes for the toolbox binaries.
// Scripts and scheduled tasks rely on these values.
const (
	Success         = 0 // Successful execution
	InvalidConfig   = 2 // Configuration file invalid or target unknown
	SafetyViolation = 3 // Safety validator blocked an operation
	RuntimeError    = 4 // Runtime error during execution
	PartialFailure  = 5 // Session finished but one or more targets failed
)

// FromError maps an error returned by a command to its exit code.
func FromError(err error) int {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, scheduler.ErrPartialFailure):
		return PartialFailure
	case errors.Is(err, safety.ErrProtectedPath),
		errors.Is(err, safety.ErrTraversal),
		errors.Is(err, safety.ErrSymlinkEscape),
		errors.Is(err, safety.ErrOutsideAllowed):
		return SafetyViolation
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, scheduler.ErrUnknownTarget),
		errors.Is(err, scheduler.ErrNoTargets):
		return InvalidConfig
	default:
		return RuntimeError
	}
}

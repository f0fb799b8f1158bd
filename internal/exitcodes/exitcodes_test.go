package exitcodes

import (
	"errors"
	"fmt"
	"testing"

	"system-toolbox/internal/config"
	"system-toolbox/internal/safety"
	"system-toolbox/internal/scheduler"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"partial", fmt.Errorf("%w: 1 of 3", scheduler.ErrPartialFailure), PartialFailure},
		{"protected", fmt.Errorf("delete: %w", safety.ErrProtectedPath), SafetyViolation},
		{"traversal", safety.ErrTraversal, SafetyViolation},
		{"config", fmt.Errorf("%w: bad yaml", config.ErrInvalidConfig), InvalidConfig},
		{"unknown target", scheduler.ErrUnknownTarget, InvalidConfig},
		{"other", errors.New("boom"), RuntimeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err); got != tt.want {
				t.Errorf("FromError(%v) = %d, expected %d", tt.err, got, tt.want)
			}
		})
	}
}

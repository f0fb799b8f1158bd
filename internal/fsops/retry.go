package fsops

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a single OS call is retried.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration // multiplied by the attempt number
	// Retryable classifies errors; nil means IsTransient.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries sharing and lock violations three times.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Delay:    200 * time.Millisecond,
}

// Retry runs op until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done. The last error from op is returned.
func Retry(ctx context.Context, p RetryPolicy, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted after %d attempts: %w", attempt, err)
		case <-timer.C:
		}
	}
	return err
}

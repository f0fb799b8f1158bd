package limiter

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DeleteThrottle paces file deletes so a large clean does not saturate disk
// I/O. A nil *DeleteThrottle never waits.
type DeleteThrottle struct {
	limiter *rate.Limiter
	waits   atomic.Int64
	delayed atomic.Int64 // nanoseconds spent waiting
}

// NewDeleteThrottle allows perSecond deletes with a burst of one second's
// worth. perSecond <= 0 returns nil (unthrottled).
func NewDeleteThrottle(perSecond float64) *DeleteThrottle {
	if perSecond <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSecond))
	return &DeleteThrottle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until the next delete is allowed or ctx is done.
func (t *DeleteThrottle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	start := time.Now()
	err := t.limiter.Wait(ctx)
	t.waits.Add(1)
	t.delayed.Add(int64(time.Since(start)))
	return err
}

// SetRate updates the allowed deletes per second.
func (t *DeleteThrottle) SetRate(perSecond float64) {
	if t == nil || perSecond <= 0 {
		return
	}
	t.limiter.SetLimit(rate.Limit(perSecond))
	t.limiter.SetBurst(int(math.Ceil(perSecond)))
}

// Stats returns how many waits happened and their total delay.
func (t *DeleteThrottle) Stats() (waits int64, delayed time.Duration) {
	if t == nil {
		return 0, 0
	}
	return t.waits.Load(), time.Duration(t.delayed.Load())
}

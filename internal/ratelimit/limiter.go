// Package ratelimit implements the single shared throttle in front of the
// offline-download endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// MinInterval is the floor on the configured gap between outbound calls.
// The downstream provider throttles accounts that call faster than this, so a
// smaller configured value is clamped rather than honored.
const MinInterval = 500 * time.Millisecond

// Throttle spaces consecutive calls to one downstream target. All submission
// paths (bulk and per-item) share one instance, so the gap holds across
// concurrent chunks.
type Throttle struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewThrottle builds a throttle enforcing at least MinInterval between calls.
func NewThrottle(interval time.Duration) *Throttle {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Throttle{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Wait blocks until the gap since the previous call has elapsed, respecting
// the context.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Interval reports the effective (post-clamp) gap.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

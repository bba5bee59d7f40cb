package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a single-token bucket: callers are spaced at least
// 60s/perMinute apart, however many goroutines share it. A nil limiter or
// one built with perMinute <= 0 never blocks.
type RateLimiter struct {
	gap  time.Duration
	next time.Time
	mu   sync.Mutex
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{gap: time.Minute / time.Duration(perMinute)}
}

// Wait blocks until the caller's slot arrives or the context is cancelled.
// Slots are reserved under the lock so concurrent waiters keep the spacing.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.gap <= 0 {
		return ctx.Err()
	}

	rl.mu.Lock()
	now := time.Now()
	slot := rl.next
	if slot.Before(now) {
		slot = now
	}
	rl.next = slot.Add(rl.gap)
	rl.mu.Unlock()

	d := time.Until(slot)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Gap reports the minimum spacing between slots.
func (rl *RateLimiter) Gap() time.Duration {
	if rl == nil {
		return 0
	}
	return rl.gap
}

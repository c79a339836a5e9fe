package auth

import (
	"context"
	"time"
)

// runWithLatencyFloor executes fn and holds the caller until at least floor
// has elapsed since entry, so early exits (unknown email, rate-limited key)
// take as long as the full path. The sleep aborts on context cancellation.
func runWithLatencyFloor(ctx context.Context, floor time.Duration, fn func() error) error {
	if floor <= 0 {
		return fn()
	}
	start := time.Now()
	err := fn()
	remaining := floor - time.Since(start)
	if remaining <= 0 {
		return err
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

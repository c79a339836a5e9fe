// Package ratelimit provides the sliding-window counter shared by every
// throttled endpoint. Counters live behind the Limiter interface so a
// single-process deployment can use the in-memory backend while a
// horizontally scaled one swaps in the Redis backend without touching
// call sites.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrLimiterClosed is returned once a backend has been shut down.
var ErrLimiterClosed = errors.New("rate limiter closed")

// Policy is a per-route budget: at most Limit events per sliding Window.
type Policy struct {
	Window time.Duration
	Limit  int
}

// Result reports the outcome of a Check or Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts events per key within a sliding window. A request at time
// T is counted against every event for the key newer than T-Window, which
// avoids the fixed-window boundary burst (2x the limit straddling a bucket
// edge).
//
// Check is read-only. Record appends an event unconditionally. Allow is
// the combined check-and-record used by most endpoints: it records only
// when the request is admitted. Clear drops a key's history immediately.
type Limiter interface {
	Check(ctx context.Context, key string, policy Policy) (Result, error)
	Record(ctx context.Context, key string, policy Policy) error
	Allow(ctx context.Context, key string, policy Policy) (Result, error)
	Clear(ctx context.Context, key string) error
}

// RetryAfterSeconds converts a retry hint to whole seconds, rounding up so
// a client that waits the advertised time is actually admitted.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

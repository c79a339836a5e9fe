package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	defaultSweepInterval = 30 * time.Second
	minSweepInterval     = time.Second
)

type memoryEntry struct {
	times     []time.Time
	retention time.Duration
}

// Memory is the in-process Limiter backend: a mutex-guarded map of
// key -> event timestamps. A background sweeper drops entries older than
// each key's retention and removes empty keys to bound memory. Counters
// are local to one process; see the Redis backend for shared deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryOption customizes a Memory limiter.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	sweepInterval time.Duration
	now           func() time.Time
}

// WithSweepInterval overrides how often the background sweep runs.
// Values below one second are raised to the floor so the sweeper cannot
// busy-loop.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(cfg *memoryConfig) {
		cfg.sweepInterval = d
	}
}

// WithClock injects the time source. Tests use this to advance the window
// without sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(cfg *memoryConfig) {
		cfg.now = now
	}
}

// NewMemory creates the in-memory backend and starts its sweeper.
func NewMemory(opts ...MemoryOption) *Memory {
	cfg := memoryConfig{
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sweepInterval < minSweepInterval {
		cfg.sweepInterval = minSweepInterval
	}

	m := &Memory{
		entries: make(map[string]*memoryEntry),
		now:     cfg.now,
		done:    make(chan struct{}),
	}

	go m.sweepLoop(cfg.sweepInterval)

	return m
}

// Close stops the background sweeper and fails all further calls with
// ErrLimiterClosed. Counter state is discarded.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.entries = nil
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

// Check reports whether another event for key fits the policy without
// recording anything.
func (m *Memory) Check(_ context.Context, key string, policy Policy) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Result{}, ErrLimiterClosed
	}
	return m.resultLocked(key, policy), nil
}

// Record appends an event for key regardless of the current count.
func (m *Memory) Record(_ context.Context, key string, policy Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrLimiterClosed
	}
	m.recordLocked(key, policy)
	return nil
}

// Allow is the combined check-and-record: the event is recorded only when
// admitted, under a single lock acquisition so concurrent callers cannot
// both observe the last free slot.
func (m *Memory) Allow(_ context.Context, key string, policy Policy) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Result{}, ErrLimiterClosed
	}
	res := m.resultLocked(key, policy)
	if res.Allowed {
		m.recordLocked(key, policy)
		res.Remaining--
		if res.Remaining < 0 {
			res.Remaining = 0
		}
	}
	return res, nil
}

// Clear drops the key's history immediately.
func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrLimiterClosed
	}
	delete(m.entries, key)
	return nil
}

// keyCount reports how many keys currently hold history.
func (m *Memory) keyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) resultLocked(key string, policy Policy) Result {
	now := m.now()
	cutoff := now.Add(-policy.Window)

	entry := m.entries[key]
	var inWindow []time.Time
	if entry != nil {
		inWindow = pruneBefore(entry.times, cutoff)
		entry.times = inWindow
		if len(inWindow) == 0 {
			delete(m.entries, key)
		}
	}

	count := len(inWindow)
	res := Result{
		Allowed:   count < policy.Limit,
		Remaining: policy.Limit - count,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed && count > 0 {
		oldest := inWindow[0]
		res.RetryAfter = oldest.Add(policy.Window).Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res
}

func (m *Memory) recordLocked(key string, policy Policy) {
	entry := m.entries[key]
	if entry == nil {
		entry = &memoryEntry{}
		m.entries[key] = entry
	}
	entry.times = append(entry.times, m.now())
	if policy.Window > entry.retention {
		entry.retention = policy.Window
	}
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.entries {
		entry.times = pruneBefore(entry.times, now.Add(-entry.retention))
		if len(entry.times) == 0 {
			delete(m.entries, key)
		}
	}
}

// pruneBefore assumes times are in append order (ascending) and returns
// the suffix at or after cutoff.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	kept := make([]time.Time, len(times)-idx)
	copy(kept, times[idx:])
	return kept
}

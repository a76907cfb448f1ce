package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local fixed-window counter.
//
// Counters live in this process only. Behind a load balancer each instance
// enforces its own quota, so aggregate limits are approximate.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

// windowEntry is the counter for one key within its current window
type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiterConfig holds configuration for the in-memory limiter
type MemoryLimiterConfig struct {
	// CleanupInterval is how often expired entries are evicted (0 = never)
	CleanupInterval time.Duration
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// DefaultMemoryLimiterConfig returns the default configuration:
// expired entries are evicted every 5 minutes
func DefaultMemoryLimiterConfig() MemoryLimiterConfig {
	return MemoryLimiterConfig{
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}
}

// NewMemoryLimiter creates an in-memory limiter with default configuration
func NewMemoryLimiter() *MemoryLimiter {
	return NewMemoryLimiterWithConfig(DefaultMemoryLimiterConfig())
}

// NewMemoryLimiterWithConfig creates an in-memory limiter with custom configuration
func NewMemoryLimiterWithConfig(config MemoryLimiterConfig) *MemoryLimiter {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	m := &MemoryLimiter{
		entries: make(map[string]*windowEntry),
		now:     now,
		done:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		m.cleanup = time.NewTicker(config.CleanupInterval)
		go m.cleanupLoop()
	}

	return m
}

// Check counts one request for key against max requests per window.
// A missing or expired entry starts a new window with a count of 1.
func (m *MemoryLimiter) Check(key string, max int, window time.Duration) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	e, ok := m.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &windowEntry{count: 1, resetAt: now.Add(window)}
		m.entries[key] = e
		return Result{
			Limit:     max,
			Remaining: remainingOf(max, e.count),
			ResetAt:   e.resetAt,
			Allowed:   true,
		}
	}

	if e.count < max {
		e.count++
		return Result{
			Limit:     max,
			Remaining: remainingOf(max, e.count),
			ResetAt:   e.resetAt,
			Allowed:   true,
		}
	}

	return Result{
		Limit:      max,
		Remaining:  0,
		ResetAt:    e.resetAt,
		RetryAfter: retryAfterSeconds(e.resetAt, now),
		Allowed:    false,
	}
}

// Allow implements Limiter
func (m *MemoryLimiter) Allow(ctx context.Context, key string, policy Policy) (*Result, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	res := m.Check(key, policy.Max, policy.Window)
	return &res, nil
}

// Reset forgets the counter for key
func (m *MemoryLimiter) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len returns the number of tracked keys, expired or not
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep deletes every entry whose window has elapsed and returns how many
// were removed
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// cleanupLoop evicts expired entries on every tick
func (m *MemoryLimiter) cleanupLoop() {
	for {
		select {
		case <-m.cleanup.C:
			m.Sweep()
		case <-m.done:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (m *MemoryLimiter) Close() error {
	m.once.Do(func() {
		close(m.done)
		if m.cleanup != nil {
			m.cleanup.Stop()
		}
	})
	return nil
}

func remainingOf(max, count int) int {
	if r := max - count; r > 0 {
		return r
	}
	return 0
}

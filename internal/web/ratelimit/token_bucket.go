package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket smooths bursts per key with golang.org/x/time/rate.
// It backs the process-wide throttle, not the named policies.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// bucket is the limiter for one key plus its last use
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// TokenBucketConfig holds configuration for the token bucket
type TokenBucketConfig struct {
	// RPS is the sustained refill rate in tokens per second
	RPS float64
	// Burst is the bucket capacity
	Burst int
	// IdleTTL is how long an unused bucket is kept
	IdleTTL time.Duration
	// CleanupInterval is how often idle buckets are dropped (0 = never)
	CleanupInterval time.Duration
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// DefaultTokenBucketConfig allows 50 requests per second with bursts of 100
func DefaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{
		RPS:             50,
		Burst:           100,
		IdleTTL:         15 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}
}

// NewTokenBucket creates a token bucket limiter
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	tb := &TokenBucket{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(config.RPS),
		burst:   config.Burst,
		idleTTL: config.IdleTTL,
		done:    make(chan struct{}),
		now:     now,
	}

	if config.CleanupInterval > 0 {
		tb.cleanup = time.NewTicker(config.CleanupInterval)
		go tb.cleanupLoop()
	}

	return tb
}

// Take removes one token for key. When the bucket is empty it reports how
// long until a token becomes available.
func (tb *TokenBucket) Take(key string) Result {
	now := tb.now()
	lim := tb.limiter(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Result{Limit: tb.burst, Allowed: false, ResetAt: now}
	}

	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		resetAt := now.Add(delay)
		retry := retryAfterSeconds(resetAt, now)
		if retry < 1 {
			retry = 1
		}
		return Result{
			Limit:      tb.burst,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retry,
			Allowed:    false,
		}
	}

	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Limit:     tb.burst,
		Remaining: remaining,
		ResetAt:   now,
		Allowed:   true,
	}
}

func (tb *TokenBucket) limiter(key string, now time.Time) *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if b, ok := tb.buckets[key]; ok {
		b.lastSeen = now
		return b.lim
	}

	lim := rate.NewLimiter(tb.limit, tb.burst)
	tb.buckets[key] = &bucket{lim: lim, lastSeen: now}
	return lim
}

// Sweep drops buckets idle for longer than IdleTTL
func (tb *TokenBucket) Sweep() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	cutoff := tb.now().Add(-tb.idleTTL)
	removed := 0
	for key, b := range tb.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(tb.buckets, key)
			removed++
		}
	}
	return removed
}

// cleanupLoop removes idle buckets on every tick
func (tb *TokenBucket) cleanupLoop() {
	for {
		select {
		case <-tb.cleanup.C:
			tb.Sweep()
		case <-tb.done:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (tb *TokenBucket) Close() error {
	tb.once.Do(func() {
		close(tb.done)
		if tb.cleanup != nil {
			tb.cleanup.Stop()
		}
	})
	return nil
}

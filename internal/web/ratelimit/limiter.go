// Package ratelimit decides whether a request may proceed under a named
// policy. Decisions come from a Redis sliding window when one is configured
// and degrade to allow-by-default (or to a process-local fixed window) when
// it is not reachable.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrEmptyKey is returned when a limiter is asked about an empty key
	ErrEmptyKey = errors.New("rate limit key is empty")
	// ErrUnknownCategory is returned when no policy exists for a category
	ErrUnknownCategory = errors.New("unknown rate limit category")
)

// Limiter defines the interface for rate limiting backends
type Limiter interface {
	// Allow counts one request for key under policy and reports the outcome.
	// Implementations return an error only for infrastructure failures.
	Allow(ctx context.Context, key string, policy Policy) (*Result, error)
}

// Result contains the state of a key's window after a single check.
// It is computed fresh per call and never persisted.
type Result struct {
	// Limit is the maximum number of requests allowed in the window
	Limit int
	// Remaining is the quota left in the current window, never negative
	Remaining int
	// ResetAt is when the current window resets
	ResetAt time.Time
	// RetryAfter is the number of seconds to wait; only set when denied
	RetryAfter int
	// Allowed indicates whether the request should be allowed
	Allowed bool
}

// Outcome tags a Decision so callers can tell a request that is under quota
// apart from one let through because the limiter could not decide.
type Outcome int

const (
	// OutcomeAllowed means the request is within quota
	OutcomeAllowed Outcome = iota
	// OutcomeDenied means the quota is exhausted for the current window
	OutcomeDenied
	// OutcomeDegraded means the limiter was unavailable and failed open
	OutcomeDegraded
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// retryAfterSeconds rounds the time left until reset up to whole seconds.
func retryAfterSeconds(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

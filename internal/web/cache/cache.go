// Package cache stores derived, recomputable JSON values with a TTL.
//
// Backends (Redis, a SQL document table, process memory) return errors;
// the Store facade in front of them never does. A cache outage reads as a
// miss and a failed write is only logged.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Backend defines the interface for all cache backends
type Backend interface {
	// Get retrieves a value. Missing and expired keys return ErrCacheMiss.
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Set stores a value that expires after ttl, replacing any previous value
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error

	// Invalidate removes every key matching pattern and returns how many
	// keys were removed. See CompilePattern for the matching rules.
	Invalidate(ctx context.Context, pattern string) (int, error)

	// Close releases resources owned by the backend
	Close() error
}

// Entry is one cached document
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Expired reports whether the entry is logically absent at now
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL applies when a caller passes a non-positive TTL
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "learnhub:",
	}
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}

// ErrEmptyPattern is returned when invalidation is asked to match everything
var ErrEmptyPattern = errors.New("invalidation pattern is empty")

func ttlOrDefault(ttl, def time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return def
}

package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Store is the cache facade used by request handlers. Every failure is
// logged and converted to a miss or a no-op.
type Store struct {
	backend Backend
	name    string
	logger  *zap.Logger
}

// NewStore wraps backend. A nil backend yields a Store whose operations
// log a warning and do nothing.
func NewStore(backend Backend, name string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		name = "none"
	}
	return &Store{backend: backend, name: name, logger: logger}
}

// Configured reports whether a backend is present
func (s *Store) Configured() bool {
	return s.backend != nil
}

// Backend returns the name of the backend in use
func (s *Store) Backend() string {
	return s.name
}

// Get returns the raw value for key. Misses, expired entries and backend
// errors all report false.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if !s.Configured() {
		s.logger.Warn("cache not configured, treating read as miss", zap.String("key", key))
		return nil, false
	}

	value, err := s.backend.Get(ctx, key)
	if err != nil {
		if !IsCacheMiss(err) {
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return value, true
}

// Set stores value as JSON under key for ttl (non-positive = backend default)
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.Configured() {
		s.logger.Warn("cache not configured, dropping write", zap.String("key", key))
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache value not serializable", zap.String("key", key), zap.Error(err))
		return
	}

	if err := s.backend.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) {
	if !s.Configured() {
		s.logger.Warn("cache not configured, dropping delete", zap.String("key", key))
		return
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes every key matching pattern and returns how many were
// removed. Only one '*' is honoured and matching is by substring, so a
// pattern can remove more than its prefix suggests.
func (s *Store) Invalidate(ctx context.Context, pattern string) int {
	if !s.Configured() {
		s.logger.Warn("cache not configured, dropping invalidation", zap.String("pattern", pattern))
		return 0
	}

	n, err := s.backend.Invalidate(ctx, pattern)
	if err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return n
}

// Close closes the backend
func (s *Store) Close() error {
	if !s.Configured() {
		return nil
	}
	return s.backend.Close()
}

// GetCached decodes the value stored under key into T. The zero T and
// false are returned on a miss, on expiry and on any error.
func GetCached[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var out T

	raw, ok := s.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn("cache value could not be decoded", zap.String("key", key), zap.Error(err))
		var zero T
		return zero, false
	}
	return out, true
}

// SetCached stores value under key for ttl
func SetCached(ctx context.Context, s *Store, key string, value interface{}, ttl time.Duration) {
	s.Set(ctx, key, value, ttl)
}

// InvalidateCache removes every key matching pattern
func InvalidateCache(ctx context.Context, s *Store, pattern string) int {
	return s.Invalidate(ctx, pattern)
}

// Remember returns the cached value for key, computing and storing it on a
// miss. A compute error is returned and nothing is cached.
func Remember[T any](ctx context.Context, s *Store, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := GetCached[T](ctx, s, key); ok {
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	s.Set(ctx, key, v, ttl)
	return v, nil
}

type storeContextKey struct{}

// NewContext returns a copy of ctx carrying s
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, s)
}

// FromContext returns the Store in ctx, or an unconfigured Store
func FromContext(ctx context.Context) *Store {
	if s, ok := ctx.Value(storeContextKey{}).(*Store); ok && s != nil {
		return s
	}
	return NewStore(nil, "", nil)
}

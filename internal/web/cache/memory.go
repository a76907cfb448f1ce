package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryCache implements an in-process cache with TTL support.
// Entries are not shared between instances.
type MemoryCache struct {
	data   sync.Map
	config Config
	now    func() time.Time
	cancel context.CancelFunc
}

// memoryItem is stored by pointer so expiry deletes can compare identity
type memoryItem struct {
	value      json.RawMessage
	expiration time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultConfig(), time.Minute)
}

// NewMemoryCacheWithConfig creates a new in-memory cache that evicts
// expired items every cleanupInterval (0 = never)
func NewMemoryCacheWithConfig(config Config, cleanupInterval time.Duration) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemoryCache{
		config: config,
		now:    time.Now,
		cancel: cancel,
	}

	if cleanupInterval > 0 {
		go mc.cleanupExpired(ctx, cleanupInterval)
	}

	return mc
}

// Get retrieves a value from the cache
func (m *MemoryCache) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key

	value, ok := m.data.Load(fullKey)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}

	item := value.(*memoryItem)
	if !item.expiration.After(m.now()) {
		// A concurrent Set stores a new pointer, which survives this delete
		m.data.CompareAndDelete(fullKey, item)
		return nil, ErrCacheMiss{Key: key}
	}

	return item.value, nil
}

// Set stores a value in the cache with a TTL
func (m *MemoryCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make(json.RawMessage, len(value))
	copy(stored, value)

	m.data.Store(m.config.Prefix+key, &memoryItem{
		value:      stored,
		expiration: m.now().Add(ttlOrDefault(ttl, m.config.DefaultTTL)),
	})
	return nil
}

// Delete removes a value from the cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.data.Delete(m.config.Prefix + key)
	return nil
}

// Invalidate removes every key matching pattern
func (m *MemoryCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, err := CompilePattern(pattern)
	if err != nil {
		return 0, err
	}

	removed := 0
	m.data.Range(func(k, _ interface{}) bool {
		fullKey := k.(string)
		if len(fullKey) >= len(m.config.Prefix) && p.Match(fullKey[len(m.config.Prefix):]) {
			m.data.Delete(fullKey)
			removed++
		}
		return true
	})
	return removed, nil
}

// Close stops the background cleanup goroutine
func (m *MemoryCache) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// cleanupExpired periodically removes expired items from the cache
func (m *MemoryCache) cleanupExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.now()
			m.data.Range(func(key, value interface{}) bool {
				if !value.(*memoryItem).expiration.After(now) {
					m.data.CompareAndDelete(key, value)
				}
				return true
			})
		}
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements a cache backend on a dedicated Redis service
type RedisCache struct {
	client *redis.Client
	config Config
}

// NewRedisCache creates a Redis cache on an existing client.
// The client is owned by the caller; Close does not close it.
func NewRedisCache(client *redis.Client, config Config) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisCache{
		client: client,
		config: config,
	}, nil
}

// Get retrieves a value from the cache
func (r *RedisCache) Get(ctx context.Context, key string) (json.RawMessage, error) {
	value, err := r.client.Get(ctx, r.config.Prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss{Key: key}
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	return json.RawMessage(value), nil
}

// Set stores a value in the cache with a TTL
func (r *RedisCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	ttl = ttlOrDefault(ttl, r.config.DefaultTTL)
	if err := r.client.Set(ctx, r.config.Prefix+key, []byte(value), ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes a value from the cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.config.Prefix+key).Err()
}

// Invalidate removes every key matching pattern using SCAN
func (r *RedisCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return 0, err
	}

	removed := 0
	iter := r.client.Scan(ctx, 0, p.Glob(r.config.Prefix), 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		if len(fullKey) < len(r.config.Prefix) || !p.Match(fullKey[len(r.config.Prefix):]) {
			continue
		}
		n, err := r.client.Del(ctx, fullKey).Result()
		if err != nil {
			return removed, fmt.Errorf("redis delete failed: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan failed: %w", err)
	}
	return removed, nil
}

// Close is a no-op; the client belongs to the caller
func (r *RedisCache) Close() error {
	return nil
}

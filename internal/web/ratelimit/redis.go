package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the key's sorted set to the window, admits the
// request if there is room and returns {allowed, count, resetMicros}.
// Scores are microseconds so they stay exact as float64; they are passed as
// strings so Lua never reformats them.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = ARGV[1]
	local window_start = ARGV[2]
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]
	local ttl = ARGV[5]
	local window = tonumber(ARGV[6])

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

	local current = redis.call('ZCARD', key)
	local allowed = 0
	if current < limit then
		redis.call('ZADD', key, now, member)
		current = current + 1
		allowed = 1
	end

	redis.call('PEXPIRE', key, ttl)

	local reset = tonumber(now) + window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest[2] then
		reset = tonumber(oldest[2]) + window
	end

	return {allowed, current, reset}
`)

// RedisLimiter implements a Redis-backed sliding window rate limiter
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// RedisLimiterConfig holds configuration for the Redis rate limiter
type RedisLimiterConfig struct {
	// Client is the Redis client to use
	Client *redis.Client
	// Prefix is the key prefix for Redis keys
	Prefix string
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// DefaultRedisLimiterConfig returns a default Redis limiter configuration
func DefaultRedisLimiterConfig(client *redis.Client) RedisLimiterConfig {
	return RedisLimiterConfig{
		Client: client,
		Prefix: "ratelimit:",
		Now:    time.Now,
	}
}

// NewRedisLimiter creates a new Redis limiter
func NewRedisLimiter(config RedisLimiterConfig) (*RedisLimiter, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &RedisLimiter{
		client: config.Client,
		prefix: config.Prefix,
		now:    now,
	}, nil
}

// Allow counts one request for key under policy using a sliding window.
// The whole check runs as one script so concurrent callers see atomic counts.
func (r *RedisLimiter) Allow(ctx context.Context, key string, policy Policy) (*Result, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	windowMicros := policy.Window.Microseconds()
	ttlMillis := policy.Window.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = 1
	}

	nowMicros := now.UnixMicro()

	raw, err := slidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		strconv.FormatInt(nowMicros, 10),
		strconv.FormatInt(nowMicros-windowMicros, 10),
		policy.Max,
		strconv.FormatInt(nowMicros, 10)+"-"+uuid.NewString(),
		ttlMillis,
		windowMicros,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return nil, errors.New("unexpected redis script result")
	}

	allowed, ok := values[0].(int64)
	if !ok {
		return nil, errors.New("invalid allowed value from redis")
	}
	count, ok := values[1].(int64)
	if !ok {
		return nil, errors.New("invalid count value from redis")
	}
	resetMicros, ok := values[2].(int64)
	if !ok {
		return nil, errors.New("invalid reset value from redis")
	}

	res := &Result{
		Limit:     policy.Max,
		Remaining: remainingOf(policy.Max, int(count)),
		ResetAt:   time.UnixMicro(resetMicros),
		Allowed:   allowed == 1,
	}
	if !res.Allowed {
		res.Remaining = 0
		res.RetryAfter = retryAfterSeconds(res.ResetAt, now)
		if res.RetryAfter < 1 {
			res.RetryAfter = 1
		}
	}
	return res, nil
}

// Reset removes all rate limit data for the given key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Count returns the number of requests recorded for key within window
func (r *RedisLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	redisKey := r.prefix + key
	windowStart := r.now().Add(-window)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixMicro(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get count: %w", err)
	}

	return int(countCmd.Val()), nil
}

// Package app is the composition root: it turns configuration into the
// Redis client, database, rate limit Guard, cache Store and HTTP router, and
// owns their shutdown.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learnhub/learnhub/internal/cli/config"
	"github.com/learnhub/learnhub/internal/database"
	"github.com/learnhub/learnhub/internal/web/auth"
	"github.com/learnhub/learnhub/internal/web/cache"
	"github.com/learnhub/learnhub/internal/web/ratelimit"
	"github.com/learnhub/learnhub/internal/web/server"
)

// tokenTTL is the lifetime of tokens issued by the auth service
const tokenTTL = 24 * time.Hour

// App holds every long-lived dependency of the process
type App struct {
	Config *config.Config
	Logger *zap.Logger

	// Redis is nil when redis.url is empty
	Redis *redis.Client
	// DB is nil when database.url is empty
	DB       *sql.DB
	DBTarget database.Target

	Guard     *ratelimit.Guard
	Whitelist *ratelimit.Whitelist
	Cache     *cache.Store
	// Throttle is nil when ratelimit.throttle.rps is 0
	Throttle *ratelimit.TokenBucket
	// Auth is nil when auth.jwt_secret is empty
	Auth *auth.AuthService

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New wires the application from cfg. Missing Redis or database
// configuration is not an error; the affected features degrade.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildGuard(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildCache(); err != nil {
		a.Close()
		return nil, err
	}
	a.buildThrottle()

	if cfg.Auth.JWTSecret != "" {
		a.Auth = auth.NewAuthService(cfg.Auth.JWTSecret, tokenTTL)
	} else {
		logger.Warn("auth.jwt_secret not set, all requests are anonymous and the admin API is unreachable")
	}

	return a, nil
}

// connectRedis builds the client shared by the limiter and the cache
func (a *App) connectRedis(ctx context.Context) error {
	rc := a.Config.Redis
	if !rc.Configured() {
		a.Logger.Warn("redis.url not set, rate limiting fails open")
		return nil
	}

	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}
	if rc.Token != "" {
		opts.Password = rc.Token
	}
	if rc.Timeout > 0 {
		opts.DialTimeout = rc.Timeout
		opts.ReadTimeout = rc.Timeout
		opts.WriteTimeout = rc.Timeout
	}

	a.Redis = redis.NewClient(opts)
	a.addCloser("redis", a.Redis.Close)

	// An unreachable server at startup is logged, not fatal
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		a.Logger.Warn("redis unreachable at startup", zap.String("addr", opts.Addr), zap.Error(err))
	}
	return nil
}

// connectDatabase opens the document cache database
func (a *App) connectDatabase(ctx context.Context) error {
	dc := a.Config.Database
	if dc.URL == "" {
		return nil
	}

	db, target, err := database.Open(ctx, dc.URL, database.PoolConfig{
		MaxOpenConns:    dc.MaxOpenConns,
		MaxIdleConns:    dc.MaxIdleConns,
		ConnMaxLifetime: dc.ConnMaxLifetime,
		ConnMaxIdleTime: database.DefaultPoolConfig().ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}

	a.DB = db
	a.DBTarget = target
	a.addCloser("database", db.Close)
	return nil
}

func (a *App) buildGuard() error {
	rl := a.Config.RateLimit

	overrides, err := rl.PolicyOverrides()
	if err != nil {
		return err
	}
	policies, err := ratelimit.NewPolicies(overrides)
	if err != nil {
		return fmt.Errorf("ratelimit.policies: %w", err)
	}
	fallback, err := ratelimit.ParseFallbackMode(rl.Fallback)
	if err != nil {
		return err
	}

	// A nil *RedisLimiter must not become a non-nil Limiter
	var remote ratelimit.Limiter
	if a.Redis != nil {
		// The Guard already namespaces keys with ratelimit.prefix
		limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisLimiterConfig{Client: a.Redis})
		if err != nil {
			return err
		}
		remote = limiter
	}

	a.Whitelist = ratelimit.NewWhitelist(rl.Whitelist...)
	a.Guard = ratelimit.NewGuard(ratelimit.GuardConfig{
		Policies:  policies,
		Remote:    remote,
		Fallback:  fallback,
		Whitelist: a.Whitelist,
		Prefix:    rl.Prefix,
		Logger:    a.Logger.Named("ratelimit"),
	})
	a.addCloser("ratelimit", a.Guard.Close)
	return nil
}

func (a *App) buildCache() error {
	cc := a.Config.Cache
	common := cache.Config{DefaultTTL: cc.DefaultTTL, Prefix: cc.Prefix}
	if common.DefaultTTL <= 0 {
		common.DefaultTTL = cache.DefaultConfig().DefaultTTL
	}
	logger := a.Logger.Named("cache")

	backendName := cc.Backend
	if backendName == config.CacheBackendAuto {
		switch {
		case a.Redis != nil:
			backendName = config.CacheBackendRedis
		case a.DB != nil:
			backendName = config.CacheBackendDocument
		default:
			backendName = ""
		}
	}

	var backend cache.Backend
	switch backendName {
	case config.CacheBackendRedis:
		if a.Redis == nil {
			return errors.New("cache.backend is redis but redis.url is not set")
		}
		rc, err := cache.NewRedisCache(a.Redis, common)
		if err != nil {
			return err
		}
		backend = rc
	case config.CacheBackendDocument:
		if a.DB == nil {
			return errors.New("cache.backend is document but database.url is not set")
		}
		dc := cache.DefaultDocumentConfig(a.DB)
		dc.Table = cc.Table
		dc.DefaultTTL = common.DefaultTTL
		dc.SweepInterval = cc.SweepInterval
		dc.Logger = logger
		if a.DBTarget.SQLite {
			dc.Dialect = cache.DialectSQLite
		}
		ds, err := cache.NewDocumentStore(dc)
		if err != nil {
			return err
		}
		backend = ds
	case config.CacheBackendMemory:
		backend = cache.NewMemoryCacheWithConfig(common, time.Minute)
	default:
		logger.Warn("no cache backend configured, cache operations are no-ops")
	}

	a.Cache = cache.NewStore(backend, backendName, logger)
	a.addCloser("cache", a.Cache.Close)
	return nil
}

func (a *App) buildThrottle() {
	tc := a.Config.RateLimit.Throttle
	if tc.RPS <= 0 {
		return
	}

	bucketConfig := ratelimit.DefaultTokenBucketConfig()
	bucketConfig.RPS = tc.RPS
	bucketConfig.Burst = tc.Burst
	a.Throttle = ratelimit.NewTokenBucket(bucketConfig)
	a.addCloser("throttle", a.Throttle.Close)
}

// addCloser records a resource; Close releases them in reverse order
func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases every resource, most recently acquired first
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RegisterShutdown closes the application after the server stops
func (a *App) RegisterShutdown(gs *server.GracefulShutdown) {
	gs.RegisterHook("app", func(ctx context.Context) error {
		return a.Close()
	})
}

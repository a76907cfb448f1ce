// Package config loads learnhub configuration from learnhub.yml and
// LEARNHUB_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/learnhub/learnhub/internal/logging"
	"github.com/learnhub/learnhub/internal/web/ratelimit"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "LEARNHUB"

// Config represents the learnhub configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       logging.Config  `mapstructure:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Profiling mounts pprof on the admin API
	Profiling bool `mapstructure:"profiling"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig locates the remote store shared by rate limiting and caching.
// An empty URL leaves rate limiting in fail-open mode.
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Configured reports whether a remote store URL is present
func (r RedisConfig) Configured() bool {
	return r.URL != ""
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Table         string        `mapstructure:"table"`
	Prefix        string        `mapstructure:"prefix"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PolicyConfig overrides one category quota
type PolicyConfig struct {
	Window time.Duration `mapstructure:"window"`
	Max    int           `mapstructure:"max"`
}

// ThrottleConfig caps the process-wide request rate. RPS 0 disables it.
type ThrottleConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Prefix    string                  `mapstructure:"prefix"`
	Fallback  string                  `mapstructure:"fallback"`
	Whitelist []string                `mapstructure:"whitelist"`
	Policies  map[string]PolicyConfig `mapstructure:"policies"`
	Throttle  ThrottleConfig          `mapstructure:"throttle"`
}

// AuthConfig represents bearer token verification settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Backend names accepted by cache.backend
const (
	CacheBackendAuto     = "auto"
	CacheBackendRedis    = "redis"
	CacheBackendDocument = "document"
	CacheBackendMemory   = "memory"
)

// Load loads the configuration. An empty path searches for learnhub.yml
// in the working directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("learnhub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// LEARNHUB_REDIS_URL overrides redis.url, and so on
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.profiling", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.token", "")
	v.SetDefault("redis.timeout", 2*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("cache.backend", CacheBackendAuto)
	v.SetDefault("cache.table", "cache_entries")
	v.SetDefault("cache.prefix", "learnhub:")
	v.SetDefault("cache.default_ttl", 5*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Minute)

	v.SetDefault("ratelimit.prefix", "ratelimit")
	v.SetDefault("ratelimit.fallback", "open")
	v.SetDefault("ratelimit.whitelist", []string{})
	v.SetDefault("ratelimit.throttle.rps", 0)
	v.SetDefault("ratelimit.throttle.burst", 100)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// PolicyOverrides resolves the configured overrides to categories. A
// missing field keeps the built-in value for that category.
func (r RateLimitConfig) PolicyOverrides() (map[ratelimit.Category]ratelimit.Policy, error) {
	defaults := ratelimit.DefaultPolicyTable()
	overrides := make(map[ratelimit.Category]ratelimit.Policy, len(r.Policies))

	for name, pc := range r.Policies {
		category, err := ratelimit.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("ratelimit.policies: %w", err)
		}
		policy := defaults[category]
		if pc.Window != 0 {
			policy.Window = pc.Window
		}
		if pc.Max != 0 {
			policy.Max = pc.Max
		}
		overrides[category] = policy
	}
	return overrides, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got: %d", cfg.Server.Port)
	}

	switch cfg.Cache.Backend {
	case CacheBackendAuto, CacheBackendRedis, CacheBackendDocument, CacheBackendMemory:
	default:
		return fmt.Errorf("cache.backend must be one of auto, redis, document, memory, got: %s", cfg.Cache.Backend)
	}

	if err := validateSharedRedisPrefixes(cfg); err != nil {
		return err
	}

	if _, err := ratelimit.ParseFallbackMode(cfg.RateLimit.Fallback); err != nil {
		return fmt.Errorf("ratelimit.fallback: %w", err)
	}

	if cfg.RateLimit.Throttle.RPS < 0 {
		return fmt.Errorf("ratelimit.throttle.rps must not be negative, got: %v", cfg.RateLimit.Throttle.RPS)
	}
	if cfg.RateLimit.Throttle.RPS > 0 && cfg.RateLimit.Throttle.Burst <= 0 {
		return fmt.Errorf("ratelimit.throttle.burst must be greater than 0 when throttling, got: %d", cfg.RateLimit.Throttle.Burst)
	}

	overrides, err := cfg.RateLimit.PolicyOverrides()
	if err != nil {
		return err
	}
	if _, err := ratelimit.NewPolicies(overrides); err != nil {
		return fmt.Errorf("ratelimit.policies: %w", err)
	}

	return nil
}

// validateSharedRedisPrefixes keeps cache invalidation away from rate limit
// counters when both live in the same Redis database
func validateSharedRedisPrefixes(cfg *Config) error {
	shared := cfg.Cache.Backend == CacheBackendRedis ||
		(cfg.Cache.Backend == CacheBackendAuto && cfg.Redis.URL != "")
	if !shared {
		return nil
	}

	cachePrefix := cfg.Cache.Prefix
	if cachePrefix == "" {
		return fmt.Errorf("cache.prefix must not be empty when the cache shares Redis with rate limiting")
	}
	if cfg.RateLimit.Prefix == "" {
		return fmt.Errorf("ratelimit.prefix must not be empty when the cache shares Redis with rate limiting")
	}

	limitPrefix := cfg.RateLimit.Prefix + ":"
	if strings.HasPrefix(limitPrefix, cachePrefix) || strings.HasPrefix(cachePrefix, limitPrefix) {
		return fmt.Errorf("cache.prefix %q overlaps ratelimit.prefix %q", cachePrefix, cfg.RateLimit.Prefix)
	}
	return nil
}

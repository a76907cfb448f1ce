package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/learnhub/learnhub/internal/cli/config"
	"github.com/learnhub/learnhub/internal/web/auth"
	"github.com/learnhub/learnhub/internal/web/cache"
	"github.com/learnhub/learnhub/internal/web/ratelimit"
)

const testSecret = "test-secret"

// testConfig mirrors the loader defaults without touching the filesystem
func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Redis:    config.RedisConfig{Timeout: time.Second},
		Database: config.DatabaseConfig{
			MaxOpenConns: 5,
			MaxIdleConns: 1,
		},
		Cache: config.CacheConfig{
			Backend:       config.CacheBackendAuto,
			Table:         "cache_entries",
			Prefix:        "learnhub:",
			DefaultTTL:    5 * time.Minute,
			SweepInterval: 0,
		},
		RateLimit: config.RateLimitConfig{
			Prefix:   "ratelimit",
			Fallback: "open",
			Throttle: config.ThrottleConfig{Burst: 100},
		},
		Auth: config.AuthConfig{JWTSecret: testSecret},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewAuthService(testSecret, time.Hour).GenerateToken(auth.Identity{
		UserID: "admin-1",
		Roles:  []string{"admin"},
	})
	require.NoError(t, err)
	return token
}

func do(t *testing.T, handler http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.5:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNew_NothingConfigured(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := testConfig()
	cfg.Auth.JWTSecret = ""

	a, err := New(context.Background(), cfg, zap.New(core))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Throttle)
	assert.Nil(t, a.Auth)
	assert.False(t, a.Guard.RemoteConfigured())
	assert.False(t, a.Cache.Configured())
	assert.Equal(t, "none", a.Cache.Backend())

	assert.Equal(t, 1, logs.FilterMessage("redis.url not set, rate limiting fails open").Len())
	assert.Equal(t, 1, logs.FilterMessage("no cache backend configured, cache operations are no-ops").Len())
}

func TestNew_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"

	a := newTestApp(t, cfg)

	require.NotNil(t, a.Redis)
	assert.True(t, a.Guard.RemoteConfigured())
	assert.Equal(t, "redis", a.Cache.Backend())

	d := a.Guard.Apply(context.Background(), ratelimit.CategoryAuthSignIn, "student@example.com")
	assert.Equal(t, ratelimit.OutcomeAllowed, d.Outcome)
	assert.Equal(t, ratelimit.SourceRemote, d.Source)
	assert.Equal(t, 4, d.Result.Remaining)
}

func TestNew_RedisToken(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Redis.Token = "s3cret"

	a := newTestApp(t, cfg)
	require.NoError(t, a.Redis.Ping(context.Background()).Err())
}

func TestNew_InvalidRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.URL = "http://not-redis"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis.url")
}

func TestNew_DocumentBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = "sqlite://" + filepath.Join(t.TempDir(), "cache.db")

	a := newTestApp(t, cfg)

	require.NotNil(t, a.DB)
	assert.True(t, a.DBTarget.SQLite)
	assert.Equal(t, "document", a.Cache.Backend())

	ctx := context.Background()
	cache.SetCached(ctx, a.Cache, "course:1:outline", map[string]int{"x": 1}, time.Minute)
	got, ok := cache.GetCached[map[string]int](ctx, a.Cache, "course:1:outline")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"x": 1}, got)
}

func TestNew_BackendRequiresDependency(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = config.CacheBackendRedis
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Cache.Backend = config.CacheBackendDocument
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNew_MemoryBackendAndThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = config.CacheBackendMemory
	cfg.RateLimit.Throttle.RPS = 10
	cfg.RateLimit.Whitelist = []string{"ip:10.0.0.1"}

	a := newTestApp(t, cfg)

	assert.Equal(t, "memory", a.Cache.Backend())
	assert.NotNil(t, a.Throttle)
	assert.Equal(t, []string{"ip:10.0.0.1"}, a.Whitelist.List())
	assert.Same(t, a.Whitelist, a.Guard.Whitelist())
}

func TestNew_PolicyOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Policies = map[string]config.PolicyConfig{
		"ai-generation": {Max: 2},
	}

	a := newTestApp(t, cfg)
	policy, ok := a.Guard.Policies().Lookup(ratelimit.CategoryAIGeneration)
	require.True(t, ok)
	assert.Equal(t, 2, policy.Max)
	assert.Equal(t, time.Minute, policy.Window)
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestRouter_Health(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := do(t, a.Router(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "none", report.RateLimit.Backend)
	assert.False(t, report.Cache.Configured)
}

func TestRouter_HealthAllUp(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()

	a := newTestApp(t, cfg)

	var report healthReport
	rec := do(t, a.Router(), http.MethodGet, "/healthz", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.True(t, report.RateLimit.Reachable)
	assert.Equal(t, "redis", report.Cache.Backend)
	assert.True(t, report.Cache.Reachable)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_AdminRequiresRole(t *testing.T) {
	a := newTestApp(t, testConfig())
	router := a.Router()

	rec := do(t, router, http.MethodGet, "/api/admin/ratelimit/policies", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	studentToken, err := a.Auth.GenerateToken(auth.Identity{UserID: "s-1", Roles: []string{"student"}})
	require.NoError(t, err)
	rec = do(t, router, http.MethodGet, "/api/admin/ratelimit/policies", studentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_Policies(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := do(t, a.Router(), http.MethodGet, "/api/admin/ratelimit/policies", adminToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	// No remote store: requests pass and are flagged
	assert.Equal(t, "true", rec.Header().Get("X-RateLimit-Degraded"))

	var body struct {
		Policies []policyView `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Policies, len(ratelimit.Categories()))
	assert.Equal(t, policyView{Category: "auth-signin", WindowSeconds: 900, Max: 5}, body.Policies[0])
}

func TestRouter_Whitelist(t *testing.T) {
	a := newTestApp(t, testConfig())
	router := a.Router()
	token := adminToken(t)

	rec := do(t, router, http.MethodPut, "/api/admin/ratelimit/whitelist/ip:10.0.0.9", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, a.Whitelist.Contains("ip:10.0.0.9"))

	rec = do(t, router, http.MethodGet, "/api/admin/ratelimit/whitelist", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":["ip:10.0.0.9"]}`, rec.Body.String())

	rec = do(t, router, http.MethodDelete, "/api/admin/ratelimit/whitelist/ip:10.0.0.9", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/admin/ratelimit/whitelist/ip:10.0.0.9", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Cache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Backend = config.CacheBackendMemory
	a := newTestApp(t, cfg)
	router := a.Router()
	token := adminToken(t)
	ctx := context.Background()

	cache.SetCached(ctx, a.Cache, "user:1:profile", map[string]string{"name": "Ada"}, time.Minute)
	cache.SetCached(ctx, a.Cache, "user:2:profile", map[string]string{"name": "Alan"}, time.Minute)
	cache.SetCached(ctx, a.Cache, "course:1", 1, time.Minute)

	rec := do(t, router, http.MethodGet, "/api/admin/cache/user:1:profile", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"user:1:profile","value":{"name":"Ada"}}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/admin/cache/missing", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/admin/cache", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/admin/cache?pattern=user:*", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pattern":"user:*","removed":2}`, rec.Body.String())

	_, ok := a.Cache.Get(ctx, "course:1")
	assert.True(t, ok)
}

func TestRouter_APIGeneralLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.RateLimit.Policies = map[string]config.PolicyConfig{
		"api-general": {Max: 2},
	}

	a := newTestApp(t, cfg)
	router := a.Router()
	token := adminToken(t)

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodGet, "/api/admin/ratelimit/policies", token)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, router, http.MethodGet, "/api/admin/ratelimit/policies", token)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.True(t, strings.Contains(rec.Body.String(), "too_many_requests"))

	// Keyed by user, so the limit shows in Redis under the user id
	assert.True(t, mr.Exists("ratelimit:api-general:user:admin-1"))
	for _, key := range mr.Keys() {
		assert.False(t, strings.HasPrefix(key, "ratelimit:ratelimit:"), key)
	}
}

func TestRouter_Profiling(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Profiling = true
	a := newTestApp(t, cfg)

	rec := do(t, a.Router(), http.MethodGet, "/api/admin/runtime", adminToken(t))
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg = testConfig()
	b := newTestApp(t, cfg)
	rec = do(t, b.Router(), http.MethodGet, "/api/admin/runtime", adminToken(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddlewares_PanicReachesAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a, err := New(context.Background(), testConfig(), zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	r := chi.NewRouter()
	r.Use(a.middlewares()...)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("lesson renderer exploded")
	})

	rec := do(t, r, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())

	access := logs.FilterMessage("request completed").All()
	require.Len(t, access, 1)
	assert.Equal(t, zapcore.ErrorLevel, access[0].Level)
	fields := access[0].ContextMap()
	assert.EqualValues(t, http.StatusInternalServerError, fields["status"])
	assert.Equal(t, "/boom", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learnhub/learnhub/internal/web/cache"
	"github.com/learnhub/learnhub/internal/web/ratelimit"
	"github.com/learnhub/learnhub/internal/web/response"
)

// policyView is the JSON form of one category policy
type policyView struct {
	Category      string  `json:"category"`
	WindowSeconds float64 `json:"window_seconds"`
	Max           int     `json:"max"`
}

func policyViews(p ratelimit.Policies) []policyView {
	all := p.All()
	out := make([]policyView, 0, len(all))
	for _, cp := range all {
		out = append(out, policyView{
			Category:      cp.Category.String(),
			WindowSeconds: cp.Policy.Window.Seconds(),
			Max:           cp.Policy.Max,
		})
	}
	return out
}

// guardFrom returns the request's Guard or renders a 500
func guardFrom(w http.ResponseWriter, r *http.Request) (*ratelimit.Guard, bool) {
	g, ok := ratelimit.FromContext(r.Context())
	if !ok || g == nil {
		response.RenderInternalError(w)
		return nil, false
	}
	return g, true
}

func handlePolicies(w http.ResponseWriter, r *http.Request) {
	g, ok := guardFrom(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"policies": policyViews(g.Policies()),
	})
}

func handleWhitelistList(w http.ResponseWriter, r *http.Request) {
	g, ok := guardFrom(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"keys": g.Whitelist().List(),
	})
}

func handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	g, ok := guardFrom(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if key == "" {
		response.RenderBadRequest(w, "key is required")
		return
	}
	g.Whitelist().Add(key)
	response.NoContent(w)
}

func handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	g, ok := guardFrom(w, r)
	if !ok {
		return
	}
	if !g.Whitelist().Remove(chi.URLParam(r, "key")) {
		response.RenderNotFound(w, "Key is not whitelisted")
		return
	}
	response.NoContent(w)
}

func handleCacheGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok := cache.FromContext(r.Context()).Get(r.Context(), key)
	if !ok {
		response.RenderNotFound(w, "Key is not cached")
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		response.RenderBadRequest(w, "pattern query parameter is required")
		return
	}

	removed := cache.InvalidateCache(r.Context(), cache.FromContext(r.Context()), pattern)
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"pattern": pattern,
		"removed": removed,
	})
}

// healthReport describes which backends are configured and reachable.
// Degraded modes still answer 200: the service is available.
type healthReport struct {
	Status    string       `json:"status"`
	RateLimit healthDetail `json:"ratelimit"`
	Cache     healthDetail `json:"cache"`
}

type healthDetail struct {
	Backend    string `json:"backend"`
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()

	redisUp := a.Redis != nil && a.Redis.Ping(ctx).Err() == nil
	dbUp := a.DB != nil && a.DB.PingContext(ctx) == nil

	report := healthReport{
		Status: "ok",
		RateLimit: healthDetail{
			Backend:    "none",
			Configured: a.Guard.RemoteConfigured(),
			Reachable:  redisUp,
		},
		Cache: healthDetail{
			Backend:    a.Cache.Backend(),
			Configured: a.Cache.Configured(),
		},
	}
	if report.RateLimit.Configured {
		report.RateLimit.Backend = "redis"
	}

	switch a.Cache.Backend() {
	case "redis":
		report.Cache.Reachable = redisUp
	case "document":
		report.Cache.Reachable = dbUp
	case "memory":
		report.Cache.Reachable = true
	}

	if !report.RateLimit.Reachable || !report.Cache.Reachable {
		report.Status = "degraded"
	}
	response.JSON(w, http.StatusOK, report)
}

package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/learnhub/learnhub/internal/web/cache"
	webcontext "github.com/learnhub/learnhub/internal/web/context"
	"github.com/learnhub/learnhub/internal/web/middleware"
	"github.com/learnhub/learnhub/internal/web/profiling"
	"github.com/learnhub/learnhub/internal/web/ratelimit"
)

// Router builds the HTTP handler: health check, the /api tree limited by
// api-general, and the admin API additionally limited by admin
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(a.middlewares()...)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(a.Guard, ratelimit.CategoryAPIGeneral))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(webcontext.RoleAdmin))
			r.Use(middleware.RateLimit(a.Guard, ratelimit.CategoryAdmin))

			r.Get("/ratelimit/policies", handlePolicies)
			r.Get("/ratelimit/whitelist", handleWhitelistList)
			r.Put("/ratelimit/whitelist/{key}", handleWhitelistAdd)
			r.Delete("/ratelimit/whitelist/{key}", handleWhitelistRemove)

			r.Get("/cache/{key}", handleCacheGet)
			r.Delete("/cache", handleCacheInvalidate)

			if a.Config.Server.Profiling {
				profiling.RegisterRoutes(r, profiling.DefaultPath)
				r.Get("/runtime", profiling.StatsHandler)
			}
		})
	})

	return r
}

// middlewares is the global chain. Recovery sits inside Logging so a
// recovered panic is still logged with its 500 status.
func (a *App) middlewares() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID(),
		middleware.Logging(a.Logger.Named("http"), "/healthz"),
		middleware.Recovery(a.Logger),
		middleware.Throttle(a.Throttle),
		middleware.Identify(a.tokenValidator(), a.Logger),
		a.inject,
	}
}

// inject makes the Guard and cache Store available to handlers
func (a *App) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ratelimit.NewContext(r.Context(), a.Guard)
		ctx = cache.NewContext(ctx, a.Cache)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenValidator avoids handing Identify a typed nil
func (a *App) tokenValidator() middleware.TokenValidator {
	if a.Auth == nil {
		return nil
	}
	return a.Auth
}

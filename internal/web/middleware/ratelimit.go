package middleware

import (
	"net/http"
	"strconv"

	"github.com/learnhub/learnhub/internal/web/ratelimit"
	"github.com/learnhub/learnhub/internal/web/response"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitDegraded  = "X-RateLimit-Degraded"
)

// RateLimitKeyFunc extracts a rate limit key from a request
type RateLimitKeyFunc func(*http.Request) string

// RateLimit creates a middleware applying category's policy to every request,
// keyed by signed-in user or client IP
func RateLimit(guard *ratelimit.Guard, category ratelimit.Category) Middleware {
	return RateLimitWithKey(guard, category, func(r *http.Request) string {
		return ratelimit.GenerateKey(r, "")
	})
}

// RateLimitWithKey is RateLimit with a custom key function
func RateLimitWithKey(guard *ratelimit.Guard, category ratelimit.Category, keyFunc RateLimitKeyFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := guard.Apply(r.Context(), category, keyFunc(r))
			res := decision.Result

			if decision.Degraded() {
				w.Header().Set(HeaderRateLimitDegraded, "true")
			}
			if res.Limit > 0 {
				w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
				w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
			}
			if !res.ResetAt.IsZero() {
				w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
			}

			if !decision.Allowed() {
				response.RenderTooManyRequests(w, res.RetryAfter, map[string]interface{}{
					"category":    category.String(),
					"retry_after": res.RetryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"net/http"

	"github.com/learnhub/learnhub/internal/web/ratelimit"
	"github.com/learnhub/learnhub/internal/web/response"
)

// throttleKey is the single bucket shared by every request
const throttleKey = "global"

// Throttle caps the process-wide request rate with a token bucket. Excess
// requests get 503 with a Retry-After hint. A nil bucket disables it.
func Throttle(bucket *ratelimit.TokenBucket) Middleware {
	return func(next http.Handler) http.Handler {
		if bucket == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if res := bucket.Take(throttleKey); !res.Allowed {
				retry := res.RetryAfter
				if retry < 1 {
					retry = 1
				}
				response.RenderServiceUnavailable(w, retry, "Server is busy, please retry")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

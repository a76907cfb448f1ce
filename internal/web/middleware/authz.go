package middleware

import (
	"net/http"

	webcontext "github.com/learnhub/learnhub/internal/web/context"
	"github.com/learnhub/learnhub/internal/web/response"
)

// RequireRole creates a middleware that rejects anonymous requests with 401
// and requests lacking role with 403
func RequireRole(role string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if webcontext.GetCurrentUser(r.Context()) == "" {
				response.RenderUnauthorized(w, "")
				return
			}
			if !webcontext.HasRole(r.Context(), role) {
				response.RenderForbidden(w, "Role "+role+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

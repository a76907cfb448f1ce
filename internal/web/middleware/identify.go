package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/learnhub/learnhub/internal/web/auth"
	webcontext "github.com/learnhub/learnhub/internal/web/context"
)

// TokenValidator verifies bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (auth.Identity, error)
}

// Identify creates a middleware that records the signed-in user and roles
// from a bearer token. Requests without a valid token continue anonymously;
// use RequireRole to reject them.
func Identify(validator TokenValidator, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || validator == nil {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := validator.ValidateToken(token)
			if err != nil {
				logger.Debug("ignoring invalid bearer token",
					zap.String("request_id", webcontext.GetRequestID(r.Context())),
					zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			ctx := webcontext.SetCurrentUser(r.Context(), identity.UserID)
			if len(identity.Roles) > 0 {
				ctx = webcontext.SetUserRoles(ctx, identity.Roles)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

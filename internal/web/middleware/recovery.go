package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	webcontext "github.com/learnhub/learnhub/internal/web/context"
	"github.com/learnhub/learnhub/internal/web/response"
)

// Recovery creates a middleware that turns panics into a 500 JSON response
// and logs them with a stack trace. http.ErrAbortHandler is re-raised.
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				logger.Error("panic recovered",
					zap.String("request_id", webcontext.GetRequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err),
					zap.Stack("stack"))

				response.RenderInternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

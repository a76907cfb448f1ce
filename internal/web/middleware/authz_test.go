package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	webcontext "github.com/learnhub/learnhub/internal/web/context"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		roles  []string
		status int
	}{
		{"anonymous", "", nil, http.StatusUnauthorized},
		{"no roles", "u-1", nil, http.StatusForbidden},
		{"other role", "u-1", []string{"instructor"}, http.StatusForbidden},
		{"admin", "u-1", []string{"student", webcontext.RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(webcontext.RoleAdmin)(okHandler())

			ctx := context.Background()
			if tt.user != "" {
				ctx = webcontext.SetCurrentUser(ctx, tt.user)
			}
			if tt.roles != nil {
				ctx = webcontext.SetUserRoles(ctx, tt.roles)
			}
			req := httptest.NewRequest(http.MethodGet, "/api/admin", nil).WithContext(ctx)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoutes(t *testing.T) {
	router := chi.NewRouter()
	RegisterRoutes(router, "")

	for _, path := range []string{"/debug/pprof/", "/debug/pprof/goroutine", "/debug/pprof/heap"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRegisterRoutes_CustomPath(t *testing.T) {
	router := chi.NewRouter()
	RegisterRoutes(router, "/prof")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prof/cmdline", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/runtime", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Greater(t, stats.Goroutines, 0)
	assert.Greater(t, stats.NumCPU, 0)
	assert.Greater(t, stats.Memory.Sys, uint64(0))
}

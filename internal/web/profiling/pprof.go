// Package profiling mounts pprof and runtime statistics on the admin API.
//
// The endpoints expose goroutine stacks and heap contents, so they are only
// mounted behind the admin role check and only when server.profiling is on.
package profiling

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"

	"github.com/learnhub/learnhub/internal/web/response"
)

// DefaultPath is the mount point below the admin prefix
const DefaultPath = "/debug/pprof"

// RegisterRoutes registers pprof profiling routes below path
func RegisterRoutes(router chi.Router, path string) {
	if path == "" {
		path = DefaultPath
	}

	router.Route(path, func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)

		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
}

// Stats is a point-in-time runtime summary
type Stats struct {
	Goroutines int         `json:"goroutines"`
	Memory     MemoryStats `json:"memory"`
	NumCPU     int         `json:"num_cpu"`
}

// MemoryStats is the subset of runtime.MemStats worth watching
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// RuntimeStats returns current runtime statistics
func RuntimeStats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Stats{
		Goroutines: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		NumCPU: runtime.NumCPU(),
	}
}

// StatsHandler serves RuntimeStats as JSON
func StatsHandler(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, RuntimeStats())
}

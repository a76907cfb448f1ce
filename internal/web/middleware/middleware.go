// Package middleware provides the HTTP middleware stack of the learnhub
// server: request ids, access logging, panic recovery, bearer
// identification, role checks, per-category rate limiting and the
// process-wide throttle.
package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler. It has the same
// shape as chi middleware, so either can be passed to Router.Use.
type Middleware func(http.Handler) http.Handler

// responseWriter wraps http.ResponseWriter to capture status code and bytes written
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(statusCode)
	}
}

// Write captures bytes written
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

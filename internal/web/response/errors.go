// Package response writes JSON bodies for handlers and middleware.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// JSON renders v with status
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NoContent renders an empty 204
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RenderError renders a standard error response; the error field is a
// stable code derived from status
func RenderError(w http.ResponseWriter, status int, message string) {
	RenderErrorWithDetails(w, status, message, nil)
}

// RenderErrorWithDetails renders an error with additional details
func RenderErrorWithDetails(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	JSON(w, status, &ErrorResponse{
		Error:   errorCodeFromStatus(status),
		Message: message,
		Details: details,
	})
}

// RenderBadRequest renders a 400 Bad Request error
func RenderBadRequest(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusBadRequest, message)
}

// RenderUnauthorized renders a 401 Unauthorized error
func RenderUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	RenderError(w, http.StatusUnauthorized, message)
}

// RenderForbidden renders a 403 Forbidden error
func RenderForbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Access denied"
	}
	RenderError(w, http.StatusForbidden, message)
}

// RenderNotFound renders a 404 Not Found error
func RenderNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RenderError(w, http.StatusNotFound, message)
}

// RenderTooManyRequests renders a 429 with a Retry-After hint in seconds
func RenderTooManyRequests(w http.ResponseWriter, retryAfter int, details map[string]interface{}) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	RenderErrorWithDetails(w, http.StatusTooManyRequests, "Too many requests, please try again later", details)
}

// RenderInternalError renders a 500 without exposing the cause
func RenderInternalError(w http.ResponseWriter) {
	RenderError(w, http.StatusInternalServerError, "An unexpected error occurred")
}

// RenderServiceUnavailable renders a 503 with a Retry-After hint in seconds
func RenderServiceUnavailable(w http.ResponseWriter, retryAfter int, message string) {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	RenderError(w, http.StatusServiceUnavailable, message)
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusInternalServerError:
		return "internal_server_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "error"
	}
}

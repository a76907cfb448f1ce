package ratelimit

import (
	"net"
	"net/http"
	"strings"

	webcontext "github.com/learnhub/learnhub/internal/web/context"
)

// MaxKeyLength bounds every key handed to a limiter. Longer keys are
// truncated rather than rejected.
const MaxKeyLength = 200

// anonymousIdentifier is used when a request carries no usable identity
const anonymousIdentifier = "anonymous"

// SanitizeKey replaces characters outside [A-Za-z0-9:._@-] with '_' and
// truncates the result to MaxKeyLength
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if b.Len() >= MaxKeyLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ':' || r == '.' || r == '_' || r == '@' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// GenerateKey builds the rate limit key for a request: prefix, then the
// signed-in user id or the client IP
func GenerateKey(r *http.Request, prefix string) string {
	identifier := anonymousIdentifier
	if userID := webcontext.GetCurrentUser(r.Context()); userID != "" {
		identifier = "user:" + userID
	} else if ip := ClientIP(r); ip != "" {
		identifier = "ip:" + ip
	}

	if prefix == "" {
		return SanitizeKey(identifier)
	}
	return SanitizeKey(prefix + ":" + identifier)
}

// ClientIP extracts the client address from the request.
// Checks X-Forwarded-For first, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// logKey shortens key for log output so identifiers are never logged whole
func logKey(key string) string {
	visible := len(key) / 2
	if visible > 12 {
		visible = 12
	}
	return key[:visible] + "..."
}

package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// ExtractClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (for proxied requests), then X-Real-IP, finally RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the list (comma-separated)
		if before, _, ok := strings.Cut(xff, ","); ok {
			return before
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr, stripping port
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

// HostAllowed reports whether the Host header value may reach the dev server.
// localhost names and IP literals are always allowed. An allowed entry with a
// leading dot matches the domain itself and every subdomain.
func HostAllowed(allowed []string, hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if net.ParseIP(host) != nil {
		return true
	}

	for _, entry := range allowed {
		entry = strings.ToLower(entry)
		if entry == host {
			return true
		}
		if domain, ok := strings.CutPrefix(entry, "."); ok {
			if host == domain || strings.HasSuffix(host, entry) {
				return true
			}
		}
	}
	return false
}

// HostCheckMiddleware rejects requests whose Host header is not allowed,
// guarding the dev server against DNS rebinding.
func HostCheckMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HostAllowed(allowed, r.Host) {
				zerolog.Ctx(r.Context()).Warn().Str("host", r.Host).Msg("Blocked request from disallowed host")
				http.Error(w, "Blocked request. This host is not allowed.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package httpserver

import (
	"net/http"
	"net/url"
	"strings"
)

// WithOriginPolicy enforces the configured ALLOWED_ORIGINS allowlist on
// browser-facing endpoints (the signaling WebSocket and ICE bootstrap).
//
// Requests with no Origin header pass: they come from non-browser clients
// (the headless mesh client, curl, monitoring), which the browser
// same-origin machinery does not protect anyway. An empty allowlist rejects
// every cross-origin browser request.
func (s *Server) WithOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next(w, r)
			return
		}
		if !originAllowed(origin, s.cfg.AllowedOrigins) {
			s.log.Warn("rejected disallowed origin", "origin", origin, "path", r.URL.Path)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// OriginAllowed reports whether a browser Origin header value matches the
// allowlist. Comparison is on normalized scheme://host[:port]; default ports
// are stripped so "https://a.example:443" matches "https://a.example".
func OriginAllowed(origin string, allowlist []string) bool {
	return originAllowed(origin, allowlist)
}

func originAllowed(origin string, allowlist []string) bool {
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	for _, allowed := range allowlist {
		allowedNorm, ok := normalizeOrigin(allowed)
		if !ok {
			continue
		}
		if norm == allowedNorm {
			return true
		}
	}
	return false
}

func normalizeOrigin(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + host + ":" + port, true
	}
	return scheme + "://" + host, true
}

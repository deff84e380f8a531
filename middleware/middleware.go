// Package middleware provides caller-composable HTTP wrappers for
// dispatchers exposed to browsers. The dispatch engine itself never checks
// credentials or origins; anything of that sort wraps the dispatcher from
// the outside, and these wrappers cover the common cases for a contract
// service serving cross-origin event and message clients.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORS configures cross-origin access to a dispatcher. Zero-value fields
// fall back to defaults suitable for a JSON API: all declared methods, the
// Accept/Content-Type/Authorization headers, one-hour preflight cache.
type CORS struct {
	// AllowedOrigins lists origins permitted to call the service. "*"
	// allows any origin, but never together with credentials.
	AllowedOrigins []string

	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int
}

var (
	defaultMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	defaultHeaders = []string{"Accept", "Content-Type", "Authorization"}
)

// Wrap returns a handler that sets CORS headers for cross-origin requests
// and answers preflight requests with 204 without reaching next.
func (c *CORS) Wrap(next http.Handler) http.Handler {
	methods := c.AllowedMethods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	headers := c.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultHeaders
	}
	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if allowed := c.allowOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
		}
		if c.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(c.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(c.ExposedHeaders, ", "))
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// empty when the origin is not permitted. The wildcard is never combined
// with credentials.
func (c *CORS) allowOrigin(origin string) string {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" {
			if c.AllowCredentials {
				continue
			}
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

// SecurityHeaders wraps next with response header hygiene for an API
// surface: nosniff, frame denial, no referrer leakage, and a deny-all
// content security policy. Browser-rendered content wants different values;
// compose your own wrapper in that case.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

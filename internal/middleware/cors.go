// Package middleware provides HTTP middleware for the writer API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/contextual-writer/internal/identity"
)

var (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = strings.Join([]string{"Content-Type", "X-Writer-Credential", identity.SessionHeaderName}, ", ")
)

// preflightMaxAge is how long, in seconds, browsers may cache a preflight.
const preflightMaxAge = "600"

// CORS lets the listed origins call the writer API, for example a frontend
// dev server on another port. "*" admits any origin but never with
// credentials, since the anonymous identity cookie would otherwise be sent
// from any site.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	named := make(map[string]bool, len(allowedOrigins))
	anyOrigin := false
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		named[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && (named[origin] || anyOrigin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				// Rate-limited clients read Retry-After to back off.
				h.Set("Access-Control-Expose-Headers", "Retry-After")
				if named[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Max-Age", preflightMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/lailatov/runner/internal/config"
)

// publicPaths are reachable without a bearer token even when auth is on.
func isPublicPath(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/schema/")
}

// requireAuth enforces the shared bearer secret. The secret is read per
// request so it can be rotated (and overridden in tests) without a restart;
// an empty secret runs the service in open mode. Comparison is
// constant-time.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := config.APIKey()
		if secret == "" || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		supplied, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

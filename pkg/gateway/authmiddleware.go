package gateway

import (
	"net/http"
	"strings"
)

// AuthMiddleware gates API access on the presence of a Bearer token or
// X-API-Key header. It does not validate tokens itself; validation
// belongs to the deployment's fronting proxy or a future authenticator.
func AuthMiddleware(requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasBearer := strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
			hasAPIKey := r.Header.Get("X-API-Key") != ""

			if requireAuth && !hasBearer && !hasAPIKey {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

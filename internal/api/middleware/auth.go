package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// AuthConfig holds the admin-guard configuration. Site-Watch has a
// single operator role, so authentication is one shared bearer token
// rather than the per-user API-key/JWT/RBAC model a multi-tenant
// publishing API would need.
type AuthConfig struct {
	// AdminToken is the shared bearer token for admin-only endpoints.
	// An empty token makes the guard reject every request,
	// since an unset admin token almost certainly means misconfiguration
	// rather than "open to everyone".
	AdminToken string
}

// AdminAuthMiddleware validates the "Authorization: Bearer <token>"
// header against config.AdminToken. On failure it returns 401.
func AdminAuthMiddleware(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.AdminToken == "" {
				writeUnauthorized(w, r, "admin endpoints are not configured")
				return
			}

			authHeader := r.Header.Get(AuthorizationHeader)
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthorized(w, r, "missing or malformed Authorization header")
				return
			}
			if parts[1] != config.AdminToken {
				writeUnauthorized(w, r, "invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized writes 401 Unauthorized response
func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	requestID := GetRequestID(r.Context())
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":       "AUTHENTICATION_ERROR",
			"message":    message,
			"request_id": requestID,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(errorResponse)
}

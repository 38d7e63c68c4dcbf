package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	TenantKey contextKey = "tenant"
	APIKeyKey contextKey = "api_key"
	UserKey   contextKey = "user"
	AdminKey  contextKey = "admin"
)

// UserHeader carries the professional's identifier.
const UserHeader = "X-User-ID"

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	// Support both "Bearer <key>" and "<key>" formats
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// APIKeyAuth validates a tenant API key from the Authorization header.
// validKeys maps tenant ID to key.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := bearer(r)
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing Authorization header")
				return
			}

			// constant-time comparison
			var tenant string
			for t, key := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					tenant = t
					break
				}
			}
			if tenant == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), TenantKey, tenant)
			ctx = context.WithValue(ctx, APIKeyKey, apiKey)
			if user := SanitizeString(r.Header.Get(UserHeader)); user != "" {
				ctx = context.WithValue(ctx, UserKey, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth guards the deployment-wide settings endpoints.
func AdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearer(r)
			if adminKey == "" || key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "admin API key required")
				return
			}
			ctx := context.WithValue(r.Context(), AdminKey, true)
			user := SanitizeString(r.Header.Get(UserHeader))
			if user == "" {
				user = "admin"
			}
			ctx = context.WithValue(ctx, UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantFromContext extracts tenant from context
func GetTenantFromContext(ctx context.Context) string {
	if tenant, ok := ctx.Value(TenantKey).(string); ok {
		return tenant
	}
	return ""
}

// GetUserFromContext returns the X-User-ID of the caller, if any.
func GetUserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(UserKey).(string); ok {
		return u
	}
	return ""
}

// RequireValidTenant ensures the {tenant} URL parameter is well formed
// and equals the tenant the API key belongs to.
func RequireValidTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlTenant := chi.URLParam(r, "tenant")
		if err := ValidateTenantID(urlTenant); err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		if authTenant := GetTenantFromContext(r.Context()); authTenant != urlTenant {
			writeError(w, http.StatusForbidden, "forbidden", "API key does not grant access to this tenant")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/auth"
	"github.com/hugh/go-shepherd/internal/authz"
)

type contextKey string

const (
	PrincipalIDKey contextKey = "principal_id"
	TenantIDKey    contextKey = "tenant_id"
	RoleKey        contextKey = "role"
)

// Auth accepts a bearer token or an X-Auth-Token header. The claims only
// identify the caller; every operation reloads the principal before
// authorizing.
func Auth(tokens auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
			if token == "" {
				token = r.Header.Get("X-Auth-Token")
			}

			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, PrincipalIDKey, claims.PrincipalID)
			ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="shepherd"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}

func GetPrincipalID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(PrincipalIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func GetTenantID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(TenantIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetRole is the role recorded in the token when it was issued. It may be
// stale and is only used for logging.
func GetRole(ctx context.Context) authz.Role {
	if role, ok := ctx.Value(RoleKey).(authz.Role); ok {
		return role
	}
	return ""
}

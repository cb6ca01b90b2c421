package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type principalContextKey struct{}

// WithPrincipal returns a context carrying p. Used by the middleware and by
// tests in other packages.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// GetPrincipal retrieves the authenticated principal from the context, or
// nil when the request is unauthenticated.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// Middleware returns HTTP middleware that validates JWT access tokens.
func Middleware(tokenSvc *TokenService) func(http.Handler) http.Handler {
	return MiddlewareWithDevMode(tokenSvc, nil)
}

// MiddlewareWithDevMode returns auth middleware that also accepts
// "Bearer dev" as devPrincipal. A nil devPrincipal disables dev tokens.
func MiddlewareWithDevMode(tokenSvc *TokenService, devPrincipal *Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}

			if token == "dev" && devPrincipal != nil {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), devPrincipal)))
				return
			}

			principal, err := tokenSvc.ValidateToken(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireSuperAdmin rejects principals without the super-admin flag.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !p.IsSuperAdmin {
			writeAuthError(w, http.StatusForbidden, "super-admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("invalid authorization header format")
	}

	return parts[1], nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

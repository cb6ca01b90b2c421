package rbac

import (
	"encoding/json"
	"net/http"

	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/auth"
)

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit audit.Logger
}

// WithAuditLogger attaches an audit logger to log RBAC denials.
func WithAuditLogger(logger audit.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// ResolvePrincipal replaces the authenticated principal with a copy
// carrying its resolved permission set.
func ResolvePrincipal(engine *Evaluator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.GetPrincipal(r.Context())
			if p == nil {
				next.ServeHTTP(w, r)
				return
			}

			resolved, err := engine.Resolve(r.Context(), p)
			if err != nil {
				writeRBACJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "resolving permissions failed",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), resolved)))
		})
	}
}

// RequirePermission returns middleware that checks if the authenticated
// principal holds the permission token.
func RequirePermission(engine *Evaluator, permission string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.GetPrincipal(r.Context())
			if principal == nil {
				writeRBACJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
				return
			}

			decision, err := engine.Authorize(r.Context(), principal, permission)
			if err != nil {
				writeRBACJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "authorization check failed",
				})
				return
			}

			if !decision.Allowed {
				if mc.audit != nil {
					mc.audit.Log(r.Context(), audit.Event{
						TenantID: audit.ParseID(principal.TenantID),
						UserID:   audit.ParseID(principal.UserID),
						Action:   audit.ActionAccessDenied,
						Metadata: map[string]any{
							audit.MetadataPermission: permission,
							audit.MetadataReason:     decision.Reason,
						},
						Source: "api",
					})
				}
				writeRBACJSON(w, http.StatusForbidden, map[string]string{
					"error":  "forbidden",
					"reason": decision.Reason,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRBACJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

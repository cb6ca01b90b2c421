package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

// SessionHeader carries the id of the impersonation session a super-admin
// is operating inside.
const SessionHeader = "X-Impersonation-Session"

// ErrPinNotFound is returned by a PinSource for unknown or ended sessions.
var ErrPinNotFound = fmt.Errorf("%w: impersonation session not found or ended", apperr.ErrForbidden)

// PinSource looks up open impersonation sessions.
type PinSource interface {
	ActivePin(ctx context.Context, sessionID string) (*Pin, error)
}

type scopeContextKey struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// FromContext returns the request scope stored by Middleware.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeContextKey{}).(Scope)
	return s, ok
}

// Middleware resolves the request scope from the authenticated principal
// and, when present, the impersonation session header. pins may be nil
// when impersonation is disabled.
func Middleware(pins PinSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.GetPrincipal(r.Context())
			if principal == nil {
				writeScopeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			var pin *Pin
			if sessionID := r.Header.Get(SessionHeader); sessionID != "" {
				if pins == nil {
					writeScopeError(w, http.StatusForbidden, "impersonation is disabled")
					return
				}
				var err error
				pin, err = pins.ActivePin(r.Context(), sessionID)
				if err != nil {
					writeScopeError(w, apperr.Status(err), scopeErrorMessage(err))
					return
				}
			}

			scope, err := Resolve(principal, pin)
			if err != nil {
				writeScopeError(w, apperr.Status(err), scopeErrorMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), scope)))
		})
	}
}

func scopeErrorMessage(err error) string {
	if apperr.IsClientError(err) {
		return err.Error()
	}
	return "resolving tenant scope failed"
}

func writeScopeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

// ErrUnknownRole is returned when a principal's role resolves to nothing.
var ErrUnknownRole = fmt.Errorf("%w: unknown role", apperr.ErrNotFound)

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// RoleResolver looks up the stored permission set of a role key within a
// tenant. It returns an error wrapping apperr.ErrNotFound for unknown keys.
type RoleResolver interface {
	RolePermissions(ctx context.Context, tenantID, roleKey string) ([]string, error)
}

// EvaluatorOption configures the Evaluator.
type EvaluatorOption func(*Evaluator)

// WithCache replaces the default per-process cache.
func WithCache(cache PermissionCache) EvaluatorOption {
	return func(e *Evaluator) {
		e.cache = cache
	}
}

// Evaluator resolves principals' permission sets from their role and
// answers permission checks against them.
type Evaluator struct {
	roles RoleResolver
	cache PermissionCache
}

func NewEvaluator(roles RoleResolver, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		roles: roles,
		cache: NewMemoryCache(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Permissions returns p's permission set, from cache when the cached entry
// matches p's role and tenant. Cache failures fall through to the resolver.
func (e *Evaluator) Permissions(ctx context.Context, p *auth.Principal) ([]string, error) {
	entry, ok, err := e.cache.Get(ctx, p.UserID)
	if err != nil {
		slog.Warn("permission cache read failed", "user_id", p.UserID, "error", err)
	}
	if ok && entry.Role == p.Role && entry.TenantID == p.TenantID {
		return entry.Permissions, nil
	}

	perms, err := e.roles.RolePermissions(ctx, p.TenantID, p.Role)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, p.Role)
		}
		return nil, fmt.Errorf("resolving role %s: %w", p.Role, err)
	}

	if err := e.cache.Set(ctx, p.UserID, CacheEntry{Role: p.Role, TenantID: p.TenantID, Permissions: perms}); err != nil {
		slog.Warn("permission cache write failed", "user_id", p.UserID, "error", err)
	}
	return perms, nil
}

// Resolve returns a copy of p carrying its resolved permission set. An
// unknown role resolves to an empty set so every check is denied.
func (e *Evaluator) Resolve(ctx context.Context, p *auth.Principal) (*auth.Principal, error) {
	perms, err := e.Permissions(ctx, p)
	if err != nil && !errors.Is(err, ErrUnknownRole) {
		return nil, err
	}
	return p.WithPermissions(perms), nil
}

// Authorize checks token against p. Principals that already carry a
// permission set are checked without a lookup.
func (e *Evaluator) Authorize(ctx context.Context, p *auth.Principal, token string) (*Decision, error) {
	if p == nil {
		return &Decision{Allowed: false, Reason: "no principal"}, nil
	}
	if err := ValidateToken(token); err != nil {
		return &Decision{Allowed: false, Reason: err.Error()}, nil
	}

	if p.Permissions == nil && p.Role != auth.RoleSuperAdmin {
		resolved, err := e.Resolve(ctx, p)
		if err != nil {
			return nil, err
		}
		if len(resolved.Permissions) == 0 {
			return &Decision{Allowed: false, Reason: fmt.Sprintf("role %s grants no permissions", p.Role)}, nil
		}
		p = resolved
	}

	if HasPermission(p, token) {
		return &Decision{Allowed: true}, nil
	}
	return &Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("no permission for %s", token),
	}, nil
}

// Invalidate drops the cached permission set of one user.
func (e *Evaluator) Invalidate(ctx context.Context, userID string) error {
	return e.cache.Invalidate(ctx, userID)
}

// InvalidateAll drops every cached permission set. Called after any role
// mutation since many users may share the role.
func (e *Evaluator) InvalidateAll(ctx context.Context) error {
	return e.cache.InvalidateAll(ctx)
}

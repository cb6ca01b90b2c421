// Package tenancy pins every data operation to the tenant the calling
// principal may see.
package tenancy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

var (
	ErrCrossTenant     = fmt.Errorf("%w: cross-tenant access denied", apperr.ErrForbidden)
	ErrNotImpersonator = fmt.Errorf("%w: impersonation session belongs to another principal", apperr.ErrForbidden)
	ErrTenantRequired  = fmt.Errorf("%w: tenant_id is required", apperr.ErrValidation)
	ErrNoPrincipal     = errors.New("no principal")
)

// Pin is an open impersonation session as seen by the guard.
type Pin struct {
	SessionID    string
	SuperAdminID string
	TenantID     string
}

// Scope is the tenant visibility of one request. Exactly one of TenantID
// (pinned) or Unrestricted is set.
type Scope struct {
	TenantID      string
	Unrestricted  bool
	Impersonating bool
	SessionID     string
	// Authorized limits an unrestricted scope to a tenant subset. Nil
	// means every tenant.
	Authorized []string
}

// Resolve derives the scope for p. A non-nil pin must come from an open
// impersonation session.
func Resolve(p *auth.Principal, pin *Pin) (Scope, error) {
	if p == nil {
		return Scope{}, ErrNoPrincipal
	}
	if err := p.Validate(); err != nil {
		return Scope{}, err
	}

	if !p.IsSuperAdmin {
		if pin != nil {
			return Scope{}, fmt.Errorf("%w: only super-admins can impersonate", apperr.ErrForbidden)
		}
		return Scope{TenantID: p.TenantID}, nil
	}

	if pin == nil {
		return Scope{Unrestricted: true, Authorized: slices.Clone(p.AuthorizedTenants)}, nil
	}
	if pin.SuperAdminID != p.UserID {
		return Scope{}, ErrNotImpersonator
	}
	if !p.CanAccessTenant(pin.TenantID) {
		return Scope{}, ErrCrossTenant
	}
	return Scope{
		TenantID:      pin.TenantID,
		Impersonating: true,
		SessionID:     pin.SessionID,
	}, nil
}

// Authorize fails with ErrCrossTenant when tenantID is outside the scope.
// A pinned super-admin is refused other tenants like any tenant user.
func (s Scope) Authorize(tenantID string) error {
	if s.Unrestricted {
		if s.Authorized != nil && !slices.Contains(s.Authorized, tenantID) {
			return ErrCrossTenant
		}
		return nil
	}
	if tenantID != s.TenantID {
		return ErrCrossTenant
	}
	return nil
}

// ResolveTenant returns the tenant a request carrying requested should run
// against. A pinned scope answers with its own tenant and rejects any other
// non-empty request; an unrestricted scope echoes requested, which is empty
// when the caller asked for every tenant.
func (s Scope) ResolveTenant(requested string) (string, error) {
	if !s.Unrestricted {
		if requested != "" && requested != s.TenantID {
			return "", ErrCrossTenant
		}
		return s.TenantID, nil
	}
	if requested == "" {
		return "", nil
	}
	if err := s.Authorize(requested); err != nil {
		return "", err
	}
	return requested, nil
}

// WriteTenant is ResolveTenant for writes, which always need one tenant.
func (s Scope) WriteTenant(requested string) (string, error) {
	tenantID, err := s.ResolveTenant(requested)
	if err != nil {
		return "", err
	}
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	return tenantID, nil
}

// Narrow returns the scope a query for requested should run under.
func (s Scope) Narrow(requested string) (Scope, error) {
	tenantID, err := s.ResolveTenant(requested)
	if err != nil {
		return Scope{}, err
	}
	if tenantID == "" || !s.Unrestricted {
		return s, nil
	}
	return Scope{TenantID: tenantID}, nil
}

// Filter returns a predicate restricting column to the scope, using argN
// as the first placeholder, and its arguments. It is empty for an
// unrestricted scope over every tenant.
func (s Scope) Filter(column string, argN int) (string, []any) {
	switch {
	case !s.Unrestricted:
		return fmt.Sprintf(" AND %s = $%d", column, argN), []any{s.TenantID}
	case s.Authorized != nil:
		return fmt.Sprintf(" AND %s = ANY($%d)", column, argN), []any{s.Authorized}
	default:
		return "", nil
	}
}

// IntersectTenants returns the tenants an aggregation may include: the
// requested tenants the scope admits, or every admitted tenant when none
// were requested. catalog lists all tenants and is only consulted for an
// unrestricted scope without an authorized subset.
func IntersectTenants(s Scope, requested, catalog []string) []string {
	var allowed []string
	switch {
	case !s.Unrestricted:
		allowed = []string{s.TenantID}
	case s.Authorized != nil:
		allowed = s.Authorized
	default:
		allowed = catalog
	}

	if len(requested) == 0 {
		return dedupe(allowed)
	}

	out := make([]string, 0, len(requested))
	for _, id := range requested {
		if slices.Contains(allowed, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

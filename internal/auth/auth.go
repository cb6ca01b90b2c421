// Package auth supplies the authenticated principal that every other
// component consumes.
package auth

import (
	"errors"
	"fmt"
	"slices"

	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenInvalid     = errors.New("token invalid")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrPrincipalInvalid = fmt.Errorf("%w: invalid principal", apperr.ErrValidation)
)

// RoleSuperAdmin is the role key carried by platform operators.
const RoleSuperAdmin = "super_admin"

// Principal is the authenticated identity making a request.
//
// TenantID is empty iff IsSuperAdmin is true. AuthorizedTenants restricts a
// super-admin to a subset of tenants for cross-tenant reads; nil means all,
// an empty non-nil slice means none.
// Permissions is filled after authentication by the permission evaluator and
// must not be mutated once the principal is in a request context.
type Principal struct {
	UserID            string              `json:"user_id"`
	TenantID          string              `json:"tenant_id,omitempty"`
	Role              string              `json:"role"`
	IsSuperAdmin      bool                `json:"is_super_admin"`
	Permissions       map[string]struct{} `json:"-"`
	AuthorizedTenants []string            `json:"authorized_tenants,omitempty"`
}

// Validate checks the tenant/super-admin invariant. The super_admin role and
// the IsSuperAdmin flag must agree.
func (p *Principal) Validate() error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil", ErrPrincipalInvalid)
	case p.UserID == "":
		return fmt.Errorf("%w: user id required", ErrPrincipalInvalid)
	case p.Role == "":
		return fmt.Errorf("%w: role required", ErrPrincipalInvalid)
	case (p.Role == RoleSuperAdmin) != p.IsSuperAdmin:
		return fmt.Errorf("%w: role %q disagrees with super-admin flag", ErrPrincipalInvalid, p.Role)
	case !p.IsSuperAdmin && p.TenantID == "":
		return fmt.Errorf("%w: tenant id required for non-super-admin", ErrPrincipalInvalid)
	case p.IsSuperAdmin && p.TenantID != "":
		return fmt.Errorf("%w: super-admin cannot belong to a tenant", ErrPrincipalInvalid)
	case !p.IsSuperAdmin && len(p.AuthorizedTenants) > 0:
		return fmt.Errorf("%w: authorized tenants apply to super-admins only", ErrPrincipalInvalid)
	}
	return nil
}

// Has reports whether token is in the principal's resolved permission set.
func (p *Principal) Has(token string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Permissions[token]
	return ok
}

// WithPermissions returns a copy of p carrying the given permission set.
func (p *Principal) WithPermissions(perms []string) *Principal {
	cp := *p
	cp.Permissions = make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		cp.Permissions[perm] = struct{}{}
	}
	cp.AuthorizedTenants = slices.Clone(p.AuthorizedTenants)
	return &cp
}

// PermissionList returns the permission set sorted.
func (p *Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for perm := range p.Permissions {
		out = append(out, perm)
	}
	slices.Sort(out)
	return out
}

// CanAccessTenant reports whether a super-admin's authorized set admits
// tenantID. Non-super-admins can only access their own tenant.
func (p *Principal) CanAccessTenant(tenantID string) bool {
	if p == nil {
		return false
	}
	if !p.IsSuperAdmin {
		return p.TenantID == tenantID
	}
	if p.AuthorizedTenants == nil {
		return true
	}
	return slices.Contains(p.AuthorizedTenants, tenantID)
}

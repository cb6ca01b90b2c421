package tenant

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

var (
	ErrRoleNotFound   = fmt.Errorf("role %w", apperr.ErrNotFound)
	ErrRoleNameEmpty  = fmt.Errorf("%w: role name is required", apperr.ErrValidation)
	ErrRoleDuplicate  = fmt.Errorf("%w: role name already exists in tenant", apperr.ErrConflict)
	ErrRoleIsSystem   = fmt.Errorf("%w: system roles cannot be modified", apperr.ErrForbidden)
	ErrRoleHasUsers   = fmt.Errorf("%w: role is assigned to users", apperr.ErrConflict)
	ErrWildcardDenied = fmt.Errorf("%w: wildcard permission not allowed for custom roles", apperr.ErrValidation)
)

// Role is a named permission set. System roles are defined in code, shared
// by every tenant, and immutable; custom roles belong to one tenant.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// System role keys.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleAgent      = "agent"
	RoleEngineer   = "engineer"
	RoleCustomer   = "customer"
)

var systemRolePermissions = map[string][]string{
	RoleSuperAdmin: {"*"},
	RoleAdmin: {
		"read", "write", "delete",
		"manage_users", "manage_roles", "manage_customers", "manage_sales",
		"manage_contracts", "manage_tickets", "manage_complaints", "manage_audit",
	},
	RoleManager:  {"read", "write", "manage_customers"},
	RoleAgent:    {"read", "write"},
	RoleEngineer: {"read", "write", "manage_tickets"},
	RoleCustomer: {"read"},
}

// SystemRoleKeys lists the system roles in display order.
var SystemRoleKeys = []string{RoleSuperAdmin, RoleAdmin, RoleManager, RoleAgent, RoleEngineer, RoleCustomer}

// IsSystemRoleKey reports whether key names a system role, ignoring case.
func IsSystemRoleKey(key string) bool {
	_, ok := systemRolePermissions[strings.ToLower(key)]
	return ok
}

// SystemRole returns a copy of the system role named key, or nil.
func SystemRole(key string) *Role {
	key = strings.ToLower(key)
	perms, ok := systemRolePermissions[key]
	if !ok {
		return nil
	}
	return &Role{
		ID:          key,
		Name:        key,
		Permissions: slices.Clone(perms),
		IsSystem:    true,
	}
}

// SystemRoles returns copies of every system role.
func SystemRoles() []Role {
	roles := make([]Role, 0, len(SystemRoleKeys))
	for _, key := range SystemRoleKeys {
		roles = append(roles, *SystemRole(key))
	}
	return roles
}

// CreateRoleInput describes a custom role. With Template set the role
// starts from the template's permissions, adds Permissions and removes
// Revoke.
type CreateRoleInput struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required,max=128"`
	Template    string   `json:"template,omitempty" validate:"omitempty,max=64"`
	Revoke      []string `json:"revoke,omitempty" validate:"omitempty,dive,required,max=128"`
}

// RolePatch holds the fields of an update. Nil fields are left unchanged.
type RolePatch struct {
	Name        *string   `json:"name,omitempty" validate:"omitempty,max=64"`
	Permissions *[]string `json:"permissions,omitempty" validate:"omitempty,dive,required,max=128"`
}

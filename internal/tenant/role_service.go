package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/rbac"
)

// CacheInvalidator drops memoized permission sets.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

// RoleService enforces the role rules on top of a RoleRepository: system
// roles are immutable, custom role names are unique per tenant, and every
// mutation invalidates cached permission sets.
type RoleService struct {
	repo        RoleRepository
	invalidator CacheInvalidator
	audit       audit.Logger
}

func NewRoleService(repo RoleRepository, invalidator CacheInvalidator, auditLog audit.Logger) *RoleService {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &RoleService{repo: repo, invalidator: invalidator, audit: auditLog}
}

// SetInvalidator wires the permission cache after construction, since the
// evaluator itself resolves roles through this service.
func (s *RoleService) SetInvalidator(invalidator CacheInvalidator) {
	s.invalidator = invalidator
}

// FindRoleByKey returns the system role named key, else the tenant's
// custom role of that name.
func (s *RoleService) FindRoleByKey(ctx context.Context, tenantID, key string) (*Role, error) {
	if role := SystemRole(key); role != nil {
		return role, nil
	}
	if tenantID == "" {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, key)
	}
	role, err := s.repo.GetByName(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// RolePermissions implements rbac.RoleResolver.
func (s *RoleService) RolePermissions(ctx context.Context, tenantID, roleKey string) ([]string, error) {
	role, err := s.FindRoleByKey(ctx, tenantID, roleKey)
	if err != nil {
		return nil, err
	}
	return ResolvePermissions(role), nil
}

// ResolvePermissions returns the stored permission set of role, sorted.
// Roles do not inherit from each other at read time.
func ResolvePermissions(role *Role) []string {
	if role == nil {
		return nil
	}
	perms := slices.Clone(role.Permissions)
	slices.Sort(perms)
	return slices.Compact(perms)
}

// ListRoles returns the system roles followed by the tenant's custom roles.
func (s *RoleService) ListRoles(ctx context.Context, tenantID string) ([]Role, error) {
	custom, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return append(SystemRoles(), custom...), nil
}

// GetRole returns a role by id. System roles use their key as id.
func (s *RoleService) GetRole(ctx context.Context, tenantID, id string) (*Role, error) {
	if role := SystemRole(id); role != nil {
		return role, nil
	}
	return s.repo.GetByID(ctx, tenantID, id)
}

// CreateRole creates a custom role in tenantID.
func (s *RoleService) CreateRole(ctx context.Context, tenantID string, in CreateRoleInput) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrRoleNameEmpty
	}
	if IsSystemRoleKey(name) {
		return nil, fmt.Errorf("%w: %s is a system role", ErrRoleDuplicate, name)
	}

	perms := slices.Clone(in.Permissions)
	if in.Template != "" {
		template, err := s.FindRoleByKey(ctx, tenantID, in.Template)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", in.Template, err)
		}
		perms = append(slices.Clone(template.Permissions), perms...)
	}
	if len(in.Revoke) > 0 {
		perms = slices.DeleteFunc(perms, func(p string) bool {
			return slices.Contains(in.Revoke, p)
		})
	}
	perms, err := normalizePermissions(perms)
	if err != nil {
		return nil, err
	}

	role, err := s.repo.Create(ctx, tenantID, name, perms)
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, tenantID, audit.ActionRoleCreated, role, map[string]any{
		"name":        role.Name,
		"permissions": role.Permissions,
		"template":    in.Template,
	})
	return role, nil
}

// UpdateRole applies patch to a custom role. Any patch of a system role
// fails with ErrRoleIsSystem.
func (s *RoleService) UpdateRole(ctx context.Context, tenantID, id string, patch RolePatch) (*Role, error) {
	if IsSystemRoleKey(id) {
		return nil, ErrRoleIsSystem
	}

	current, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	name := current.Name
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, ErrRoleNameEmpty
		}
		if IsSystemRoleKey(name) {
			return nil, fmt.Errorf("%w: %s is a system role", ErrRoleDuplicate, name)
		}
	}
	perms := current.Permissions
	if patch.Permissions != nil {
		if perms, err = normalizePermissions(*patch.Permissions); err != nil {
			return nil, err
		}
	}

	role, err := s.repo.Update(ctx, tenantID, id, name, perms)
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, tenantID, audit.ActionRoleUpdated, role, map[string]any{
		"previous_name": current.Name,
		"name":          role.Name,
		"permissions":   role.Permissions,
	})
	return role, nil
}

// DeleteRole removes a custom role. System roles cannot be deleted.
func (s *RoleService) DeleteRole(ctx context.Context, tenantID, id string) error {
	if IsSystemRoleKey(id) {
		return ErrRoleIsSystem
	}

	role, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tenantID, id); err != nil {
		return err
	}

	s.afterMutation(ctx, tenantID, audit.ActionRoleDeleted, role, map[string]any{"name": role.Name})
	return nil
}

func (s *RoleService) afterMutation(ctx context.Context, tenantID, action string, role *Role, metadata map[string]any) {
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateAll(ctx); err != nil {
			slog.Warn("permission cache invalidation failed", "action", action, "role_id", role.ID, "error", err)
		}
	}
	s.audit.Log(ctx, audit.Event{
		TenantID:     audit.ParseID(tenantID),
		UserID:       audit.ActorIDFromContext(ctx),
		Action:       action,
		ResourceType: "role",
		ResourceID:   audit.ParseID(role.ID),
		Metadata:     metadata,
		Source:       "api",
	})
}

// normalizePermissions validates every token, rejects the wildcard, and
// returns the set sorted without duplicates.
func normalizePermissions(perms []string) ([]string, error) {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == rbac.Wildcard {
			return nil, ErrWildcardDenied
		}
		if err := rbac.ValidateToken(p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

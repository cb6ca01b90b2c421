package rbac_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
	"github.com/meridian-crm/meridian/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRoles resolves role keys from a fixed map and counts lookups.
type stubRoles struct {
	mu      sync.Mutex
	roles   map[string][]string
	lookups int
	err     error
}

func (s *stubRoles) RolePermissions(_ context.Context, _ string, roleKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	perms, ok := s.roles[roleKey]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", roleKey, apperr.ErrNotFound)
	}
	return perms, nil
}

func (s *stubRoles) set(roleKey string, perms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[roleKey] = perms
}

func newStubRoles() *stubRoles {
	return &stubRoles{roles: map[string][]string{
		"manager": {"read", "write", "manage_customers"},
		"agent":   {"read"},
	}}
}

func tenantPrincipal(role string) *auth.Principal {
	return &auth.Principal{UserID: "user-123", TenantID: "tenant-456", Role: role}
}

func TestEvaluator_PermissionGranted(t *testing.T) {
	eval := rbac.NewEvaluator(newStubRoles())

	decision, err := eval.Authorize(context.Background(), tenantPrincipal("agent"), "customers:read")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEvaluator_PermissionDenied(t *testing.T) {
	eval := rbac.NewEvaluator(newStubRoles())

	decision, err := eval.Authorize(context.Background(), tenantPrincipal("agent"), "customers:delete")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "customers:delete")
}

func TestEvaluator_ManagerDeletesCustomers(t *testing.T) {
	eval := rbac.NewEvaluator(newStubRoles())

	decision, err := eval.Authorize(context.Background(), tenantPrincipal("manager"), "customers:delete")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEvaluator_UnknownRoleDenied(t *testing.T) {
	eval := rbac.NewEvaluator(newStubRoles())

	decision, err := eval.Authorize(context.Background(), tenantPrincipal("ghost"), "customers:read")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	_, err = eval.Permissions(context.Background(), tenantPrincipal("ghost"))
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)
}

func TestEvaluator_MalformedTokenDenied(t *testing.T) {
	eval := rbac.NewEvaluator(newStubRoles())

	decision, err := eval.Authorize(context.Background(), tenantPrincipal("manager"), "customers::read")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEvaluator_SuperAdminNeedsNoLookup(t *testing.T) {
	roles := newStubRoles()
	eval := rbac.NewEvaluator(roles)
	p := &auth.Principal{UserID: "ops", Role: auth.RoleSuperAdmin, IsSuperAdmin: true}

	decision, err := eval.Authorize(context.Background(), p, "tenants:delete")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Zero(t, roles.lookups)
}

func TestEvaluator_NilPrincipal(t *testing.T) {
	decision, err := rbac.NewEvaluator(newStubRoles()).Authorize(context.Background(), nil, "read")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEvaluator_ResolverErrorPropagates(t *testing.T) {
	roles := newStubRoles()
	roles.err = errors.New("connection refused")
	eval := rbac.NewEvaluator(roles)

	_, err := eval.Authorize(context.Background(), tenantPrincipal("agent"), "customers:read")
	assert.Error(t, err)
}

func TestEvaluator_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	roles := newStubRoles()
	eval := rbac.NewEvaluator(roles)
	p := tenantPrincipal("agent")

	for range 3 {
		_, err := eval.Permissions(ctx, p)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, roles.lookups)

	// Role edited: stale until invalidated.
	roles.set("agent", "read", "write")
	perms, err := eval.Permissions(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, perms)

	require.NoError(t, eval.Invalidate(ctx, p.UserID))
	perms, err = eval.Permissions(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, perms)

	roles.set("agent", "read")
	require.NoError(t, eval.InvalidateAll(ctx))
	perms, err = eval.Permissions(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, perms)
}

func TestEvaluator_RoleChangeMissesCache(t *testing.T) {
	ctx := context.Background()
	eval := rbac.NewEvaluator(newStubRoles())

	_, err := eval.Permissions(ctx, tenantPrincipal("agent"))
	require.NoError(t, err)

	perms, err := eval.Permissions(ctx, tenantPrincipal("manager"))
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write", "manage_customers"}, perms)
}

func TestEvaluator_SharedRedisCache(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisCache(t)
	roles := newStubRoles()

	a := rbac.NewEvaluator(roles, rbac.WithCache(cache))
	b := rbac.NewEvaluator(roles, rbac.WithCache(cache))

	_, err := a.Permissions(ctx, tenantPrincipal("agent"))
	require.NoError(t, err)
	_, err = b.Permissions(ctx, tenantPrincipal("agent"))
	require.NoError(t, err)
	assert.Equal(t, 1, roles.lookups)

	// Invalidation on one replica is visible to the other.
	require.NoError(t, a.InvalidateAll(ctx))
	_, err = b.Permissions(ctx, tenantPrincipal("agent"))
	require.NoError(t, err)
	assert.Equal(t, 2, roles.lookups)
}

func TestEvaluator_Resolve(t *testing.T) {
	eval := rbac.NewEvaluator(newStubRoles())

	resolved, err := eval.Resolve(context.Background(), tenantPrincipal("manager"))
	require.NoError(t, err)
	assert.True(t, resolved.Has("manage_customers"))

	ghost, err := eval.Resolve(context.Background(), tenantPrincipal("ghost"))
	require.NoError(t, err)
	assert.NotNil(t, ghost.Permissions)
	assert.Empty(t, ghost.Permissions)
}

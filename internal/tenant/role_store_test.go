package tenant_test

import (
	"context"
	"testing"

	"github.com/meridian-crm/meridian/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tenants := tenant.NewStore(pool)
	a, err := tenants.Create(ctx, "Role Org A", "role-org-a")
	require.NoError(t, err)
	b, err := tenants.Create(ctx, "Role Org B", "role-org-b")
	require.NoError(t, err)

	store := tenant.NewRoleStore(pool)
	var created *tenant.Role

	t.Run("Create", func(t *testing.T) {
		created, err = store.Create(ctx, a.ID, "Support", []string{"read", "tickets:update"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, a.ID, created.TenantID)
		assert.Equal(t, []string{"read", "tickets:update"}, created.Permissions)
	})

	t.Run("CreateDuplicateIgnoresCase", func(t *testing.T) {
		_, err := store.Create(ctx, a.ID, "SUPPORT", []string{"read"})
		assert.ErrorIs(t, err, tenant.ErrRoleDuplicate)
	})

	t.Run("SameNameOtherTenant", func(t *testing.T) {
		_, err := store.Create(ctx, b.ID, "Support", []string{"read"})
		assert.NoError(t, err)
	})

	t.Run("GetByName", func(t *testing.T) {
		role, err := store.GetByName(ctx, a.ID, "support")
		require.NoError(t, err)
		assert.Equal(t, created.ID, role.ID)
	})

	t.Run("GetByIDOtherTenant", func(t *testing.T) {
		_, err := store.GetByID(ctx, b.ID, created.ID)
		assert.ErrorIs(t, err, tenant.ErrRoleNotFound)

		_, err = store.GetByID(ctx, a.ID, "manager")
		assert.ErrorIs(t, err, tenant.ErrRoleNotFound)
	})

	t.Run("List", func(t *testing.T) {
		roles, err := store.List(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, "Support", roles[0].Name)
	})

	t.Run("Update", func(t *testing.T) {
		role, err := store.Update(ctx, a.ID, created.ID, "Support L2", []string{"write"})
		require.NoError(t, err)
		assert.Equal(t, "Support L2", role.Name)
		assert.Equal(t, []string{"write"}, role.Permissions)
		assert.False(t, role.UpdatedAt.Before(role.CreatedAt))
	})

	t.Run("DeleteAssignedRoleConflicts", func(t *testing.T) {
		users := tenant.NewUserStore(pool)
		_, err := users.Create(ctx, a.ID, "l2@example.com", "", "Support L2")
		require.NoError(t, err)

		err = store.Delete(ctx, a.ID, created.ID)
		assert.ErrorIs(t, err, tenant.ErrRoleHasUsers)
	})

	t.Run("Delete", func(t *testing.T) {
		spare, err := store.Create(ctx, a.ID, "Spare", []string{"read"})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, a.ID, spare.ID))
		assert.ErrorIs(t, store.Delete(ctx, a.ID, spare.ID), tenant.ErrRoleNotFound)
	})
}

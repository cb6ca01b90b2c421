package database_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationProof_CrossTenantCustomerReadDenied(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	rlsPool, superConnStr, cleanup := setupRLSTestDB(t)
	defer cleanup()

	tenantA, tenantB := seedTwoTenants(t, superConnStr)
	ctx := context.Background()

	superPool, err := database.Connect(ctx, superConnStr, 2)
	require.NoError(t, err)
	defer superPool.Close()

	var customerBID string
	err = superPool.QueryRow(ctx, "SELECT id FROM customers WHERE tenant_id = $1", tenantB).Scan(&customerBID)
	require.NoError(t, err)

	err = database.WithTenantConnection(ctx, rlsPool, tenantA, func(ctx context.Context, q database.Querier) error {
		var gotID string
		scanErr := q.QueryRow(ctx, "SELECT id FROM customers WHERE id = $1", customerBID).Scan(&gotID)
		assert.ErrorIs(t, scanErr, pgx.ErrNoRows)
		return nil
	})
	require.NoError(t, err)
}

func TestIsolationProof_CrossTenantRoleUpdateAffectsNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	rlsPool, superConnStr, cleanup := setupRLSTestDB(t)
	defer cleanup()

	tenantA, tenantB := seedTwoTenants(t, superConnStr)
	ctx := context.Background()

	err := database.WithTenantConnection(ctx, rlsPool, tenantA, func(ctx context.Context, q database.Querier) error {
		tag, execErr := q.Exec(ctx,
			`UPDATE roles SET permissions = '["*"]' WHERE tenant_id = $1`, tenantB)
		require.NoError(t, execErr)
		assert.Equal(t, int64(0), tag.RowsAffected())
		return nil
	})
	require.NoError(t, err)
}

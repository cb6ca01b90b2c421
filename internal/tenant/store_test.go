package tenant_test

import (
	"context"
	"testing"

	"github.com/meridian-crm/meridian/internal/platform/apperr"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*database.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("meridian_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = database.RunMigrations(connStr, "file://../../migrations")
	require.NoError(t, err)

	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestStore_Create(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := tenant.NewStore(pool)
	ctx := context.Background()

	created, err := store.Create(ctx, "Acme Corp", "acme-corp")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Acme Corp", created.Name)
	assert.Equal(t, "acme-corp", created.Slug)
	assert.Equal(t, "active", created.Status)
}

func TestStore_CreateDuplicateSlug(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := tenant.NewStore(pool)
	ctx := context.Background()

	_, err := store.Create(ctx, "First", "same-slug")
	require.NoError(t, err)

	_, err = store.Create(ctx, "Second", "same-slug")
	require.ErrorIs(t, err, tenant.ErrSlugTaken)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestStore_CreateInvalidSlug(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := tenant.NewStore(pool).Create(context.Background(), "Bad", "-bad-")
	assert.ErrorIs(t, err, tenant.ErrInvalidSlug)
}

func TestStore_GetByID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := tenant.NewStore(pool)
	ctx := context.Background()

	created, err := store.Create(ctx, "Globex", "globex")
	require.NoError(t, err)

	got, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "globex", got.Slug)

	_, err = store.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)

	_, err = store.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestStore_ListAndIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := tenant.NewStore(pool)
	ctx := context.Background()

	a, err := store.Create(ctx, "Tenant A", "tenant-a")
	require.NoError(t, err)
	b, err := store.Create(ctx, "Tenant B", "tenant-b")
	require.NoError(t, err)

	tenants, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tenants, 2)

	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		slug    string
		wantErr bool
	}{
		{"acme", false},
		{"acme-corp-42", false},
		{"ab", true},
		{"-acme", true},
		{"acme-", true},
		{"Acme", true},
		{"acme_corp", true},
		{"admin", true},
		{"api", true},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			err := tenant.ValidateSlug(tt.slug)
			if tt.wantErr {
				assert.ErrorIs(t, err, tenant.ErrInvalidSlug)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

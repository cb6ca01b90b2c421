package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBatchInsert(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	events := []Event{
		{
			TenantID:     &tenantID,
			UserID:       &userID,
			Action:       ActionRoleCreated,
			ResourceType: "role",
			Metadata:     map[string]any{"name": "sales"},
			Source:       "api",
		},
		{
			Action:       ActionImpersonationConfigUpdated,
			ResourceType: "rate_limit_config",
		},
	}

	sql, args, err := buildBatchInsert(events)
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO audit_events")
	assert.Contains(t, sql, "($1, $2, $3, $4, $5, $6, $7)")
	assert.Len(t, args, 14)
	assert.Equal(t, &tenantID, args[0])
	// Platform events carry no tenant and default to the api source.
	assert.Nil(t, args[7])
	assert.Equal(t, "api", args[13])
}

func TestInsertBatch_Empty(t *testing.T) {
	require.NoError(t, NewStore().InsertBatch(context.Background(), nil, nil))
}

func TestBuildListQuery_PinnedScope(t *testing.T) {
	sql, args := buildListQuery(ListEventsParams{
		Scope: tenancy.Scope{TenantID: "tenant-1"},
		Limit: 50,
	})
	assert.Contains(t, sql, "WHERE true AND tenant_id = $1")
	assert.Contains(t, sql, "LIMIT $2")
	assert.Equal(t, []any{"tenant-1", 50}, args)
}

func TestBuildListQuery_UnrestrictedScope(t *testing.T) {
	sql, args := buildListQuery(ListEventsParams{
		Scope: tenancy.Scope{Unrestricted: true},
		Limit: 20,
	})
	assert.NotContains(t, sql, "tenant_id =")
	assert.Contains(t, sql, "LIMIT $1")
	assert.Equal(t, []any{20}, args)
}

func TestBuildListQuery_AllFilters(t *testing.T) {
	userID := uuid.New()
	action := "role.created"
	resType := "role"
	source := "api"
	after := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)

	sql, args := buildListQuery(ListEventsParams{
		Scope:        tenancy.Scope{TenantID: "tenant-1"},
		Action:       &action,
		ResourceType: &resType,
		UserID:       &userID,
		Source:       &source,
		After:        &after,
		Before:       &before,
		Limit:        100,
	})
	assert.Contains(t, sql, "action = $2")
	assert.Contains(t, sql, "resource_type = $3")
	assert.Contains(t, sql, "user_id = $4")
	assert.Contains(t, sql, "source = $5")
	assert.Contains(t, sql, "created_at > $6")
	assert.Contains(t, sql, "created_at < $7")
	assert.Contains(t, sql, "LIMIT $8")
	assert.Len(t, args, 8)
}

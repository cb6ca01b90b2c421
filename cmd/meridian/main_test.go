package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/customers"
	"github.com/meridian-crm/meridian/internal/impersonation"
	"github.com/meridian-crm/meridian/internal/platform/config"
	"github.com/meridian-crm/meridian/internal/rbac"
	"github.com/meridian-crm/meridian/internal/tenancy"
	"github.com/meridian-crm/meridian/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStores_MemoryFallback(t *testing.T) {
	st := buildStores(nil, impersonation.DefaultConfig())

	assert.Nil(t, st.tenants)
	assert.IsType(t, &tenant.MemoryRoleStore{}, st.roles)
	assert.IsType(t, &tenant.MemoryUserStore{}, st.users)
	assert.IsType(t, &impersonation.MemoryStore{}, st.sessions)

	ctx := context.Background()
	tenantID := "11111111-1111-1111-1111-111111111111"
	_, err := st.customers.Create(ctx, tenancy.Scope{TenantID: tenantID}, tenantID, customers.NewCustomer{Name: "Acme"})
	require.NoError(t, err)

	ids, err := st.catalog.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{tenantID}, ids)

	cfg, err := st.configs.GetRateLimitConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, impersonation.DefaultConfig(), cfg)
}

func TestImpersonationDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	got := impersonationDefaults(cfg.Impersonation)
	assert.Equal(t, impersonation.DefaultConfig(), got)
	assert.NoError(t, got.Validate())
}

func TestBuildAuditLogger_NoDatabase(t *testing.T) {
	assert.IsType(t, audit.SlogLogger{}, buildAuditLogger(nil, config.AuditConfig{}))
}

func TestBuildPermissionCache(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled uses memory cache", func(t *testing.T) {
		cache, closeFn, err := buildPermissionCache(ctx, config.RedisConfig{})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &rbac.MemoryCache{}, cache)
	})

	t.Run("enabled uses redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, closeFn, err := buildPermissionCache(ctx, config.RedisConfig{Enabled: true, Addr: mr.Addr(), KeyPrefix: "test"})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &rbac.RedisCache{}, cache)
	})

	t.Run("unreachable redis fails", func(t *testing.T) {
		_, _, err := buildPermissionCache(ctx, config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"})
		assert.Error(t, err)
	})
}

func TestJWTSigningKey(t *testing.T) {
	long := "0123456789abcdef0123456789abcdef"

	key, err := jwtSigningKey(config.AuthConfig{JWT: config.JWTConfig{SigningKey: long}})
	require.NoError(t, err)
	assert.Equal(t, long, key)

	key, err = jwtSigningKey(config.AuthConfig{DevMode: true})
	require.NoError(t, err)
	assert.Equal(t, devSigningKey, key)

	_, err = jwtSigningKey(config.AuthConfig{})
	assert.Error(t, err)

	_, err = jwtSigningKey(config.AuthConfig{JWT: config.JWTConfig{SigningKey: "short"}})
	assert.Error(t, err)
}

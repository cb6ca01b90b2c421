package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key-must-be-32-chars!!"

func TestTokenService_CreateAndValidate(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	principal := &auth.Principal{
		UserID:   "user-123",
		TenantID: "tenant-456",
		Role:     "manager",
	}

	token, err := svc.CreateAccessToken(principal)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, "user-123", got.UserID)
	assert.Equal(t, "tenant-456", got.TenantID)
	assert.Equal(t, "manager", got.Role)
	assert.False(t, got.IsSuperAdmin)
	assert.Empty(t, got.Permissions)
}

func TestTokenService_SuperAdminWithAuthorizedTenants(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	principal := &auth.Principal{
		UserID:            "ops-1",
		Role:              auth.RoleSuperAdmin,
		IsSuperAdmin:      true,
		AuthorizedTenants: []string{"tenant-1", "tenant-2"},
	}

	token, err := svc.CreateAccessToken(principal)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, got.IsSuperAdmin)
	assert.Empty(t, got.TenantID)
	assert.Equal(t, []string{"tenant-1", "tenant-2"}, got.AuthorizedTenants)
}

func TestTokenService_EmptyAuthorizedTenantsStayEmpty(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	principal := &auth.Principal{
		UserID:            "ops-2",
		Role:              auth.RoleSuperAdmin,
		IsSuperAdmin:      true,
		AuthorizedTenants: []string{},
	}
	require.False(t, principal.CanAccessTenant("tenant-x"))

	token, err := svc.CreateAccessToken(principal)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.NotNil(t, got.AuthorizedTenants)
	assert.Empty(t, got.AuthorizedTenants)
	assert.False(t, got.CanAccessTenant("tenant-x"))
}

func TestTokenService_UnrestrictedSuperAdminStaysUnrestricted(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	token, err := svc.CreateAccessToken(&auth.Principal{UserID: "ops-3", Role: auth.RoleSuperAdmin, IsSuperAdmin: true})
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Nil(t, got.AuthorizedTenants)
	assert.True(t, got.CanAccessTenant("tenant-x"))
}

func TestTokenService_RejectsInvalidPrincipal(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	_, err := svc.CreateAccessToken(&auth.Principal{UserID: "user-1", Role: "agent"})
	assert.ErrorIs(t, err, auth.ErrPrincipalInvalid)
}

func TestTokenService_ExpiredToken(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 0)

	token, err := svc.CreateAccessToken(&auth.Principal{UserID: "user-123", TenantID: "tenant-456", Role: "agent"})
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_InvalidSignature(t *testing.T) {
	svc1 := auth.NewTokenService("signing-key-one-must-be-32-chars!!", "meridian", 24)
	svc2 := auth.NewTokenService("signing-key-two-must-be-32-chars!!", "meridian", 24)

	token, err := svc1.CreateAccessToken(&auth.Principal{UserID: "user-123", TenantID: "tenant-456", Role: "agent"})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_WrongIssuer(t *testing.T) {
	svc1 := auth.NewTokenService(testSigningKey, "meridian", 24)
	svc2 := auth.NewTokenService(testSigningKey, "other-service", 24)

	token, err := svc1.CreateAccessToken(&auth.Principal{UserID: "user-123", TenantID: "tenant-456", Role: "agent"})
	require.NoError(t, err)

	_, err = svc2.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_MalformedToken(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	_, err := svc.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_TenantlessNonSuperAdminClaimsRejected(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	// Signed with the right key but violating the tenant invariant.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  "meridian",
		"exp":  time.Now().Add(time.Hour).Unix(),
		"uid":  "user-1",
		"role": "admin",
		"type": "access",
	})
	token, err := forged.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_NonAccessTokenRejected(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  "meridian",
		"exp":  time.Now().Add(time.Hour).Unix(),
		"uid":  "user-1",
		"tid":  "tenant-1",
		"role": "admin",
		"type": "refresh",
	})
	token, err := refresh.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenService_SuperAdminRoleWithoutFlagRejected(t *testing.T) {
	svc := auth.NewTokenService(testSigningKey, "meridian", 24)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  "meridian",
		"exp":  time.Now().Add(time.Hour).Unix(),
		"uid":  "user-1",
		"tid":  "tenant-1",
		"role": auth.RoleSuperAdmin,
		"type": "access",
	})
	token, err := forged.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

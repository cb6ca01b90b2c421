package tenant_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/tenancy"
	"github.com/meridian-crm/meridian/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withScope attaches p and the scope it resolves to, as the auth and
// tenancy middleware would.
func withScope(t *testing.T, req *http.Request, p *auth.Principal) *http.Request {
	t.Helper()
	scope, err := tenancy.Resolve(p, nil)
	require.NoError(t, err)
	ctx := auth.WithPrincipal(req.Context(), p)
	return req.WithContext(tenancy.NewContext(ctx, scope))
}

func tenantAdmin(tenantID string) *auth.Principal {
	return &auth.Principal{UserID: "44444444-4444-4444-4444-444444444444", TenantID: tenantID, Role: tenant.RoleAdmin}
}

func superAdmin() *auth.Principal {
	return &auth.Principal{UserID: "55555555-5555-5555-5555-555555555555", Role: auth.RoleSuperAdmin, IsSuperAdmin: true}
}

func serveRole(t *testing.T, fn http.HandlerFunc, method, target, body string, p *auth.Principal, pathID string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if pathID != "" {
		req.SetPathValue("id", pathID)
	}
	req = withScope(t, req, p)
	w := httptest.NewRecorder()
	fn(w, req)
	return w
}

func TestRoleHandler(t *testing.T) {
	svc := tenant.NewRoleService(tenant.NewMemoryRoleStore(), nil, nil)
	handler := tenant.NewRoleHandler(svc)
	admin := tenantAdmin(tenantA)

	var created tenant.Role

	t.Run("Create", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles",
			`{"name": "viewer", "permissions": ["customers:read"]}`, admin, "")

		require.Equal(t, http.StatusCreated, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		assert.Equal(t, "viewer", created.Name)
		assert.Equal(t, tenantA, created.TenantID)
		assert.Equal(t, []string{"customers:read"}, created.Permissions)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles",
			`{"name": "Viewer", "permissions": ["read"]}`, admin, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("CreateMissingName", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles",
			`{"permissions": ["read"]}`, admin, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Contains(t, body["error"], "name")
	})

	t.Run("CreateWildcard", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles",
			`{"name": "everything", "permissions": ["*"]}`, admin, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("CreateInvalidJSON", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles", `{not json`, admin, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("List", func(t *testing.T) {
		w := serveRole(t, handler.HandleList, http.MethodGet, "/api/v1/roles", "", admin, "")

		require.Equal(t, http.StatusOK, w.Code)
		var roles []tenant.Role
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
		assert.Len(t, roles, len(tenant.SystemRoleKeys)+1)
	})

	t.Run("GetSystemRole", func(t *testing.T) {
		w := serveRole(t, handler.HandleGet, http.MethodGet, "/api/v1/roles/manager", "", admin, "manager")

		require.Equal(t, http.StatusOK, w.Code)
		var role tenant.Role
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &role))
		assert.True(t, role.IsSystem)
	})

	t.Run("Update", func(t *testing.T) {
		w := serveRole(t, handler.HandleUpdate, http.MethodPatch, "/api/v1/roles/"+created.ID,
			`{"permissions": ["customers:read", "customers:update"]}`, admin, created.ID)

		require.Equal(t, http.StatusOK, w.Code)
		var role tenant.Role
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &role))
		assert.Equal(t, "viewer", role.Name)
		assert.Equal(t, []string{"customers:read", "customers:update"}, role.Permissions)
	})

	t.Run("UpdateSystemRoleForbidden", func(t *testing.T) {
		w := serveRole(t, handler.HandleUpdate, http.MethodPatch, "/api/v1/roles/admin",
			`{"name": "boss"}`, admin, "admin")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("UpdateFromOtherTenantNotFound", func(t *testing.T) {
		w := serveRole(t, handler.HandleUpdate, http.MethodPatch, "/api/v1/roles/"+created.ID,
			`{"name": "mine now"}`, tenantAdmin(tenantB), created.ID)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("DeleteSystemRoleForbidden", func(t *testing.T) {
		w := serveRole(t, handler.HandleDelete, http.MethodDelete, "/api/v1/roles/customer", "", admin, "customer")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		w := serveRole(t, handler.HandleDelete, http.MethodDelete, "/api/v1/roles/"+created.ID, "", admin, created.ID)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = serveRole(t, handler.HandleGet, http.MethodGet, "/api/v1/roles/"+created.ID, "", admin, created.ID)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRoleHandler_TenantResolution(t *testing.T) {
	svc := tenant.NewRoleService(tenant.NewMemoryRoleStore(), nil, nil)
	handler := tenant.NewRoleHandler(svc)
	body := `{"name": "scoped", "permissions": ["read"]}`

	t.Run("TenantUserCannotTargetOtherTenant", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles?tenant_id="+tenantB, body, tenantAdmin(tenantA), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("SuperAdminMustNameTenant", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles", body, superAdmin(), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("SuperAdminNamesTenant", func(t *testing.T) {
		w := serveRole(t, handler.HandleCreate, http.MethodPost, "/api/v1/roles?tenant_id="+tenantB, body, superAdmin(), "")
		require.Equal(t, http.StatusCreated, w.Code)

		var role tenant.Role
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &role))
		assert.Equal(t, tenantB, role.TenantID)
	})

	t.Run("MissingScope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
		w := httptest.NewRecorder()
		handler.HandleList(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

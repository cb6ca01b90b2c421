package tenant

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// RoleHandler handles role HTTP endpoints within a tenant.
type RoleHandler struct {
	service   *RoleService
	validator *validator.Validate
}

// NewRoleHandler creates a new role handler.
func NewRoleHandler(service *RoleService) *RoleHandler {
	return &RoleHandler{service: service, validator: validator.New()}
}

// requestTenant resolves the tenant a role request operates on. Tenant
// users are pinned to their own tenant; super-admins name one with
// ?tenant_id=.
func requestTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	scope, ok := tenancy.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return "", false
	}
	tenantID, err := scope.WriteTenant(r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, err, "resolving tenant failed")
		return "", false
	}
	return tenantID, true
}

// HandleCreate creates a custom role.
// POST /api/v1/roles
func (h *RoleHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	var req CreateRoleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}

	role, err := h.service.CreateRole(r.Context(), tenantID, req)
	if err != nil {
		writeError(w, err, "role creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, role)
}

// HandleList returns the system roles and the tenant's custom roles.
// GET /api/v1/roles
func (h *RoleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	roles, err := h.service.ListRoles(r.Context(), tenantID)
	if err != nil {
		writeError(w, err, "listing roles failed")
		return
	}

	writeJSON(w, http.StatusOK, roles)
}

// HandleGet returns one role.
// GET /api/v1/roles/{id}
func (h *RoleHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeError(w, err, "fetching role failed")
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// HandleUpdate patches a custom role's name and/or permissions.
// PATCH /api/v1/roles/{id}
func (h *RoleHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	roleID := r.PathValue("id")
	if roleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing role id"})
		return
	}

	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	var req RolePatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}

	role, err := h.service.UpdateRole(r.Context(), tenantID, roleID, req)
	if err != nil {
		writeError(w, err, "role update failed")
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// HandleDelete deletes a custom role.
// DELETE /api/v1/roles/{id}
func (h *RoleHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	roleID := r.PathValue("id")
	if roleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing role id"})
		return
	}

	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), tenantID, roleID); err != nil {
		writeError(w, err, "role deletion failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package tenant

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// UserHandler handles user HTTP endpoints within a tenant.
type UserHandler struct {
	users       UserRepository
	roles       *RoleService
	invalidator CacheInvalidator
	validator   *validator.Validate
}

// NewUserHandler creates a new user handler. invalidator may be nil.
func NewUserHandler(users UserRepository, roles *RoleService, invalidator CacheInvalidator) *UserHandler {
	return &UserHandler{users: users, roles: roles, invalidator: invalidator, validator: validator.New()}
}

type createUserRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Role        string `json:"role" validate:"omitempty,max=64"`
}

// HandleCreate creates a new user within the resolved tenant.
// POST /api/v1/users
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}
	if req.Role == "" {
		req.Role = RoleAgent
	}

	role, err := h.assignableRole(r, tenantID, req.Role)
	if err != nil {
		writeError(w, err, "resolving role failed")
		return
	}

	user, err := h.users.Create(r.Context(), tenantID, req.Email, req.DisplayName, role)
	if err != nil {
		writeError(w, err, "user creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleGet returns a user by ID.
// GET /api/v1/users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user id"})
		return
	}

	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, err, "fetching user failed")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleList returns all users in the resolved tenant.
// GET /api/v1/users
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	users, err := h.users.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, err, "listing users failed")
		return
	}

	if users == nil {
		users = []User{}
	}

	writeJSON(w, http.StatusOK, users)
}

// HandleUpdateRole assigns a role to a user and drops the user's cached
// permission set.
// PATCH /api/v1/users/{id}/role
func (h *UserHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user id"})
		return
	}

	tenantID, ok := requestTenant(w, r)
	if !ok {
		return
	}

	var req struct {
		Role string `json:"role" validate:"required,max=64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}

	role, err := h.assignableRole(r, tenantID, req.Role)
	if err != nil {
		writeError(w, err, "resolving role failed")
		return
	}

	user, err := h.users.UpdateRole(r.Context(), tenantID, id, role)
	if err != nil {
		writeError(w, err, "role assignment failed")
		return
	}

	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(r.Context(), user.ID); err != nil {
			slog.Warn("permission cache invalidation failed", "user_id", user.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, user)
}

// assignableRole returns the canonical name of key in tenantID. The
// super_admin role is platform-wide and never assigned to tenant users.
func (h *UserHandler) assignableRole(r *http.Request, tenantID, key string) (string, error) {
	role, err := h.roles.FindRoleByKey(r.Context(), tenantID, key)
	if err != nil {
		return "", err
	}
	if role.IsSystem && role.Name == RoleSuperAdmin {
		return "", ErrRoleNotAssignable
	}
	return role.Name, nil
}

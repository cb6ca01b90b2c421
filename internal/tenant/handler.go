package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
)

// Handler handles tenant HTTP endpoints.
type Handler struct {
	store     *Store
	audit     audit.Logger
	validator *validator.Validate
}

// NewHandler creates a new tenant handler.
func NewHandler(store *Store, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{store: store, audit: auditLog, validator: validator.New()}
}

// RegisterRoutes registers tenant routes on the given mux.
// All routes require super-admin auth (applied externally via middleware).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tenants", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/tenants/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/tenants", h.HandleList)
}

// HandleCreate creates a new tenant.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Name string `json:"name" validate:"required,max=128"`
		Slug string `json:"slug" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}

	t, err := h.store.Create(r.Context(), req.Name, req.Slug)
	if err != nil {
		writeError(w, err, "tenant creation failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		TenantID:     audit.ParseID(t.ID),
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionTenantCreated,
		ResourceType: "tenant",
		ResourceID:   audit.ParseID(t.ID),
		Metadata:     map[string]any{"slug": t.Slug},
		Source:       "api",
	})

	writeJSON(w, http.StatusCreated, t)
}

// HandleGet returns a tenant by ID.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant id"})
		return
	}

	t, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err, "fetching tenant failed")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleList returns all tenants.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing tenants failed"})
		return
	}

	if tenants == nil {
		tenants = []Tenant{}
	}

	writeJSON(w, http.StatusOK, tenants)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status. Messages of server errors are
// replaced by fallback.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status := apperr.Status(err)
	msg := fallback
	if apperr.IsClientError(err) {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

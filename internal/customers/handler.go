package customers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// Handler serves the customer endpoints. Routes are expected behind the
// tenancy middleware and a customers permission check.
type Handler struct {
	repo      Repository
	audit     audit.Logger
	validator *validator.Validate
}

func NewHandler(repo Repository, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{repo: repo, audit: auditLog, validator: validator.New()}
}

type createRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name" validate:"required,max=256"`
	Email    string `json:"email" validate:"omitempty,email,max=320"`
	Status   string `json:"status" validate:"omitempty,oneof=active archived"`
}

// HandleCreate creates a customer in the request tenant. Super-admins
// outside an impersonation session must name tenant_id.
// POST /api/v1/customers
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	scope, ok := requestScope(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}

	tenantID, err := scope.WriteTenant(req.TenantID)
	if err != nil {
		writeError(w, err, "")
		return
	}

	c, err := h.repo.Create(r.Context(), scope, tenantID, NewCustomer{Name: req.Name, Email: req.Email, Status: req.Status})
	if err != nil {
		writeError(w, err, "customer creation failed")
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		TenantID:     audit.ParseID(c.TenantID),
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionCustomerCreated,
		ResourceType: "customer",
		ResourceID:   audit.ParseID(c.ID),
		Source:       "api",
	})

	writeJSON(w, http.StatusCreated, c)
}

// HandleList lists customers visible to the request. ?tenant_id= narrows
// an unrestricted scope and is refused for any other tenant otherwise.
// GET /api/v1/customers?tenant_id=&status=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := requestScope(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	scope, err := scope.Narrow(q.Get("tenant_id"))
	if err != nil {
		writeError(w, err, "")
		return
	}

	p := ListParams{Status: q.Get("status")}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			p.Limit = n
		}
	}

	list, err := h.repo.List(r.Context(), scope, p)
	if err != nil {
		writeError(w, err, "listing customers failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"customers": list, "count": len(list)})
}

// HandleGet returns one customer.
// GET /api/v1/customers/{id}?tenant_id=
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	scope, ok := requestScope(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing customer id"})
		return
	}

	scope, err := scope.Narrow(r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, err, "")
		return
	}

	c, err := h.repo.Get(r.Context(), scope, id)
	if err != nil {
		writeError(w, err, "fetching customer failed")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func requestScope(w http.ResponseWriter, r *http.Request) (tenancy.Scope, bool) {
	scope, ok := tenancy.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return tenancy.Scope{}, false
	}
	return scope, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	msg := fallback
	if apperr.IsClientError(err) {
		msg = err.Error()
	}
	writeJSON(w, apperr.Status(err), map[string]string{"error": msg})
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

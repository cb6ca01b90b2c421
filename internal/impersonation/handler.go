package impersonation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// Handler serves the super-admin impersonation endpoints. Routes are
// expected behind auth.RequireSuperAdmin.
type Handler struct {
	limiter   *Limiter
	validator *validator.Validate
}

func NewHandler(limiter *Limiter) *Handler {
	return &Handler{limiter: limiter, validator: validator.New()}
}

type startRequest struct {
	ImpersonatedUserID string `json:"impersonated_user_id" validate:"required,max=64"`
	TenantID           string `json:"tenant_id" validate:"required,uuid"`
	Reason             string `json:"reason" validate:"max=500"`
}

type startResponse struct {
	Session *Session `json:"session"`
	Header  string   `json:"header"`
}

type rateLimitResponse struct {
	Error  string `json:"error"`
	Usage  Usage  `json:"current_usage"`
	Limits Limits `json:"limits"`
}

// HandleStart opens a session for the calling super-admin.
// POST /api/v1/admin/impersonation/sessions
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	p, ok := superAdmin(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}
	if !p.CanAccessTenant(req.TenantID) {
		writeError(w, tenancy.ErrCrossTenant, "")
		return
	}

	sess, err := h.limiter.RecordSessionStart(r.Context(), StartRequest{
		SuperAdminID:       p.UserID,
		ImpersonatedUserID: req.ImpersonatedUserID,
		TenantID:           req.TenantID,
		Reason:             req.Reason,
	})
	if rle, ok := AsRateLimitError(err); ok {
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{Error: rle.Reason, Usage: rle.Usage, Limits: rle.Limits})
		return
	}
	if err != nil {
		writeError(w, err, "starting impersonation failed")
		return
	}

	w.Header().Set(tenancy.SessionHeader, sess.ID)
	writeJSON(w, http.StatusCreated, startResponse{Session: sess, Header: tenancy.SessionHeader})
}

// HandleEnd ends one of the caller's sessions.
// POST /api/v1/admin/impersonation/sessions/{id}/end
func (h *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	p, ok := superAdmin(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session id"})
		return
	}

	sess, err := h.limiter.Session(r.Context(), id)
	if err != nil {
		writeError(w, err, "fetching session failed")
		return
	}
	if sess.SuperAdminID != p.UserID {
		writeError(w, tenancy.ErrNotImpersonator, "")
		return
	}

	sess, err = h.limiter.RecordSessionEnd(r.Context(), id)
	if err != nil {
		writeError(w, err, "ending impersonation failed")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// HandleStatus reports the caller's usage and limits.
// GET /api/v1/admin/impersonation/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := superAdmin(w, r)
	if !ok {
		return
	}

	status, err := h.limiter.GetStatus(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err, "fetching status failed")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// HandleActive lists open sessions of every super-admin.
// GET /api/v1/admin/impersonation/active
func (h *Handler) HandleActive(w http.ResponseWriter, r *http.Request) {
	if _, ok := superAdmin(w, r); !ok {
		return
	}

	sessions, err := h.limiter.GetActiveSessions(r.Context())
	if err != nil {
		writeError(w, err, "listing active sessions failed")
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

// HandleGetConfig returns the rate-limit policy.
// GET /api/v1/admin/impersonation/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	if _, ok := superAdmin(w, r); !ok {
		return
	}

	cfg, err := h.limiter.GetConfig(r.Context())
	if err != nil {
		writeError(w, err, "fetching config failed")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// HandlePutConfig replaces the rate-limit policy.
// PUT /api/v1/admin/impersonation/config
func (h *Handler) HandlePutConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	if _, ok := superAdmin(w, r); !ok {
		return
	}

	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}

	stored, err := h.limiter.UpdateConfig(r.Context(), cfg)
	if err != nil {
		writeError(w, err, "updating config failed")
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

// PrincipalKey keys per-principal throttling of session starts.
func PrincipalKey(r *http.Request) string {
	if p := auth.GetPrincipal(r.Context()); p != nil {
		return "impersonation:" + p.UserID
	}
	return ""
}

func superAdmin(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p := auth.GetPrincipal(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return nil, false
	}
	if !p.IsSuperAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "super-admin access required"})
		return nil, false
	}
	return p, true
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

package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// Handler serves audit query endpoints.
type Handler struct {
	pool  *database.Pool
	store *Store
}

// NewHandler creates an audit query handler. A nil pool serves empty
// results.
func NewHandler(pool *database.Pool, store *Store) *Handler {
	return &Handler{pool: pool, store: store}
}

// HandleListEvents returns audit events visible to the request scope.
// Super-admins may narrow to one tenant with ?tenant_id=.
// GET /api/v1/audit/events?limit=50&after=<timestamp>
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.FromContext(r.Context())
	if !ok {
		writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant scope required"})
		return
	}

	q := r.URL.Query()
	scope, err := scope.Narrow(q.Get("tenant_id"))
	if err != nil {
		writeAuditJSON(w, apperr.Status(err), map[string]string{"error": err.Error()})
		return
	}

	params := ListEventsParams{Scope: scope, Limit: 50}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			params.Limit = n
		}
	}
	if raw := q.Get("action"); raw != "" {
		params.Action = &raw
	}
	if raw := q.Get("resource_type"); raw != "" {
		params.ResourceType = &raw
	}
	if raw := q.Get("source"); raw != "" {
		params.Source = &raw
	}
	if raw := q.Get("user_id"); raw != "" {
		uid, err := uuid.Parse(raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
			return
		}
		params.UserID = &uid
	}
	for key, dst := range map[string]**time.Time{"after": &params.After, "before": &params.Before} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + key + " timestamp"})
				return
			}
			*dst = &t
		}
	}

	if h.pool == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []Record{}, "count": 0})
		return
	}

	var records []Record
	err = tenancy.WithScope(r.Context(), h.pool, scope, func(ctx context.Context, q database.Querier) error {
		var listErr error
		records, listErr = h.store.ListEvents(ctx, q, params)
		return listErr
	})
	if err != nil {
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"events": records, "count": len(records)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package admin serves the cross-tenant admin portal reports.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// TenantCatalog lists every tenant id.
type TenantCatalog interface {
	IDs(ctx context.Context) ([]string, error)
}

// CatalogFunc adapts a function to TenantCatalog.
type CatalogFunc func(ctx context.Context) ([]string, error)

func (f CatalogFunc) IDs(ctx context.Context) ([]string, error) { return f(ctx) }

// CustomerCounter counts customers per tenant within a scope.
type CustomerCounter interface {
	CountByTenant(ctx context.Context, scope tenancy.Scope, tenantIDs []string) (map[string]int, error)
}

type Handler struct {
	catalog TenantCatalog
	counter CustomerCounter
}

func NewHandler(catalog TenantCatalog, counter CustomerCounter) *Handler {
	return &Handler{catalog: catalog, counter: counter}
}

type TenantMetrics struct {
	TenantID      string `json:"tenant_id"`
	CustomerCount int    `json:"customer_count"`
}

type metricsResponse struct {
	Tenants        []TenantMetrics `json:"tenants"`
	TotalCustomers int             `json:"total_customers"`
}

// HandleTenantMetrics reports customer counts for the requested tenants
// the caller may see, or for every visible tenant when none are named.
// Tenants outside the caller's scope are dropped, not refused.
// GET /api/v1/admin/metrics/tenants?tenant_id=a&tenant_id=b
func (h *Handler) HandleTenantMetrics(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	requested := r.URL.Query()["tenant_id"]
	for _, id := range requested {
		if _, err := uuid.Parse(id); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant_id " + id})
			return
		}
	}

	var catalog []string
	if scope.Unrestricted && scope.Authorized == nil {
		var err error
		catalog, err = h.catalog.IDs(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing tenants failed"})
			return
		}
	}

	ids := tenancy.IntersectTenants(scope, requested, catalog)
	resp := metricsResponse{Tenants: []TenantMetrics{}}
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	counts, err := h.counter.CountByTenant(r.Context(), scope, ids)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "counting customers failed"})
		return
	}

	slices.Sort(ids)
	for _, id := range ids {
		n, ok := counts[id]
		if !ok {
			continue
		}
		resp.Tenants = append(resp.Tenants, TenantMetrics{TenantID: id, CustomerCount: n})
		resp.TotalCustomers += n
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

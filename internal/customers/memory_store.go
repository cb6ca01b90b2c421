package customers

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// MemoryStore is an in-process Repository used when no database is
// configured.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]Customer
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{customers: make(map[string]Customer), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, scope tenancy.Scope, tenantID string, in NewCustomer) (*Customer, error) {
	if err := scope.Authorize(tenantID); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := Customer{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      in.Name,
		Email:     in.Email,
		Status:    in.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.customers[c.ID] = c
	s.mu.Unlock()
	return &c, nil
}

func (s *MemoryStore) Get(_ context.Context, scope tenancy.Scope, id string) (*Customer, error) {
	s.mu.RLock()
	c, ok := s.customers[id]
	s.mu.RUnlock()
	if !ok || scope.Authorize(c.TenantID) != nil {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context, scope tenancy.Scope, p ListParams) ([]Customer, error) {
	s.mu.RLock()
	out := []Customer{}
	for _, c := range s.customers {
		if scope.Authorize(c.TenantID) != nil {
			continue
		}
		if p.Status != "" && c.Status != p.Status {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByTenant(_ context.Context, scope tenancy.Scope, tenantIDs []string) (map[string]int, error) {
	ids := admitted(scope, tenantIDs)
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id] = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.customers {
		if _, ok := counts[c.TenantID]; ok {
			counts[c.TenantID]++
		}
	}
	return counts, nil
}

// Tenants lists the tenants that own at least one customer. It stands in
// for the tenant catalog when no database is configured.
func (s *MemoryStore) Tenants(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, c := range s.customers {
		if !slices.Contains(ids, c.TenantID) {
			ids = append(ids, c.TenantID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

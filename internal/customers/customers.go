// Package customers holds the CRM customer records every tenant owns.
// Every read and write takes the request's tenancy.Scope.
package customers

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/apperr"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

var (
	ErrCustomerNotFound = fmt.Errorf("customer %w", apperr.ErrNotFound)
	ErrInvalidCustomer  = fmt.Errorf("%w: invalid customer", apperr.ErrValidation)
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

type Customer struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCustomer is the input to Create.
type NewCustomer struct {
	Name   string
	Email  string
	Status string
}

func (n *NewCustomer) normalize() error {
	if n.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCustomer)
	}
	switch n.Status {
	case "":
		n.Status = StatusActive
	case StatusActive, StatusArchived:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCustomer, n.Status)
	}
	return nil
}

// ListParams filters List. Limit <= 0 means the default page size.
type ListParams struct {
	Status string
	Limit  int
}

const defaultLimit = 50

// Repository is the customer store as seen by handlers and the admin
// portal.
type Repository interface {
	Create(ctx context.Context, scope tenancy.Scope, tenantID string, in NewCustomer) (*Customer, error)
	Get(ctx context.Context, scope tenancy.Scope, id string) (*Customer, error)
	List(ctx context.Context, scope tenancy.Scope, p ListParams) ([]Customer, error)
	// CountByTenant returns the customer count of each requested tenant
	// the scope admits. Tenants without customers count zero.
	CountByTenant(ctx context.Context, scope tenancy.Scope, tenantIDs []string) (map[string]int, error)
}

// admitted returns the subset of tenantIDs scope may read.
func admitted(scope tenancy.Scope, tenantIDs []string) []string {
	out := make([]string, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		if scope.Authorize(id) == nil {
			out = append(out, id)
		}
	}
	return out
}

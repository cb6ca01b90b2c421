package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// Store is the Postgres Repository. Queries run on a connection whose RLS
// settings match the scope and also carry the scope's SQL filter.
type Store struct {
	pool *database.Pool
}

func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool}
}

const customerColumns = "id, tenant_id, name, email, status, created_at, updated_at"

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Create(ctx context.Context, scope tenancy.Scope, tenantID string, in NewCustomer) (*Customer, error) {
	if err := scope.Authorize(tenantID); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var c *Customer
	err := database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		c, scanErr = scanCustomer(q.QueryRow(ctx,
			`INSERT INTO customers (tenant_id, name, email, status)
			 VALUES (current_setting('app.current_tenant_id', true)::UUID, $1, $2, $3)
			 RETURNING `+customerColumns,
			in.Name, in.Email, in.Status,
		))
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("creating customer: %w", err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, scope tenancy.Scope, id string) (*Customer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrCustomerNotFound
	}

	filter, args := scope.Filter("tenant_id", 2)
	var c *Customer
	err := tenancy.WithScope(ctx, s.pool, scope, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		c, scanErr = scanCustomer(q.QueryRow(ctx,
			"SELECT "+customerColumns+" FROM customers WHERE id = $1"+filter,
			append([]any{id}, args...)...,
		))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("getting customer: %w", err)
	}
	return c, nil
}

func (s *Store) List(ctx context.Context, scope tenancy.Scope, p ListParams) ([]Customer, error) {
	sql, args := buildListQuery(scope, p)

	customers := []Customer{}
	err := tenancy.WithScope(ctx, s.pool, scope, func(ctx context.Context, q database.Querier) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCustomer(rows)
			if err != nil {
				return fmt.Errorf("scanning customer: %w", err)
			}
			customers = append(customers, *c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	return customers, nil
}

func buildListQuery(scope tenancy.Scope, p ListParams) (string, []any) {
	where := "WHERE true"
	var args []any
	argN := 1

	if clause, scopeArgs := scope.Filter("tenant_id", argN); clause != "" {
		where += clause
		args = append(args, scopeArgs...)
		argN += len(scopeArgs)
	}
	if p.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, p.Status)
		argN++
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args = append(args, limit)

	return fmt.Sprintf("SELECT %s FROM customers %s ORDER BY created_at, id LIMIT $%d", customerColumns, where, argN), args
}

func (s *Store) CountByTenant(ctx context.Context, scope tenancy.Scope, tenantIDs []string) (map[string]int, error) {
	ids := admitted(scope, tenantIDs)
	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	for _, id := range ids {
		counts[id] = 0
	}

	filter, filterArgs := scope.Filter("tenant_id", 2)
	err := tenancy.WithScope(ctx, s.pool, scope, func(ctx context.Context, q database.Querier) error {
		rows, err := q.Query(ctx,
			`SELECT tenant_id::text, count(*) FROM customers
			 WHERE tenant_id = ANY($1::uuid[])`+filter+`
			 GROUP BY tenant_id`,
			append([]any{ids}, filterArgs...)...,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				tenantID string
				n        int
			)
			if err := rows.Scan(&tenantID, &n); err != nil {
				return fmt.Errorf("scanning count: %w", err)
			}
			counts[tenantID] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("counting customers: %w", err)
	}
	return counts, nil
}

package tenancy

import (
	"context"

	"github.com/meridian-crm/meridian/internal/platform/database"
)

// WithScope runs fn on a connection whose RLS settings match s: pinned to
// s.TenantID, or platform-wide for an unrestricted scope. Queries still
// append Filter, so an authorized subset is enforced in SQL.
func WithScope(ctx context.Context, pool *database.Pool, s Scope, fn func(ctx context.Context, q database.Querier) error) error {
	if s.Unrestricted {
		return database.WithPlatformConnection(ctx, pool, fn)
	}
	return database.WithTenantConnection(ctx, pool, s.TenantID, fn)
}

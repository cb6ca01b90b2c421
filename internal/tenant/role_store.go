package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

// RoleRepository persists custom roles. Every method is scoped to one
// tenant; ids of other tenants' roles are not found.
type RoleRepository interface {
	Create(ctx context.Context, tenantID, name string, permissions []string) (*Role, error)
	GetByID(ctx context.Context, tenantID, id string) (*Role, error)
	GetByName(ctx context.Context, tenantID, name string) (*Role, error)
	List(ctx context.Context, tenantID string) ([]Role, error)
	Update(ctx context.Context, tenantID, id, name string, permissions []string) (*Role, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// RoleStore is the Postgres RoleRepository. Queries run on a connection
// pinned to the tenant so RLS applies.
type RoleStore struct {
	pool *database.Pool
}

// NewRoleStore creates a new role store.
func NewRoleStore(pool *database.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

const roleColumns = "id, tenant_id, name, permissions, created_at, updated_at"

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	var permBytes []byte
	if err := row.Scan(&role.ID, &role.TenantID, &role.Name, &permBytes, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permBytes, &role.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshaling permissions: %w", err)
	}
	return &role, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *RoleStore) Create(ctx context.Context, tenantID, name string, permissions []string) (*Role, error) {
	permJSON, err := json.Marshal(permissions)
	if err != nil {
		return nil, fmt.Errorf("marshaling permissions: %w", err)
	}

	var role *Role
	err = database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		role, scanErr = scanRole(q.QueryRow(ctx,
			`INSERT INTO roles (tenant_id, name, permissions)
			 VALUES ($1, $2, $3)
			 RETURNING `+roleColumns,
			tenantID, name, permJSON,
		))
		return scanErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrRoleDuplicate, name)
		}
		return nil, fmt.Errorf("creating role: %w", err)
	}
	return role, nil
}

func (s *RoleStore) GetByID(ctx context.Context, tenantID, id string) (*Role, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRoleNotFound
	}
	return s.getOne(ctx, tenantID, "id = $2", id)
}

func (s *RoleStore) GetByName(ctx context.Context, tenantID, name string) (*Role, error) {
	return s.getOne(ctx, tenantID, "lower(name) = lower($2)", name)
}

func (s *RoleStore) getOne(ctx context.Context, tenantID, cond string, arg any) (*Role, error) {
	var role *Role
	err := database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		role, scanErr = scanRole(q.QueryRow(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND `+cond,
			tenantID, arg,
		))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("getting role: %w", err)
	}
	return role, nil
}

func (s *RoleStore) List(ctx context.Context, tenantID string) ([]Role, error) {
	var roles []Role
	err := database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		rows, err := q.Query(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 ORDER BY lower(name)`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			role, err := scanRole(rows)
			if err != nil {
				return fmt.Errorf("scanning role: %w", err)
			}
			roles = append(roles, *role)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	return roles, nil
}

func (s *RoleStore) Update(ctx context.Context, tenantID, id, name string, permissions []string) (*Role, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRoleNotFound
	}
	permJSON, err := json.Marshal(permissions)
	if err != nil {
		return nil, fmt.Errorf("marshaling permissions: %w", err)
	}

	var role *Role
	err = database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		role, scanErr = scanRole(q.QueryRow(ctx,
			`UPDATE roles SET name = $3, permissions = $4, updated_at = now()
			 WHERE tenant_id = $1 AND id = $2
			 RETURNING `+roleColumns,
			tenantID, id, name, permJSON,
		))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrRoleDuplicate, name)
		}
		return nil, fmt.Errorf("updating role: %w", err)
	}
	return role, nil
}

// Delete removes a custom role. Roles still assigned to users are kept.
func (s *RoleStore) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrRoleNotFound
	}
	return database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var assigned int
		err := q.QueryRow(ctx,
			`SELECT COUNT(*) FROM users u
			 JOIN roles r ON r.tenant_id = u.tenant_id AND lower(r.name) = lower(u.role)
			 WHERE r.tenant_id = $1 AND r.id = $2`,
			tenantID, id,
		).Scan(&assigned)
		if err != nil {
			return fmt.Errorf("counting role assignments: %w", err)
		}
		if assigned > 0 {
			return ErrRoleHasUsers
		}

		tag, err := q.Exec(ctx, "DELETE FROM roles WHERE tenant_id = $1 AND id = $2", tenantID, id)
		if err != nil {
			return fmt.Errorf("deleting role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRoleNotFound
		}
		return nil
	})
}

// MemoryRoleStore is an in-process RoleRepository used when no database
// is configured and in tests.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]Role // id → role
	now   func() time.Time
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]Role), now: time.Now}
}

func (s *MemoryRoleStore) nameTakenLocked(tenantID, name, exceptID string) bool {
	for id, r := range s.roles {
		if id != exceptID && r.TenantID == tenantID && strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

func (s *MemoryRoleStore) Create(_ context.Context, tenantID, name string, permissions []string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTakenLocked(tenantID, name, "") {
		return nil, fmt.Errorf("%w: %s", ErrRoleDuplicate, name)
	}
	now := s.now()
	role := Role{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		Permissions: slices.Clone(permissions),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.roles[role.ID] = role
	return cloneRole(role), nil
}

func (s *MemoryRoleStore) GetByID(_ context.Context, tenantID, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok || r.TenantID != tenantID {
		return nil, ErrRoleNotFound
	}
	return cloneRole(r), nil
}

func (s *MemoryRoleStore) GetByName(_ context.Context, tenantID, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.roles {
		if r.TenantID == tenantID && strings.EqualFold(r.Name, name) {
			return cloneRole(r), nil
		}
	}
	return nil, ErrRoleNotFound
}

func (s *MemoryRoleStore) List(_ context.Context, tenantID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roles []Role
	for _, r := range s.roles {
		if r.TenantID == tenantID {
			roles = append(roles, *cloneRole(r))
		}
	}
	sort.Slice(roles, func(i, j int) bool {
		return strings.ToLower(roles[i].Name) < strings.ToLower(roles[j].Name)
	})
	return roles, nil
}

func (s *MemoryRoleStore) Update(_ context.Context, tenantID, id, name string, permissions []string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok || r.TenantID != tenantID {
		return nil, ErrRoleNotFound
	}
	if s.nameTakenLocked(tenantID, name, id) {
		return nil, fmt.Errorf("%w: %s", ErrRoleDuplicate, name)
	}
	r.Name = name
	r.Permissions = slices.Clone(permissions)
	r.UpdatedAt = s.now()
	s.roles[id] = r
	return cloneRole(r), nil
}

func (s *MemoryRoleStore) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok || r.TenantID != tenantID {
		return ErrRoleNotFound
	}
	delete(s.roles, id)
	return nil
}

func cloneRole(r Role) *Role {
	r.Permissions = slices.Clone(r.Permissions)
	return &r
}

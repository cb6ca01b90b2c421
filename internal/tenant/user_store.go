package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

// UserRepository is the tenant user directory.
type UserRepository interface {
	Create(ctx context.Context, tenantID, email, displayName, role string) (*User, error)
	GetByID(ctx context.Context, tenantID, id string) (*User, error)
	List(ctx context.Context, tenantID string) ([]User, error)
	UpdateRole(ctx context.Context, tenantID, id, role string) (*User, error)
	// TenantOf returns the tenant a user belongs to, across all tenants.
	TenantOf(ctx context.Context, userID string) (string, error)
}

// UserStore handles user database operations within a tenant.
type UserStore struct {
	pool *database.Pool
}

// NewUserStore creates a new user store.
func NewUserStore(pool *database.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = "id, tenant_id, email, display_name, role, created_at"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.DisplayName, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. The tenant_id is read from the RLS session variable.
func (s *UserStore) Create(ctx context.Context, tenantID, email, displayName, role string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	var user *User
	err := database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		user, scanErr = scanUser(q.QueryRow(ctx,
			`INSERT INTO users (tenant_id, email, display_name, role)
			 VALUES (current_setting('app.current_tenant_id', true)::UUID, $1, $2, $3)
			 RETURNING `+userColumns,
			email, displayName, role,
		))
		return scanErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrEmailDuplicate, email)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID. RLS ensures tenant isolation.
func (s *UserStore) GetByID(ctx context.Context, tenantID, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}

	var user *User
	err := database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		user, scanErr = scanUser(q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// List returns all users visible through RLS (current tenant).
func (s *UserStore) List(ctx context.Context, tenantID string) ([]User, error) {
	var users []User
	err := database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		rows, err := q.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return fmt.Errorf("scanning user: %w", err)
			}
			users = append(users, *u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// UpdateRole assigns role to a user.
func (s *UserStore) UpdateRole(ctx context.Context, tenantID, id, role string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}

	var user *User
	err := database.WithTenantConnection(ctx, s.pool, tenantID, func(ctx context.Context, q database.Querier) error {
		var scanErr error
		user, scanErr = scanUser(q.QueryRow(ctx,
			"UPDATE users SET role = $2 WHERE id = $1 RETURNING "+userColumns,
			id, role,
		))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("updating user role: %w", err)
	}
	return user, nil
}

// TenantOf looks the user up with platform scope, since the caller is a
// super-admin not yet pinned to any tenant.
func (s *UserStore) TenantOf(ctx context.Context, userID string) (string, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return "", ErrUserNotFound
	}

	var tenantID string
	err := database.WithPlatformConnection(ctx, s.pool, func(ctx context.Context, q database.Querier) error {
		return q.QueryRow(ctx, "SELECT tenant_id::text FROM users WHERE id = $1", userID).Scan(&tenantID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("looking up user tenant: %w", err)
	}
	return tenantID, nil
}

// MemoryUserStore is an in-process UserRepository used when no database
// is configured and in tests.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
	now   func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User), now: time.Now}
}

func (s *MemoryUserStore) Create(_ context.Context, tenantID, email, displayName, role string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.TenantID == tenantID && strings.EqualFold(u.Email, email) {
			return nil, fmt.Errorf("%w: %s", ErrEmailDuplicate, email)
		}
	}
	u := User{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		CreatedAt:   s.now(),
	}
	s.users[u.ID] = u
	return &u, nil
}

func (s *MemoryUserStore) GetByID(_ context.Context, tenantID, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) List(_ context.Context, tenantID string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []User
	for _, u := range s.users {
		if u.TenantID == tenantID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *MemoryUserStore) UpdateRole(_ context.Context, tenantID, id, role string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, ErrUserNotFound
	}
	u.Role = role
	s.users[id] = u
	return &u, nil
}

func (s *MemoryUserStore) TenantOf(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return u.TenantID, nil
}

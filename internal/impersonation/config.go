package impersonation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meridian-crm/meridian/internal/platform/apperr"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

var ErrInvalidConfig = fmt.Errorf("%w: invalid rate limit config", apperr.ErrValidation)

// Config is the global rate-limit policy. It applies to every tenant.
type Config struct {
	MaxImpersonationsPerHour  int       `json:"max_impersonations_per_hour" validate:"min=1,max=1000"`
	MaxConcurrentSessions     int       `json:"max_concurrent_sessions" validate:"min=1,max=100"`
	MaxSessionDurationMinutes int       `json:"max_session_duration_minutes" validate:"min=1,max=1440"`
	Enabled                   bool      `json:"enabled"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// DefaultConfig is the policy used until a super-admin stores one.
func DefaultConfig() Config {
	return Config{
		MaxImpersonationsPerHour:  10,
		MaxConcurrentSessions:     5,
		MaxSessionDurationMinutes: 30,
		Enabled:                   true,
	}
}

// Limits returns the maxima of c.
func (c Config) Limits() Limits {
	return Limits{
		MaxImpersonationsPerHour:  c.MaxImpersonationsPerHour,
		MaxConcurrentSessions:     c.MaxConcurrentSessions,
		MaxSessionDurationMinutes: c.MaxSessionDurationMinutes,
	}
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	switch {
	case c.MaxImpersonationsPerHour < 1:
		return fmt.Errorf("%w: max_impersonations_per_hour must be positive", ErrInvalidConfig)
	case c.MaxConcurrentSessions < 1:
		return fmt.Errorf("%w: max_concurrent_sessions must be positive", ErrInvalidConfig)
	case c.MaxSessionDurationMinutes < 1:
		return fmt.Errorf("%w: max_session_duration_minutes must be positive", ErrInvalidConfig)
	}
	return nil
}

// ConfigStore persists the rate-limit policy.
type ConfigStore interface {
	GetRateLimitConfig(ctx context.Context) (Config, error)
	PutRateLimitConfig(ctx context.Context, cfg Config) (Config, error)
}

// PGConfigStore keeps the policy in the single-row rate_limit_config table.
type PGConfigStore struct {
	pool     *database.Pool
	defaults Config
}

// NewPGConfigStore returns a store answering defaults until a row exists.
func NewPGConfigStore(pool *database.Pool, defaults Config) *PGConfigStore {
	return &PGConfigStore{pool: pool, defaults: defaults}
}

func (s *PGConfigStore) GetRateLimitConfig(ctx context.Context) (Config, error) {
	var c Config
	err := s.pool.QueryRow(ctx,
		`SELECT max_impersonations_per_hour, max_concurrent_sessions,
		        max_session_duration_minutes, enabled, updated_at
		 FROM rate_limit_config WHERE singleton`,
	).Scan(&c.MaxImpersonationsPerHour, &c.MaxConcurrentSessions, &c.MaxSessionDurationMinutes, &c.Enabled, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.defaults, nil
		}
		return Config{}, fmt.Errorf("reading rate limit config: %w", err)
	}
	return c, nil
}

func (s *PGConfigStore) PutRateLimitConfig(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO rate_limit_config
		   (singleton, max_impersonations_per_hour, max_concurrent_sessions, max_session_duration_minutes, enabled, updated_at)
		 VALUES (true, $1, $2, $3, $4, now())
		 ON CONFLICT (singleton) DO UPDATE SET
		   max_impersonations_per_hour = EXCLUDED.max_impersonations_per_hour,
		   max_concurrent_sessions = EXCLUDED.max_concurrent_sessions,
		   max_session_duration_minutes = EXCLUDED.max_session_duration_minutes,
		   enabled = EXCLUDED.enabled,
		   updated_at = EXCLUDED.updated_at
		 RETURNING updated_at`,
		cfg.MaxImpersonationsPerHour, cfg.MaxConcurrentSessions, cfg.MaxSessionDurationMinutes, cfg.Enabled,
	).Scan(&cfg.UpdatedAt)
	if err != nil {
		return Config{}, fmt.Errorf("storing rate limit config: %w", err)
	}
	return cfg, nil
}

// MemoryConfigStore is an in-process ConfigStore.
type MemoryConfigStore struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time
}

func NewMemoryConfigStore(defaults Config) *MemoryConfigStore {
	return &MemoryConfigStore{cfg: defaults, now: time.Now}
}

func (s *MemoryConfigStore) GetRateLimitConfig(context.Context) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, nil
}

func (s *MemoryConfigStore) PutRateLimitConfig(_ context.Context, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = s.now()
	s.cfg = cfg
	return cfg, nil
}

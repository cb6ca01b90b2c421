package impersonation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

// Store is the session log.
type Store interface {
	// ListSessionsForAdmin returns the admin's sessions started at or after
	// since plus every session still open. A zero since returns the full
	// history.
	ListSessionsForAdmin(ctx context.Context, adminID string, since time.Time) ([]Session, error)
	// LongestEndedSession returns the longest duration among the admin's
	// ended sessions, zero when none has ended.
	LongestEndedSession(ctx context.Context, adminID string) (time.Duration, error)
	InsertSession(ctx context.Context, s Session) (*Session, error)
	// MarkSessionEnded sets endedAt once. A second call fails with
	// ErrSessionEnded.
	MarkSessionEnded(ctx context.Context, sessionID string, endedAt time.Time) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
	// WithAdminLock runs fn with every other WithAdminLock call for the
	// same admin excluded. fn must use the Store it is given.
	WithAdminLock(ctx context.Context, adminID string, fn func(ctx context.Context, s Store) error) error
}

const lockNamespace = "impersonation"

// PGStore is the Postgres session log. Admission runs in a transaction
// holding an advisory lock on the admin id.
type PGStore struct {
	pool   *database.Pool
	q      database.Querier
	locked bool
}

// NewPGStore creates a new session store.
func NewPGStore(pool *database.Pool) *PGStore {
	return &PGStore{pool: pool, q: pool}
}

const sessionColumns = "id, super_admin_id, impersonated_user_id, tenant_id, started_at, ended_at, reason"

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.SuperAdminID, &s.ImpersonatedUserID, &s.TenantID, &s.StartedAt, &s.EndedAt, &s.Reason); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *PGStore) listSessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *PGStore) ListSessionsForAdmin(ctx context.Context, adminID string, since time.Time) ([]Session, error) {
	var (
		sessions []Session
		err      error
	)
	if since.IsZero() {
		sessions, err = s.listSessions(ctx,
			"SELECT "+sessionColumns+" FROM impersonation_sessions WHERE super_admin_id = $1 ORDER BY started_at",
			adminID)
	} else {
		sessions, err = s.listSessions(ctx,
			`SELECT `+sessionColumns+` FROM impersonation_sessions
			 WHERE super_admin_id = $1 AND (started_at >= $2 OR ended_at IS NULL)
			 ORDER BY started_at`,
			adminID, since)
	}
	if err != nil {
		return nil, fmt.Errorf("listing sessions for admin: %w", err)
	}
	return sessions, nil
}

func (s *PGStore) LongestEndedSession(ctx context.Context, adminID string) (time.Duration, error) {
	var micros int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(MAX((EXTRACT(EPOCH FROM ended_at - started_at) * 1000000)::bigint), 0)
		 FROM impersonation_sessions
		 WHERE super_admin_id = $1 AND ended_at IS NOT NULL`,
		adminID,
	).Scan(&micros)
	if err != nil {
		return 0, fmt.Errorf("reading longest session: %w", err)
	}
	return time.Duration(micros) * time.Microsecond, nil
}

func (s *PGStore) InsertSession(ctx context.Context, sess Session) (*Session, error) {
	created, err := scanSession(s.q.QueryRow(ctx,
		`INSERT INTO impersonation_sessions (super_admin_id, impersonated_user_id, tenant_id, started_at, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+sessionColumns,
		sess.SuperAdminID, sess.ImpersonatedUserID, sess.TenantID, sess.StartedAt, sess.Reason,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return created, nil
}

func (s *PGStore) MarkSessionEnded(ctx context.Context, sessionID string, endedAt time.Time) (*Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrSessionNotFound
	}

	sess, err := scanSession(s.q.QueryRow(ctx,
		`UPDATE impersonation_sessions SET ended_at = $2
		 WHERE id = $1 AND ended_at IS NULL
		 RETURNING `+sessionColumns,
		sessionID, endedAt,
	))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ending session: %w", err)
	}

	if _, getErr := s.GetSession(ctx, sessionID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrSessionEnded
}

func (s *PGStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrSessionNotFound
	}

	sess, err := scanSession(s.q.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM impersonation_sessions WHERE id = $1", sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

func (s *PGStore) ListActiveSessions(ctx context.Context) ([]Session, error) {
	sessions, err := s.listSessions(ctx,
		"SELECT "+sessionColumns+" FROM impersonation_sessions WHERE ended_at IS NULL ORDER BY started_at")
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	return sessions, nil
}

func (s *PGStore) WithAdminLock(ctx context.Context, adminID string, fn func(ctx context.Context, s Store) error) error {
	if s.locked {
		return fn(ctx, s)
	}
	return database.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, lockNamespace, adminID); err != nil {
			return err
		}
		return fn(ctx, &PGStore{pool: s.pool, q: tx, locked: true})
	})
}

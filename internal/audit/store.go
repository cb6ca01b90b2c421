package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/tenancy"
)

// Record is a persisted audit event.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     *uuid.UUID      `json:"tenant_id"`
	UserID       *uuid.UUID      `json:"user_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *uuid.UUID      `json:"resource_id"`
	Metadata     json.RawMessage `json:"metadata"`
	Source       string          `json:"source"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

// PoolWriter flushes batches through a platform-scoped connection, since
// one batch may span tenants.
type PoolWriter struct {
	pool  *database.Pool
	store *Store
}

func NewPoolWriter(pool *database.Pool, store *Store) *PoolWriter {
	return &PoolWriter{pool: pool, store: store}
}

func (w *PoolWriter) WriteBatch(ctx context.Context, events []Event) error {
	return database.WithPlatformConnection(ctx, w.pool, func(ctx context.Context, q database.Querier) error {
		return w.store.InsertBatch(ctx, q, events)
	})
}

func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(tenant_id, user_id, action, resource_type, resource_id, metadata, source)"
	var placeholders []string
	var args []any

	for i, e := range events {
		base := i * 7
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))

		var metaJSON []byte
		var err error
		if e.Metadata != nil {
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		source := e.Source
		if source == "" {
			source = "api"
		}
		args = append(args, e.TenantID, e.UserID, e.Action, e.ResourceType, e.ResourceID, metaJSON, source)
	}

	sql := fmt.Sprintf("INSERT INTO audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

// ListEventsParams defines filters for querying audit events. Scope is
// always applied.
type ListEventsParams struct {
	Scope        tenancy.Scope
	Action       *string
	ResourceType *string
	UserID       *uuid.UUID
	Source       *string
	After        *time.Time
	Before       *time.Time
	Limit        int
}

// ListEvents returns events matching p, newest first.
func (s *Store) ListEvents(ctx context.Context, db database.Querier, p ListEventsParams) ([]Record, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec     Record
			resType *string
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.UserID, &rec.Action, &resType,
			&rec.ResourceID, &rec.Metadata, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		if resType != nil {
			rec.ResourceType = *resType
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func buildListQuery(p ListEventsParams) (string, []any) {
	var where strings.Builder
	var args []any
	argN := 1

	where.WriteString("WHERE true")
	if clause, scopeArgs := p.Scope.Filter("tenant_id", argN); clause != "" {
		where.WriteString(clause)
		args = append(args, scopeArgs...)
		argN += len(scopeArgs)
	}

	add := func(cond string, v any) {
		fmt.Fprintf(&where, " AND "+cond, argN)
		args = append(args, v)
		argN++
	}
	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ResourceType != nil {
		add("resource_type = $%d", *p.ResourceType)
	}
	if p.UserID != nil {
		add("user_id = $%d", *p.UserID)
	}
	if p.Source != nil {
		add("source = $%d", *p.Source)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	sql := fmt.Sprintf(
		`SELECT id, tenant_id, user_id, action, resource_type, resource_id, metadata, source, created_at
		FROM audit_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d`,
		where.String(), argN,
	)
	args = append(args, p.Limit)

	return sql, args
}

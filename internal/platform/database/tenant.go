package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier abstracts pgx query methods so callers can work with both
// pool connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithTenantConnection acquires a dedicated connection from the pool,
// sets the Postgres session variable for RLS, then calls fn.
// The tenant context is reset before the connection is released back
// to the pool, preventing cross-tenant data leaks via connection reuse.
func WithTenantConnection(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context, q Querier) error) error {
	return withSessionSettings(ctx, pool, map[string]string{
		"app.current_tenant_id": tenantID,
		"app.platform_scope":    "off",
	}, fn)
}

// WithPlatformConnection is WithTenantConnection for unrestricted
// super-admin scope: RLS policies admit every tenant's rows. Callers must
// have resolved an unrestricted scope before using it.
func WithPlatformConnection(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, q Querier) error) error {
	return withSessionSettings(ctx, pool, map[string]string{
		"app.current_tenant_id": "",
		"app.platform_scope":    "on",
	}, fn)
}

func withSessionSettings(ctx context.Context, pool *pgxpool.Pool, settings map[string]string, fn func(ctx context.Context, q Querier) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() {
		// Use background context since the request context may be canceled.
		_, _ = conn.Exec(context.Background(),
			"SELECT set_config('app.current_tenant_id', '', false), set_config('app.platform_scope', 'off', false)")
		conn.Release()
	}()

	for key, value := range settings {
		if _, err := conn.Exec(ctx, "SELECT set_config($1, $2, false)", key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}

	return fn(ctx, conn)
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AdvisoryXactLock takes a transaction-scoped advisory lock keyed by the
// hash of key. It blocks until the lock is free and is released on
// commit or rollback.
func AdvisoryXactLock(ctx context.Context, tx pgx.Tx, namespace, key string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))", namespace, key); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", err)
	}
	return nil
}

// Package audit appends route lifecycle transitions to an optional
// Postgres audit log: a *sql.DB opened against a DSN, parameterized
// INSERT statements, context-bound queries. Every transition is its own
// row with no natural conflict key to upsert against, so Record is a
// plain append.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/flowctl/flowctl/pkg/ferrors"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS flowctl_route_audit (
	id         BIGSERIAL PRIMARY KEY,
	route      TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
)`

const insertSQL = `
INSERT INTO flowctl_route_audit (route, from_state, to_state, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5)`

// Writer appends route state transitions to Postgres. A nil Writer (or one
// built from an empty DSN) is a safe no-op, since the audit DSN setting is
// optional.
type Writer struct {
	db *sql.DB
}

// Open connects to dsn and ensures the audit table exists. An empty dsn
// returns a nil *Writer and no error: the caller treats that as "audit
// disabled" via Writer.Record's nil-receiver handling.
func Open(dsn string) (*Writer, error) {
	if dsn == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, ferrors.Config("audit.open", fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ferrors.Config("audit.open", fmt.Errorf("ping database: %w", err))
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, ferrors.Config("audit.open", fmt.Errorf("ensure schema: %w", err))
	}

	return &Writer{db: db}, nil
}

// Record appends one transition. A nil Writer is a no-op so callers never
// need to branch on whether auditing is enabled.
func (w *Writer) Record(ctx context.Context, route, fromState, toState, reason string) error {
	if w == nil || w.db == nil {
		return nil
	}
	_, err := w.db.ExecContext(ctx, insertSQL, route, fromState, toState, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("audit: record transition for %q: %w", route, err)
	}
	return nil
}

// Close releases the underlying connection pool. A nil Writer is a no-op.
func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Copyright 2026 © The Enterprise MCP Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists invocation records for auditing and usage
// reporting. Recording happens on the dispatch path, so implementations
// must be cheap and must never block a call on durability.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Invocation is one completed dispatch, successful or not.
type Invocation struct {
	ID         string
	Role       string
	Capability string
	Backend    string
	Outcome    string // "ok" or the error kind
	Duration   time.Duration
	CreatedAt  time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Role    string
	Backend string
	Outcome string
	Limit   int
}

// Usage is the per-backend rollup returned by Summary.
type Usage struct {
	Backend     string
	Invocations int64
	Errors      int64
}

// InvocationRecorder is what the dispatcher depends on. The gateway
// runs with a no-op recorder when persistence is disabled.
type InvocationRecorder interface {
	RecordInvocation(ctx context.Context, inv Invocation) error
}

// NopRecorder discards every record.
type NopRecorder struct{}

func (NopRecorder) RecordInvocation(context.Context, Invocation) error { return nil }

// SQLiteStore persists invocations in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureInvocationSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// RecordInvocation stores a single invocation record.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv Invocation) error {
	created := inv.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (
			invocation_id, role, capability, backend, outcome, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID,
		inv.Role,
		inv.Capability,
		inv.Backend,
		inv.Outcome,
		inv.Duration.Milliseconds(),
		created.UTC(),
	)
	return err
}

// List returns invocations matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Invocation, error) {
	query := `
		SELECT invocation_id, role, capability, backend, outcome, duration_ms, created_at
		FROM invocations
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Role != "" {
		addFilter("role = ?", filter.Role)
	}
	if filter.Backend != "" {
		addFilter("backend = ?", filter.Backend)
	}
	if filter.Outcome != "" {
		addFilter("outcome = ?", filter.Outcome)
	}
	query += where + " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []Invocation
	for rows.Next() {
		var (
			inv        Invocation
			durationMS int64
			created    sql.NullTime
		)
		if err := rows.Scan(
			&inv.ID,
			&inv.Role,
			&inv.Capability,
			&inv.Backend,
			&inv.Outcome,
			&durationMS,
			&created,
		); err != nil {
			return nil, err
		}
		inv.Duration = time.Duration(durationMS) * time.Millisecond
		if created.Valid {
			inv.CreatedAt = created.Time
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invocations, nil
}

// Summary returns per-backend invocation and error counts.
func (s *SQLiteStore) Summary(ctx context.Context) ([]Usage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT backend,
		       COUNT(*),
		       SUM(CASE WHEN outcome != 'ok' THEN 1 ELSE 0 END)
		FROM invocations
		GROUP BY backend
		ORDER BY backend ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.Backend, &u.Invocations, &u.Errors); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usage, nil
}

func ensureInvocationSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS invocations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invocation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			capability TEXT NOT NULL,
			backend TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_invocations_backend ON invocations(backend);
		CREATE INDEX IF NOT EXISTS idx_invocations_role ON invocations(role);
		CREATE INDEX IF NOT EXISTS idx_invocations_outcome ON invocations(outcome);
	`)
	return err
}

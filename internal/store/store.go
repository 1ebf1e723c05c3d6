// Package store is the PostgreSQL persistence layer for the MindGraph
// pipeline: sessions, per-session state, transcripts, graph nodes and
// snapshots.
//
// Every public method is a single auto-commit unit of work against the
// connection pool; no transaction spans more than one event. Idempotent
// writes (session transitions, transcript and node inserts, snapshot
// upserts) report whether they took effect instead of failing on conflict —
// redelivered events collapse into a false return.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// db is the subset of pgxpool.Pool the store uses. Tests substitute a mock.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides all persistence operations. Safe for concurrent use; the
// pool handles connection management.
type Store struct {
	pool *pgxpool.Pool
	db   db
}

// New connects to the database at dsn, verifies the connection, and runs the
// schema migration.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{pool: pool, db: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// newWithDB wires a Store directly onto a db implementation. Test-only.
func newWithDB(d db) *Store {
	return &Store{db: d}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	var ok int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&ok); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

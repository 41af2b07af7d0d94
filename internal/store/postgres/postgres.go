// Package postgres is a PostgreSQL-backed [store.Store]. Each session is one
// row holding the full state as JSONB next to a version column used for
// optimistic concurrency.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/store"
)

// Schema is the SQL DDL for the assessment_sessions table. [Store.Migrate]
// applies it idempotently.
const Schema = `
CREATE TABLE IF NOT EXISTS assessment_sessions (
    assessment_id TEXT PRIMARY KEY,
    phase         TEXT NOT NULL,
    version       INTEGER NOT NULL,
    state         JSONB NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_assessment_sessions_phase ON assessment_sessions(phase);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ store.Store = (*Store)(nil)

// Store is a [store.Store] backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection or pool. The caller owns db and
// is responsible for calling [Store.Migrate].
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, st assessment.SessionState) (assessment.SessionState, error) {
	out, data, err := store.Encode(st, 1)
	if err != nil {
		return assessment.SessionState{}, err
	}
	const query = `
		INSERT INTO assessment_sessions (assessment_id, phase, version, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (assessment_id) DO NOTHING`
	tag, err := s.db.Exec(ctx, query, out.AssessmentID, string(out.Phase), out.Version, data)
	if err != nil {
		return assessment.SessionState{}, store.Fail("create", err)
	}
	if tag.RowsAffected() == 0 {
		return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrExists, out.AssessmentID)
	}
	return out, nil
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, id string) (assessment.SessionState, error) {
	const query = `SELECT state FROM assessment_sessions WHERE assessment_id = $1`
	var data []byte
	if err := s.db.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
		}
		return assessment.SessionState{}, store.Fail("load", err)
	}
	return store.Decode(data)
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, st assessment.SessionState) (assessment.SessionState, error) {
	out, data, err := store.Encode(st, st.Version+1)
	if err != nil {
		return assessment.SessionState{}, err
	}
	const query = `
		UPDATE assessment_sessions
		SET phase = $3, version = $4, state = $5, updated_at = now()
		WHERE assessment_id = $1 AND version = $2`
	tag, err := s.db.Exec(ctx, query, out.AssessmentID, st.Version, string(out.Phase), out.Version, data)
	if err != nil {
		return assessment.SessionState{}, store.Fail("save", err)
	}
	if tag.RowsAffected() == 1 {
		return out, nil
	}

	const probe = `SELECT version FROM assessment_sessions WHERE assessment_id = $1`
	var current int
	if err := s.db.QueryRow(ctx, probe, out.AssessmentID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrNotFound, out.AssessmentID)
		}
		return assessment.SessionState{}, store.Fail("save", err)
	}
	return assessment.SessionState{}, fmt.Errorf("%w: %q at version %d, saving %d", store.ErrVersionConflict, out.AssessmentID, current, st.Version)
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

// Close implements store.Store. It closes the pool only when New created it.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

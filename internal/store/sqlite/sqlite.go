// Package sqlite is a single-node [store.Store] on an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS assessment_sessions (
	assessment_id TEXT PRIMARY KEY,
	phase TEXT NOT NULL,
	version INTEGER NOT NULL,
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessment_sessions_phase ON assessment_sessions(phase);
`

var _ store.Store = (*Store)(nil)

// Store is a [store.Store] backed by SQLite.
type Store struct {
	db *sql.DB

	// Writes are serialised to avoid SQLITE_BUSY under concurrent turns.
	writeMu sync.Mutex
}

// New opens (creating if needed) the database file at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create database directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, st assessment.SessionState) (assessment.SessionState, error) {
	out, data, err := store.Encode(st, 1)
	if err != nil {
		return assessment.SessionState{}, err
	}
	now := time.Now().Unix()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assessment_sessions (assessment_id, phase, version, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(assessment_id) DO NOTHING`,
		out.AssessmentID, string(out.Phase), out.Version, string(data), now, now)
	if err != nil {
		return assessment.SessionState{}, store.Fail("create", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrExists, out.AssessmentID)
	}
	return out, nil
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, id string) (assessment.SessionState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM assessment_sessions WHERE assessment_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	if err != nil {
		return assessment.SessionState{}, store.Fail("load", err)
	}
	return store.Decode([]byte(data))
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, st assessment.SessionState) (assessment.SessionState, error) {
	out, data, err := store.Encode(st, st.Version+1)
	if err != nil {
		return assessment.SessionState{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return assessment.SessionState{}, store.Fail("save", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version FROM assessment_sessions WHERE assessment_id = ?`, out.AssessmentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrNotFound, out.AssessmentID)
	}
	if err != nil {
		return assessment.SessionState{}, store.Fail("save", err)
	}
	if current != st.Version {
		return assessment.SessionState{}, fmt.Errorf("%w: %q at version %d, saving %d", store.ErrVersionConflict, out.AssessmentID, current, st.Version)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE assessment_sessions SET phase = ?, version = ?, state = ?, updated_at = ?
		WHERE assessment_id = ?`,
		string(out.Phase), out.Version, string(data), time.Now().Unix(), out.AssessmentID); err != nil {
		return assessment.SessionState{}, store.Fail("save", err)
	}
	if err := tx.Commit(); err != nil {
		return assessment.SessionState{}, store.Fail("save", err)
	}
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

// Package memstore is an in-process [store.Store]. Records are kept as
// encoded JSON so callers never share memory with the store. Data does not
// survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/store"
)

var _ store.Store = (*Store)(nil)

type record struct {
	version int
	data    []byte
}

// Store is a map-backed store. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	records map[string]record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]record)}
}

// Create implements store.Store.
func (m *Store) Create(_ context.Context, s assessment.SessionState) (assessment.SessionState, error) {
	out, data, err := store.Encode(s, 1)
	if err != nil {
		return assessment.SessionState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.AssessmentID]; ok {
		return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrExists, s.AssessmentID)
	}
	m.records[s.AssessmentID] = record{version: 1, data: data}
	return out, nil
}

// Load implements store.Store.
func (m *Store) Load(_ context.Context, id string) (assessment.SessionState, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	return store.Decode(rec.data)
}

// Save implements store.Store.
func (m *Store) Save(_ context.Context, s assessment.SessionState) (assessment.SessionState, error) {
	out, data, err := store.Encode(s, s.Version+1)
	if err != nil {
		return assessment.SessionState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[s.AssessmentID]
	if !ok {
		return assessment.SessionState{}, fmt.Errorf("%w: %q", store.ErrNotFound, s.AssessmentID)
	}
	if rec.version != s.Version {
		return assessment.SessionState{}, fmt.Errorf("%w: %q at version %d, saving %d", store.ErrVersionConflict, s.AssessmentID, rec.version, s.Version)
	}
	m.records[s.AssessmentID] = record{version: out.Version, data: data}
	return out, nil
}

// Ping implements store.Store.
func (m *Store) Ping(context.Context) error { return nil }

// Close implements store.Store.
func (m *Store) Close() error { return nil }

// Len returns the number of stored sessions.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

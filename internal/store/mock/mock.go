// Package mock provides a scriptable in-memory [store.Store] for tests.
//
// Successful operations behave like memstore. Errors can be injected per
// operation, either permanently (LoadErr, SaveErr, CreateErr) or for the
// next N calls (SaveErrs), which is how save-retry paths are tested.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/store"
	"github.com/MrWong99/lexi/internal/store/memstore"
)

var _ store.Store = (*Store)(nil)

// Store is a mock implementation of store.Store.
type Store struct {
	mu    sync.Mutex
	inner *memstore.Store

	// CreateErr, LoadErr and SaveErr are returned by every call of the
	// matching operation when non-nil.
	CreateErr error
	LoadErr   error
	SaveErr   error

	// SaveErrs are returned by the next len(SaveErrs) Save calls, in order.
	SaveErrs []error

	// PingErr is returned by Ping.
	PingErr error

	// Saved records every state passed to a successful Save.
	Saved []assessment.SessionState

	CreateCalls int
	LoadCalls   int
	SaveCalls   int
}

// New returns an empty mock store.
func New() *Store { return &Store{inner: memstore.New()} }

// Create implements store.Store.
func (m *Store) Create(ctx context.Context, s assessment.SessionState) (assessment.SessionState, error) {
	m.mu.Lock()
	m.CreateCalls++
	err := m.CreateErr
	m.mu.Unlock()
	if err != nil {
		return assessment.SessionState{}, err
	}
	return m.inner.Create(ctx, s)
}

// Load implements store.Store.
func (m *Store) Load(ctx context.Context, id string) (assessment.SessionState, error) {
	m.mu.Lock()
	m.LoadCalls++
	err := m.LoadErr
	m.mu.Unlock()
	if err != nil {
		return assessment.SessionState{}, err
	}
	return m.inner.Load(ctx, id)
}

// Save implements store.Store.
func (m *Store) Save(ctx context.Context, s assessment.SessionState) (assessment.SessionState, error) {
	m.mu.Lock()
	m.SaveCalls++
	err := m.SaveErr
	if len(m.SaveErrs) > 0 {
		err, m.SaveErrs = m.SaveErrs[0], m.SaveErrs[1:]
	}
	m.mu.Unlock()
	if err != nil {
		return assessment.SessionState{}, err
	}
	out, err := m.inner.Save(ctx, s)
	if err == nil {
		m.mu.Lock()
		m.Saved = append(m.Saved, out.Clone())
		m.mu.Unlock()
	}
	return out, err
}

// Ping implements store.Store.
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

// Close implements store.Store.
func (m *Store) Close() error { return nil }

// SaveCount returns the number of Save calls, including failed ones.
func (m *Store) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SaveCalls
}

// SavedStates returns a copy of the successfully saved states.
func (m *Store) SavedStates() []assessment.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]assessment.SessionState(nil), m.Saved...)
}

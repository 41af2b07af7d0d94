// Package store persists assessment session state.
//
// A [Store] keeps exactly one record per assessment id. Every save is
// guarded by the record's version: a save whose state does not carry the
// stored version fails with [ErrVersionConflict], so two writers can never
// silently overwrite each other. Records are validated before they are
// written and after they are read; an invalid record is an
// [assessment.ErrInvariantViolation] and is never repaired or replaced by
// a default.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/lexi/internal/assessment"
)

var (
	// ErrNotFound is returned when no record exists for an assessment id.
	ErrNotFound = errors.New("store: session not found")

	// ErrExists is returned by Create for an id that is already taken.
	ErrExists = errors.New("store: session already exists")

	// ErrVersionConflict is returned by Save when the stored record has
	// moved on since the state was loaded.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is the persistence boundary of the assessment server.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create writes the first record of a session. The returned state
	// carries version 1.
	Create(ctx context.Context, s assessment.SessionState) (assessment.SessionState, error)

	// Load returns the current record of id.
	Load(ctx context.Context, id string) (assessment.SessionState, error)

	// Save replaces the record of s.AssessmentID when its stored version
	// equals s.Version. The returned state carries the new version.
	Save(ctx context.Context, s assessment.SessionState) (assessment.SessionState, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Encode validates s, stamps it with version and returns the JSON record.
func Encode(s assessment.SessionState, version int) (assessment.SessionState, []byte, error) {
	if err := s.Validate(); err != nil {
		return assessment.SessionState{}, nil, fmt.Errorf("store: refuse to write %q: %w", s.AssessmentID, err)
	}
	s.Version = version
	data, err := assessment.Marshal(s)
	if err != nil {
		return assessment.SessionState{}, nil, Fail("encode", err)
	}
	return s, data, nil
}

// Decode parses and validates a stored record.
func Decode(data []byte) (assessment.SessionState, error) {
	s, err := assessment.Unmarshal(data)
	if err != nil {
		if errors.Is(err, assessment.ErrInvariantViolation) {
			return assessment.SessionState{}, err
		}
		return assessment.SessionState{}, Fail("decode", err)
	}
	return s, nil
}

// Fail wraps a backend error as an [assessment.ErrStateStore].
func Fail(op string, err error) error {
	return assessment.Wrap(assessment.ErrStateStore, "store: "+op, err)
}

// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script VAD events and inspect the chunks submitted.
//
// Example:
//
//	sess := &mock.Session{Events: []vad.Event{{Type: vad.SpeechStart}}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/lexi/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new default Session is
	// returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Events are returned in order, one per ProcessChunk call. Once
	// exhausted, EventResult is returned.
	Events []vad.Event

	// EventResult is returned when Events is exhausted.
	EventResult vad.Event

	// ProcessErr, if non-nil, is returned by every ProcessChunk call.
	ProcessErr error

	// Chunks records a copy of every chunk passed to ProcessChunk.
	Chunks [][]byte

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessChunk records the chunk and returns the next scripted event.
func (s *Session) ProcessChunk(chunk []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.Chunks)
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))
	if s.ProcessErr != nil {
		return vad.Event{}, s.ProcessErr
	}
	if idx < len(s.Events) {
		return s.Events[idx], nil
	}
	return s.EventResult, nil
}

// Reset increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close increments CloseCallCount.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// ChunkCount returns the number of chunks processed.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

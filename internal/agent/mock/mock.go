// Package mock provides an in-memory mock implementation of
// [agent.Orchestrator] for use in unit tests.
//
// The mock is safe for concurrent use, records every call and exposes
// exported fields for configuring return values.
//
// Example:
//
//	orch := &mock.Orchestrator{
//	    TurnResult: agent.Turn{Persist: true},
//	}
//	turn, err := orch.ProcessTurn(ctx, state, agent.TextSubmitted{Text: "hola"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexi/internal/agent"
	"github.com/MrWong99/lexi/internal/assessment"
)

var _ agent.Orchestrator = (*Orchestrator)(nil)

// StartCall records the arguments of a single [Orchestrator.Start] invocation.
type StartCall struct {
	AssessmentID string
	Language     string
}

// ProcessTurnCall records the arguments of a single
// [Orchestrator.ProcessTurn] invocation.
type ProcessTurnCall struct {
	State assessment.SessionState
	Event agent.Event
}

// FinalizeCall records the arguments of a single [Orchestrator.Finalize]
// invocation.
type FinalizeCall struct {
	State   assessment.SessionState
	Trigger assessment.Trigger
}

// Orchestrator is a mock implementation of [agent.Orchestrator].
type Orchestrator struct {
	mu sync.Mutex

	// StartResult is returned by [Orchestrator.Start].
	StartResult agent.Turn

	// StartErr is returned by [Orchestrator.Start].
	StartErr error

	// TurnResult is returned by [Orchestrator.ProcessTurn] when TurnFunc is
	// nil. A zero State is replaced by the input state.
	TurnResult agent.Turn

	// TurnFunc, when set, computes the ProcessTurn result.
	TurnFunc func(s assessment.SessionState, ev agent.Event) (agent.Turn, error)

	// TurnErr is returned by [Orchestrator.ProcessTurn] when TurnFunc is nil.
	TurnErr error

	// FinalizeResult is returned by [Orchestrator.Finalize]. A zero State is
	// replaced by the input state moved to the complete phase.
	FinalizeResult agent.Turn

	// FinalizeErr is returned by [Orchestrator.Finalize].
	FinalizeErr error

	// Block, when non-nil, makes ProcessTurn wait until it is closed or the
	// context is cancelled.
	Block chan struct{}

	StartCalls       []StartCall
	ProcessTurnCalls []ProcessTurnCall
	FinalizeCalls    []FinalizeCall
}

// Start implements [agent.Orchestrator].
func (m *Orchestrator) Start(_ context.Context, assessmentID, language string) (agent.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls = append(m.StartCalls, StartCall{AssessmentID: assessmentID, Language: language})
	if m.StartErr != nil {
		return agent.Turn{}, m.StartErr
	}
	turn := m.StartResult
	if turn.State.AssessmentID == "" {
		turn.State = assessment.New(assessmentID, language, 1, turn.State.StartedAt)
		turn.State.Phase = assessment.PhaseConversation
		turn.Persist = true
	}
	return turn, nil
}

// ProcessTurn implements [agent.Orchestrator].
func (m *Orchestrator) ProcessTurn(ctx context.Context, s assessment.SessionState, ev agent.Event) (agent.Turn, error) {
	m.mu.Lock()
	m.ProcessTurnCalls = append(m.ProcessTurnCalls, ProcessTurnCall{State: s.Clone(), Event: ev})
	block := m.Block
	fn := m.TurnFunc
	turn, err := m.TurnResult, m.TurnErr
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return agent.Turn{State: s}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(s, ev)
	}
	if err != nil {
		return agent.Turn{State: s}, err
	}
	if turn.State.AssessmentID == "" {
		turn.State = s
	}
	return turn, nil
}

// Finalize implements [agent.Orchestrator].
func (m *Orchestrator) Finalize(_ context.Context, s assessment.SessionState, trigger assessment.Trigger) (agent.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinalizeCalls = append(m.FinalizeCalls, FinalizeCall{State: s.Clone(), Trigger: trigger})
	if m.FinalizeErr != nil {
		return agent.Turn{State: s}, m.FinalizeErr
	}
	turn := m.FinalizeResult
	if turn.State.AssessmentID == "" {
		final, err := s.Finalize(trigger, s.LastUpdated)
		if err != nil {
			return agent.Turn{State: s}, err
		}
		turn.State = final
		turn.Persist = true
	}
	return turn, nil
}

// ProcessTurnCount returns the number of ProcessTurn invocations.
func (m *Orchestrator) ProcessTurnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ProcessTurnCalls)
}

// LastFinalize returns the most recent Finalize call and whether one exists.
func (m *Orchestrator) LastFinalize() (FinalizeCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.FinalizeCalls) == 0 {
		return FinalizeCall{}, false
	}
	return m.FinalizeCalls[len(m.FinalizeCalls)-1], true
}

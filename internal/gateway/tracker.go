// Package gateway is the network edge of the assessment server.
//
// A [Tracker] owns one session actor per live assessment id. Every event for
// that id (websocket utterances and control frames, REST turns, heartbeat
// ticks) is funnelled through the actor's inbox, so exactly one turn runs at
// a time for a session while different sessions proceed in parallel. The
// actor persists each new state before any of the turn's messages are
// delivered; a failed save is never acknowledged.
//
// The websocket endpoint and the REST fallback share the same tracker, so a
// REST turn for an id with a live socket simply queues behind it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lexi/internal/agent"
	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/observe"
	"github.com/MrWong99/lexi/internal/protocol"
	"github.com/MrWong99/lexi/internal/store"
	"github.com/MrWong99/lexi/pkg/audio"
	"github.com/MrWong99/lexi/pkg/provider/vad"
)

var (
	// ErrInterrupted is returned for a turn that was abandoned because the
	// session was finalized while it ran.
	ErrInterrupted = errors.New("gateway: turn interrupted by session end")

	// ErrShuttingDown is returned once [Tracker.Close] has been called.
	ErrShuttingDown = errors.New("gateway: shutting down")

	// errRetired is returned to callers that raced with an idle actor
	// shutting down. The tracker retries on a fresh actor.
	errRetired = errors.New("gateway: session actor retired")
)

// IngestConfig describes the client audio stream of websocket sessions.
type IngestConfig struct {
	Encoding        audio.Encoding
	Format          audio.Format
	VAD             vad.Engine
	SilenceDuration time.Duration
	SpeechThreshold float64
	ActiveBytes     int
}

// Config holds the dependencies and tunables of a [Tracker].
type Config struct {
	// Orchestrator runs the turns. Required.
	Orchestrator agent.Orchestrator

	// Store persists session state. Required.
	Store store.Store

	// Machine mirrors the orchestrator's phase machine. The heartbeat uses
	// it to notice expired timers between client events.
	Machine assessment.PhaseMachine

	// Ingest configures websocket audio segmentation.
	Ingest IngestConfig

	// Metrics receives gateway metrics. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// MaxConsecutiveFailures ends a session gracefully after that many
	// failed turns in a row. Default 3.
	MaxConsecutiveFailures int

	// HeartbeatInterval is how often live sessions check their timers.
	// Default 5s.
	HeartbeatInterval time.Duration

	// IdleTimeout retires an actor without a connection after this long
	// without events. Default 10m.
	IdleTimeout time.Duration

	// TurnTimeout bounds one turn end to end. Default 90s.
	TurnTimeout time.Duration

	// SaveRetries and SaveBackoff control how a failed save is retried.
	// Defaults 3 and 100ms; the backoff doubles after every attempt.
	SaveRetries int
	SaveBackoff time.Duration

	// StrictInvariants panics on invariant violations instead of rejecting
	// the turn. Development only.
	StrictInvariants bool

	// AllowedOrigins are the websocket origin patterns accepted besides the
	// server's own host.
	AllowedOrigins []string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 90 * time.Second
	}
	if c.SaveRetries < 0 {
		c.SaveRetries = 0
	} else if c.SaveRetries == 0 {
		c.SaveRetries = 3
	}
	if c.SaveBackoff <= 0 {
		c.SaveBackoff = 100 * time.Millisecond
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Outcome is what a caller gets back from one request: the messages to
// deliver, in order, and the state they were produced from.
type Outcome struct {
	Messages []protocol.Message
	State    assessment.SessionState
}

// Tracker is the registry of session actors.
type Tracker struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
	orch     agent.Orchestrator
	machine  assessment.PhaseMachine
	closed   bool
}

// New creates a [Tracker].
func New(cfg Config) (*Tracker, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("gateway: orchestrator must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("gateway: store must not be nil")
	}
	cfg.applyDefaults()
	return &Tracker{
		cfg:      cfg,
		sessions: make(map[string]*session),
		orch:     cfg.Orchestrator,
		machine:  cfg.Machine,
	}, nil
}

// Reconfigure swaps the orchestrator and phase machine used by sessions
// whose actor starts after the call. Live sessions keep their settings.
func (t *Tracker) Reconfigure(orch agent.Orchestrator, machine assessment.PhaseMachine) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orch = orch
	t.machine = machine
	slog.Info("gateway reconfigured", "machine", machine.String())
}

func (t *Tracker) orchestrator() agent.Orchestrator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orch
}

// Start creates a new assessment and returns its greeting. It fails with
// [store.ErrExists] when the id is taken.
func (t *Tracker) Start(ctx context.Context, id, language string) (Outcome, error) {
	if err := t.checkOpen(); err != nil {
		return Outcome{}, err
	}
	if _, err := t.cfg.Store.Load(ctx, id); err == nil {
		return Outcome{}, store.ErrExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return Outcome{}, err
	}

	turn, err := t.orchestrator().Start(ctx, id, language)
	if err != nil {
		return Outcome{}, fmt.Errorf("gateway: start %q: %w", id, err)
	}
	saved, err := t.cfg.Store.Create(ctx, turn.State)
	if err != nil {
		return Outcome{}, err
	}
	t.cfg.Metrics.RecordPhaseTransition(ctx, string(saved.Phase), string(assessment.TriggerStart))
	slog.Info("assessment started",
		"assessment_id", id,
		"language", saved.TargetLanguage,
		"difficulty", saved.Difficulty)
	return Outcome{Messages: turn.Messages, State: saved}, nil
}

// Turn applies ev to the session and waits for the outcome.
func (t *Tracker) Turn(ctx context.Context, id string, ev agent.Event) (Outcome, error) {
	return t.withSession(ctx, id, func(s *session) (Outcome, error) {
		return s.submit(ctx, ev)
	})
}

// End finalizes the session at the learner's request, abandoning any turn
// still in flight.
func (t *Tracker) End(ctx context.Context, id string) (Outcome, error) {
	return t.withSession(ctx, id, func(s *session) (Outcome, error) {
		return s.interrupt(ctx, assessment.TriggerEnded)
	})
}

// State returns the current state of id, from the live actor when there is
// one.
func (t *Tracker) State(ctx context.Context, id string) (assessment.SessionState, error) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	t.mu.Unlock()
	if ok {
		return s.snapshot(), nil
	}
	return t.cfg.Store.Load(ctx, id)
}

// Active returns the number of live session actors.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// withSession runs fn on the actor of id, retrying once when the actor
// retired between lookup and use.
func (t *Tracker) withSession(ctx context.Context, id string, fn func(*session) (Outcome, error)) (Outcome, error) {
	for range 2 {
		s, err := t.acquire(ctx, id)
		if err != nil {
			return Outcome{}, err
		}
		out, err := fn(s)
		if errors.Is(err, errRetired) {
			continue
		}
		return out, err
	}
	return Outcome{}, fmt.Errorf("gateway: session %q: %w", id, errRetired)
}

// acquire returns the live actor of id, loading the session from the store
// and starting an actor when needed.
func (t *Tracker) acquire(ctx context.Context, id string) (*session, error) {
	t.mu.Lock()
	if s, ok := t.sessions[id]; ok {
		t.mu.Unlock()
		return s, nil
	}
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	st, err := t.cfg.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrShuttingDown
	}
	if s, ok := t.sessions[id]; ok {
		return s, nil
	}
	s := newSession(t, st, t.orch, t.machine)
	t.sessions[id] = s
	s.launch()
	return s, nil
}

// release drops s from the registry if it is still the registered actor.
func (t *Tracker) release(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[s.id] == s {
		delete(t.sessions, s.id)
	}
}

func (t *Tracker) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrShuttingDown
	}
	return nil
}

// Close stops accepting sessions, closes attached connections and waits for
// every actor to finish its current turn or for ctx to end.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	live := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		live = append(live, s)
	}
	t.mu.Unlock()

	for _, s := range live {
		s.shutdown()
	}
	for _, s := range live {
		select {
		case <-s.done:
		case <-ctx.Done():
			return fmt.Errorf("gateway: close: %w", ctx.Err())
		}
	}
	return nil
}

package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/lexi/internal/agent"
	agentmock "github.com/MrWong99/lexi/internal/agent/mock"
	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/protocol"
	"github.com/MrWong99/lexi/internal/store"
	storemock "github.com/MrWong99/lexi/internal/store/mock"
	"github.com/MrWong99/lexi/pkg/audio"
	"github.com/MrWong99/lexi/pkg/provider/vad/energy"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func newTracker(t *testing.T, orch agent.Orchestrator, st store.Store, tweak ...func(*Config)) *Tracker {
	t.Helper()
	cfg := Config{
		Orchestrator: orch,
		Store:        st,
		SaveBackoff:  time.Millisecond,
		Ingest: IngestConfig{
			Encoding: audio.EncodingPCM16,
			Format:   audio.Format{SampleRate: 16000, Channels: 1},
			VAD:      energy.New(),
		},
	}
	for _, fn := range tweak {
		fn(&cfg)
	}
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tr.Close(ctx)
	})
	return tr
}

func mustStart(t *testing.T, tr *Tracker, id string) Outcome {
	t.Helper()
	out, err := tr.Start(context.Background(), id, "Spanish")
	if err != nil {
		t.Fatalf("Start(%q): %v", id, err)
	}
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func lastTrigger(t *testing.T, orch *agentmock.Orchestrator) assessment.Trigger {
	t.Helper()
	call, ok := orch.LastFinalize()
	if !ok {
		t.Fatal("orchestrator was never asked to finalize")
	}
	return call.Trigger
}

func errorText(msgs []protocol.Message) string {
	for _, m := range msgs {
		if e, ok := m.(protocol.Error); ok {
			return e.Message
		}
	}
	return ""
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Store: storemock.New()}); err == nil {
		t.Error("want error without orchestrator")
	}
	if _, err := New(Config{Orchestrator: &agentmock.Orchestrator{}}); err == nil {
		t.Error("want error without store")
	}
}

func TestTracker_Start(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{
		StartResult: agent.Turn{Messages: []protocol.Message{
			protocol.Transcript{Speaker: protocol.SpeakerAI, Text: "Hola"},
		}},
	}
	st := storemock.New()
	tr := newTracker(t, orch, st)

	out := mustStart(t, tr, "a1")
	if len(out.Messages) != 1 {
		t.Fatalf("want greeting, got %v", out.Messages)
	}
	if out.State.Version != 1 || out.State.Phase != assessment.PhaseConversation {
		t.Errorf("want stored conversation state at version 1, got %s v%d", out.State.Phase, out.State.Version)
	}
	if _, err := tr.Start(context.Background(), "a1", "Spanish"); !errors.Is(err, store.ErrExists) {
		t.Errorf("second start: want ErrExists, got %v", err)
	}
	if len(orch.StartCalls) != 1 {
		t.Errorf("want 1 orchestrator start, got %d", len(orch.StartCalls))
	}
}

func TestTracker_StartUnknownLanguage(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{StartErr: agent.ErrUnknownLanguage}
	st := storemock.New()
	tr := newTracker(t, orch, st)

	_, err := tr.Start(context.Background(), "a1", "Klingon")
	if !errors.Is(err, agent.ErrUnknownLanguage) {
		t.Fatalf("want ErrUnknownLanguage, got %v", err)
	}
	if st.CreateCalls != 0 {
		t.Errorf("nothing should be stored, got %d creates", st.CreateCalls)
	}
}

func TestTracker_TurnUnknownSession(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, &agentmock.Orchestrator{}, storemock.New())
	if _, err := tr.Turn(context.Background(), "missing", agent.TextSubmitted{Text: "hola"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTracker_SerializesTurnsPerSession(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		inflight = map[string]*atomic.Int32{"a": {}, "b": {}}
		maxSeen  = map[string]int32{}
	)
	orch := &agentmock.Orchestrator{
		TurnFunc: func(s assessment.SessionState, _ agent.Event) (agent.Turn, error) {
			n := inflight[s.AssessmentID].Add(1)
			mu.Lock()
			maxSeen[s.AssessmentID] = max(maxSeen[s.AssessmentID], n)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			inflight[s.AssessmentID].Add(-1)
			return agent.Turn{State: s.Note("turn"), Persist: true}, nil
		},
	}
	st := storemock.New()
	tr := newTracker(t, orch, st)
	mustStart(t, tr, "a")
	mustStart(t, tr, "b")

	const perSession = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perSession)
	for _, id := range []string{"a", "b"} {
		for range perSession {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := tr.Turn(context.Background(), id, agent.TextSubmitted{Text: "hola"}); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("turn failed: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		if maxSeen[id] != 1 {
			t.Errorf("session %s: want at most 1 turn in flight, got %d", id, maxSeen[id])
		}
		got, err := st.Load(context.Background(), id)
		if err != nil {
			t.Fatalf("Load(%s): %v", id, err)
		}
		// Every turn saw the state of the one before it.
		if want := 1 + perSession; got.Version != want {
			t.Errorf("session %s: want version %d, got %d", id, want, got.Version)
		}
	}
}

func TestTracker_SessionsRunInParallel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	orch := &agentmock.Orchestrator{
		TurnFunc: func(s assessment.SessionState, _ agent.Event) (agent.Turn, error) {
			if s.AssessmentID == "slow" {
				close(entered)
				<-release
			}
			return agent.Turn{State: s}, nil
		},
	}
	tr := newTracker(t, orch, storemock.New())
	mustStart(t, tr, "slow")
	mustStart(t, tr, "fast")

	slowDone := make(chan error, 1)
	go func() {
		_, err := tr.Turn(context.Background(), "slow", agent.TextSubmitted{Text: "..."})
		slowDone <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := tr.Turn(ctx, "fast", agent.TextSubmitted{Text: "hola"}); err != nil {
		t.Fatalf("fast session blocked behind slow one: %v", err)
	}
	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow turn: %v", err)
	}
}

func TestTracker_SaveRetry(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{
		TurnFunc: func(s assessment.SessionState, _ agent.Event) (agent.Turn, error) {
			return agent.Turn{
				Messages: []protocol.Message{protocol.Transcript{Speaker: protocol.SpeakerAI, Text: "Muy bien"}},
				State:    s.Note("retry"),
				Persist:  true,
			}, nil
		},
	}
	st := storemock.New()
	tr := newTracker(t, orch, st)
	mustStart(t, tr, "a1")

	st.SaveErrs = []error{errors.New("connection reset"), errors.New("connection reset")}
	out, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "hola"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got := st.SaveCount(); got != 3 {
		t.Errorf("want 3 save attempts, got %d", got)
	}
	if len(out.Messages) != 1 || errorText(out.Messages) != "" {
		t.Errorf("want the turn's own message, got %v", out.Messages)
	}
	if out.State.Version != 2 {
		t.Errorf("want version 2, got %d", out.State.Version)
	}
}

func TestTracker_SaveFailureWithholdsMessages(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{
		TurnFunc: func(s assessment.SessionState, _ agent.Event) (agent.Turn, error) {
			return agent.Turn{
				Messages: []protocol.Message{protocol.Transcript{Speaker: protocol.SpeakerAI, Text: "Siguiente pregunta"}},
				State:    s.Note("lost"),
				Persist:  true,
			}, nil
		},
	}
	st := storemock.New()
	tr := newTracker(t, orch, st, func(c *Config) { c.SaveRetries = -1 })
	mustStart(t, tr, "a1")

	st.SaveErr = errors.New("disk full")
	out, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "hola"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(out.Messages) != 1 || errorText(out.Messages) != msgSaveFailed {
		t.Fatalf("want only the save failure message, got %v", out.Messages)
	}
	if st.SaveCount() != 1 {
		t.Errorf("want a single attempt without retries, got %d", st.SaveCount())
	}

	snap, err := tr.State(context.Background(), "a1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if snap.Version != 1 || len(snap.Insights) != 0 {
		t.Errorf("unsaved turn leaked into live state: %+v", snap)
	}
}

func TestTracker_VersionConflictReloads(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{
		TurnFunc: func(s assessment.SessionState, _ agent.Event) (agent.Turn, error) {
			return agent.Turn{State: s.Note("mine"), Persist: true}, nil
		},
	}
	st := storemock.New()
	tr := newTracker(t, orch, st)
	start := mustStart(t, tr, "a1")

	// Warm the actor, then move the record on behind its back.
	if _, err := tr.Turn(context.Background(), "a1", agent.Tick{}); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	live, _ := st.Load(context.Background(), "a1")
	if _, err := st.Save(context.Background(), live.Note("theirs")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := tr.Turn(context.Background(), "a1", agent.Tick{})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if errorText(out.Messages) != msgSaveFailed {
		t.Fatalf("want save failure message, got %v", out.Messages)
	}
	snap, _ := tr.State(context.Background(), "a1")
	if snap.Version != start.State.Version+2 {
		t.Errorf("want reloaded version %d, got %d", start.State.Version+2, snap.Version)
	}

	// The next turn works from the reloaded state.
	if _, err := tr.Turn(context.Background(), "a1", agent.Tick{}); err != nil {
		t.Fatalf("Turn after reload: %v", err)
	}
	final, _ := st.Load(context.Background(), "a1")
	if final.Version != start.State.Version+3 {
		t.Errorf("want version %d, got %d", start.State.Version+3, final.Version)
	}
}

func TestTracker_FailureThresholdFinalizes(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{
		TurnFunc: func(s assessment.SessionState, _ agent.Event) (agent.Turn, error) {
			return agent.Turn{
				Messages: []protocol.Message{protocol.Error{Message: agent.MsgAudioFailed}},
				State:    s,
				Failure:  errors.New("stt unavailable"),
			}, nil
		},
	}
	st := storemock.New()
	tr := newTracker(t, orch, st, func(c *Config) { c.MaxConsecutiveFailures = 2 })
	mustStart(t, tr, "a1")

	out, err := tr.Turn(context.Background(), "a1", agent.AudioSubmitted{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if out.State.IsComplete() {
		t.Fatal("session ended after a single failure")
	}

	out, err = tr.Turn(context.Background(), "a1", agent.AudioSubmitted{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if !out.State.IsComplete() {
		t.Fatalf("want complete after repeated failures, got %s", out.State.Phase)
	}
	if got := lastTrigger(t, orch); got != assessment.TriggerFailures {
		t.Errorf("want trigger %q, got %q", assessment.TriggerFailures, got)
	}
	if out.State.Result == nil || out.State.Result.Reason != assessment.TriggerFailures {
		t.Errorf("want result with failure reason, got %+v", out.State.Result)
	}
}

func TestTracker_FailureCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	orch := &agentmock.Orchestrator{
		TurnFunc: func(s assessment.SessionState, _ agent.Event) (agent.Turn, error) {
			if calls.Add(1)%2 == 0 {
				return agent.Turn{State: s.Note("ok"), Persist: true}, nil
			}
			return agent.Turn{State: s, Failure: errors.New("scoring unavailable")}, nil
		},
	}
	tr := newTracker(t, orch, storemock.New(), func(c *Config) { c.MaxConsecutiveFailures = 2 })
	mustStart(t, tr, "a1")

	for i := range 6 {
		out, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "hola"})
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if out.State.IsComplete() {
			t.Fatalf("turn %d: alternating failures must not end the session", i)
		}
	}
}

func TestTracker_EndInterruptsTurnInFlight(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{Block: make(chan struct{})}
	st := storemock.New()
	tr := newTracker(t, orch, st)
	mustStart(t, tr, "a1")

	turnErr := make(chan error, 1)
	go func() {
		_, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "una respuesta larga"})
		turnErr <- err
	}()
	eventually(t, "turn in flight", func() bool { return orch.ProcessTurnCount() == 1 })

	out, err := tr.End(context.Background(), "a1")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !out.State.IsComplete() {
		t.Fatalf("want complete, got %s", out.State.Phase)
	}
	if err := <-turnErr; !errors.Is(err, ErrInterrupted) {
		t.Errorf("blocked turn: want ErrInterrupted, got %v", err)
	}
	if got := lastTrigger(t, orch); got != assessment.TriggerEnded {
		t.Errorf("want trigger %q, got %q", assessment.TriggerEnded, got)
	}

	stored, err := st.Load(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !stored.IsComplete() {
		t.Error("finalized state was not persisted")
	}

	if _, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "hola"}); !errors.Is(err, assessment.ErrSessionComplete) {
		t.Errorf("turn after end: want ErrSessionComplete, got %v", err)
	}
	if _, err := tr.End(context.Background(), "a1"); !errors.Is(err, assessment.ErrSessionComplete) {
		t.Errorf("second end: want ErrSessionComplete, got %v", err)
	}
}

func TestTracker_TurnErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{TurnErr: errors.New("llm exploded")}
	tr := newTracker(t, orch, storemock.New())
	mustStart(t, tr, "a1")

	out, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "hola"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if errorText(out.Messages) != msgTurnFailed {
		t.Errorf("want turn failure message, got %v", out.Messages)
	}
	if out.State.Version != 1 {
		t.Errorf("failed turn must not change state, got version %d", out.State.Version)
	}
}

func TestTracker_TurnTimeout(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{Block: make(chan struct{})}
	tr := newTracker(t, orch, storemock.New(), func(c *Config) { c.TurnTimeout = 10 * time.Millisecond })
	mustStart(t, tr, "a1")

	out, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "hola"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if errorText(out.Messages) != msgTurnFailed {
		t.Errorf("want turn failure message, got %v", out.Messages)
	}
}

func TestTracker_InvariantViolationRejected(t *testing.T) {
	t.Parallel()

	orch := &agentmock.Orchestrator{TurnErr: assessment.ErrInvariantViolation}
	tr := newTracker(t, orch, storemock.New())
	mustStart(t, tr, "a1")

	out, err := tr.Turn(context.Background(), "a1", agent.TextSubmitted{Text: "hola"})
	if !errors.Is(err, assessment.ErrInvariantViolation) {
		t.Fatalf("want ErrInvariantViolation, got %v", err)
	}
	if errorText(out.Messages) != msgInvalidTurn {
		t.Errorf("want invalid turn message, got %v", out.Messages)
	}
}

func TestTracker_HeartbeatEndsReadingOnTimer(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := storemock.New()
	s, err := assessment.New("r1", "Spanish", 1, t0).Enter(assessment.PhaseConversation, t0)
	if err != nil {
		t.Fatal(err)
	}
	if s, err = s.Enter(assessment.PhaseReading, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Create(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	orch := &agentmock.Orchestrator{}
	tr := newTracker(t, orch, st, func(c *Config) {
		c.Machine = assessment.PhaseMachine{ReadingDuration: time.Minute}
		c.HeartbeatInterval = 5 * time.Millisecond
		c.Now = func() time.Time { return t0.Add(time.Hour) }
	})

	// Any turn brings the actor up; the heartbeat does the rest.
	if _, err := tr.Turn(context.Background(), "r1", agent.Tick{}); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	eventually(t, "timer finalization", func() bool {
		got, err := st.Load(context.Background(), "r1")
		return err == nil && got.IsComplete()
	})
	if got := lastTrigger(t, orch); got != assessment.TriggerTimer {
		t.Errorf("want trigger %q, got %q", assessment.TriggerTimer, got)
	}
	eventually(t, "actor retirement", func() bool { return tr.Active() == 0 })
}

func TestTracker_IdleActorRetires(t *testing.T) {
	t.Parallel()

	var now atomic.Int64
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now.Store(t0.UnixNano())
	tr := newTracker(t, &agentmock.Orchestrator{}, storemock.New(), func(c *Config) {
		c.HeartbeatInterval = 5 * time.Millisecond
		c.IdleTimeout = time.Minute
		c.Now = func() time.Time { return time.Unix(0, now.Load()).UTC() }
	})
	mustStart(t, tr, "a1")
	if _, err := tr.Turn(context.Background(), "a1", agent.Tick{}); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if tr.Active() != 1 {
		t.Fatalf("want 1 live actor, got %d", tr.Active())
	}

	now.Store(t0.Add(2 * time.Minute).UnixNano())
	eventually(t, "idle retirement", func() bool { return tr.Active() == 0 })

	// A retired session comes back on demand.
	if _, err := tr.Turn(context.Background(), "a1", agent.Tick{}); err != nil {
		t.Fatalf("Turn after retirement: %v", err)
	}
}

func TestTracker_Close(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, &agentmock.Orchestrator{}, storemock.New())
	mustStart(t, tr, "a1")
	if _, err := tr.Turn(context.Background(), "a1", agent.Tick{}); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if err := tr.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.Active() != 0 {
		t.Errorf("want no live actors, got %d", tr.Active())
	}
	if _, err := tr.Start(context.Background(), "a2", "Spanish"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start after Close: want ErrShuttingDown, got %v", err)
	}
	if _, err := tr.Turn(context.Background(), "a1", agent.Tick{}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Turn after Close: want ErrShuttingDown, got %v", err)
	}
}

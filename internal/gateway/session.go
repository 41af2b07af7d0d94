package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lexi/internal/agent"
	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/observe"
	"github.com/MrWong99/lexi/internal/protocol"
)

const (
	inboxSize = 32
	finalSize = 4
)

// Lines sent when the gateway itself, rather than the agent, fails a turn.
const (
	msgSaveFailed  = "We couldn't save your progress. Please try again."
	msgTurnFailed  = "Something went wrong while processing your answer. Please try again."
	msgInvalidTurn = "This session is in an unexpected state and cannot continue."
)

// request is one event queued for the actor. reply is nil for events from
// the attached connection, whose outcome goes to that connection.
type request struct {
	ev    agent.Event
	reply chan outcome
}

// finalRequest asks the actor to finalize with trigger. It overtakes queued
// requests.
type finalRequest struct {
	trigger assessment.Trigger
	reply   chan outcome
}

type outcome struct {
	Outcome
	err error
}

func respond(reply chan outcome, o outcome) {
	if reply != nil {
		reply <- o
	}
}

// session is the actor that serializes all turns of one assessment.
type session struct {
	id      string
	t       *Tracker
	orch    agent.Orchestrator
	machine assessment.PhaseMachine
	log     *slog.Logger

	inbox chan request
	final chan finalRequest
	quit  chan struct{}
	done  chan struct{}
	stop  sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      assessment.SessionState
	inflight   context.CancelCauseFunc
	conn       *conn
	lastActive time.Time

	// Owned by run.
	failures int
}

func newSession(t *Tracker, st assessment.SessionState, orch agent.Orchestrator, machine assessment.PhaseMachine) *session {
	ctx, cancel := context.WithCancel(observe.WithAssessment(context.Background(), st.AssessmentID))
	return &session{
		id:         st.AssessmentID,
		t:          t,
		orch:       orch,
		machine:    machine,
		log:        observe.Logger(ctx),
		inbox:      make(chan request, inboxSize),
		final:      make(chan finalRequest, finalSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		state:      st,
		lastActive: t.cfg.Now(),
	}
}

func (s *session) launch() {
	s.t.cfg.Metrics.ActiveSessions.Add(s.ctx, 1)
	go s.run()
	go s.heartbeat()
}

// ── caller side ──────────────────────────────────────────────────────────────

// submit queues ev and waits for its outcome.
func (s *session) submit(ctx context.Context, ev agent.Event) (Outcome, error) {
	reply := make(chan outcome, 1)
	select {
	case s.inbox <- request{ev: ev, reply: reply}:
	case <-s.quit:
		return Outcome{}, errRetired
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	return s.await(ctx, reply)
}

// post queues ev from the attached connection. It blocks while the inbox is
// full and reports false once the actor is gone.
func (s *session) post(ctx context.Context, ev agent.Event) bool {
	select {
	case s.inbox <- request{ev: ev}:
		return true
	case <-s.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// interrupt abandons the turn in flight, finalizes with trigger and waits
// for the outcome.
func (s *session) interrupt(ctx context.Context, trigger assessment.Trigger) (Outcome, error) {
	reply := make(chan outcome, 1)
	if !s.end(trigger, reply) {
		return Outcome{}, errRetired
	}
	return s.await(ctx, reply)
}

// end abandons the turn in flight and queues finalization ahead of any
// pending turns. The outcome goes to reply, or to the connection when reply
// is nil.
func (s *session) end(trigger assessment.Trigger, reply chan outcome) bool {
	s.abandon()
	select {
	case s.final <- finalRequest{trigger: trigger, reply: reply}:
		return true
	case <-s.quit:
		return false
	}
}

func (s *session) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		s.inflight(ErrInterrupted)
	}
}

func (s *session) await(ctx context.Context, reply chan outcome) (Outcome, error) {
	select {
	case o := <-reply:
		return o.Outcome, o.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-s.done:
		// The actor may have answered right before exiting.
		select {
		case o := <-reply:
			return o.Outcome, o.err
		default:
			return Outcome{}, errRetired
		}
	}
}

func (s *session) snapshot() assessment.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// attach makes c the receiver of connection-originated outcomes. A previous
// connection is closed.
func (s *session) attach(c *conn) {
	s.mu.Lock()
	prev := s.conn
	s.conn = c
	s.lastActive = s.t.cfg.Now()
	s.mu.Unlock()
	if prev != nil {
		prev.finish(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
}

func (s *session) detach(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == c {
		s.conn = nil
		s.lastActive = s.t.cfg.Now()
	}
}

// shutdown stops the actor after its current turn and closes the attached
// connection.
func (s *session) shutdown() {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		c.finish(websocket.StatusGoingAway, "server shutting down")
	}
	s.retire()
}

func (s *session) retire() {
	s.stop.Do(func() {
		s.t.release(s)
		close(s.quit)
	})
}

// ── actor side ───────────────────────────────────────────────────────────────

func (s *session) run() {
	defer func() {
		s.cancel()
		s.t.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
		close(s.done)
	}()
	for {
		// Finalization overtakes queued turns.
		select {
		case f := <-s.final:
			s.finalize(f)
			continue
		default:
		}
		select {
		case <-s.quit:
			return
		case f := <-s.final:
			s.finalize(f)
		case r := <-s.inbox:
			s.serve(r)
		}
	}
}

// heartbeat offers ticks when a phase timer is due, interrupts the turn in
// flight when the reading timer ends the session, and retires the actor
// once it has been idle without a connection.
func (s *session) heartbeat() {
	ticker := time.NewTicker(s.t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
		}
		now := s.t.cfg.Now()

		s.mu.Lock()
		st := s.state
		idle := s.conn == nil && s.inflight == nil && now.Sub(s.lastActive) >= s.t.cfg.IdleTimeout
		s.mu.Unlock()

		if idle && len(s.inbox) == 0 && len(s.final) == 0 {
			s.log.Debug("retiring idle session")
			s.retire()
			return
		}
		to, trigger, ok := s.machine.Due(st, now)
		if !ok {
			continue
		}
		if to == assessment.PhaseComplete && trigger == assessment.TriggerTimer {
			s.abandon()
			select {
			case s.final <- finalRequest{trigger: trigger}:
			default:
			}
			continue
		}
		select {
		case s.inbox <- request{ev: agent.Tick{}}:
		default:
		}
	}
}

// serve runs one turn.
func (s *session) serve(r request) {
	s.touch()
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st.IsComplete() {
		respond(r.reply, outcome{Outcome: Outcome{State: st}, err: assessment.ErrSessionComplete})
		s.retire()
		return
	}

	event := agent.EventName(r.ev)
	start := time.Now()
	cctx, cancel := context.WithCancelCause(s.ctx)
	ctx, stop := context.WithTimeout(cctx, s.t.cfg.TurnTimeout)
	s.mu.Lock()
	s.inflight = cancel
	s.mu.Unlock()

	sctx, span := observe.StartSpan(ctx, "turn."+event, trace.WithAttributes(attribute.String("phase", string(st.Phase))))
	turn, err := s.orch.ProcessTurn(sctx, st, r.ev)
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	interrupted := errors.Is(context.Cause(cctx), ErrInterrupted)
	stop()
	cancel(nil)

	record := func(result string) {
		s.t.cfg.Metrics.RecordTurn(s.ctx, event, result, time.Since(start).Seconds())
	}

	switch {
	case interrupted:
		record("interrupted")
		s.log.Info("turn abandoned", "event", event)
		respond(r.reply, outcome{Outcome: Outcome{State: st}, err: ErrInterrupted})
		return
	case errors.Is(err, assessment.ErrInvariantViolation):
		record("rejected")
		s.violation(err)
		s.deliver(r.reply, false, outcome{Outcome: Outcome{
			Messages: []protocol.Message{protocol.Error{Message: msgInvalidTurn}},
			State:    st,
		}, err: err})
		return
	case errors.Is(err, assessment.ErrSessionComplete):
		record("rejected")
		respond(r.reply, outcome{Outcome: Outcome{State: st}, err: err})
		return
	case err != nil:
		// Anything else, a turn timeout included, counts as a failed turn.
		record(failureOutcome(err))
		s.log.Warn("turn failed", "event", event, "err", err)
		turn = agent.Turn{
			Messages: []protocol.Message{protocol.Error{Message: msgTurnFailed}},
			State:    st,
			Failure:  err,
		}
	case turn.Failure != nil:
		record(failureOutcome(turn.Failure))
	default:
		record("ok")
	}

	msgs, next, ok := s.commit(turn)
	if !ok {
		s.deliver(r.reply, false, outcome{Outcome: Outcome{Messages: msgs, State: st}})
		return
	}
	if turn.Failure != nil {
		s.failures++
	} else if turn.Persist {
		s.failures = 0
	}
	if !next.IsComplete() && s.failures >= s.t.cfg.MaxConsecutiveFailures {
		s.log.Warn("ending session after repeated failures", "failures", s.failures)
		final, fmsgs, ok := s.conclude(next, assessment.TriggerFailures)
		if ok {
			next = final
			msgs = append(msgs, fmsgs...)
		}
	}
	s.deliver(r.reply, false, outcome{Outcome: Outcome{Messages: msgs, State: next}})
	s.completed(next)
}

// failureOutcome labels a failed turn for the turn counter: "failed" for a
// provider failure the candidate can retry, "error" for anything else.
func failureOutcome(err error) string {
	if assessment.IsRecoverable(err) {
		return "failed"
	}
	return "error"
}

// finalize handles an interrupt.
func (s *session) finalize(f finalRequest) {
	s.touch()
	st := s.snapshot()
	if st.IsComplete() {
		respond(f.reply, outcome{Outcome: Outcome{State: st}, err: assessment.ErrSessionComplete})
		s.retire()
		return
	}
	next, msgs, ok := s.conclude(st, f.trigger)
	if !ok {
		s.deliver(f.reply, false, outcome{Outcome: Outcome{Messages: msgs, State: st}, err: errFinalize})
		return
	}
	s.deliver(f.reply, true, outcome{Outcome: Outcome{Messages: msgs, State: next}})
	s.completed(next)
}

var errFinalize = errors.New("gateway: finalize failed")

// conclude finalizes st and persists the result.
func (s *session) conclude(st assessment.SessionState, trigger assessment.Trigger) (assessment.SessionState, []protocol.Message, bool) {
	ctx, cancel := context.WithTimeout(s.ctx, s.t.cfg.TurnTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "finalize", trace.WithAttributes(attribute.String("trigger", string(trigger))))
	defer span.End()
	turn, err := s.orch.Finalize(ctx, st, trigger)
	if err != nil {
		if errors.Is(err, assessment.ErrInvariantViolation) {
			s.violation(err)
		} else {
			s.log.Error("finalize failed", "trigger", trigger, "err", err)
		}
		return st, []protocol.Message{protocol.Error{Message: msgTurnFailed}}, false
	}
	msgs, next, ok := s.commit(turn)
	if !ok {
		return st, msgs, false
	}
	return next, msgs, true
}

// commit persists the turn's state when it changed. On failure the turn's
// messages are withheld and replaced by an error.
func (s *session) commit(turn agent.Turn) ([]protocol.Message, assessment.SessionState, bool) {
	if !turn.Persist {
		return turn.Messages, turn.State, true
	}
	saved, err := s.persist(s.ctx, turn.State)
	if err != nil {
		if errors.Is(err, assessment.ErrInvariantViolation) {
			s.violation(err)
		}
		s.log.Error("state not saved, turn withheld", "err", err)
		return []protocol.Message{protocol.Error{Message: msgSaveFailed}}, turn.State, false
	}

	s.mu.Lock()
	prev := s.state
	s.state = saved
	s.mu.Unlock()
	s.record(prev, saved, turn.Actions)
	return turn.Messages, saved, true
}

// record emits phase and completion metrics for a committed turn.
func (s *session) record(prev, next assessment.SessionState, actions []agent.Action) {
	for _, a := range actions {
		switch a.Kind {
		case agent.ActionSwitchPhase:
			s.t.cfg.Metrics.RecordPhaseTransition(s.ctx, string(a.Phase), a.Reason)
		case agent.ActionConclude:
			s.t.cfg.Metrics.RecordPhaseTransition(s.ctx, string(assessment.PhaseComplete), a.Reason)
		}
		s.log.Debug("agent action", "action", a.String())
	}
	for _, ex := range next.Exercises[min(len(prev.Exercises), len(next.Exercises)):] {
		s.t.cfg.Metrics.RecordExercise(s.ctx, string(ex.Kind), ex.DifficultyAtTime)
	}
	if !prev.IsComplete() && next.IsComplete() && next.Result != nil {
		s.t.cfg.Metrics.RecordAssessment(s.ctx, string(next.Result.Level), next.Result.OverallScore)
		s.log.Info("assessment complete",
			"level", next.Result.Level,
			"reason", next.Result.Reason,
			"exercises", len(next.Exercises))
	}
}

// deliver answers the requester. Outcomes without a requester go to the
// attached connection; broadcast sends them there as well.
func (s *session) deliver(reply chan outcome, broadcast bool, o outcome) {
	if reply == nil || broadcast {
		s.mu.Lock()
		c := s.conn
		s.mu.Unlock()
		if c != nil {
			c.send(o.Messages...)
		}
	}
	respond(reply, o)
}

// completed closes the connection and retires the actor once the session
// is over.
func (s *session) completed(st assessment.SessionState) {
	if !st.IsComplete() {
		return
	}
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		c.finish(websocket.StatusNormalClosure, "assessment complete")
	}
	s.retire()
}

func (s *session) violation(err error) {
	s.log.Error("invariant violation", "err", err)
	if s.t.cfg.StrictInvariants {
		panic(fmt.Sprintf("gateway: session %s: %v", s.id, err))
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = s.t.cfg.Now()
	s.mu.Unlock()
}

package assessment

import (
	"fmt"
	"time"
)

// Phase is a named stage of an assessment session.
type Phase string

const (
	PhaseIntro        Phase = "intro"
	PhaseConversation Phase = "conversation"
	PhaseReading      Phase = "reading"
	PhaseComplete     Phase = "complete"
)

// phaseOrder is the only legal path through a session.
var phaseOrder = [...]Phase{PhaseIntro, PhaseConversation, PhaseReading, PhaseComplete}

// IsValid reports whether p is one of the four known phases.
func (p Phase) IsValid() bool { return p.index() >= 0 }

// Next returns the phase that follows p on the path. ok is false for
// [PhaseComplete] and for unknown phases.
func (p Phase) Next() (next Phase, ok bool) {
	i := p.index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

func (p Phase) index() int {
	for i, q := range phaseOrder {
		if p == q {
			return i
		}
	}
	return -1
}

// CheckTransition validates a single step along the phase path. Skips,
// backward moves and re-entering the current phase are all invariant
// violations.
func CheckTransition(from, to Phase) error {
	if !from.IsValid() || !to.IsValid() {
		return violationf("unknown phase in transition %q -> %q", from, to)
	}
	next, ok := from.Next()
	if !ok {
		return violationf("phase %q is terminal", from)
	}
	if to != next {
		return violationf("illegal phase transition %q -> %q (next is %q)", from, to, next)
	}
	return nil
}

// Trigger names what caused a phase change.
type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerTimer    Trigger = "timer"
	TriggerQuota    Trigger = "quota"
	TriggerForced   Trigger = "forced"
	TriggerEnded    Trigger = "ended"
	TriggerFailures Trigger = "failures"
)

// PhaseMachine decides when the timer- and quota-driven transitions are
// due. It holds configuration only; the phase itself lives in
// [SessionState].
type PhaseMachine struct {
	// ConversationDuration is measured from SessionState.StartedAt.
	ConversationDuration time.Duration

	// ReadingDuration is measured from SessionState.PhaseStartedAt once the
	// reading phase is entered. Zero disables the reading timer.
	ReadingDuration time.Duration

	// Quota is the number of exercises that ends a phase. Zero disables
	// quota-driven transitions.
	Quota int
}

// Due reports the transition pending for s at now, if any. The intro phase
// is left explicitly by the session start, never by Due.
func (m PhaseMachine) Due(s SessionState, now time.Time) (to Phase, trigger Trigger, ok bool) {
	switch s.Phase {
	case PhaseConversation:
		if m.ConversationDuration > 0 && now.Sub(s.StartedAt) >= m.ConversationDuration {
			return PhaseReading, TriggerTimer, true
		}
		if m.Quota > 0 && s.SpeakingDone >= m.Quota {
			return PhaseReading, TriggerQuota, true
		}
	case PhaseReading:
		if m.Quota > 0 && s.ReadingDone >= m.Quota {
			return PhaseComplete, TriggerQuota, true
		}
		if m.ReadingDuration > 0 && now.Sub(s.PhaseStartedAt) >= m.ReadingDuration {
			return PhaseComplete, TriggerTimer, true
		}
	}
	return "", "", false
}

// Enter returns a copy of s moved to phase to. Moving to [PhaseComplete]
// must go through [SessionState.Finalize] so the result is computed.
func (s SessionState) Enter(to Phase, now time.Time) (SessionState, error) {
	if to == PhaseComplete {
		return SessionState{}, violationf("enter %q: use Finalize", to)
	}
	if err := CheckTransition(s.Phase, to); err != nil {
		return SessionState{}, err
	}
	out := s.Clone()
	out.Phase = to
	out.PhaseStartedAt = now.UTC()
	out.LastUpdated = now.UTC()
	out.PendingPrompt = ""
	out.PendingPassage = ""
	out.FollowupDepth = 0
	return out, nil
}

// Force advances s one step along the path regardless of timers and quotas.
// Forcing out of the reading phase finalizes the session.
func (m PhaseMachine) Force(s SessionState, now time.Time) (SessionState, error) {
	next, ok := s.Phase.Next()
	if !ok {
		return SessionState{}, violationf("force transition from terminal phase %q", s.Phase)
	}
	if next == PhaseComplete {
		return s.Finalize(TriggerForced, now)
	}
	return s.Enter(next, now)
}

func (m PhaseMachine) String() string {
	return fmt.Sprintf("conversation=%s reading=%s quota=%d", m.ConversationDuration, m.ReadingDuration, m.Quota)
}

package assessment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/lexi/internal/assessment"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func conversationState(t *testing.T) assessment.SessionState {
	t.Helper()
	s := assessment.New("a-1", "Spanish", 1, t0)
	s, err := s.Enter(assessment.PhaseConversation, t0)
	if err != nil {
		t.Fatalf("Enter conversation: %v", err)
	}
	return s
}

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to assessment.Phase
		ok       bool
	}{
		{assessment.PhaseIntro, assessment.PhaseConversation, true},
		{assessment.PhaseConversation, assessment.PhaseReading, true},
		{assessment.PhaseReading, assessment.PhaseComplete, true},
		{assessment.PhaseIntro, assessment.PhaseReading, false},
		{assessment.PhaseReading, assessment.PhaseConversation, false},
		{assessment.PhaseConversation, assessment.PhaseConversation, false},
		{assessment.PhaseComplete, assessment.PhaseIntro, false},
		{"bogus", assessment.PhaseConversation, false},
	}
	for _, tt := range tests {
		err := assessment.CheckTransition(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, assessment.ErrInvariantViolation) {
			t.Errorf("%s -> %s: want ErrInvariantViolation, got %v", tt.from, tt.to, err)
		}
	}
}

func TestPhaseMachine_DueTimer(t *testing.T) {
	t.Parallel()

	m := assessment.PhaseMachine{ConversationDuration: 180 * time.Second, Quota: 5}
	s := conversationState(t)

	if _, _, ok := m.Due(s, t0.Add(179*time.Second)); ok {
		t.Fatal("transition due before the conversation duration elapsed")
	}
	to, trigger, ok := m.Due(s, t0.Add(180*time.Second))
	if !ok || to != assessment.PhaseReading || trigger != assessment.TriggerTimer {
		t.Fatalf("want reading/timer, got %q/%q ok=%t", to, trigger, ok)
	}
}

func TestPhaseMachine_ConversationToReadingFiresOnce(t *testing.T) {
	t.Parallel()

	m := assessment.PhaseMachine{ConversationDuration: time.Minute, Quota: 5}
	s := conversationState(t)
	now := t0.Add(2 * time.Minute)

	fired := 0
	for range 3 {
		to, _, ok := m.Due(s, now)
		if !ok || to != assessment.PhaseReading {
			continue
		}
		next, err := s.Enter(to, now)
		if err != nil {
			t.Fatalf("Enter: %v", err)
		}
		s = next
		fired++
		now = now.Add(time.Second)
	}
	if fired != 1 {
		t.Fatalf("want exactly one conversation->reading transition, got %d", fired)
	}
	if s.Phase != assessment.PhaseReading {
		t.Fatalf("want phase reading, got %q", s.Phase)
	}
	if _, err := s.Enter(assessment.PhaseReading, now); !errors.Is(err, assessment.ErrInvariantViolation) {
		t.Fatalf("re-entering reading: want ErrInvariantViolation, got %v", err)
	}
}

func TestPhaseMachine_DueQuota(t *testing.T) {
	t.Parallel()

	m := assessment.PhaseMachine{ConversationDuration: time.Hour, Quota: 1}
	s := conversationState(t)
	s, err := s.Append(assessment.Exercise{
		ID:     "ex_00000001",
		Kind:   assessment.KindSpeaking,
		Scores: assessment.Scores{Grammar: assessment.Score(70)},
	}, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	to, trigger, ok := m.Due(s, t0.Add(2*time.Second))
	if !ok || to != assessment.PhaseReading || trigger != assessment.TriggerQuota {
		t.Fatalf("want reading/quota, got %q/%q ok=%t", to, trigger, ok)
	}
}

func TestPhaseMachine_ReadingTimer(t *testing.T) {
	t.Parallel()

	m := assessment.PhaseMachine{ConversationDuration: time.Minute, ReadingDuration: time.Minute, Quota: 5}
	s := conversationState(t)
	enteredAt := t0.Add(90 * time.Second)
	s, err := s.Enter(assessment.PhaseReading, enteredAt)
	if err != nil {
		t.Fatalf("Enter reading: %v", err)
	}
	if _, _, ok := m.Due(s, enteredAt.Add(59*time.Second)); ok {
		t.Fatal("reading timer fired early")
	}
	to, trigger, ok := m.Due(s, enteredAt.Add(time.Minute))
	if !ok || to != assessment.PhaseComplete || trigger != assessment.TriggerTimer {
		t.Fatalf("want complete/timer, got %q/%q ok=%t", to, trigger, ok)
	}
}

func TestPhaseMachine_Force(t *testing.T) {
	t.Parallel()

	m := assessment.PhaseMachine{ConversationDuration: time.Hour, Quota: 5}
	s := conversationState(t)

	s, err := m.Force(s, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Force conversation: %v", err)
	}
	if s.Phase != assessment.PhaseReading {
		t.Fatalf("want reading, got %q", s.Phase)
	}

	s, err = m.Force(s, t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Force reading: %v", err)
	}
	if !s.IsComplete() || s.Result == nil {
		t.Fatalf("want finalized session, got phase %q result %v", s.Phase, s.Result)
	}
	if s.Result.Reason != assessment.TriggerForced {
		t.Errorf("want reason forced, got %q", s.Result.Reason)
	}

	if _, err := m.Force(s, t0.Add(3*time.Second)); !errors.Is(err, assessment.ErrInvariantViolation) {
		t.Fatalf("force from complete: want ErrInvariantViolation, got %v", err)
	}
}

func TestEnter_CompleteRequiresFinalize(t *testing.T) {
	t.Parallel()

	s := conversationState(t)
	s, err := s.Enter(assessment.PhaseReading, t0)
	if err != nil {
		t.Fatalf("Enter reading: %v", err)
	}
	if _, err := s.Enter(assessment.PhaseComplete, t0); !errors.Is(err, assessment.ErrInvariantViolation) {
		t.Fatalf("want ErrInvariantViolation, got %v", err)
	}
}

// Package assessment holds the session model of a spoken-language
// assessment: the persisted [SessionState], its append-only exercise history,
// the phase path, the difficulty controller and CEFR aggregation.
//
// Everything here is a value transformation. No function in this package
// performs I/O, reads the wall clock or keeps state between calls; callers
// pass "now" explicitly. Methods on SessionState never mutate the receiver:
// they return a modified deep copy.
package assessment

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two exercise types.
type Kind string

const (
	KindSpeaking Kind = "speaking"
	KindReading  Kind = "reading"
)

// IsValid reports whether k is a known exercise kind.
func (k Kind) IsValid() bool { return k == KindSpeaking || k == KindReading }

// Scores holds the 0–100 sub-scores returned by the scoring provider. A nil
// field means the scorer did not produce that sub-score.
type Scores struct {
	Grammar       *float64 `json:"grammar,omitempty"`
	Fluency       *float64 `json:"fluency,omitempty"`
	Accuracy      *float64 `json:"accuracy,omitempty"`
	Comprehension *float64 `json:"comprehension,omitempty"`
}

// Score is a convenience for building [Scores] literals.
func Score(v float64) *float64 { return &v }

// Representative returns the single score fed to the difficulty
// controller: the mean of all present sub-scores. ok is false when no
// sub-score is present.
func (s Scores) Representative() (mean float64, ok bool) {
	var sum float64
	var n int
	for _, v := range s.values() {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (s Scores) values() [4]*float64 {
	return [4]*float64{s.Grammar, s.Fluency, s.Accuracy, s.Comprehension}
}

func (s Scores) validate() error {
	for _, v := range s.values() {
		if v != nil && (*v < 0 || *v > 100) {
			return violationf("sub-score %.2f outside [0,100]", *v)
		}
	}
	return nil
}

func (s Scores) clone() Scores {
	cp := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		x := *v
		return &x
	}
	return Scores{
		Grammar:       cp(s.Grammar),
		Fluency:       cp(s.Fluency),
		Accuracy:      cp(s.Accuracy),
		Comprehension: cp(s.Comprehension),
	}
}

// Exercise is one scored candidate response. Immutable once appended.
type Exercise struct {
	ID                 string    `json:"id"`
	Kind               Kind      `json:"kind"`
	DifficultyAtTime   int       `json:"difficulty_at_time"`
	Prompt             string    `json:"prompt,omitempty"`
	Passage            string    `json:"passage,omitempty"`
	PassageLanguage    string    `json:"passage_language,omitempty"`
	Transcript         string    `json:"transcript"`
	Scores             Scores    `json:"scores"`
	Feedback           string    `json:"feedback"`
	Errors             []string  `json:"errors"`
	Strengths          []string  `json:"strengths"`
	CorrectTranslation string    `json:"correct_translation,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewExerciseID returns an id of the form "ex_<8 hex>".
func NewExerciseID() string {
	return "ex_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (e Exercise) clone() Exercise {
	e.Scores = e.Scores.clone()
	e.Errors = slices.Clone(e.Errors)
	e.Strengths = slices.Clone(e.Strengths)
	return e
}

// SessionState is the complete, persisted state of one assessment. It is
// loaded at turn start, transformed by the agent and saved at turn end.
type SessionState struct {
	AssessmentID   string     `json:"assessment_id"`
	TargetLanguage string     `json:"target_language"`
	Phase          Phase      `json:"phase"`
	Difficulty     int        `json:"difficulty"`
	Exercises      []Exercise `json:"exercises_completed"`
	SpeakingDone   int        `json:"speaking_done"`
	ReadingDone    int        `json:"reading_done"`

	// PendingPrompt is the speaking question currently awaiting an answer;
	// PendingPassage the reading passage. At most one is set.
	PendingPrompt  string `json:"pending_prompt,omitempty"`
	PendingPassage string `json:"pending_passage,omitempty"`
	FollowupDepth  int    `json:"followup_depth"`

	Aggregate Aggregate `json:"aggregate_scores"`
	Insights  []string  `json:"insights"`

	// Result is set by Finalize and only then.
	Result *Result `json:"result,omitempty"`

	StartedAt      time.Time `json:"started_at"`
	PhaseStartedAt time.Time `json:"phase_started_at"`
	LastUpdated    time.Time `json:"last_updated"`

	// Version is bumped by the store on every successful save.
	Version int `json:"version"`
}

// New creates the state of a freshly started session in [PhaseIntro].
func New(assessmentID, targetLanguage string, difficulty int, now time.Time) SessionState {
	now = now.UTC()
	return SessionState{
		AssessmentID:   assessmentID,
		TargetLanguage: targetLanguage,
		Phase:          PhaseIntro,
		Difficulty:     clampDifficulty(difficulty),
		Exercises:      []Exercise{},
		Insights:       []string{},
		StartedAt:      now,
		PhaseStartedAt: now,
		LastUpdated:    now,
	}
}

// Clone returns a deep copy of s sharing no slices or pointers with it.
func (s SessionState) Clone() SessionState {
	out := s
	if s.Exercises != nil {
		out.Exercises = make([]Exercise, len(s.Exercises))
		for i, e := range s.Exercises {
			out.Exercises[i] = e.clone()
		}
	}
	out.Insights = slices.Clone(s.Insights)
	if s.Result != nil {
		r := s.Result.clone()
		out.Result = &r
	}
	return out
}

// IsComplete reports whether the session has been finalized.
func (s SessionState) IsComplete() bool { return s.Phase == PhaseComplete }

// CurrentKind is the exercise kind answered in the current phase.
func (s SessionState) CurrentKind() (Kind, bool) {
	switch s.Phase {
	case PhaseConversation:
		return KindSpeaking, true
	case PhaseReading:
		return KindReading, true
	}
	return "", false
}

// PreviousPrompts lists every speaking prompt already used, oldest first.
func (s SessionState) PreviousPrompts() []string {
	var out []string
	for _, e := range s.Exercises {
		if e.Prompt != "" {
			out = append(out, e.Prompt)
		}
	}
	return out
}

// PreviousPassages lists every reading passage already used, oldest first.
func (s SessionState) PreviousPassages() []string {
	var out []string
	for _, e := range s.Exercises {
		if e.Passage != "" {
			out = append(out, e.Passage)
		}
	}
	return out
}

// Append records one scored exercise and returns the new state. It bumps the
// matching counter, folds the scores into the running aggregate and applies
// [Adjust] exactly once when the exercise carries at least one sub-score.
func (s SessionState) Append(e Exercise, now time.Time) (SessionState, error) {
	if s.IsComplete() {
		return SessionState{}, ErrSessionComplete
	}
	kind, ok := s.CurrentKind()
	if !ok {
		return SessionState{}, violationf("append in phase %q", s.Phase)
	}
	if e.Kind != kind {
		return SessionState{}, violationf("append %q exercise in phase %q", e.Kind, s.Phase)
	}
	if e.ID == "" {
		return SessionState{}, violationf("exercise without id")
	}
	for _, prev := range s.Exercises {
		if prev.ID == e.ID {
			return SessionState{}, violationf("exercise %s appended twice", e.ID)
		}
	}
	if err := e.Scores.validate(); err != nil {
		return SessionState{}, err
	}

	out := s.Clone()
	e = e.clone()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Errors == nil {
		e.Errors = []string{}
	}
	if e.Strengths == nil {
		e.Strengths = []string{}
	}
	e.DifficultyAtTime = s.Difficulty

	out.Exercises = append(out.Exercises, e)
	switch e.Kind {
	case KindSpeaking:
		out.SpeakingDone++
	case KindReading:
		out.ReadingDone++
	}
	out.Aggregate = out.Aggregate.With(e.Kind, e.Scores)
	if score, ok := e.Scores.Representative(); ok {
		out.Difficulty = Adjust(s.Difficulty, score)
	}
	out.LastUpdated = now.UTC()
	return out, nil
}

// Note appends an insight line and returns the new state.
func (s SessionState) Note(insight string) SessionState {
	if insight == "" {
		return s
	}
	out := s.Clone()
	out.Insights = append(out.Insights, insight)
	return out
}

// Finalize computes the proficiency result and moves s to [PhaseComplete].
// It is the terminal transition and may be taken from any active phase
// (timer expiry, explicit end, quota exhaustion, repeated failures).
func (s SessionState) Finalize(trigger Trigger, now time.Time) (SessionState, error) {
	if s.IsComplete() {
		return SessionState{}, ErrSessionComplete
	}
	if !s.Phase.IsValid() {
		return SessionState{}, violationf("finalize from unknown phase %q", s.Phase)
	}
	out := s.Clone()
	now = now.UTC()
	res := BuildResult(out, trigger, now)
	out.Result = &res
	out.Phase = PhaseComplete
	out.PhaseStartedAt = now
	out.LastUpdated = now
	out.PendingPrompt = ""
	out.PendingPassage = ""
	out.FollowupDepth = 0
	return out, nil
}

// Validate checks every invariant of the model. The store calls it before
// each save and the agent after each turn.
func (s SessionState) Validate() error {
	if s.AssessmentID == "" {
		return violationf("empty assessment id")
	}
	if !s.Phase.IsValid() {
		return violationf("unknown phase %q", s.Phase)
	}
	if s.Difficulty < MinDifficulty || s.Difficulty > MaxDifficulty {
		return violationf("difficulty %d outside [%d,%d]", s.Difficulty, MinDifficulty, MaxDifficulty)
	}
	var speaking, reading int
	seen := make(map[string]struct{}, len(s.Exercises))
	for i, e := range s.Exercises {
		if !e.Kind.IsValid() {
			return violationf("exercise %d has unknown kind %q", i, e.Kind)
		}
		if _, dup := seen[e.ID]; dup {
			return violationf("exercise %s appears twice", e.ID)
		}
		seen[e.ID] = struct{}{}
		if i > 0 && e.CreatedAt.Before(s.Exercises[i-1].CreatedAt) {
			return violationf("exercise %s out of chronological order", e.ID)
		}
		if e.Kind == KindSpeaking {
			speaking++
		} else {
			reading++
		}
	}
	if speaking != s.SpeakingDone || reading != s.ReadingDone {
		return violationf("counters speaking=%d reading=%d do not match history (%d, %d)",
			s.SpeakingDone, s.ReadingDone, speaking, reading)
	}
	if len(s.Exercises) != s.SpeakingDone+s.ReadingDone {
		return violationf("history length %d != %d + %d", len(s.Exercises), s.SpeakingDone, s.ReadingDone)
	}
	if s.Aggregate != RederiveAggregate(s.Exercises) {
		return violationf("aggregate scores diverge from history")
	}
	if (s.Result != nil) != s.IsComplete() {
		return violationf("result present=%t in phase %q", s.Result != nil, s.Phase)
	}
	if s.LastUpdated.Before(s.StartedAt) {
		return violationf("last_updated precedes started_at")
	}
	return nil
}

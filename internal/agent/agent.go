// Package agent implements the turn orchestrator of a spoken-language
// assessment.
//
// An [Agent] is stateless between calls: every fact it needs arrives in the
// [assessment.SessionState] and the [Event] passed to [Agent.ProcessTurn],
// and every effect leaves in the returned [Turn]. One turn transcribes an
// answer, scores it, records the exercise (which adjusts the difficulty),
// consults the phase machine, decides what to ask next and voices the
// interviewer's lines.
//
// Provider failures never mutate the session. Transcription and scoring
// failures yield an error message, the input state and [Turn.Failure];
// synthesis failures degrade the turn to text only. Serializing turns per
// session is the caller's job.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/language"
	"github.com/MrWong99/lexi/internal/protocol"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	"github.com/MrWong99/lexi/pkg/provider/tts"
)

// ErrUnknownLanguage is returned by Start for a language that cannot be
// resolved.
var ErrUnknownLanguage = errors.New("agent: unknown language")

var errNoSTT = errors.New("agent: no speech-to-text provider configured")

// Settings are the tunables of an assessment.
type Settings struct {
	Machine assessment.PhaseMachine

	// DefaultDifficulty is the level a new session starts at.
	DefaultDifficulty int

	// MinResponseWords is the answer length below which a follow-up is asked
	// instead of a new prompt.
	MinResponseWords int

	// MaxFollowups caps follow-ups per prompt.
	MaxFollowups int

	// SynthesizeSpeech enables TTS for interviewer lines.
	SynthesizeSpeech bool

	// Voice is passed to the TTS provider. Empty uses its default.
	Voice string

	STTTimeout     time.Duration
	ScoringTimeout time.Duration
	TTSTimeout     time.Duration
	ContentTimeout time.Duration
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Machine: assessment.PhaseMachine{
			ConversationDuration: 180 * time.Second,
			ReadingDuration:      300 * time.Second,
			Quota:                5,
		},
		DefaultDifficulty: assessment.MinDifficulty,
		MinResponseWords:  6,
		MaxFollowups:      1,
		SynthesizeSpeech:  true,
		STTTimeout:        15 * time.Second,
		ScoringTimeout:    20 * time.Second,
		TTSTimeout:        15 * time.Second,
		ContentTimeout:    10 * time.Second,
	}
}

// Config holds the dependencies of an [Agent]. Scorer is required. A nil
// STT rejects spoken answers, a nil TTS disables speech and a nil Content
// uses [StaticContent].
type Config struct {
	STT      stt.Provider
	Scorer   scoring.Provider
	TTS      tts.Provider
	Content  Content
	Settings Settings

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is the turn-processing surface the gateway drives. [Agent]
// is the production implementation.
type Orchestrator interface {
	// Start creates and greets a new session.
	Start(ctx context.Context, assessmentID, language string) (Turn, error)

	// ProcessTurn applies one event to s.
	ProcessTurn(ctx context.Context, s assessment.SessionState, ev Event) (Turn, error)

	// Finalize completes s with the given trigger.
	Finalize(ctx context.Context, s assessment.SessionState, trigger assessment.Trigger) (Turn, error)
}

var _ Orchestrator = (*Agent)(nil)

// Agent is the turn orchestrator. It is immutable after construction and
// safe for concurrent use across sessions.
type Agent struct {
	stt      stt.Provider
	scorer   scoring.Provider
	tts      tts.Provider
	content  Content
	settings Settings
	now      func() time.Time
}

// Turn is the outcome of one call into the agent.
type Turn struct {
	// Messages are the outbound frames in delivery order.
	Messages []protocol.Message

	// State is the new session state, or the input state when nothing
	// changed.
	State assessment.SessionState

	// Actions lists the decisions taken, in order.
	Actions []Action

	// Persist reports whether State differs from the input and must be
	// saved before Messages are delivered.
	Persist bool

	// Failure is the recoverable provider error that aborted the turn.
	Failure error
}

// New validates cfg and returns an [Agent].
func New(cfg Config) (*Agent, error) {
	if cfg.Scorer == nil {
		return nil, errors.New("agent: scoring provider must not be nil")
	}
	if cfg.Settings.DefaultDifficulty == 0 {
		cfg.Settings.DefaultDifficulty = assessment.MinDifficulty
	}
	if cfg.Settings.DefaultDifficulty < assessment.MinDifficulty || cfg.Settings.DefaultDifficulty > assessment.MaxDifficulty {
		return nil, fmt.Errorf("agent: default difficulty %d outside [%d,%d]",
			cfg.Settings.DefaultDifficulty, assessment.MinDifficulty, assessment.MaxDifficulty)
	}
	a := &Agent{
		stt:      cfg.STT,
		scorer:   cfg.Scorer,
		tts:      cfg.TTS,
		content:  cfg.Content,
		settings: cfg.Settings,
		now:      cfg.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Settings returns the agent's settings.
func (a *Agent) Settings() Settings { return a.settings }

// Start creates the state of a new session, moves it into the conversation
// phase and greets the candidate with the first prompt.
func (a *Agent) Start(ctx context.Context, assessmentID, languageName string) (Turn, error) {
	if assessmentID == "" {
		return Turn{}, errors.New("agent: empty assessment id")
	}
	lang, ok := language.Resolve(languageName)
	if !ok {
		return Turn{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, languageName)
	}
	now := a.now()

	s, err := assessment.New(assessmentID, lang.Name, a.settings.DefaultDifficulty, now).
		Enter(assessment.PhaseConversation, now)
	if err != nil {
		return Turn{}, err
	}
	prompt := a.speakingPrompt(ctx, s, lang)
	s.PendingPrompt = prompt

	msgs := []protocol.Message{
		protocol.Transcript{Speaker: protocol.SpeakerAI, Text: greeting(lang.Name) + " " + prompt},
	}
	actions := []Action{{Kind: ActionNewPrompt, Reason: fmt.Sprintf("session started at difficulty %d", s.Difficulty)}}
	return a.finish(ctx, s, lang, msgs, actions)
}

// ProcessTurn runs one turn for ev against s. A returned error means the
// turn was rejected (invariant violation, finished session, cancellation)
// and nothing must be persisted or delivered.
func (a *Agent) ProcessTurn(ctx context.Context, s assessment.SessionState, ev Event) (Turn, error) {
	if s.IsComplete() {
		return Turn{State: s}, assessment.ErrSessionComplete
	}
	if err := s.Validate(); err != nil {
		return Turn{State: s}, err
	}
	switch ev := ev.(type) {
	case AudioSubmitted:
		return a.audio(ctx, s, ev)
	case TextSubmitted:
		return a.answer(ctx, s, strings.TrimSpace(ev.Text))
	case Tick:
		return a.tick(ctx, s)
	case ForceTransition:
		next, ok := s.Phase.Next()
		if !ok {
			return Turn{State: s}, assessment.ErrSessionComplete
		}
		return a.transition(ctx, s, next, assessment.TriggerForced, nil, nil)
	case EndSession:
		return a.Finalize(ctx, s, assessment.TriggerEnded)
	default:
		return Turn{State: s}, fmt.Errorf("agent: unknown event %T", ev)
	}
}

// Finalize computes the result and completes the session, whatever phase
// it is in.
func (a *Agent) Finalize(ctx context.Context, s assessment.SessionState, trigger assessment.Trigger) (Turn, error) {
	if s.IsComplete() {
		return Turn{State: s}, assessment.ErrSessionComplete
	}
	return a.conclude(ctx, s, a.lang(s), trigger, nil, nil)
}

func (a *Agent) tick(ctx context.Context, s assessment.SessionState) (Turn, error) {
	to, trigger, ok := a.settings.Machine.Due(s, a.now())
	if !ok {
		return Turn{State: s}, nil
	}
	return a.transition(ctx, s, to, trigger, nil, nil)
}

// repromptOrAdvance asks for the pending item again unless a phase timer
// ran out while the candidate was silent.
func (a *Agent) repromptOrAdvance(ctx context.Context, s assessment.SessionState) (Turn, error) {
	if to, trigger, due := a.settings.Machine.Due(s, a.now()); due {
		return a.transition(ctx, s, to, trigger, nil, nil)
	}
	return a.reprompt(ctx, s), nil
}

func (a *Agent) audio(ctx context.Context, s assessment.SessionState, ev AudioSubmitted) (Turn, error) {
	kind, ok := s.CurrentKind()
	if !ok {
		return Turn{State: s}, fmt.Errorf("%w: answer in phase %q", assessment.ErrInvariantViolation, s.Phase)
	}
	if len(ev.Audio) == 0 {
		return a.repromptOrAdvance(ctx, s)
	}
	lang := a.lang(s)
	code := lang.Code
	if kind == assessment.KindReading {
		code = language.English.Code
	}

	if a.stt == nil {
		return a.failed(s, assessment.Wrap(assessment.ErrTranscription, "transcribe", errNoSTT), MsgAudioFailed), nil
	}

	tctx, cancel := a.withTimeout(ctx, a.settings.STTTimeout)
	tr, err := a.stt.Transcribe(tctx, stt.Request{
		Audio:    ev.Audio,
		Encoding: ev.Encoding,
		Format:   ev.Format,
		Language: code,
	})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return Turn{State: s}, fmt.Errorf("agent: transcribe: %w", ctx.Err())
		}
		return a.failed(s, assessment.Wrap(assessment.ErrTranscription, "transcribe", err), MsgAudioFailed), nil
	}
	return a.answer(ctx, s, strings.TrimSpace(tr.Text))
}

func (a *Agent) answer(ctx context.Context, s assessment.SessionState, text string) (Turn, error) {
	kind, ok := s.CurrentKind()
	if !ok {
		return Turn{State: s}, fmt.Errorf("%w: answer in phase %q", assessment.ErrInvariantViolation, s.Phase)
	}
	if text == "" {
		return a.repromptOrAdvance(ctx, s)
	}
	lang := a.lang(s)

	sctx, cancel := a.withTimeout(ctx, a.settings.ScoringTimeout)
	ev, err := a.scorer.Score(sctx, scoring.Request{
		Kind:       scoring.Kind(kind),
		Transcript: text,
		Prompt:     s.PendingPrompt,
		Passage:    s.PendingPassage,
		Language:   lang.Name,
		Difficulty: s.Difficulty,
	})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return Turn{State: s}, fmt.Errorf("agent: score: %w", ctx.Err())
		}
		return a.failed(s, assessment.Wrap(assessment.ErrScoring, "score", err), MsgScoringFailed), nil
	}

	now := a.now()
	ex := newExercise(kind, s, lang, text, ev, now)
	next, err := s.Append(ex, now)
	if err != nil {
		return Turn{State: s}, err
	}

	var actions []Action
	if delta := next.Difficulty - s.Difficulty; delta != 0 {
		score, _ := ex.Scores.Representative()
		actions = append(actions, Action{
			Kind:   ActionAdjustDifficulty,
			Delta:  delta,
			Reason: fmt.Sprintf("scored %.0f at difficulty %d", score, s.Difficulty),
		})
	}
	msgs := []protocol.Message{protocol.Transcript{Speaker: protocol.SpeakerUser, Text: text}}
	if kind == assessment.KindReading {
		msgs = append(msgs, protocol.ReadingEvaluation{
			Text:       readingFeedback(ex.Feedback),
			Evaluation: evaluationOf(ex),
		})
	}

	if to, trigger, due := a.settings.Machine.Due(next, now); due {
		return a.transition(ctx, next, to, trigger, msgs, actions)
	}

	if kind == assessment.KindReading {
		passage := a.readingPassage(ctx, next, lang)
		next.PendingPassage = passage
		msgs = append(msgs, a.passageMessage(next, lang, passage))
		actions = append(actions, Action{Kind: ActionNewPrompt, Reason: fmt.Sprintf("reading %d of %d", next.ReadingDone+1, a.settings.Machine.Quota)})
		return a.finish(ctx, next, lang, msgs, actions)
	}

	if words := len(strings.Fields(text)); words < a.settings.MinResponseWords && next.FollowupDepth < a.settings.MaxFollowups {
		next.FollowupDepth++
		msgs = append(msgs, protocol.Transcript{Speaker: protocol.SpeakerAI, Text: followup(next.FollowupDepth)})
		actions = append(actions, Action{Kind: ActionAskFollowup, Reason: fmt.Sprintf("answer had %d words", words)})
		return a.finish(ctx, next, lang, msgs, actions)
	}

	prompt := a.speakingPrompt(ctx, next, lang)
	next.PendingPrompt = prompt
	next.FollowupDepth = 0
	msgs = append(msgs, protocol.Transcript{Speaker: protocol.SpeakerAI, Text: prompt})
	actions = append(actions, Action{Kind: ActionNewPrompt, Reason: fmt.Sprintf("next prompt at difficulty %d", next.Difficulty)})
	return a.finish(ctx, next, lang, msgs, actions)
}

// transition moves s to phase to, appending the announcement to msgs.
func (a *Agent) transition(ctx context.Context, s assessment.SessionState, to assessment.Phase, trigger assessment.Trigger, msgs []protocol.Message, actions []Action) (Turn, error) {
	lang := a.lang(s)
	if to == assessment.PhaseComplete {
		return a.conclude(ctx, s, lang, trigger, msgs, actions)
	}

	now := a.now()
	next, err := s.Enter(to, now)
	if err != nil {
		return Turn{State: s}, err
	}
	actions = append(actions, Action{Kind: ActionSwitchPhase, Phase: to, Reason: string(trigger)})

	switch to {
	case assessment.PhaseConversation:
		prompt := a.speakingPrompt(ctx, next, lang)
		next.PendingPrompt = prompt
		msgs = append(msgs, protocol.Transcript{Speaker: protocol.SpeakerAI, Text: greeting(lang.Name) + " " + prompt})
	case assessment.PhaseReading:
		passage := a.readingPassage(ctx, next, lang)
		next.PendingPassage = passage
		msgs = append(msgs,
			protocol.PhaseTransition{Text: readingIntro(lang.Name), NewPhase: assessment.PhaseReading},
			a.passageMessage(next, lang, passage),
		)
	}
	return a.finish(ctx, next, lang, msgs, actions)
}

func (a *Agent) conclude(ctx context.Context, s assessment.SessionState, lang language.Language, trigger assessment.Trigger, msgs []protocol.Message, actions []Action) (Turn, error) {
	final, err := s.Finalize(trigger, a.now())
	if err != nil {
		return Turn{State: s}, err
	}
	actions = append(actions, Action{Kind: ActionConclude, Reason: string(trigger)})
	msgs = append(msgs, protocol.SessionComplete{Text: closing(*final.Result), Result: *final.Result})
	return a.finish(ctx, final, lang, msgs, actions)
}

// finish records the decisions as insights, checks every invariant and
// voices the interviewer lines.
func (a *Agent) finish(ctx context.Context, s assessment.SessionState, lang language.Language, msgs []protocol.Message, actions []Action) (Turn, error) {
	for _, act := range actions {
		s = s.Note(act.String())
	}
	if err := s.Validate(); err != nil {
		return Turn{}, err
	}
	return Turn{
		Messages: a.voice(ctx, lang, msgs),
		State:    s,
		Actions:  actions,
		Persist:  true,
	}, nil
}

func (a *Agent) failed(s assessment.SessionState, cause error, text string) Turn {
	slog.Warn("agent: turn aborted", "assessment_id", s.AssessmentID, "phase", s.Phase, "err", cause)
	return Turn{
		Messages: []protocol.Message{protocol.Error{Message: text}},
		State:    s,
		Failure:  cause,
	}
}

func (a *Agent) reprompt(ctx context.Context, s assessment.SessionState) Turn {
	msgs := []protocol.Message{protocol.Transcript{Speaker: protocol.SpeakerAI, Text: MsgRepeat}}
	return Turn{Messages: a.voice(ctx, a.lang(s), msgs), State: s}
}

func (a *Agent) passageMessage(s assessment.SessionState, lang language.Language, passage string) protocol.ReadingPassage {
	return protocol.ReadingPassage{
		Passage:     passage,
		Language:    lang.Name,
		Difficulty:  s.Difficulty,
		Instruction: ReadingInstruction,
	}
}

func (a *Agent) speakingPrompt(ctx context.Context, s assessment.SessionState, lang language.Language) string {
	req := ContentRequest{Language: lang, Difficulty: s.Difficulty, Previous: s.PreviousPrompts()}
	if a.content != nil {
		cctx, cancel := a.withTimeout(ctx, a.settings.ContentTimeout)
		p, err := a.content.SpeakingPrompt(cctx, req)
		cancel()
		if err == nil {
			return p
		}
		slog.Warn("agent: prompt generation failed, using bank", "assessment_id", s.AssessmentID, "err", err)
	}
	p, _ := StaticContent{}.SpeakingPrompt(ctx, req)
	return p
}

func (a *Agent) readingPassage(ctx context.Context, s assessment.SessionState, lang language.Language) string {
	req := ContentRequest{Language: lang, Difficulty: s.Difficulty, Previous: s.PreviousPassages()}
	if a.content != nil {
		cctx, cancel := a.withTimeout(ctx, a.settings.ContentTimeout)
		p, err := a.content.ReadingPassage(cctx, req)
		cancel()
		if err == nil {
			return p
		}
		slog.Warn("agent: passage generation failed, using bank", "assessment_id", s.AssessmentID, "err", err)
	}
	p, _ := StaticContent{}.ReadingPassage(ctx, req)
	return p
}

// voice attaches synthesized speech to every interviewer line. Lines whose
// synthesis fails are sent as text.
func (a *Agent) voice(ctx context.Context, lang language.Language, msgs []protocol.Message) []protocol.Message {
	if !a.settings.SynthesizeSpeech || a.tts == nil {
		return msgs
	}
	out := slices.Clone(msgs)
	var g errgroup.Group
	for i, m := range out {
		v, ok := m.(protocol.Voiced)
		if !ok || v.SpokenText() == "" {
			continue
		}
		code := language.English.Code
		if t, isTranscript := m.(protocol.Transcript); isTranscript {
			if t.Speaker != protocol.SpeakerAI {
				continue
			}
			code = lang.Code
		}
		g.Go(func() error {
			tctx, cancel := a.withTimeout(ctx, a.settings.TTSTimeout)
			defer cancel()
			sp, err := a.tts.Synthesize(tctx, tts.Request{Text: v.SpokenText(), Language: code, Voice: a.settings.Voice})
			if err != nil {
				slog.Warn("agent: sending text only", "err", assessment.Wrap(assessment.ErrSynthesis, "synthesize", err))
				return nil
			}
			out[i] = v.WithAudio(sp.Audio)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *Agent) lang(s assessment.SessionState) language.Language {
	if l, ok := language.Resolve(s.TargetLanguage); ok {
		return l
	}
	return language.Language{Name: s.TargetLanguage, Code: language.English.Code}
}

func (a *Agent) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func newExercise(kind assessment.Kind, s assessment.SessionState, lang language.Language, text string, ev scoring.Evaluation, now time.Time) assessment.Exercise {
	ex := assessment.Exercise{
		ID:         assessment.NewExerciseID(),
		Kind:       kind,
		Transcript: text,
		Feedback:   ev.Feedback,
		Errors:     ev.Errors,
		Strengths:  ev.Strengths,
		CreatedAt:  now,
	}
	switch kind {
	case assessment.KindSpeaking:
		ex.Prompt = s.PendingPrompt
		ex.Scores = assessment.Scores{Grammar: ev.Grammar, Fluency: ev.Fluency}
	case assessment.KindReading:
		ex.Passage = s.PendingPassage
		ex.PassageLanguage = lang.Name
		ex.CorrectTranslation = ev.CorrectTranslation
		ex.Scores = assessment.Scores{Grammar: ev.Grammar, Accuracy: ev.Accuracy, Comprehension: ev.Comprehension}
		if ex.Scores.Comprehension == nil && ev.Accuracy != nil {
			ex.Scores.Comprehension = assessment.Score(*ev.Accuracy)
		}
	}
	return ex
}

func evaluationOf(ex assessment.Exercise) protocol.Evaluation {
	val := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}
	return protocol.Evaluation{
		ComprehensionScore: val(ex.Scores.Comprehension),
		AccuracyScore:      val(ex.Scores.Accuracy),
		GrammarScore:       val(ex.Scores.Grammar),
		Feedback:           ex.Feedback,
		Errors:             ex.Errors,
		CorrectTranslation: ex.CorrectTranslation,
		Strengths:          ex.Strengths,
		Transcript:         ex.Transcript,
	}
}

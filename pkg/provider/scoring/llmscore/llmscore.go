// Package llmscore implements a scoring.Provider that asks a language model
// to grade an answer against a fixed rubric.
//
// The [Scorer] sends the question (or passage) and the candidate's
// transcript to an [llm.Provider] with a system prompt describing the
// rubric and requests a structured JSON verdict. Unlike a best-effort
// post-processing stage, an unparseable verdict is an error: a score can
// not be guessed.
package llmscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/lexi/pkg/provider/llm"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 600
)

// ErrMalformedVerdict is returned when the model output is not the expected
// JSON object.
var ErrMalformedVerdict = errors.New("llmscore: malformed verdict")

const speakingPrompt = `You are an examiner rating a spoken answer in %s.

The candidate was asked a question at difficulty %d on a 1-10 scale and answered aloud.
The answer was transcribed automatically, so ignore punctuation and capitalisation.

Rate on a 0-100 scale:
- grammar_score: grammatical correctness, vocabulary and sentence structure.
- fluency_score: naturalness, coherence and how fully the question was answered.

List concrete mistakes in "errors" (quote the wrong phrase and the fix) and what went well in "strengths".
Write "feedback" as one or two encouraging sentences in English.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"grammar_score": <number>, "fluency_score": <number>, "feedback": "<text>", "errors": ["<text>"], "strengths": ["<text>"]}`

const readingPrompt = `You are an examiner rating a translation from %s into English.

The candidate read a passage at difficulty %d on a 1-10 scale and translated it aloud.
The translation was transcribed automatically, so ignore punctuation and capitalisation.

Rate on a 0-100 scale:
- accuracy_score: how faithfully the meaning was preserved.
- comprehension_score: how well the candidate understood the passage overall.
- grammar_score: grammatical correctness of the English translation.

List mistranslations in "errors" and what went well in "strengths".
Give a natural English rendering of the passage in "correct_translation".
Write "feedback" as one or two encouraging sentences.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"accuracy_score": <number>, "comprehension_score": <number>, "grammar_score": <number>, "feedback": "<text>", "errors": ["<text>"], "strengths": ["<text>"], "correct_translation": "<text>"}`

// verdict is the expected JSON structure returned by the model.
type verdict struct {
	Grammar            *float64 `json:"grammar_score"`
	Fluency            *float64 `json:"fluency_score"`
	Accuracy           *float64 `json:"accuracy_score"`
	Comprehension      *float64 `json:"comprehension_score"`
	Feedback           string   `json:"feedback"`
	Errors             []string `json:"errors"`
	Strengths          []string `json:"strengths"`
	CorrectTranslation string   `json:"correct_translation"`
}

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(s *Scorer) { s.temperature = temp }
}

// WithMaxTokens caps the verdict length. Default: 600.
func WithMaxTokens(n int) Option {
	return func(s *Scorer) { s.maxTokens = n }
}

// Scorer grades answers through an [llm.Provider]. It is safe for
// concurrent use.
type Scorer struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

var _ scoring.Provider = (*Scorer)(nil)

// New returns a [Scorer] backed by provider.
func New(provider llm.Provider, opts ...Option) *Scorer {
	s := &Scorer{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score implements scoring.Provider.
func (s *Scorer) Score(ctx context.Context, req scoring.Request) (scoring.Evaluation, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return scoring.Evaluation{}, scoring.ErrEmptyTranscript
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(req),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: buildUserMessage(req)}},
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		JSON:         true,
	})
	if err != nil {
		return scoring.Evaluation{}, fmt.Errorf("llmscore: complete: %w", err)
	}
	return parseVerdict(req.Kind, resp.Content)
}

func buildSystemPrompt(req scoring.Request) string {
	if req.Kind == scoring.Reading {
		return fmt.Sprintf(readingPrompt, req.Language, req.Difficulty)
	}
	return fmt.Sprintf(speakingPrompt, req.Language, req.Difficulty)
}

func buildUserMessage(req scoring.Request) string {
	if req.Kind == scoring.Reading {
		return fmt.Sprintf("Passage (%s):\n%s\n\nCandidate translation:\n%s", req.Language, req.Passage, req.Transcript)
	}
	return fmt.Sprintf("Question:\n%s\n\nCandidate answer:\n%s", req.Prompt, req.Transcript)
}

// parseVerdict unmarshals and sanitises the model output. Scores outside
// the rubric of kind are dropped, the rest clamped to 0–100.
func parseVerdict(kind scoring.Kind, content string) (scoring.Evaluation, error) {
	var v verdict
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &v); err != nil {
		return scoring.Evaluation{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}

	ev := scoring.Evaluation{
		Grammar:            clamp(v.Grammar),
		Feedback:           strings.TrimSpace(v.Feedback),
		Errors:             nonEmpty(v.Errors),
		Strengths:          nonEmpty(v.Strengths),
		CorrectTranslation: strings.TrimSpace(v.CorrectTranslation),
	}
	switch kind {
	case scoring.Reading:
		ev.Accuracy = clamp(v.Accuracy)
		ev.Comprehension = clamp(v.Comprehension)
		if ev.Accuracy == nil && ev.Comprehension == nil {
			return scoring.Evaluation{}, fmt.Errorf("%w: no accuracy or comprehension score", ErrMalformedVerdict)
		}
	default:
		ev.Fluency = clamp(v.Fluency)
		ev.CorrectTranslation = ""
		if ev.Grammar == nil && ev.Fluency == nil {
			return scoring.Evaluation{}, fmt.Errorf("%w: no grammar or fluency score", ErrMalformedVerdict)
		}
	}
	return ev, nil
}

func clamp(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := scoring.Clamp(*v)
	return &c
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// Package heuristic provides an offline scoring.Provider that rates answers
// from surface features only: length relative to the difficulty and lexical
// variety. It needs no network access and is meant for local development
// and as the last fallback when every model-backed scorer is down.
package heuristic

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/lexi/pkg/provider/scoring"
)

const defaultBaseWords = 4

var _ scoring.Provider = (*Scorer)(nil)

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithBaseWords sets the expected answer length at difficulty 0. Each
// difficulty level adds two words.
func WithBaseWords(n int) Option {
	return func(s *Scorer) { s.baseWords = n }
}

// Scorer implements scoring.Provider without any backend.
type Scorer struct {
	baseWords int
}

// New returns a heuristic [Scorer].
func New(opts ...Option) *Scorer {
	s := &Scorer{baseWords: defaultBaseWords}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score implements scoring.Provider.
func (s *Scorer) Score(_ context.Context, req scoring.Request) (scoring.Evaluation, error) {
	words := tokenize(req.Transcript)
	if len(words) == 0 {
		return scoring.Evaluation{}, scoring.ErrEmptyTranscript
	}
	variety := lexicalVariety(words)
	grammar := scoring.Clamp(50 + 45*variety)

	if req.Kind == scoring.Reading {
		return s.reading(req, words, grammar), nil
	}
	return s.speaking(req, words, variety, grammar), nil
}

func (s *Scorer) speaking(req scoring.Request, words []string, variety, grammar float64) scoring.Evaluation {
	target := s.baseWords + 2*req.Difficulty
	coverage := min(float64(len(words))/float64(target), 1)
	fluency := scoring.Clamp(40 + 60*coverage)

	ev := scoring.Evaluation{
		Grammar:   &grammar,
		Fluency:   &fluency,
		Errors:    []string{},
		Strengths: []string{},
	}
	if len(words) < target {
		ev.Errors = append(ev.Errors, "The answer was short; try to develop it with more detail.")
	} else {
		ev.Strengths = append(ev.Strengths, "Well-developed answer.")
	}
	if variety < 0.6 {
		ev.Errors = append(ev.Errors, "Many words were repeated; try to vary your vocabulary.")
	} else {
		ev.Strengths = append(ev.Strengths, "Good vocabulary variety.")
	}
	ev.Feedback = feedback(fluency)
	return ev
}

func (s *Scorer) reading(req scoring.Request, words []string, grammar float64) scoring.Evaluation {
	passage := tokenize(req.Passage)
	ratio := 0.0
	if len(passage) > 0 {
		lo, hi := min(len(words), len(passage)), max(len(words), len(passage))
		ratio = float64(lo) / float64(hi)
	}
	accuracy := scoring.Clamp(30 + 70*ratio)
	comprehension := accuracy

	ev := scoring.Evaluation{
		Grammar:       &grammar,
		Accuracy:      &accuracy,
		Comprehension: &comprehension,
		Errors:        []string{},
		Strengths:     []string{},
	}
	if ratio < 0.6 {
		ev.Errors = append(ev.Errors, "The translation length differs a lot from the passage; parts may be missing.")
	} else {
		ev.Strengths = append(ev.Strengths, "The translation covers the whole passage.")
	}
	ev.Feedback = feedback(accuracy)
	return ev
}

func feedback(score float64) string {
	switch {
	case score >= 85:
		return "Excellent answer, keep it up."
	case score >= 60:
		return "Good answer with room to add more detail."
	default:
		return "Try to give a longer and more complete answer."
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

// lexicalVariety is the type/token ratio of words.
func lexicalVariety(words []string) float64 {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

// Package scoring defines the Provider interface for evaluating a
// candidate's answer.
//
// A scoring provider receives the transcript of one answer together with
// the question or passage it responds to and returns 0–100 sub-scores plus
// written feedback. Speaking answers are rated for grammar and fluency;
// reading answers (an English translation of a passage in the target
// language) for accuracy, comprehension and grammar.
//
// Implementations must be safe for concurrent use.
package scoring

import (
	"context"
	"errors"
)

// Kind selects the rubric.
type Kind string

const (
	Speaking Kind = "speaking"
	Reading  Kind = "reading"
)

// ErrEmptyTranscript is returned when there is nothing to score.
var ErrEmptyTranscript = errors.New("scoring: empty transcript")

// Request describes one answer to score.
type Request struct {
	Kind Kind

	// Transcript is what the candidate said.
	Transcript string

	// Prompt is the speaking question. Set for Speaking.
	Prompt string

	// Passage is the text the candidate translated. Set for Reading.
	Passage string

	// Language is the human name of the assessed language.
	Language string

	// Difficulty is the 1–10 level the question was asked at.
	Difficulty int
}

// Evaluation is a scorer's verdict. A nil score means the rubric does not
// cover it or the scorer could not produce it.
type Evaluation struct {
	Grammar       *float64
	Fluency       *float64
	Accuracy      *float64
	Comprehension *float64

	Feedback           string
	Errors             []string
	Strengths          []string
	CorrectTranslation string
}

// Provider is the abstraction over any scoring backend.
type Provider interface {
	Score(ctx context.Context, req Request) (Evaluation, error)
}

// Clamp bounds v to the 0–100 score range.
func Clamp(v float64) float64 {
	return min(max(v, 0), 100)
}

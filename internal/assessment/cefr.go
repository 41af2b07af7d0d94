package assessment

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Level is a CEFR proficiency band.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
	LevelC2 Level = "C2"

	// LevelUnrated is reported when the session ended without a single
	// scored exercise.
	LevelUnrated Level = "unrated"
)

// CEFRFor maps an overall mean score to its band.
func CEFRFor(mean float64) Level {
	switch {
	case mean >= 90:
		return LevelC2
	case mean >= 80:
		return LevelC1
	case mean >= 70:
		return LevelB2
	case mean >= 60:
		return LevelB1
	case mean >= 50:
		return LevelA2
	default:
		return LevelA1
	}
}

// Tally is a running sum and count of one sub-score.
type Tally struct {
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

func (t Tally) add(v *float64) Tally {
	if v == nil {
		return t
	}
	return Tally{Sum: t.Sum + *v, Count: t.Count + 1}
}

// Mean returns Sum/Count; ok is false when nothing was tallied.
func (t Tally) Mean() (float64, bool) {
	if t.Count == 0 {
		return 0, false
	}
	return t.Sum / float64(t.Count), true
}

// Aggregate keeps the running tallies that feed the final result. It is
// updated incrementally by [SessionState.Append]; [RederiveAggregate]
// rebuilds the same value from history.
type Aggregate struct {
	SpeakingGrammar      Tally `json:"speaking_grammar"`
	SpeakingFluency      Tally `json:"speaking_fluency"`
	ReadingComprehension Tally `json:"reading_comprehension"`
	ReadingAccuracy      Tally `json:"reading_accuracy"`
	ReadingGrammar       Tally `json:"reading_grammar"`
}

// With folds one exercise's scores into a copy of a.
func (a Aggregate) With(kind Kind, s Scores) Aggregate {
	switch kind {
	case KindSpeaking:
		a.SpeakingGrammar = a.SpeakingGrammar.add(s.Grammar)
		a.SpeakingFluency = a.SpeakingFluency.add(s.Fluency)
	case KindReading:
		a.ReadingComprehension = a.ReadingComprehension.add(s.Comprehension)
		a.ReadingAccuracy = a.ReadingAccuracy.add(s.Accuracy)
		a.ReadingGrammar = a.ReadingGrammar.add(s.Grammar)
	}
	return a
}

// RederiveAggregate rebuilds the aggregate from scratch. Sums are folded in
// history order so the result is bit-identical to the incremental value.
func RederiveAggregate(exercises []Exercise) Aggregate {
	var a Aggregate
	for _, e := range exercises {
		a = a.With(e.Kind, e.Scores)
	}
	return a
}

func (a Aggregate) tallies() []Tally {
	return []Tally{
		a.SpeakingGrammar, a.SpeakingFluency,
		a.ReadingComprehension, a.ReadingAccuracy, a.ReadingGrammar,
	}
}

// Overall is the mean of every component mean that has data. ok is false
// when no exercise was scored.
func (a Aggregate) Overall() (float64, bool) {
	var sum float64
	var n int
	for _, t := range a.tallies() {
		if m, ok := t.Mean(); ok {
			sum += m
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Level maps the overall mean to a CEFR band.
func (a Aggregate) Level() Level {
	mean, ok := a.Overall()
	if !ok {
		return LevelUnrated
	}
	return CEFRFor(mean)
}

// Result is the finalized proficiency view of a session.
type Result struct {
	Level               Level     `json:"proficiency_level"`
	OverallScore        float64   `json:"overall_score"`
	GrammarScore        float64   `json:"overall_grammar_score"`
	FluencyScore        float64   `json:"overall_fluency_score"`
	AccuracyScore       float64   `json:"overall_accuracy_score"`
	ComprehensionScore  float64   `json:"overall_comprehension_score"`
	ExercisesCompleted  int       `json:"exercises_completed"`
	Feedback            string    `json:"feedback"`
	Strengths           []string  `json:"strengths"`
	AreasForImprovement []string  `json:"areas_for_improvement"`
	Reason              Trigger   `json:"reason"`
	FinalizedAt         time.Time `json:"finalized_at"`
}

func (r Result) clone() Result {
	r.Strengths = slices.Clone(r.Strengths)
	r.AreasForImprovement = slices.Clone(r.AreasForImprovement)
	return r
}

// maxHighlights caps the strengths and improvement areas in a result.
const maxHighlights = 3

// BuildResult derives the result view of s. It reads only the aggregate and
// the exercise history, so it can be recomputed at any time for audit.
func BuildResult(s SessionState, trigger Trigger, now time.Time) Result {
	agg := s.Aggregate
	overall, _ := agg.Overall()
	grammar := Tally{
		Sum:   agg.SpeakingGrammar.Sum + agg.ReadingGrammar.Sum,
		Count: agg.SpeakingGrammar.Count + agg.ReadingGrammar.Count,
	}
	r := Result{
		Level:               agg.Level(),
		OverallScore:        round1(overall),
		GrammarScore:        round1(meanOrZero(grammar)),
		FluencyScore:        round1(meanOrZero(agg.SpeakingFluency)),
		AccuracyScore:       round1(meanOrZero(agg.ReadingAccuracy)),
		ComprehensionScore:  round1(meanOrZero(agg.ReadingComprehension)),
		ExercisesCompleted:  len(s.Exercises),
		Strengths:           topRecurring(s.Exercises, func(e Exercise) []string { return e.Strengths }),
		AreasForImprovement: topRecurring(s.Exercises, func(e Exercise) []string { return e.Errors }),
		Reason:              trigger,
		FinalizedAt:         now.UTC(),
	}
	r.Feedback = summaryFeedback(s.TargetLanguage, r.Level)
	return r
}

func meanOrZero(t Tally) float64 {
	m, _ := t.Mean()
	return m
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// topRecurring returns the most frequent distinct entries, ties broken by
// first appearance.
func topRecurring(exercises []Exercise, pick func(Exercise) []string) []string {
	type entry struct {
		text  string
		count int
		first int
	}
	idx := map[string]int{}
	var entries []entry
	for _, e := range exercises {
		for _, v := range pick(e) {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" {
				continue
			}
			if i, ok := idx[key]; ok {
				entries[i].count++
				continue
			}
			idx[key] = len(entries)
			entries = append(entries, entry{text: strings.TrimSpace(v), count: 1, first: len(entries)})
		}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.first, b.first)
	})
	out := make([]string, 0, maxHighlights)
	for _, e := range entries {
		if len(out) == maxHighlights {
			break
		}
		out = append(out, e.text)
	}
	return out
}

var levelSummaries = map[Level]string{
	LevelA1:      "You can handle simple, familiar phrases. Keep building core vocabulary and present-tense sentences.",
	LevelA2:      "You communicate in routine situations. Work on past and future tenses to describe experiences.",
	LevelB1:      "Good intermediate proficiency. Focus on linking ideas and expanding vocabulary for less familiar topics.",
	LevelB2:      "You speak with confidence on a wide range of topics. Polish complex structures and idiomatic usage.",
	LevelC1:      "Fluent and flexible. Refine nuance, register and precision in abstract discussion.",
	LevelC2:      "Near-native command. Your responses are precise, natural and well structured.",
	LevelUnrated: "The assessment ended before any response could be scored.",
}

func summaryFeedback(language string, level Level) string {
	if level == LevelUnrated {
		return levelSummaries[level]
	}
	return fmt.Sprintf("Your %s proficiency level is %s. %s", language, level, levelSummaries[level])
}

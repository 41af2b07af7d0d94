// Package observe provides Lexi's telemetry: OpenTelemetry metrics and
// tracing, assessment-aware structured logging, provider instrumentation
// and the HTTP middleware that ties them together.
//
// Instruments are created through the OpenTelemetry Metrics API and scraped
// through the Prometheus bridge installed by [InitProvider]. [DefaultMetrics]
// binds to the global meter provider; tests use [NewMetrics] with their own
// provider to stay isolated.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every Lexi instrument.
const meterName = "github.com/MrWong99/lexi"

// Metrics holds the application's instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// Provider latency, in seconds.
	STTDuration     metric.Float64Histogram
	LLMDuration     metric.Float64Histogram
	ScoringDuration metric.Float64Histogram
	TTSDuration     metric.Float64Histogram

	// TurnDuration covers one orchestrator turn including persistence,
	// labelled by event.
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration is labelled by method and chi route pattern.
	HTTPRequestDuration metric.Float64Histogram

	// ExerciseDifficulty samples the difficulty each scored exercise was
	// asked at.
	ExerciseDifficulty metric.Int64Histogram

	// OverallScore samples the final 0-100 score of finalized assessments.
	OverallScore metric.Float64Histogram

	// ProviderRequests is labelled by provider, kind and status;
	// ProviderErrors by provider and kind.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	Turns            metric.Int64Counter
	PhaseTransitions metric.Int64Counter
	Utterances       metric.Int64Counter
	Assessments      metric.Int64Counter

	ActiveSessions    metric.Int64UpDownCounter
	ActiveConnections metric.Int64UpDownCounter
}

// Provider calls and turns routinely take several seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

var (
	difficultyBuckets = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	// One bucket per CEFR band boundary.
	scoreBuckets = []float64{50, 60, 70, 80, 90, 100}
)

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	latency := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.STTDuration, "lexi.stt.duration", "Latency of speech-to-text transcription."},
		{&m.LLMDuration, "lexi.llm.duration", "Latency of language-model completions."},
		{&m.ScoringDuration, "lexi.scoring.duration", "Latency of answer scoring."},
		{&m.TTSDuration, "lexi.tts.duration", "Latency of text-to-speech synthesis."},
		{&m.TurnDuration, "lexi.turn.duration", "Latency of one assessment turn by event."},
	}
	for _, h := range latency {
		var err error
		if *h.dst, err = meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ProviderRequests, "lexi.provider.requests", "Provider API requests by provider, kind and status."},
		{&m.ProviderErrors, "lexi.provider.errors", "Provider errors by provider and kind."},
		{&m.Turns, "lexi.turns", "Assessment turns by event and outcome."},
		{&m.PhaseTransitions, "lexi.phase.transitions", "Phase transitions by target phase and trigger."},
		{&m.Utterances, "lexi.utterances", "Utterances cut from client audio by boundary."},
		{&m.Assessments, "lexi.assessments.completed", "Finalized assessments by proficiency level."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	var err error
	if m.ActiveSessions, err = meter.Int64UpDownCounter("lexi.active_sessions",
		metric.WithDescription("Sessions with a live actor.")); err != nil {
		return nil, err
	}
	if m.ActiveConnections, err = meter.Int64UpDownCounter("lexi.active_connections",
		metric.WithDescription("Open real-time connections.")); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("lexi.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.ExerciseDifficulty, err = meter.Int64Histogram("lexi.exercise.difficulty",
		metric.WithDescription("Difficulty of scored exercises by kind."),
		metric.WithExplicitBucketBoundaries(difficultyBuckets...)); err != nil {
		return nil, err
	}
	if m.OverallScore, err = meter.Float64Histogram("lexi.assessment.score",
		metric.WithDescription("Overall score of finalized assessments."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...)); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from the global meter provider. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status)))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordTurn records one finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, event, outcome string, seconds float64) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("event", event), Attr("outcome", outcome)))
	m.TurnDuration.Record(ctx, seconds, metric.WithAttributes(Attr("event", event)))
}

// RecordPhaseTransition records a move into phase caused by trigger.
func (m *Metrics) RecordPhaseTransition(ctx context.Context, phase, trigger string) {
	m.PhaseTransitions.Add(ctx, 1, metric.WithAttributes(Attr("phase", phase), Attr("trigger", trigger)))
}

// RecordUtterance records one utterance cut by the ingest pipeline.
func (m *Metrics) RecordUtterance(ctx context.Context, boundary string, empty bool) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("boundary", boundary), attribute.Bool("empty", empty)))
}

// RecordExercise records the difficulty a scored exercise of kind was
// asked at.
func (m *Metrics) RecordExercise(ctx context.Context, kind string, difficulty int) {
	m.ExerciseDifficulty.Record(ctx, int64(difficulty), metric.WithAttributes(Attr("kind", kind)))
}

// RecordAssessment records a finalized assessment.
func (m *Metrics) RecordAssessment(ctx context.Context, level string, score float64) {
	attrs := metric.WithAttributes(Attr("level", level))
	m.Assessments.Add(ctx, 1, attrs)
	m.OverallScore.Record(ctx, score, attrs)
}

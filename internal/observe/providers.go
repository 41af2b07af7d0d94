package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lexi/pkg/provider/llm"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	"github.com/MrWong99/lexi/pkg/provider/tts"
)

// instrument times one provider call, records it against hist and the
// request/error counters, and wraps it in a client span.
func instrument[R any](ctx context.Context, m *Metrics, hist metric.Float64Histogram, kind, name string, call func(context.Context) (R, error)) (R, error) {
	ctx, span := StartSpan(ctx, kind+"."+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	res, err := call(ctx)
	hist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(Attr("provider", name)))

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	default:
		status = "error"
		m.RecordProviderError(ctx, name, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.RecordProviderRequest(ctx, name, kind, status)
	return res, err
}

type sttProvider struct {
	next stt.Provider
	name string
	m    *Metrics
}

// InstrumentSTT wraps p so every transcription is timed and counted.
func InstrumentSTT(p stt.Provider, name string, m *Metrics) stt.Provider {
	return &sttProvider{next: p, name: name, m: m}
}

func (p *sttProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return instrument(ctx, p.m, p.m.STTDuration, "stt", p.name, func(ctx context.Context) (stt.Transcript, error) {
		return p.next.Transcribe(ctx, req)
	})
}

type ttsProvider struct {
	next tts.Provider
	name string
	m    *Metrics
}

// InstrumentTTS wraps p so every synthesis is timed and counted.
func InstrumentTTS(p tts.Provider, name string, m *Metrics) tts.Provider {
	return &ttsProvider{next: p, name: name, m: m}
}

func (p *ttsProvider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	return instrument(ctx, p.m, p.m.TTSDuration, "tts", p.name, func(ctx context.Context) (tts.Speech, error) {
		return p.next.Synthesize(ctx, req)
	})
}

type llmProvider struct {
	next llm.Provider
	name string
	m    *Metrics
}

// InstrumentLLM wraps p so every completion is timed and counted.
func InstrumentLLM(p llm.Provider, name string, m *Metrics) llm.Provider {
	return &llmProvider{next: p, name: name, m: m}
}

func (p *llmProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return instrument(ctx, p.m, p.m.LLMDuration, "llm", p.name, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return p.next.Complete(ctx, req)
	})
}

type scorer struct {
	next scoring.Provider
	name string
	m    *Metrics
}

// InstrumentScorer wraps p so every evaluation is timed and counted.
func InstrumentScorer(p scoring.Provider, name string, m *Metrics) scoring.Provider {
	return &scorer{next: p, name: name, m: m}
}

func (p *scorer) Score(ctx context.Context, req scoring.Request) (scoring.Evaluation, error) {
	return instrument(ctx, p.m, p.m.ScoringDuration, "scoring", p.name, func(ctx context.Context) (scoring.Evaluation, error) {
		return p.next.Score(ctx, req)
	})
}

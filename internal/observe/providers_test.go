package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/lexi/pkg/provider/llm"
	llmmock "github.com/MrWong99/lexi/pkg/provider/llm/mock"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	scoringmock "github.com/MrWong99/lexi/pkg/provider/scoring/mock"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	sttmock "github.com/MrWong99/lexi/pkg/provider/stt/mock"
	"github.com/MrWong99/lexi/pkg/provider/tts"
	ttsmock "github.com/MrWong99/lexi/pkg/provider/tts/mock"
)

func TestInstrumentedProviders(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	s := InstrumentSTT(&sttmock.Provider{Result: stt.Transcript{Text: "hola"}}, "whisper", m)
	if tr, err := s.Transcribe(ctx, stt.Request{Audio: []byte{1}}); err != nil || tr.Text != "hola" {
		t.Fatalf("Transcribe = %q, %v", tr.Text, err)
	}

	v := InstrumentTTS(&ttsmock.Provider{Err: errors.New("quota")}, "elevenlabs", m)
	if _, err := v.Synthesize(ctx, tts.Request{Text: "hi"}); err == nil {
		t.Fatal("Synthesize: want error passed through")
	}

	l := InstrumentLLM(&llmmock.Provider{Response: &llm.CompletionResponse{Content: "ok"}}, "openai", m)
	if _, err := l.Complete(ctx, llm.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	sc := InstrumentScorer(&scoringmock.Provider{}, "heuristic", m)
	if _, err := sc.Score(ctx, scoring.Request{Kind: scoring.Reading}); err != nil {
		t.Fatalf("Score: %v", err)
	}

	rm := collect(t, reader)

	for _, name := range []string{"lexi.stt.duration", "lexi.tts.duration", "lexi.llm.duration", "lexi.scoring.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s not recorded", name)
			continue
		}
		if hist := met.Data.(metricdata.Histogram[float64]); len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Errorf("%s: want one sample", name)
		}
	}
	if got, ok := sumPoint(t, rm, "lexi.provider.errors", "provider", "elevenlabs"); !ok || got != 1 {
		t.Errorf("elevenlabs errors = %d (found=%t), want 1", got, ok)
	}
	if got, ok := sumPoint(t, rm, "lexi.provider.requests", "status", "ok"); !ok || got != 3 {
		t.Errorf("ok requests = %d (found=%t), want 3", got, ok)
	}
}

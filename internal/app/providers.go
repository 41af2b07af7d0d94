package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/lexi/internal/config"
	"github.com/MrWong99/lexi/internal/health"
	"github.com/MrWong99/lexi/internal/observe"
	"github.com/MrWong99/lexi/internal/resilience"
	"github.com/MrWong99/lexi/pkg/provider/llm"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	"github.com/MrWong99/lexi/pkg/provider/tts"
	"github.com/MrWong99/lexi/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	STT     stt.Provider
	TTS     tts.Provider
	LLM     llm.Provider
	Scoring scoring.Provider
	VAD     vad.Engine

	// Checks report whether each fallback chain still has a closed
	// circuit. They are served on /readyz.
	Checks []health.Checker
}

// fallback is the surface shared by the resilience provider chains.
type fallback[P any] interface {
	AddFallback(name string, p P)
	Healthy() bool
}

// BuildProviders instantiates every provider named in cfg through reg. Each
// configured slot becomes a fallback chain of instrumented providers: the
// primary first, then entry.Fallbacks in order.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	ps := &Providers{}
	pc := cfg.Providers

	if pc.STT.Name != "" {
		fb, err := chain(pc.STT, reg.CreateSTT, observe.InstrumentSTT, resilience.NewSTTFallback, m)
		if err != nil {
			return nil, fmt.Errorf("app: stt: %w", err)
		}
		ps.STT = fb
		ps.Checks = append(ps.Checks, health.Breaker("stt", fb.Healthy))
	}
	if pc.TTS.Name != "" {
		fb, err := chain(pc.TTS, reg.CreateTTS, observe.InstrumentTTS, resilience.NewTTSFallback, m)
		if err != nil {
			return nil, fmt.Errorf("app: tts: %w", err)
		}
		ps.TTS = fb
		ps.Checks = append(ps.Checks, health.Breaker("tts", fb.Healthy))
	}
	if pc.LLM.Name != "" {
		fb, err := chain(pc.LLM, reg.CreateLLM, observe.InstrumentLLM, resilience.NewLLMFallback, m)
		if err != nil {
			return nil, fmt.Errorf("app: llm: %w", err)
		}
		ps.LLM = fb
		ps.Checks = append(ps.Checks, health.Breaker("llm", fb.Healthy))
	}
	if pc.Scoring.Name != "" {
		create := func(e config.ProviderEntry) (scoring.Provider, error) { return reg.CreateScoring(e, ps.LLM) }
		fb, err := chain(pc.Scoring, create, observe.InstrumentScorer, resilience.NewScorerFallback, m)
		if err != nil {
			return nil, fmt.Errorf("app: scoring: %w", err)
		}
		ps.Scoring = fb
		ps.Checks = append(ps.Checks, health.Breaker("scoring", fb.Healthy))
	}
	if pc.VAD.Name != "" {
		engine, err := reg.CreateVAD(pc.VAD)
		if err != nil {
			return nil, fmt.Errorf("app: vad: %w", err)
		}
		ps.VAD = engine
	}
	return ps, nil
}

// chain creates entry and its fallbacks, instruments each one and strings
// them into a circuit-broken fallback group.
func chain[P any, F fallback[P]](
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (P, error),
	instrument func(P, string, *observe.Metrics) P,
	group func(P, string, resilience.FallbackConfig) F,
	m *observe.Metrics,
) (F, error) {
	var zero F
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %q: %w", entry.Name, err)
	}
	fb := group(instrument(primary, entry.Name, m), entry.Name, resilience.FallbackConfig{})
	for _, alt := range entry.Fallbacks {
		p, err := create(alt)
		if err != nil {
			return zero, fmt.Errorf("create fallback %q: %w", alt.Name, err)
		}
		fb.AddFallback(alt.Name, instrument(p, alt.Name, m))
	}
	slog.Info("provider created", "name", entry.Name, "model", entry.Model, "fallbacks", len(entry.Fallbacks))
	return fb, nil
}

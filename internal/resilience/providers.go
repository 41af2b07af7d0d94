package resilience

import (
	"context"
	"slices"

	"github.com/MrWong99/lexi/pkg/provider/llm"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	"github.com/MrWong99/lexi/pkg/provider/tts"
)

var (
	_ stt.Provider     = (*STTFallback)(nil)
	_ tts.Provider     = (*TTSFallback)(nil)
	_ llm.Provider     = (*LLMFallback)(nil)
	_ scoring.Provider = (*ScorerFallback)(nil)
)

// chain carries the group management shared by the typed wrappers.
type chain[P any] struct {
	group *FallbackGroup[P]
}

func newChain[P any](primary P, name string, cfg FallbackConfig, permanent ...error) chain[P] {
	cfg.Permanent = slices.Concat(cfg.Permanent, permanent)
	return chain[P]{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers a backend tried after every earlier one.
func (c chain[P]) AddFallback(name string, provider P) { c.group.AddFallback(name, provider) }

// Healthy reports whether any backend is accepting calls.
func (c chain[P]) Healthy() bool { return c.group.Healthy() }

// Names returns the backend names in the order they are tried.
func (c chain[P]) Names() []string { return c.group.Names() }

// STTFallback transcribes with the first healthy speech-to-text backend.
// Empty audio is rejected without failing over.
type STTFallback struct{ chain[stt.Provider] }

// NewSTTFallback creates a [STTFallback] that tries primary first.
func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{newChain(primary, name, cfg, stt.ErrEmptyAudio)}
}

func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// TTSFallback speaks interviewer lines with the first healthy backend. The
// voice in the request is backend specific, so a fallback may sound
// different from the primary.
type TTSFallback struct{ chain[tts.Provider] }

// NewTTSFallback creates a [TTSFallback] that tries primary first.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{newChain(primary, name, cfg, tts.ErrEmptyText)}
}

func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (tts.Speech, error) {
		return p.Synthesize(ctx, req)
	})
}

// LLMFallback sits underneath both the LLM scorer and content generation.
type LLMFallback struct{ chain[llm.Provider] }

// NewLLMFallback creates a [LLMFallback] that tries primary first.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{newChain(primary, name, cfg)}
}

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ScorerFallback usually chains the LLM scorer ahead of the offline
// heuristic scorer, so a learner still gets a score when every model
// endpoint is down.
type ScorerFallback struct{ chain[scoring.Provider] }

// NewScorerFallback creates a [ScorerFallback] that tries primary first.
func NewScorerFallback(primary scoring.Provider, name string, cfg FallbackConfig) *ScorerFallback {
	return &ScorerFallback{newChain(primary, name, cfg, scoring.ErrEmptyTranscript)}
}

func (f *ScorerFallback) Score(ctx context.Context, req scoring.Request) (scoring.Evaluation, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p scoring.Provider) (scoring.Evaluation, error) {
		return p.Score(ctx, req)
	})
}

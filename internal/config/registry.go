package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/lexi/pkg/provider/llm"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	"github.com/MrWong99/lexi/pkg/provider/tts"
	"github.com/MrWong99/lexi/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ScoringFactory builds a scorer. llm is the configured language model, or
// nil when none is configured.
type ScoringFactory func(entry ProviderEntry, llm llm.Provider) (scoring.Provider, error)

// factories is the name → constructor table of one provider kind.
type factories[F any] map[string]F

func (f factories[F]) lookup(kind, name string) (F, error) {
	factory, ok := f[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s provider %q", ErrProviderNotRegistered, kind, name)
	}
	return factory, nil
}

// Registry maps provider names to their constructors for each provider
// kind. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	stt     factories[func(ProviderEntry) (stt.Provider, error)]
	tts     factories[func(ProviderEntry) (tts.Provider, error)]
	llm     factories[func(ProviderEntry) (llm.Provider, error)]
	scoring factories[ScoringFactory]
	vad     factories[func(ProviderEntry) (vad.Engine, error)]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:     make(factories[func(ProviderEntry) (stt.Provider, error)]),
		tts:     make(factories[func(ProviderEntry) (tts.Provider, error)]),
		llm:     make(factories[func(ProviderEntry) (llm.Provider, error)]),
		scoring: make(factories[ScoringFactory]),
		vad:     make(factories[func(ProviderEntry) (vad.Engine, error)]),
	}
}

// RegisterSTT registers a speech-to-text factory under name. Later calls
// with the same name overwrite earlier ones.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a text-to-speech factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterScoring registers a scorer factory under name.
func (r *Registry) RegisterScoring(name string, factory ScoringFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scoring[name] = factory
}

// RegisterVAD registers a voice activity detector factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateSTT builds the speech-to-text provider named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f, err := r.stt.lookup("stt", entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTTS builds the text-to-speech provider named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, err := r.tts.lookup("tts", entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateLLM builds the language model named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, err := r.llm.lookup("llm", entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateScoring builds the scorer named by entry on top of model.
func (r *Registry) CreateScoring(entry ProviderEntry, model llm.Provider) (scoring.Provider, error) {
	r.mu.RLock()
	f, err := r.scoring.lookup("scoring", entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry, model)
}

// CreateVAD builds the voice activity detector named by entry.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	f, err := r.vad.lookup("vad", entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// Names returns the registered names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"stt":     sortedKeys(r.stt),
		"tts":     sortedKeys(r.tts),
		"llm":     sortedKeys(r.llm),
		"scoring": sortedKeys(r.scoring),
		"vad":     sortedKeys(r.vad),
	}
}

func sortedKeys[F any](f factories[F]) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

package main

import (
	"errors"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/lexi/internal/config"
	"github.com/MrWong99/lexi/pkg/provider/llm"
	"github.com/MrWong99/lexi/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/lexi/pkg/provider/llm/openai"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	"github.com/MrWong99/lexi/pkg/provider/scoring/heuristic"
	"github.com/MrWong99/lexi/pkg/provider/scoring/llmscore"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	"github.com/MrWong99/lexi/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/lexi/pkg/provider/stt/openai"
	"github.com/MrWong99/lexi/pkg/provider/stt/whisper"
	"github.com/MrWong99/lexi/pkg/provider/tts"
	"github.com/MrWong99/lexi/pkg/provider/tts/coqui"
	"github.com/MrWong99/lexi/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/lexi/pkg/provider/tts/openai"
	"github.com/MrWong99/lexi/pkg/provider/vad"
	"github.com/MrWong99/lexi/pkg/provider/vad/energy"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the
// appropriate provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oallm.WithTimeout(entry.Timeout))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, oallm.WithMaxRetries(n))
		} else if len(entry.Fallbacks) > 0 {
			opts = append(opts, oallm.WithMaxRetries(0))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other chat backend goes through any-llm. Local servers (ollama,
	// llamacpp, llamafile) only need a base URL.
	for _, providerName := range anyllm.Backends() {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return oastt.New(entry.APIKey, entry.Model, requestOptions(entry)...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		return oatts.New(entry.APIKey, entry.Model, optString(entry.Options, "voice"), requestOptions(entry)...)
	})

	// ── Scoring ───────────────────────────────────────────────────────────────

	reg.RegisterScoring("llm", func(entry config.ProviderEntry, model llm.Provider) (scoring.Provider, error) {
		if model == nil {
			return nil, errors.New("llm scoring requires providers.llm")
		}
		var opts []llmscore.Option
		if temp, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, llmscore.WithTemperature(temp))
		}
		if n, ok := optInt(entry.Options, "max_tokens"); ok {
			opts = append(opts, llmscore.WithMaxTokens(n))
		}
		return llmscore.New(model, opts...), nil
	})

	reg.RegisterScoring("heuristic", func(entry config.ProviderEntry, _ llm.Provider) (scoring.Provider, error) {
		var opts []heuristic.Option
		if n, ok := optInt(entry.Options, "base_words"); ok {
			opts = append(opts, heuristic.WithBaseWords(n))
		}
		return heuristic.New(opts...), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// requestOptions maps the generic entry fields onto openai-go options.
func requestOptions(entry config.ProviderEntry) []option.RequestOption {
	var opts []option.RequestOption
	if entry.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(entry.BaseURL))
	}
	if entry.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(entry.Timeout))
	}
	return opts
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optFloat extracts a number.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

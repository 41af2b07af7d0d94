package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/pkg/audio"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"stt":     {"whisper", "whisper-native", "openai", "deepgram"},
	"tts":     {"openai", "elevenlabs", "coqui"},
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"scoring": {"llm", "heuristic"},
	"vad":     {"energy"},
}

// Load reads the YAML file at path, overlays the environment (see
// [ApplyEnv]), applies defaults and validates the result. A missing file is
// not an error: defaults and environment are used.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults and environment", "path", path)
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := parse(bytes.NewReader(data), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted, which keeps tests
// hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

func parse(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	a := cfg.Assessment
	if a.DefaultDifficulty < assessment.MinDifficulty || a.DefaultDifficulty > assessment.MaxDifficulty {
		errs = append(errs, fmt.Errorf("assessment.default_difficulty %d is out of range [%d, %d]",
			a.DefaultDifficulty, assessment.MinDifficulty, assessment.MaxDifficulty))
	}
	if a.ExerciseQuota < 0 {
		errs = append(errs, fmt.Errorf("assessment.exercise_quota %d must not be negative", a.ExerciseQuota))
	}
	if a.ConversationDuration < 0 || a.ReadingDuration < 0 || a.SilenceDuration < 0 {
		errs = append(errs, errors.New("assessment durations must not be negative"))
	}
	if a.SpeechThreshold < 0 || a.ActiveChunkBytes < 0 {
		errs = append(errs, errors.New("assessment.speech_threshold and active_chunk_bytes must not be negative"))
	}
	enc, err := audio.ParseEncoding(a.AudioEncoding)
	if err != nil {
		errs = append(errs, fmt.Errorf("assessment.audio_encoding: %w", err))
	}
	if enc == audio.EncodingOpus && !slices.Contains([]int{8000, 12000, 16000, 24000, 48000}, a.SampleRate) {
		errs = append(errs, fmt.Errorf("assessment.sample_rate %d is not an Opus rate", a.SampleRate))
	}
	if a.Channels < 1 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("assessment.channels %d must be 1 or 2", a.Channels))
	}
	if a.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("assessment.max_consecutive_failures must be at least 1"))
	}

	for kind, entry := range map[string]ProviderEntry{
		"stt":     cfg.Providers.STT,
		"tts":     cfg.Providers.TTS,
		"llm":     cfg.Providers.LLM,
		"scoring": cfg.Providers.Scoring,
		"vad":     cfg.Providers.VAD,
	} {
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
			validateProviderName(kind, fb.Name)
		}
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; only typed answers will work")
	}
	if cfg.Providers.Scoring.Name == "llm" && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.scoring \"llm\" requires providers.llm"))
	}
	if a.GenerateContent && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("assessment.generate_content requires providers.llm"))
	}
	if a.SpeechEnabled() && cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; interviewer lines will be text only")
	}

	if !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Driver))
	}
	if (cfg.Store.Driver == StorePostgres || cfg.Store.Driver == StoreSQLite) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %v is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not a
// built-in provider of kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known := ValidProviderNames[kind]
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Package config provides the configuration schema, loader, environment
// overlay and provider registry of the lexi assessment server.
package config

import (
	"time"

	"github.com/MrWong99/lexi/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// StoreDriver selects the session store backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from
// a YAML file using [Load] and completed by [ApplyEnv].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Assessment AssessmentConfig `yaml:"assessment"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Store      StoreConfig      `yaml:"store"`
	Observe    ObserveConfig    `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// AllowedOrigins are extra websocket origin patterns, e.g.
	// "app.example.com" or "*.example.com".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// StrictInvariants aborts on invariant violations. Development only.
	StrictInvariants bool `yaml:"strict_invariants"`

	// HeartbeatInterval is how often live sessions check their phase
	// timers. Default 5s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// IdleTimeout retires session actors without a connection. Default 10m.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// TurnTimeout bounds one turn end to end. Default 90s.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AssessmentConfig holds the tunables of the assessment itself.
type AssessmentConfig struct {
	DefaultDifficulty      int           `yaml:"default_difficulty"`
	ConversationDuration   time.Duration `yaml:"conversation_duration"`
	ReadingDuration        time.Duration `yaml:"reading_duration"`
	ExerciseQuota          int           `yaml:"exercise_quota"`
	SilenceDuration        time.Duration `yaml:"silence_duration"`
	SpeechThreshold        float64       `yaml:"speech_threshold"`
	ActiveChunkBytes       int           `yaml:"active_chunk_bytes"`
	AudioEncoding          string        `yaml:"audio_encoding"`
	SampleRate             int           `yaml:"sample_rate"`
	Channels               int           `yaml:"channels"`
	MinResponseWords       int           `yaml:"min_response_words"`
	MaxFollowups           int           `yaml:"max_followups"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`

	// SynthesizeSpeech enables TTS for interviewer lines. A pointer so an
	// explicit false survives defaulting.
	SynthesizeSpeech *bool `yaml:"synthesize_speech"`

	// Voice is passed to the TTS provider. Empty uses its default.
	Voice string `yaml:"voice"`

	// GenerateContent lets the LLM write fresh prompts and passages instead
	// of drawing from the built-in banks.
	GenerateContent bool `yaml:"generate_content"`
}

// Encoding parses AudioEncoding. [Validate] has already rejected bad values.
func (a AssessmentConfig) Encoding() audio.Encoding {
	enc, err := audio.ParseEncoding(a.AudioEncoding)
	if err != nil {
		return audio.EncodingWebM
	}
	return enc
}

// SpeechEnabled reports whether TTS is on.
func (a AssessmentConfig) SpeechEnabled() bool {
	return a.SynthesizeSpeech == nil || *a.SynthesizeSpeech
}

// ProvidersConfig selects the implementation of each pipeline stage. Each
// entry names a factory registered in the [Registry].
type ProvidersConfig struct {
	STT     ProviderEntry `yaml:"stt"`
	TTS     ProviderEntry `yaml:"tts"`
	LLM     ProviderEntry `yaml:"llm"`
	Scoring ProviderEntry `yaml:"scoring"`
	VAD     ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "deepgram").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Timeout bounds one call. Zero uses the stage default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// StoreConfig selects where session state lives.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is the postgres connection string or the sqlite file path.
	DSN string `yaml:"dsn"`

	// SaveRetries and SaveBackoff control retrying of failed saves.
	SaveRetries int           `yaml:"save_retries"`
	SaveBackoff time.Duration `yaml:"save_backoff"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name"`
	MetricsPath string `yaml:"metrics_path"`

	// TraceSampleRatio is the fraction of new traces recorded, in [0, 1].
	// Zero records every trace. Requests arriving with a sampled parent are
	// always recorded.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	s.ListenAddr = or(s.ListenAddr, ":8080")
	s.LogLevel = or(s.LogLevel, LogInfo)
	s.LogFormat = or(s.LogFormat, LogFormatText)
	s.HeartbeatInterval = or(s.HeartbeatInterval, 5*time.Second)
	s.IdleTimeout = or(s.IdleTimeout, 10*time.Minute)
	s.TurnTimeout = or(s.TurnTimeout, 90*time.Second)
	s.ShutdownTimeout = or(s.ShutdownTimeout, 15*time.Second)

	a := &cfg.Assessment
	a.DefaultDifficulty = or(a.DefaultDifficulty, 1)
	a.ConversationDuration = or(a.ConversationDuration, 180*time.Second)
	a.ReadingDuration = or(a.ReadingDuration, 300*time.Second)
	a.ExerciseQuota = or(a.ExerciseQuota, 5)
	a.SilenceDuration = or(a.SilenceDuration, 2*time.Second)
	a.ActiveChunkBytes = or(a.ActiveChunkBytes, 1000)
	a.AudioEncoding = or(a.AudioEncoding, string(audio.EncodingWebM))
	a.SampleRate = or(a.SampleRate, 16000)
	a.Channels = or(a.Channels, 1)
	a.MinResponseWords = or(a.MinResponseWords, 6)
	a.MaxFollowups = or(a.MaxFollowups, 1)
	a.MaxConsecutiveFailures = or(a.MaxConsecutiveFailures, 3)

	p := &cfg.Providers
	if p.Scoring.Name == "" {
		p.Scoring.Name = "heuristic"
		if p.LLM.Name != "" {
			p.Scoring.Name = "llm"
		}
	}
	p.VAD.Name = or(p.VAD.Name, "energy")

	st := &cfg.Store
	st.Driver = or(st.Driver, StoreMemory)
	st.SaveRetries = or(st.SaveRetries, 3)
	st.SaveBackoff = or(st.SaveBackoff, 100*time.Millisecond)

	cfg.Observe.ServiceName = or(cfg.Observe.ServiceName, "lexi")
	cfg.Observe.MetricsPath = or(cfg.Observe.MetricsPath, "/metrics")
}

func or[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none
// are named) into the process environment. Variables that are already set
// win. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var errs []error
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("config: load %s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// providerKeys maps provider names to the conventional API key variable
// used when the config file leaves api_key empty.
var providerKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
	"deepgram":   "DEEPGRAM_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"groq":       "GROQ_API_KEY",
}

// ApplyEnv overlays LEXI_* variables on cfg and fills empty provider API
// keys from their conventional variables. DATABASE_URL selects the postgres
// store when no store is configured.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("LEXI_LISTEN_ADDR", &cfg.Server.ListenAddr)
	if v, ok := e.get("LEXI_LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := e.get("LEXI_LOG_FORMAT"); ok {
		cfg.Server.LogFormat = LogFormat(strings.ToLower(v))
	}
	if v, ok := e.get("LEXI_ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	e.boolean("LEXI_STRICT_INVARIANTS", &cfg.Server.StrictInvariants)
	e.duration("LEXI_HEARTBEAT_INTERVAL", &cfg.Server.HeartbeatInterval)

	a := &cfg.Assessment
	e.integer("LEXI_DEFAULT_DIFFICULTY", &a.DefaultDifficulty)
	e.duration("LEXI_CONVERSATION_DURATION", &a.ConversationDuration)
	e.duration("LEXI_READING_DURATION", &a.ReadingDuration)
	e.integer("LEXI_EXERCISE_QUOTA", &a.ExerciseQuota)
	e.duration("LEXI_SILENCE_DURATION", &a.SilenceDuration)
	e.str("LEXI_AUDIO_ENCODING", &a.AudioEncoding)
	e.integer("LEXI_SAMPLE_RATE", &a.SampleRate)
	if v, ok := e.get("LEXI_SYNTHESIZE_SPEECH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail("LEXI_SYNTHESIZE_SPEECH", err)
		} else {
			a.SynthesizeSpeech = &b
		}
	}

	if v, ok := e.get("LEXI_STORE_DRIVER"); ok {
		cfg.Store.Driver = StoreDriver(strings.ToLower(v))
	}
	e.str("LEXI_STORE_DSN", &cfg.Store.DSN)
	if v, ok := e.get("DATABASE_URL"); ok && cfg.Store.DSN == "" {
		cfg.Store.DSN = v
		if cfg.Store.Driver == "" {
			cfg.Store.Driver = StorePostgres
		}
	}

	e.str("LEXI_SERVICE_NAME", &cfg.Observe.ServiceName)
	if v, ok := e.get("LEXI_TRACE_SAMPLE_RATIO"); ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail("LEXI_TRACE_SAMPLE_RATIO", err)
		} else {
			cfg.Observe.TraceSampleRatio = r
		}
	}

	for _, entry := range []*ProviderEntry{
		&cfg.Providers.STT, &cfg.Providers.TTS, &cfg.Providers.LLM, &cfg.Providers.Scoring,
	} {
		fillKeys(entry, lookup)
	}
	return errors.Join(e.errs...)
}

func fillKeys(entry *ProviderEntry, lookup LookupFunc) {
	if entry.APIKey == "" {
		if key, ok := providerKeys[entry.Name]; ok {
			if v, ok := lookup(key); ok {
				entry.APIKey = v
			}
		}
	}
	for i := range entry.Fallbacks {
		fillKeys(&entry.Fallbacks[i], lookup)
	}
}

// envReader collects parse errors so every bad variable is reported.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("config: env %s: %w", key, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

// duration accepts Go durations ("90s") and bare integers as seconds.
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

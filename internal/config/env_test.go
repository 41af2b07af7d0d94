package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lexi/internal/config"
)

func mapLookup(env map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyEnv_Overlay(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080"},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{
				Name:      "deepgram",
				Fallbacks: []config.ProviderEntry{{Name: "openai"}},
			},
			TTS: config.ProviderEntry{Name: "elevenlabs", APIKey: "from-file"},
		},
	}
	err := config.ApplyEnv(cfg, mapLookup(map[string]string{
		"LEXI_LISTEN_ADDR":           ":7000",
		"LEXI_LOG_LEVEL":             "DEBUG",
		"LEXI_ALLOWED_ORIGINS":       "a.example.com, ,b.example.com",
		"LEXI_STRICT_INVARIANTS":     "true",
		"LEXI_CONVERSATION_DURATION": "120",
		"LEXI_READING_DURATION":      "4m",
		"LEXI_EXERCISE_QUOTA":        "7",
		"LEXI_SYNTHESIZE_SPEECH":     "false",
		"DEEPGRAM_API_KEY":           "dg-env",
		"OPENAI_API_KEY":             "sk-env",
		"ELEVENLABS_API_KEY":         "el-env",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":7000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server: got %q %q", cfg.Server.ListenAddr, cfg.Server.LogLevel)
	}
	if want := []string{"a.example.com", "b.example.com"}; !slices.Equal(cfg.Server.AllowedOrigins, want) {
		t.Errorf("origins: want %v, got %v", want, cfg.Server.AllowedOrigins)
	}
	if !cfg.Server.StrictInvariants {
		t.Error("strict invariants not applied")
	}
	if cfg.Assessment.ConversationDuration != 2*time.Minute || cfg.Assessment.ReadingDuration != 4*time.Minute {
		t.Errorf("durations: got %v / %v", cfg.Assessment.ConversationDuration, cfg.Assessment.ReadingDuration)
	}
	if cfg.Assessment.ExerciseQuota != 7 || cfg.Assessment.SpeechEnabled() {
		t.Errorf("assessment: got quota %d speech %t", cfg.Assessment.ExerciseQuota, cfg.Assessment.SpeechEnabled())
	}
	if cfg.Providers.STT.APIKey != "dg-env" || cfg.Providers.STT.Fallbacks[0].APIKey != "sk-env" {
		t.Errorf("keys: got %q / %q", cfg.Providers.STT.APIKey, cfg.Providers.STT.Fallbacks[0].APIKey)
	}
	if cfg.Providers.TTS.APIKey != "from-file" {
		t.Errorf("file key should win, got %q", cfg.Providers.TTS.APIKey)
	}
}

func TestApplyEnv_DatabaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		store      config.StoreConfig
		wantDriver config.StoreDriver
		wantDSN    string
	}{
		{"selects postgres", config.StoreConfig{}, config.StorePostgres, "postgres://db/lexi"},
		{"keeps driver", config.StoreConfig{Driver: config.StoreSQLite}, config.StoreSQLite, "postgres://db/lexi"},
		{"file dsn wins", config.StoreConfig{Driver: config.StorePostgres, DSN: "postgres://file"}, config.StorePostgres, "postgres://file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Store: tt.store}
			if err := config.ApplyEnv(cfg, mapLookup(map[string]string{"DATABASE_URL": "postgres://db/lexi"})); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Store.Driver != tt.wantDriver || cfg.Store.DSN != tt.wantDSN {
				t.Errorf("want %q %q, got %q %q", tt.wantDriver, tt.wantDSN, cfg.Store.Driver, cfg.Store.DSN)
			}
		})
	}
}

func TestApplyEnv_Errors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	err := config.ApplyEnv(cfg, mapLookup(map[string]string{
		"LEXI_EXERCISE_QUOTA":     "many",
		"LEXI_HEARTBEAT_INTERVAL": "soon",
		"LEXI_SYNTHESIZE_SPEECH":  "perhaps",
		"LEXI_TRACE_SAMPLE_RATIO": "half",
	}))
	if err == nil {
		t.Fatal("want error")
	}
	for _, key := range []string{"LEXI_EXERCISE_QUOTA", "LEXI_HEARTBEAT_INTERVAL", "LEXI_SYNTHESIZE_SPEECH", "LEXI_TRACE_SAMPLE_RATIO"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s, got: %v", key, err)
		}
	}
}

func TestApplyEnv_BlankIgnored(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
	if err := config.ApplyEnv(cfg, mapLookup(map[string]string{"LEXI_LISTEN_ADDR": "  "})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("blank variable overwrote value: %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	// Not parallel: Load reads the process environment.
	t.Setenv("LEXI_LISTEN_ADDR", ":6060")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":6060" {
		t.Errorf("want env listen addr, got %q", cfg.Server.ListenAddr)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LEXI_TEST_DOTENV=loaded\nLEXI_TEST_PRESET=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEXI_TEST_PRESET", "process")
	t.Cleanup(func() { os.Unsetenv("LEXI_TEST_DOTENV") })

	if err := config.LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("LEXI_TEST_DOTENV"); got != "loaded" {
		t.Errorf("want loaded, got %q", got)
	}
	if got := os.Getenv("LEXI_TEST_PRESET"); got != "process" {
		t.Errorf("process env should win, got %q", got)
	}
}

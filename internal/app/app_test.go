package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lexi/internal/app"
	"github.com/MrWong99/lexi/internal/assessment"
	"github.com/MrWong99/lexi/internal/config"
	storemock "github.com/MrWong99/lexi/internal/store/mock"
	"github.com/MrWong99/lexi/pkg/provider/llm"
	llmmock "github.com/MrWong99/lexi/pkg/provider/llm/mock"
	"github.com/MrWong99/lexi/pkg/provider/scoring"
	scoringmock "github.com/MrWong99/lexi/pkg/provider/scoring/mock"
	"github.com/MrWong99/lexi/pkg/provider/stt"
	sttmock "github.com/MrWong99/lexi/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// testConfig returns a defaulted config listening on an ephemeral port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \"127.0.0.1:0\"\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// testProviders returns mock STT and scoring, enough for a real agent.
func testProviders() *app.Providers {
	return &app.Providers{
		STT:     &sttmock.Provider{Result: stt.Transcript{Text: "hola"}},
		Scoring: &scoringmock.Provider{},
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, testProviders(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func noEnv(string) (string, bool) { return "", false }

// ── tests ────────────────────────────────────────────────────────────────────

func TestNew_ServesAssessment(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), app.WithStore(storemock.New()))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/session/start/a-1", "application/json",
		strings.NewReader(`{"target_language":"Spanish"}`))
	if err != nil {
		t.Fatalf("POST start: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: want 200, got %d", resp.StatusCode)
	}
	var body struct {
		Messages []json.RawMessage     `json:"messages"`
		State    assessment.SessionState `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State.Phase != assessment.PhaseConversation || len(body.Messages) == 0 {
		t.Errorf("want conversation phase with a greeting, got %s and %d messages", body.State.Phase, len(body.Messages))
	}
	if a.Tracker().Active() != 1 {
		t.Errorf("want 1 active session, got %d", a.Tracker().Active())
	}
}

func TestNew_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	a := newApp(t, testConfig(t), app.WithStore(st))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, _ := get(t, srv, "/healthz"); code != http.StatusOK {
		t.Errorf("/healthz: want 200, got %d", code)
	}
	if code, body := get(t, srv, "/readyz"); code != http.StatusOK {
		t.Errorf("/readyz: want 200, got %d: %s", code, body)
	}
	if code, _ := get(t, srv, "/metrics"); code != http.StatusOK {
		t.Errorf("/metrics: want 200, got %d", code)
	}

	st.PingErr = errors.New("connection refused")
	code, body := get(t, srv, "/readyz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "store") {
		t.Errorf("/readyz with a failing store: want 503 naming the store, got %d: %s", code, body)
	}
}

func TestNew_RequiresScorer(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t), &app.Providers{}, app.WithStore(storemock.New()))
	if err == nil {
		t.Fatal("want error without a scoring provider")
	}
}

func TestNew_OpensSQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.DSN = filepath.Join(t.TempDir(), "lexi.db")

	a := newApp(t, cfg)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, body := get(t, srv, "/readyz"); code != http.StatusOK {
		t.Errorf("/readyz: want 200, got %d: %s", code, body)
	}
	if _, err := os.Stat(cfg.Store.DSN); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), app.WithStore(storemock.New()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_ReloadsLogLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexi.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \"127.0.0.1:0\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var level slog.LevelVar
	a := newApp(t, testConfig(t),
		app.WithStore(storemock.New()),
		app.WithLogLevel(&level),
		app.WithConfigWatch(path, config.WithInterval(10*time.Millisecond), config.WithLookup(noEnv)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \"127.0.0.1:0\"\n  log_level: debug\nassessment:\n  exercise_quota: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	next := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for level.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatal("log level was not reloaded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApp_ReloadConfigWithoutWatch(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), app.WithStore(storemock.New()))
	if a.ReloadConfig() {
		t.Error("ReloadConfig() = true without a watched file")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q): want %v, got %v", tt.in, tt.want, got)
		}
	}
}

// ── providers ────────────────────────────────────────────────────────────────

func TestBuildProviders_FallbackChain(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errors.New("upstream 503")}
	backup := &sttmock.Provider{Result: stt.Transcript{Text: "hola"}}
	model := &llmmock.Provider{}
	var scorerLLM llm.Provider

	reg := config.NewRegistry()
	reg.RegisterSTT("primary", func(config.ProviderEntry) (stt.Provider, error) { return primary, nil })
	reg.RegisterSTT("backup", func(config.ProviderEntry) (stt.Provider, error) { return backup, nil })
	reg.RegisterLLM("model", func(config.ProviderEntry) (llm.Provider, error) { return model, nil })
	reg.RegisterScoring("llm", func(_ config.ProviderEntry, m llm.Provider) (scoring.Provider, error) {
		scorerLLM = m
		return &scoringmock.Provider{}, nil
	})

	cfg := testConfig(t)
	cfg.Providers.STT = config.ProviderEntry{Name: "primary", Fallbacks: []config.ProviderEntry{{Name: "backup"}}}
	cfg.Providers.LLM = config.ProviderEntry{Name: "model"}
	cfg.Providers.Scoring = config.ProviderEntry{Name: "llm"}
	cfg.Providers.VAD = config.ProviderEntry{}

	ps, err := app.BuildProviders(cfg, reg, nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.TTS != nil || ps.VAD != nil {
		t.Error("unconfigured slots must stay nil")
	}
	if scorerLLM == nil {
		t.Error("scoring factory did not receive the llm")
	}
	if len(ps.Checks) != 3 {
		t.Errorf("want 3 breaker checks (stt, llm, scoring), got %d", len(ps.Checks))
	}

	tr, err := ps.STT.Transcribe(context.Background(), stt.Request{Audio: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hola" || primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("want fallback answer, got %q (primary %d, backup %d calls)", tr.Text, primary.CallCount(), backup.CallCount())
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSTT("ok", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })

	tests := []struct {
		name  string
		entry config.ProviderEntry
	}{
		{"unknown primary", config.ProviderEntry{Name: "missing"}},
		{"unknown fallback", config.ProviderEntry{Name: "ok", Fallbacks: []config.ProviderEntry{{Name: "missing"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Providers: config.ProvidersConfig{STT: tt.entry}}
			_, err := app.BuildProviders(cfg, reg, nil)
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Fatalf("want ErrProviderNotRegistered, got %v", err)
			}
		})
	}
}

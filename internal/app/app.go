// Package app wires all Lexi subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithOrchestrator). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lexi/internal/agent"
	"github.com/MrWong99/lexi/internal/config"
	"github.com/MrWong99/lexi/internal/gateway"
	"github.com/MrWong99/lexi/internal/health"
	"github.com/MrWong99/lexi/internal/observe"
	"github.com/MrWong99/lexi/internal/store"
	"github.com/MrWong99/lexi/internal/store/memstore"
	"github.com/MrWong99/lexi/internal/store/postgres"
	"github.com/MrWong99/lexi/internal/store/sqlite"
	"github.com/MrWong99/lexi/pkg/audio"
	"github.com/MrWong99/lexi/pkg/provider/vad/energy"
)

// contentTemperature is the sampling temperature for generated prompts and
// passages.
const contentTemperature = 0.8

// App owns all subsystem lifetimes of the assessment server.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store   store.Store
	orch    agent.Orchestrator
	tracker *gateway.Tracker
	router  chi.Router
	server  *http.Server
	watcher *config.Watcher

	watchPath string
	watchOpts []config.WatcherOption

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of opening one from config.
// The caller keeps ownership: Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithOrchestrator injects the turn orchestrator instead of building an
// agent from the providers. Config reloads keep the injected value.
func WithOrchestrator(o agent.Orchestrator) Option {
	return func(a *App) { a.orch = o }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(a *App) { a.level = level }
}

// WithConfigWatch reloads the config file at path while the app runs.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchOpts = opts
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (built via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Orchestrator ──────────────────────────────────────────────────
	if a.orch == nil {
		orch, err := newAgent(cfg, providers)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init agent: %w", err)
		}
		a.orch = orch
	}

	// ── 3. Session tracker ───────────────────────────────────────────────
	if err := a.initTracker(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.reload, a.watchOpts...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.router = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured store or uses the injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	slog.Info("session store ready", "driver", a.cfg.Store.Driver)
	return nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case config.StorePostgres:
		return postgres.New(ctx, sc.DSN)
	case config.StoreSQLite:
		return sqlite.New(sc.DSN)
	case config.StoreMemory, "":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// settings maps the assessment config onto agent settings. Provider
// timeouts override the per-stage defaults.
func settings(cfg *config.Config) agent.Settings {
	s := agent.DefaultSettings()
	ac := cfg.Assessment
	s.Machine.ConversationDuration = ac.ConversationDuration
	s.Machine.ReadingDuration = ac.ReadingDuration
	s.Machine.Quota = ac.ExerciseQuota
	s.DefaultDifficulty = ac.DefaultDifficulty
	s.MinResponseWords = ac.MinResponseWords
	s.MaxFollowups = ac.MaxFollowups
	s.SynthesizeSpeech = ac.SpeechEnabled()
	s.Voice = ac.Voice

	pc := cfg.Providers
	for _, t := range []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&s.STTTimeout, pc.STT.Timeout},
		{&s.TTSTimeout, pc.TTS.Timeout},
		{&s.ScoringTimeout, pc.Scoring.Timeout},
		{&s.ContentTimeout, pc.LLM.Timeout},
	} {
		if t.src > 0 {
			*t.dst = t.src
		}
	}
	return s
}

// newAgent builds the orchestrator from cfg and the live providers.
func newAgent(cfg *config.Config, ps *Providers) (*agent.Agent, error) {
	var content agent.Content = agent.StaticContent{}
	if cfg.Assessment.GenerateContent && ps.LLM != nil {
		content = &agent.LLMContent{LLM: ps.LLM, Temperature: contentTemperature}
	}
	return agent.New(agent.Config{
		STT:      ps.STT,
		Scorer:   ps.Scoring,
		TTS:      ps.TTS,
		Content:  content,
		Settings: settings(cfg),
	})
}

func (a *App) initTracker() error {
	engine := a.providers.VAD
	if engine == nil {
		engine = energy.New()
	}
	ac := a.cfg.Assessment
	tracker, err := gateway.New(gateway.Config{
		Orchestrator: a.orch,
		Store:        a.store,
		Machine:      settings(a.cfg).Machine,
		Ingest: gateway.IngestConfig{
			Encoding:        ac.Encoding(),
			Format:          audio.Format{SampleRate: ac.SampleRate, Channels: ac.Channels},
			VAD:             engine,
			SilenceDuration: ac.SilenceDuration,
			SpeechThreshold: ac.SpeechThreshold,
			ActiveBytes:     ac.ActiveChunkBytes,
		},
		Metrics:                a.metrics,
		MaxConsecutiveFailures: ac.MaxConsecutiveFailures,
		HeartbeatInterval:      a.cfg.Server.HeartbeatInterval,
		IdleTimeout:            a.cfg.Server.IdleTimeout,
		TurnTimeout:            a.cfg.Server.TurnTimeout,
		SaveRetries:            a.cfg.Store.SaveRetries,
		SaveBackoff:            a.cfg.Store.SaveBackoff,
		StrictInvariants:       a.cfg.Server.StrictInvariants,
		AllowedOrigins:         a.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return err
	}
	a.tracker = tracker
	return nil
}

// routes assembles the HTTP surface: assessment endpoints, health probes
// and the Prometheus scrape endpoint.
func (a *App) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	checks := append([]health.Checker{health.Ping("store", a.store)}, a.providers.Checks...)
	health.New(checks...).Register(r)
	r.Handle(a.cfg.Observe.MetricsPath, promhttp.Handler())
	a.tracker.Routes(r)
	return r
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// Tracker returns the session tracker.
func (a *App) Tracker() *gateway.Tracker { return a.tracker }

// ReloadConfig asks the config watcher to re-read its file now. It reports
// false when the app was built without [WithConfigWatch].
func (a *App) ReloadConfig() bool {
	if a.watcher == nil {
		return false
	}
	a.watcher.Reload()
	return true
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// reload applies a changed config file. Log level and assessment tunables
// take effect immediately (the latter for sessions started afterwards);
// everything else is reported as needing a restart.
func (a *App) reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AssessmentChanged {
		orch := a.orch
		if _, ok := orch.(*agent.Agent); ok {
			next, err := newAgent(new, a.providers)
			if err != nil {
				slog.Error("config reload: keeping previous assessment settings", "err", err)
				return
			}
			orch = next
		}
		a.tracker.Reconfigure(orch, settings(new).Machine)
		slog.Info("assessment settings reloaded", "fields", d.AssessmentFields)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and watches the config file until ctx is cancelled or
// the server fails. It does not tear down subsystems; call Shutdown.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		// Websocket connections are hijacked and ignored by Shutdown; the
		// tracker closes them.
		if err := a.tracker.Close(sctx); err != nil {
			slog.Warn("closing sessions", "err", err)
		}
		return a.server.Shutdown(sctx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.tracker.Active())

		if err := a.tracker.Close(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// closeAll runs the closers collected so far. Used when New fails halfway.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

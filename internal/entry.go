// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/pagesync/internal/api"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/hugo"
	"github.com/starford/pagesync/internal/index"
	"github.com/starford/pagesync/internal/mapper"
	"github.com/starford/pagesync/internal/materializer"
	"github.com/starford/pagesync/internal/mcpserver"
	"github.com/starford/pagesync/internal/notion"
	"github.com/starford/pagesync/internal/reconciler"
	"github.com/starford/pagesync/internal/render"
	"github.com/starford/pagesync/internal/sse"
	"github.com/starford/pagesync/internal/state"
	"github.com/starford/pagesync/internal/storage"
	"github.com/starford/pagesync/internal/syncservice"
)

// runtime holds the components shared by every command.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	store   storage.Provider
	db      *index.DB
	backend state.Backend
	rules   []mapper.Rule
	svc     *syncservice.Service
	stdout  io.Writer
	closers []io.Closer
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.logOut == nil {
		app.logOut = os.Stdout
	}
	return app, nil
}

// newLogger returns a JSON logger writing to out and, when configured, to
// a rotating log file.
func newLogger(cfg ApplicationConfig, out io.Writer) (*slog.Logger, io.Closer) {
	var closer io.Closer
	if cfg.LogFile.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}
		out = io.MultiWriter(out, lj)
		closer = lj
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})), closer
}

// setup builds every component. events may be nil.
func (app *application) setup(events *sse.Broker) (*runtime, error) {
	cfg := app.config

	logger, logCloser := newLogger(cfg.App, app.logOut)
	slog.SetDefault(logger)
	rt := &runtime{cfg: cfg, logger: logger, stdout: app.stdout}
	if logCloser != nil {
		rt.closers = append(rt.closers, logCloser)
	}

	logger.Info("Configuration loaded",
		slog.String("content_dir", cfg.Content.Dir),
		slog.String("state_dsn", cfg.State.DSN),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("targets", len(cfg.Targets)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	fail := func(err error) (*runtime, error) {
		rt.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.Content.Dir, 0o755); err != nil {
		return fail(fmt.Errorf("create content dir: %w", err))
	}
	store, err := storage.NewFS(cfg.Content.Dir)
	if err != nil {
		return fail(fmt.Errorf("init storage: %w", err))
	}
	rt.store = store

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fail(fmt.Errorf("init index: %w", err))
	}
	rt.db = db
	rt.closers = append(rt.closers, db)

	backend, err := state.OpenBackend(cfg.State.DSN)
	if err != nil {
		return fail(fmt.Errorf("init state: %w", err))
	}
	rt.backend = backend
	rt.closers = append(rt.closers, backend)

	rt.rules = cfg.Mapping.Effective()
	m, err := mapper.New(rt.rules)
	if err != nil {
		return fail(fmt.Errorf("init mapper: %w", err))
	}

	src := app.source
	if src == nil {
		src = notion.NewClient(cfg.NotionOptions(logger))
	}

	onEvent := func(ev reconciler.Event) {
		logger.Debug("sync: record", slog.String("kind", string(ev.Kind)),
			slog.String("item_id", ev.ItemID), slog.String("path", ev.Path))
	}
	if events != nil {
		onEvent = syncservice.RecordEvents(events)
	}

	rec, err := reconciler.New(reconciler.Options{
		Targets:           cfg.ReconcilerTargets(),
		Source:            src,
		Mapper:            m,
		Renderer:          render.NewMarkdown(),
		Materializer:      materializer.New(store),
		TrustTimestamps:   cfg.Sync.TrustTimestamps,
		Concurrency:       cfg.Sync.Concurrency,
		MaxReportedErrors: cfg.Sync.MaxReportedErrors,
		OnEvent:           onEvent,
		Logger:            logger,
	})
	if err != nil {
		return fail(fmt.Errorf("init reconciler: %w", err))
	}

	svcOpts := syncservice.Options{
		Runner:  withRunLock(rec, cfg.State.DSN),
		Backend: backend,
		Content: store,
		DB:      db,
		Logger:  logger,
	}
	if events != nil {
		svcOpts.Events = events
	}
	if cfg.Hugo.Build {
		svcOpts.Builder = &hugo.Builder{Binary: cfg.Hugo.Binary, SiteDir: cfg.Hugo.SiteDir,
			Args: cfg.Hugo.Args, Timeout: cfg.Hugo.Timeout, Logger: logger}
	}
	if cfg.Hugo.Deploy {
		svcOpts.Deployer = &hugo.Deployer{Command: cfg.Hugo.DeployCommand, SiteDir: cfg.Hugo.SiteDir,
			Timeout: cfg.Hugo.Timeout, Logger: logger}
	}
	svc, err := syncservice.New(svcOpts)
	if err != nil {
		return fail(fmt.Errorf("init service: %w", err))
	}
	rt.svc = svc
	return rt, nil
}

// Run starts the HTTP server, content watcher and sync scheduler.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := app.setup(broker)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	if _, err := index.Sync(rt.db, rt.store, logger); err != nil {
		logger.Warn("initial catalogue failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Sync.Watch {
		g.Go(func() error {
			if err := index.Watch(gCtx, rt.db, rt.store, cfg.Content.Dir, logger, rt.svc.OnContentEvent); err != nil {
				logger.Warn("content watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		return rt.svc.Loop(gCtx, cfg.Sync.Interval, cfg.Sync.DriftDebounce, cfg.Sync.Mode)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the watcher and scheduler
// stop together with the HTTP server.
var errShutdown = errors.New("shutdown")

// Sync runs a single pass and prints its summary as JSON. mode overrides
// the configured mode when non-empty.
func Sync(ctx context.Context, mode string, opts ...Option) (*reconciler.Summary, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	m := app.config.Sync.Mode
	if mode != "" {
		if m, err = detector.ParseMode(mode); err != nil {
			return nil, err
		}
	}

	rt, err := app.setup(nil)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	sum, err := rt.svc.Sync(ctx, m, syncservice.TriggerCLI)
	if sum != nil {
		enc := json.NewEncoder(rt.stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(sum); encErr != nil {
			rt.logger.Warn("print summary failed", slog.String("error", encErr.Error()))
		}
		rt.logger.Info("sync: pass finished",
			slog.String("run_id", sum.RunID),
			slog.Int("created", sum.Created),
			slog.Int("updated", sum.Updated),
			slog.Int("unchanged", sum.Unchanged),
			slog.Int("skipped", sum.Skipped),
			slog.Int("deleted", sum.Deleted),
			slog.Int("errored", sum.Errored),
			slog.Duration("duration", sum.Duration()))
	}
	return sum, err
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if app.logOut == os.Stdout {
		app.logOut = os.Stderr
	}
	rt, err := app.setup(nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := index.Sync(rt.db, rt.store, rt.logger); err != nil {
		rt.logger.Warn("initial catalogue failed", slog.String("error", err.Error()))
	}
	return mcpserver.New(rt.svc, rt.rules).ServeStdio()
}

// PrintStatus writes the current sync status as JSON.
func PrintStatus(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.setup(nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := rt.svc.Status(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(rt.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

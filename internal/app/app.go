// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires together every component of sessiond into a single
// running process: config, the session engine, its tmux-hosted supervisor
// loop, the transform watcher factory, the vault hydration importer, the
// status bus, and the HTTP/WebSocket gateway. Grounded on
// internal/app/app.go's App container (Options/New/Initialize/Start/Run/
// Shutdown/Stop lifecycle, signal-driven Run loop), narrowed from Trellis's
// worktree/service/workflow/proxy/terminal assembly down to this spec's one
// kind of long-lived thing: an assistant session.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/sessiond/internal/config"
	"github.com/wingedpig/sessiond/internal/engine"
	api "github.com/wingedpig/sessiond/internal/gateway"
	"github.com/wingedpig/sessiond/internal/hydrate"
	"github.com/wingedpig/sessiond/internal/observer"
	"github.com/wingedpig/sessiond/internal/statusbus"
	"github.com/wingedpig/sessiond/internal/streamitem"
	"github.com/wingedpig/sessiond/internal/supervisor"
	"github.com/wingedpig/sessiond/internal/tmuxadapter"
	"github.com/wingedpig/sessiond/internal/transform"
)

// Options holds the command-line-level overrides for a run.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// App is the sessiond process container.
type App struct {
	mu sync.Mutex

	configPath string
	version    string
	cfg        *config.Config

	bus       *statusbus.Bus
	adapter   tmuxadapter.Adapter
	launcher  *supervisor.Launcher
	factory   *transform.Factory
	importer  *hydrate.Importer
	eng       *engine.Engine
	observer  *observer.Observer
	apiServer *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// New loads configuration and constructs every component, but starts
// nothing — call Run (or Initialize+Start) to bring the process up.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if verr := config.NewValidator().Validate(cfg); verr != nil {
		return nil, fmt.Errorf("invalid config: %w", verr)
	}

	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		cfg:        cfg,
		done:       make(chan struct{}),
	}
	if err := app.build(); err != nil {
		return nil, err
	}
	return app, nil
}

// build constructs every component over app.cfg without starting anything
// that has its own goroutine loop. Split out of New so Restart (the
// /api/test/restart-engine control endpoint) can rebuild the engine half
// of the process in place.
func (app *App) build() error {
	cfg := app.cfg

	reapAfter, err := time.ParseDuration(cfg.Sessions.ReapAfter)
	if err != nil {
		return fmt.Errorf("sessions.reap_after: %w", err)
	}
	fifoTimeout, err := time.ParseDuration(cfg.Sessions.FIFOTimeout)
	if err != nil {
		return fmt.Errorf("sessions.fifo_timeout: %w", err)
	}

	if err := os.MkdirAll(cfg.Sessions.Root, 0o755); err != nil {
		return fmt.Errorf("create sessions root: %w", err)
	}
	scriptDir := filepath.Join(cfg.Sessions.Root, ".supervisor")

	app.bus = statusbus.New()
	app.adapter = tmuxadapter.New()

	launcher, err := supervisor.New(app.adapter, supervisor.Config{AssistantBin: cfg.Assistant.Binary}, scriptDir)
	if err != nil {
		return fmt.Errorf("render supervisor script: %w", err)
	}
	app.launcher = launcher

	noiseRules := make([]transform.NoiseRule, len(cfg.Assistant.NoiseRules))
	for i, r := range cfg.Assistant.NoiseRules {
		noiseRules[i] = transform.NoiseRule{Patterns: r.Patterns, MatchMode: r.MatchMode}
	}
	app.factory = transform.NewFactory(transform.Config{
		NotifyToolNames: cfg.Assistant.NotifyToolNames,
		NoiseRules:      noiseRules,
		EnableDiff:      cfg.Assistant.EnableDiff,
	})

	app.importer = hydrate.New(hydrate.Config{VaultRoot: cfg.Vault.Root})

	app.eng = engine.New(engine.Config{
		SessionsRoot: cfg.Sessions.Root,
		DefaultModel: cfg.Assistant.DefaultModel,
		FIFOTimeout:  fifoTimeout,
		ReapAfter:    reapAfter,
		Adapter:      app.adapter,
		Launcher:     app.launcher,
		Bus:          app.bus,
		// Start returns *transform.Watcher; adapt it to engine.Watcher
		// structurally (it has its own Close method) without transform
		// importing engine, breaking the watcher<->queue import cycle.
		WatcherFactory: watcherFactoryAdapter{app.factory},
	})

	app.observer = observer.New(observer.Config{Engine: app.eng, Hydrator: app.importer})

	deps := api.Dependencies{Engine: app.eng, Observer: app.observer, Restarter: app}
	if app.apiServer == nil {
		app.apiServer = api.NewServer(cfg.Server, deps)
	} else {
		app.apiServer.UpdateDependencies(deps)
	}
	return nil
}

// watcherFactoryAdapter satisfies engine.WatcherFactory over
// *transform.Factory, whose Start returns the concrete *transform.Watcher
// rather than the engine.Watcher interface.
type watcherFactoryAdapter struct{ f *transform.Factory }

func (a watcherFactoryAdapter) Start(id streamitem.SessionID, dir string, onTurnComplete func()) (engine.Watcher, error) {
	return a.f.Start(id, dir, onTurnComplete)
}

// Initialize reconciles engine state against whatever sessions survived a
// prior run (spec §4.5 Reconcile) and starts the reaper sweep.
func (app *App) Initialize(ctx context.Context) error {
	if err := app.eng.Reconcile(ctx); err != nil {
		log.Printf("reconcile: %v", err)
	}
	app.eng.RunReaper()
	return nil
}

// Start brings up the gateway in the background. Non-blocking.
func (app *App) Start(ctx context.Context) error {
	go func() {
		log.Printf("sessiond %s listening on %s:%d", app.version, app.cfg.Server.Host, app.cfg.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("gateway error: %v", err)
		}
	}()
	return nil
}

// Run initializes, starts, and blocks until a shutdown signal, context
// cancellation, or Stop() call, then shuts down gracefully.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down", sig)
	case <-ctx.Done():
		log.Printf("context canceled, shutting down")
	case <-app.done:
		log.Printf("shutdown requested")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully stops the gateway and engine.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("error shutting down gateway: %v", err)
		}
	}
	if app.eng != nil {
		app.eng.Stop()
	}
	if app.bus != nil {
		app.bus.Close()
	}
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() { close(app.done) })
}

// Restart implements the POST /api/test/restart-engine control endpoint
// (spec.md §6): stop the current engine, rebuild every component from the
// same config, and reconcile the new engine against whatever sessions are
// still alive on disk/in tmux. The gateway keeps running throughout; only
// its Dependencies.Engine/Observer are swapped.
func (app *App) Restart(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.eng != nil {
		app.eng.Stop()
	}
	if app.bus != nil {
		app.bus.Close()
	}

	if err := app.build(); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	if err := app.eng.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	app.eng.RunReaper()
	return nil
}

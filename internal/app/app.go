// Package app owns the process lifecycle: it wires stores, caches, the
// archive, the oracle client and notifications into the engine, then runs
// the HTTP server, the resolver, or both.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/narrativebet/internal/config"
)

// modeFunc runs one operating mode until ctx is cancelled.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"server":   (*App).ServerMode,
	"resolver": (*App).ResolverMode,
	"full":     (*App).FullMode,
}

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	closers []func()
}

// New creates an App; nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, restores markets from the event log and blocks in
// the configured mode until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.onClose(cleanup)

	a.logger.InfoContext(ctx, "app: started",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store.Backend),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
		slog.Int("markets", len(deps.Engine.Markets())),
		slog.Int("chapter", deps.Engine.Chapter()),
	)
	return run(a, ctx, deps)
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order. Later calls are no-ops.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	if len(closers) == 0 {
		return
	}
	a.logger.Info("app: shutting down")
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

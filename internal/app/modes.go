package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/narrativebet/internal/resolver"
	"github.com/alanyoungcy/narrativebet/internal/server"
	"github.com/alanyoungcy/narrativebet/internal/server/handler"
	"github.com/alanyoungcy/narrativebet/internal/server/ws"
)

// ServerMode serves the HTTP API and the WebSocket hub. Markets are locked
// and resolved by whoever calls the API or by a resolver process sharing the
// same store.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ResolverMode runs only the background loop: auto-lock, oracle pulls,
// dispute expiry and archival.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering resolver mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startResolver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the resolver in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startResolver(ctx, g, deps)
	return g.Wait()
}

func (a *App) startResolver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	rc := a.cfg.Resolver
	r := resolver.New(deps.Engine, deps.Archiver, deps.Notifier, deps.Bus, resolver.Config{
		Interval:     rc.Interval.Duration,
		AutoLock:     rc.AutoLock,
		OraclePull:   rc.OraclePull,
		CloseExpired: rc.CloseExpired,
		ArchiveAfter: rc.ArchiveAfter.Duration,
		Workers:      rc.Workers,
	}, a.logger)
	g.Go(func() error {
		return r.Run(ctx)
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to g.
// The server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	eng := deps.Engine
	sc := a.cfg.Server

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Chapter:   eng.Chapter,
		Origins:   sc.CORSOrigins,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	// Keep read views current with events a resolver process commits.
	g.Go(func() error {
		return eng.Follow(ctx, deps.Bus)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, eng.Chapter, a.logger),
		Markets:   handler.NewMarketHandler(eng, a.logger),
		Bets:      handler.NewBetHandler(eng, a.logger),
		Exchange:  handler.NewExchangeHandler(eng, a.logger),
		Disputes:  handler.NewDisputeHandler(eng, a.logger),
		Oracle:    handler.NewOracleHandler(eng, a.logger),
		Profiles:  handler.NewProfileHandler(eng, a.logger),
		Suspicion: handler.NewSuspicionHandler(deps.Suspicion, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:          sc.Port,
		CORSOrigins:   sc.CORSOrigins,
		OperatorKey:   sc.OperatorKey,
		BettorKey:     sc.BettorKey,
		Oracle:        deps.OracleAuth,
		OracleMaxSkew: a.cfg.Oracle.MaxSkew.Duration,
		RateLimiter:   deps.RateLimiter,
		RateLimit:     sc.RateLimit,
		RateWindow:    sc.RateWindow.Duration,
	}, handlers, hub, a.logger)

	if sc.OperatorKey == "" {
		a.logger.WarnContext(ctx, "server: operator_key is empty; market administration is unauthenticated")
	}
	if deps.OracleAuth == nil {
		a.logger.WarnContext(ctx, "server: oracle hmac secret not set; verdict callbacks are refused")
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", sc.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

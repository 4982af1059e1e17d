// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/server/handler"
	"github.com/alanyoungcy/narrativebet/internal/server/middleware"
	"github.com/alanyoungcy/narrativebet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// OperatorKey guards market administration. Empty disables the check.
	OperatorKey string
	// BettorKey guards bettor actions; operators may use them too. Empty
	// disables the check.
	BettorKey string
	// Oracle verifies verdict callbacks. Nil refuses them.
	Oracle        *crypto.HMACAuth
	OracleMaxSkew time.Duration

	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Bets      *handler.BetHandler
	Exchange  *handler.ExchangeHandler
	Disputes  *handler.DisputeHandler
	Oracle    *handler.OracleHandler
	Profiles  *handler.ProfileHandler
	Suspicion *handler.SuspicionHandler
	Audit     *handler.AuditHandler
}

// Server is the HTTP + WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes builds the full handler tree. It is separate from NewServer so
// tests can mount it on httptest.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	operator := middleware.Auth(cfg.OperatorKey)
	bettor := middleware.Auth()
	if cfg.BettorKey != "" {
		bettor = middleware.Auth(cfg.BettorKey, cfg.OperatorKey)
	}
	limited := middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow, logger)
	oracle := middleware.OracleAuth(cfg.Oracle, cfg.OracleMaxSkew, nil, logger)

	op := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, operator(fn)) }
	bet := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, limited(bettor(fn))) }
	read := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, limited(fn)) }

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Operator endpoints.
	op("POST /api/markets", handlers.Markets.Create)
	op("POST /api/markets/{id}/open", handlers.Markets.Open)
	op("POST /api/markets/{id}/lock", handlers.Markets.Lock)
	op("POST /api/markets/{id}/void", handlers.Markets.Void)
	op("POST /api/temporal", handlers.Markets.CreateTemporal)
	op("POST /api/story/chapter", handlers.Markets.AdvanceChapter)
	op("POST /api/markets/{id}/dispute/close", handlers.Disputes.Close)
	op("GET /api/markets/{id}/audit", handlers.Markets.Audit)
	if handlers.Suspicion != nil {
		op("POST /api/suspicion/rounds", handlers.Suspicion.CreateRound)
		op("POST /api/suspicion/rounds/{id}/reveal", handlers.Suspicion.Reveal)
		read("GET /api/suspicion/rounds/{id}", handlers.Suspicion.GetRound)
	}
	if handlers.Audit != nil {
		op("GET /api/audit", handlers.Audit.List)
	}

	// Oracle callback.
	mux.Handle("POST /api/markets/{id}/resolve", oracle(http.HandlerFunc(handlers.Oracle.Resolve)))

	// Bettor endpoints.
	bet("POST /api/markets/{id}/bets", handlers.Bets.Place)
	bet("DELETE /api/markets/{id}/bets/{betId}", handlers.Bets.Cancel)
	bet("POST /api/markets/{id}/consensus", handlers.Bets.Consensus)
	bet("POST /api/markets/{id}/claim", handlers.Bets.Claim)
	bet("POST /api/markets/{id}/consensus/claim", handlers.Bets.ClaimConsensus)
	bet("POST /api/markets/{id}/mint", handlers.Exchange.Mint)
	bet("POST /api/markets/{id}/swap", handlers.Exchange.Swap)
	bet("POST /api/markets/{id}/liquidity", handlers.Exchange.AddLiquidity)
	bet("DELETE /api/markets/{id}/liquidity", handlers.Exchange.RemoveLiquidity)
	bet("POST /api/markets/{id}/dispute/votes", handlers.Disputes.Vote)

	// Lock-free reads.
	read("GET /api/markets", handlers.Markets.List)
	read("GET /api/markets/{id}", handlers.Markets.Get)
	read("GET /api/markets/{id}/odds", handlers.Markets.Odds)
	read("GET /api/markets/{id}/quote", handlers.Markets.Quote)
	read("GET /api/markets/{id}/consensus", handlers.Markets.Consensus)
	read("GET /api/markets/{id}/positions/{holder}", handlers.Exchange.Position)
	read("GET /api/profiles", handlers.Profiles.Leaderboard)
	read("GET /api/profiles/{address}", handlers.Profiles.Get)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

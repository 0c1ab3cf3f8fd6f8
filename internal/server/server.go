// Package server exposes the auction over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilswap/veilswap/internal/domain"
	"github.com/veilswap/veilswap/internal/server/handler"
	"github.com/veilswap/veilswap/internal/server/middleware"
	"github.com/veilswap/veilswap/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, write-endpoint authentication is disabled
	RateLimit   int    // requests per second per client IP; 0 disables
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Commit  *handler.CommitHandler
	Batch   *handler.BatchHandler
	Quote   *handler.QuoteHandler
	Custody *handler.CustodyHandler
	Archive *handler.ArchiveHandler // nil when blob storage is not configured
}

// Server is the HTTP + WebSocket API for the batch auction.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. Read
// endpoints are public; write endpoints sit behind API-key auth when a key
// is configured. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	authed := middleware.Auth(cfg.APIKey)

	// Health check, no auth.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Commitment lifecycle.
	mux.Handle("POST /api/commits", authed(http.HandlerFunc(handlers.Commit.Commit)))
	mux.Handle("POST /api/commits/{id}/reveal", authed(http.HandlerFunc(handlers.Commit.Reveal)))
	mux.HandleFunc("GET /api/commits/{id}", handlers.Commit.GetCommitment)

	// Batch lifecycle. Advance and settle are permissionless by design: the
	// keeper normally drives them, but anyone may nudge a stalled clock.
	mux.HandleFunc("GET /api/batch", handlers.Batch.GetCurrent)
	mux.HandleFunc("POST /api/batch/advance", handlers.Batch.Advance)
	mux.HandleFunc("POST /api/batch/settle", handlers.Batch.Settle)
	mux.HandleFunc("GET /api/batch/{id}/settlement", handlers.Batch.GetSettlement)
	mux.HandleFunc("GET /api/settlements", handlers.Batch.ListSettlements)

	// Pricing.
	mux.HandleFunc("GET /api/quote", handlers.Quote.GetQuote)

	// Custody.
	mux.Handle("POST /api/custody/deposit", authed(http.HandlerFunc(handlers.Custody.Deposit)))
	mux.HandleFunc("GET /api/custody/balance", handlers.Custody.GetBalance)

	// Cold-storage archives, present only when blob storage is configured.
	// Pruning is destructive and sits behind auth.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.List)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archive.Download)
		mux.Handle("DELETE /api/archives/{path...}", authed(http.HandlerFunc(handlers.Archive.Prune)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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

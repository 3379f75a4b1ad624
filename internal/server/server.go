package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/alphahunt-ai/alphahunt/internal/acp"
	"github.com/alphahunt-ai/alphahunt/internal/breaker"
	"github.com/alphahunt-ai/alphahunt/internal/broker"
	"github.com/alphahunt-ai/alphahunt/internal/orchestrator"
	"github.com/alphahunt-ai/alphahunt/internal/ratelimit"
)

// Server is the alphahunt HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Broker.
type ServerConfig struct {
	// Required dependencies.
	Orchestrator *orchestrator.Orchestrator
	Engine       *acp.Engine
	Registry     *orchestrator.Registry
	Breakers     *breaker.Registry
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter ratelimit.Limiter
	Broker  *broker.Broker

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &handlers{
		orch:     cfg.Orchestrator,
		engine:   cfg.Engine,
		registry: cfg.Registry,
		breakers: cfg.Breakers,
		events:   cfg.Broker,
		logger:   cfg.Logger,
		version:  cfg.Version,
		maxBody:  cfg.MaxRequestBodyBytes,
	}

	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)

	mux := http.NewServeMux()

	// Hunt trigger (rate limited).
	mux.Handle("POST /v1/hunt", rl(http.HandlerFunc(h.handleHunt)))

	// Read APIs (rate limited).
	mux.Handle("GET /v1/rounds", rl(http.HandlerFunc(h.handleListRounds)))
	mux.Handle("GET /v1/rounds/{round_id}", rl(http.HandlerFunc(h.handleGetRound)))
	mux.Handle("GET /v1/leaderboard", rl(http.HandlerFunc(h.handleLeaderboard)))
	mux.Handle("GET /v1/agents", rl(http.HandlerFunc(h.handleListAgents)))
	mux.Handle("GET /v1/agents/{agent_key}/stats", rl(http.HandlerFunc(h.handleAgentStats)))
	mux.Handle("GET /v1/slashes", rl(http.HandlerFunc(h.handleSlashLog)))
	mux.Handle("GET /v1/rewards", rl(http.HandlerFunc(h.handleRewardLog)))
	mux.Handle("GET /v1/protocol", rl(http.HandlerFunc(h.handleProtocol)))

	// Event stream (no rate limit, long-lived connection).
	mux.HandleFunc("GET /v1/stream", h.handleStream)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /healthz", h.handleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

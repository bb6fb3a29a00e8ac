// Package edge implements the public HTTP tier: it authenticates agent
// requests by Ed25519 signature, rate limits per identity, and forwards
// valid calls to the engine over the internal wire protocol. It holds no
// domain state, so any number of replicas can serve behind a balancer.
package edge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/haggle-ai/haggle/internal/ctxutil"
	"github.com/haggle-ai/haggle/internal/ratelimit"
	"github.com/haggle-ai/haggle/internal/sigcheck"
)

// Server is the edge HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and settings for creating a Server.
// Limiter may be nil (rate limiting disabled).
type ServerConfig struct {
	Engine   Engine
	Verifier *sigcheck.Verifier
	Limiter  ratelimit.Limiter
	Logger   *slog.Logger

	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	NegotiateTimeout time.Duration
	StatusTimeout    time.Duration
}

// New creates the edge server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Engine, cfg.NegotiateTimeout, cfg.StatusTimeout, cfg.Logger)

	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, cfg.Logger, callerKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Negotiation surface (signature-verified, rate limited per DID).
	mux.Handle("POST /v1/negotiate", rl(http.HandlerFunc(h.HandleNegotiate)))
	mux.Handle("POST /v1/deals/{deal_id}/status", rl(http.HandlerFunc(h.HandleDealStatus)))

	// Probes (no auth, no rate limit).
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /readyz", h.HandleReady)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Verifier, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
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

// callerKeyFunc extracts the verified DID for rate limiting. Unverified
// requests never reach the limiter; auth runs first.
func callerKeyFunc(r *http.Request) string {
	caller, ok := ctxutil.CallerFromContext(r.Context())
	if !ok {
		return ""
	}
	return caller.DID
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("edge server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("edge server shutting down")
	return s.httpServer.Shutdown(ctx)
}

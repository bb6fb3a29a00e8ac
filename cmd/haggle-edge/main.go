// Command haggle-edge runs the public tier: the HTTP server that verifies
// agent signatures, rate limits per identity, and forwards to the engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/haggle-ai/haggle/internal/config"
	"github.com/haggle-ai/haggle/internal/edge"
	"github.com/haggle-ai/haggle/internal/ratelimit"
	"github.com/haggle-ai/haggle/internal/rpc"
	"github.com/haggle-ai/haggle/internal/sigcheck"
	"github.com/haggle-ai/haggle/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("HAGGLE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("haggle-edge starting",
		"version", version,
		"port", cfg.EdgePort,
		"engine", cfg.EngineRPCAddr,
	)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint: cfg.OTELEndpoint,
		Service:  cfg.ServiceName,
		Tier:     "edge",
		Version:  version,
		Insecure: cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	limiter := newLimiter(ctx, cfg, logger)
	defer func() { _ = limiter.Close() }()

	srv := edge.New(edge.ServerConfig{
		Engine:           rpc.NewClient(cfg.EngineRPCAddr),
		Verifier:         sigcheck.New(),
		Limiter:          limiter,
		Logger:           logger,
		Port:             cfg.EdgePort,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		NegotiateTimeout: cfg.NegotiateTimeout,
		StatusTimeout:    cfg.StatusTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("haggle-edge stopped")
	return nil
}

// newLimiter picks the rate-limit store: Redis when a cache URL is
// configured so replicas share one budget per caller, otherwise an
// in-process fallback.
func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) ratelimit.Limiter {
	if cfg.CacheURL == "" {
		logger.Info("rate limiting: memory (single replica budget)",
			"limit", cfg.RateLimit, "window", cfg.RateLimitWindow)
		return ratelimit.NewMemoryLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}

	limiter, err := ratelimit.NewRedisLimiter(ctx, cfg.CacheURL, cfg.RateLimit, cfg.RateLimitWindow)
	if err != nil {
		logger.Warn("rate limiting: redis unavailable, falling back to memory", "error", err)
		return ratelimit.NewMemoryLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}
	logger.Info("rate limiting: redis (shared across replicas)",
		"limit", cfg.RateLimit, "window", cfg.RateLimitWindow)
	return limiter
}

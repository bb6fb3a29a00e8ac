// Command haggle-engine runs the decision tier: the RPC server evaluating
// bids, the locked-deal store, and the deal expiry sweep.
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

	"github.com/haggle-ai/haggle/internal/chain"
	"github.com/haggle-ai/haggle/internal/config"
	"github.com/haggle-ai/haggle/internal/engine"
	"github.com/haggle-ai/haggle/internal/market"
	"github.com/haggle-ai/haggle/internal/pricing"
	"github.com/haggle-ai/haggle/internal/rpc"
	"github.com/haggle-ai/haggle/internal/secretbox"
	"github.com/haggle-ai/haggle/internal/storage"
	"github.com/haggle-ai/haggle/internal/strategy"
	"github.com/haggle-ai/haggle/internal/telemetry"
	"github.com/haggle-ai/haggle/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// sweepInterval is how often overdue pending deals are expired in bulk.
const sweepInterval = time.Minute

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

	slog.Info("haggle-engine starting",
		"version", version,
		"addr", cfg.EngineRPCAddr,
		"strategy", cfg.Strategy,
		"crypto_enabled", cfg.CryptoEnabled,
	)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint: cfg.OTELEndpoint,
		Service:  cfg.ServiceName,
		Tier:     "engine",
		Version:  version,
		Insecure: cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.CatalogURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	pricer, err := strategy.New(cfg.Strategy, cfg.HighValueThreshold, cfg.LLMBaseURL, cfg.LLMAPIKey, logger)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	sessions, err := engine.NewSessionSigner(nil)
	if err != nil {
		return err
	}

	var mkt engine.Market
	if cfg.CryptoEnabled {
		box, err := secretbox.New(cfg.SecretEncryptionKey)
		if err != nil {
			return err
		}
		conv, err := pricing.New(cfg.USDPerNative, cfg.USDPerStable)
		if err != nil {
			return err
		}
		watcher, err := chain.NewSolanaWatcher(cfg.ChainRPCURL, cfg.ReceivingWalletKey, cfg.ChainNetwork, cfg.StableTokenMint, logger)
		if err != nil {
			return err
		}
		mkt = market.New(db, box, conv, watcher, cfg.DealTTL, logger)
		logger.Info("crypto settlement enabled",
			"network", watcher.Network(),
			"wallet", watcher.Address(),
			"currency", cfg.CryptoCurrency,
		)
	} else {
		logger.Info("crypto settlement disabled")
	}

	svc := engine.New(db, pricer, mkt, sessions, cfg.CryptoEnabled, cfg.CryptoCurrency, logger)
	srv := rpc.NewServer(cfg.EngineRPCAddr, svc, db.Ping, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.CryptoEnabled {
		g.Go(func() error {
			sweepLoop(gctx, db, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("haggle-engine stopped")
	return nil
}

// sweepLoop expires overdue pending deals so deals nobody polls still
// reach a terminal state.
func sweepLoop(ctx context.Context, db *storage.DB, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.ExpireOverdueDeals(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expiry sweep complete", "expired", n)
			}
		}
	}
}

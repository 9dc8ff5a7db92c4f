package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veilfi/veilfi/service/aleo"
	"github.com/veilfi/veilfi/service/config"
	"github.com/veilfi/veilfi/service/events"
	"github.com/veilfi/veilfi/service/lending"
	"github.com/veilfi/veilfi/service/metrics"
	"github.com/veilfi/veilfi/service/reconcile"
	"github.com/veilfi/veilfi/service/server"
	"github.com/veilfi/veilfi/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting gateway",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"chain_id", cfg.ChainID,
	)

	m := metrics.NewMetrics(nil)

	// Chain read client (JSON-RPC mapping reads + explorer height)
	chain := aleo.NewClient(cfg.RPCURL, cfg.ExplorerURL, nil, m, logger)
	logger.Info("initialized chain client", "rpc_url", cfg.RPCURL, "explorer_url", cfg.ExplorerURL)

	// Wallet boundary (signing, broadcasting, and record listing happen on
	// the other side of the bridge)
	bridge := wallet.NewHTTPBridge(cfg.WalletBridgeURL, nil, m, logger)
	logger.Info("initialized wallet bridge", "url", cfg.WalletBridgeURL)

	readers := lending.NewReaders(chain, m, logger)
	builder := lending.NewBuilder(chain, cfg.ChainID, cfg.Fee, cfg.FeePrivate, logger)

	// Operation lifecycle event publisher (NATS JetStream)
	publisher, err := events.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		logger.Error("failed to initialize event publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	policy := reconcile.DefaultPolicy()
	policy.RecordPollInterval = cfg.RecordPollInterval
	policy.Budget = cfg.ConfirmationBudget

	engine := reconcile.NewEngine(bridge, readers, publisher, policy, m, logger)
	defer engine.Close()
	logger.Info("initialized reconciliation engine",
		"record_poll_interval", policy.RecordPollInterval.String(),
		"confirmation_budget", policy.Budget.String(),
	)

	// SSE fan-out reads the same stream the engine publishes to
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to initialize SSE publisher", "error", err)
		os.Exit(1)
	}

	httpServer := server.New(cfg.ServerAddr, cfg, engine, readers, builder, chain, bridge, ssePublisher, m, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// Package server exposes the dashboard gateway's HTTP API: balance, position,
// and market reads, operation submission, and SSE streaming of operation
// lifecycle events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veilfi/veilfi/service/config"
	"github.com/veilfi/veilfi/service/lending"
	"github.com/veilfi/veilfi/service/metrics"
	"github.com/veilfi/veilfi/service/reconcile"
	"github.com/veilfi/veilfi/service/wallet"
)

// Server represents the HTTP server for the dashboard gateway.
type Server struct {
	addr         string
	cfg          *config.Config
	engine       *reconcile.Engine
	readers      *lending.Readers
	builder      *lending.Builder
	chain        lending.ChainReader
	wallet       wallet.Adapter
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, engine *reconcile.Engine, readers *lending.Readers, builder *lending.Builder, chain lending.ChainReader, w wallet.Adapter, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		engine:       engine,
		readers:      readers,
		builder:      builder,
		chain:        chain,
		wallet:       w,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := s.routes()

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// SSE responses outlive any sane write timeout; rely on client
		// disconnect instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// routes builds the request mux. Split out so tests can exercise handlers
// without binding a socket.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// instrument wraps a handler with per-endpoint HTTP metrics. SSE routes
	// are left unwrapped; duration histograms are meaningless for streams.
	instrument := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Read routes
	mux.Handle("GET /api/v1/balances/{address}", instrument("/api/v1/balances", handleGetBalances(s.engine, s.logger)))
	mux.Handle("GET /api/v1/positions/{address}", instrument("/api/v1/positions", handleGetPositions(s.wallet, s.readers, s.logger)))
	mux.Handle("GET /api/v1/market", instrument("/api/v1/market", handleGetMarket(s.engine, s.readers, s.chain, s.logger)))
	mux.Handle("GET /api/v1/loans/{id}", instrument("/api/v1/loans", handleGetLoan(s.readers, s.logger)))

	// Operation routes
	mux.Handle("POST /api/v1/operations", instrument("/api/v1/operations", handleSubmitOperation(s.engine, s.builder, s.wallet, s.logger)))
	mux.Handle("GET /api/v1/operations", instrument("/api/v1/operations", handleListOperations(s.engine, s.logger)))
	mux.Handle("GET /api/v1/operations/{id}", instrument("/api/v1/operations", handleGetOperation(s.engine, s.logger)))
	mux.Handle("DELETE /api/v1/operations/{id}", instrument("/api/v1/operations", handleCancelOperation(s.engine, s.logger)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/operations/{address}", handleStreamOperations(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/operations", handleStreamOperations(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return mux
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

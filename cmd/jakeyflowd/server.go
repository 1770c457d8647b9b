package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jakeyflow/core/config"
	"github.com/jakeyflow/core/internal/metrics"
	"github.com/jakeyflow/core/internal/server"
	"github.com/jakeyflow/core/internal/telemetry"
	"github.com/jakeyflow/core/llm/router"
)

// Server is the jakeyflowd process: an HTTP port serving the chat API and
// health checks, and a separate metrics port.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// router and chat are optional: a process running purely as a
	// metrics/health sidecar, or one whose providers failed to construct,
	// still serves /health and /version with both left nil.
	router *router.Router
	chat   *ChatService

	httpManager    *server.Manager
	metricsManager *server.Manager
	collector      *metrics.Collector

	wg sync.WaitGroup
}

// NewServer builds a Server ready to Start. Construction never fails today,
// but returns an error to leave room for future dependency wiring (e.g. a
// router that needs provider clients) without changing the signature.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) (*Server, error) {
	return &Server{cfg: cfg, logger: logger, otel: otel}, nil
}

// WithRouter attaches the provider router, enabling the /debug/router-state
// introspection endpoint. Call before Start.
func (s *Server) WithRouter(r *router.Router) *Server {
	s.router = r
	return s
}

// WithChat attaches the chat completion service, enabling
// POST /v1/chat/completions. Call before Start.
func (s *Server) WithChat(c *ChatService) *Server {
	s.chat = c
	return s
}

// WithMetrics attaches a pre-built collector, so components constructed
// before Start (the router, the chat service) share the same collector
// instance Start would otherwise build fresh — promauto registers against
// the global default registry, so building two collectors with the same
// namespace panics on the second.
func (s *Server) WithMetrics(c *metrics.Collector) *Server {
	s.collector = c
	return s
}

// Start launches the HTTP and metrics listeners. Both run in background
// goroutines; Start returns once both are listening.
func (s *Server) Start() error {
	if s.collector == nil {
		s.collector = metrics.NewCollector("jakeyflowd", s.logger)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/version", s.handleVersion)

	debugMux := http.NewServeMux()
	debugMux.HandleFunc("/debug/router-state", s.handleDebugRouterState)
	mux.Handle("/debug/", Chain(debugMux, JWTAuth(s.cfg.Server.AdminJWTSecret)))

	if s.chat != nil {
		mux.Handle("/v1/chat/completions", s.chat)
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(context.Background(), s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleDebugRouterState exposes the router's current NORMAL/FALLBACK
// position and active failover record, gated by JWTAuth.
func (s *Server) handleDebugRouterState(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "router not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.router.Snapshot())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WaitForShutdown blocks until a shutdown signal arrives, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the router's restoration timer, then the HTTP server, then
// the metrics server, and finally flushes telemetry.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.router != nil {
		s.router.Stop()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("graceful shutdown completed")
}

// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ricesearch/tsrr/internal/bus"
	"github.com/ricesearch/tsrr/internal/config"
	"github.com/ricesearch/tsrr/internal/evaluation"
	"github.com/ricesearch/tsrr/internal/metrics"
	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
	"github.com/ricesearch/tsrr/internal/pkg/middleware"
)

// Server is the main HTTP server that wires all services together.
type Server struct {
	cfg        *config.Config
	version    string
	log        *logger.Logger
	httpServer *http.Server
	handler    http.Handler

	// Services
	bus       bus.Bus
	metrics   *metrics.Metrics
	evaluator *evaluation.Evaluator
	limiter   *middleware.RateLimiter

	ready   atomic.Bool
	mu      sync.Mutex
	started bool
}

// New creates a new server with all dependencies.
func New(cfg *config.Config, version string, log *logger.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:     cfg,
		version: version,
		log:     log,
	}

	b, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	opts := []evaluation.EvaluatorOption{evaluation.WithLogger(log)}
	if cfg.Observability.MetricsEnabled {
		s.metrics = metrics.New()
		b = bus.NewInstrumentedBus(b, s.metrics)
		opts = append(opts, evaluation.WithRecorder(s.metrics))
	}
	s.bus = b
	opts = append(opts, evaluation.WithBus(s.bus))

	s.evaluator, err = evaluation.NewEvaluator(evaluation.SettingsFromConfig(cfg.Metric), opts...)
	if err != nil {
		_ = s.bus.Close()
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}

	if err := evaluation.SubscribeRunEvents(context.Background(), s.bus, evaluation.RunEventHandlers{
		Completed: func(ctx context.Context, ev evaluation.CompletedEvent) {
			log.Debug("run event", "event", "completed", "run_id", ev.RunID, "queries", ev.QueryCount, "mean_tsrr", ev.MeanTsRR)
		},
		Failed: func(ctx context.Context, ev evaluation.FailedEvent) {
			log.Debug("run event", "event", "failed", "run_id", ev.RunID, "code", ev.Code)
		},
	}); err != nil {
		_ = s.bus.Close()
		return nil, fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	if rlCfg, ok := middleware.RateLimiterConfigFrom(cfg.Security); ok {
		s.limiter = middleware.NewRateLimiter(rlCfg, log)
	}

	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Evaluator returns the server's evaluator.
func (s *Server) Evaluator() *evaluation.Evaluator {
	return s.evaluator
}

// Start starts the HTTP server. It blocks until the server stops and
// returns nil after a graceful Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := s.cfg.Address()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.ready.Store(true)
	s.log.Info("Starting HTTP server",
		"addr", addr,
		"variant", s.cfg.Metric.Variant,
		"bus", s.cfg.Bus.Type,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.ready.Store(false)
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready.Store(false)
	s.log.Info("Shutting down server...")

	if s.started && s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
		}
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.log.Warn("bus close error", "error", err)
		}
	}

	s.started = false
	s.log.Info("Server stopped")

	return nil
}

// setupRoutes configures all HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /version", s.handleVersion)

	evaluation.NewHandler(s.evaluator, s.log).RegisterRoutes(mux)

	if s.metrics != nil {
		mux.Handle("GET "+s.cfg.Observability.MetricsPath, s.metrics.Handler())
	}

	return s.wrap(mux)
}

// wrap applies the middleware chain. Metrics and logging sit outside
// Recovery so recovered panics are counted and logged as 500s.
func (s *Server) wrap(h http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{middleware.RequestID}
	if s.metrics != nil {
		m := s.metrics
		mws = append(mws, func(next http.Handler) http.Handler {
			return metrics.HTTPMiddleware(m, next)
		})
	}
	mws = append(mws,
		middleware.Logging(s.log),
		middleware.Recovery(s.log),
		middleware.CORS(s.cfg.Security.CORSOrigins),
	)
	if s.limiter != nil {
		mws = append(mws, s.limiter.Middleware)
	}

	return middleware.Chain(h, mws...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("tsrr-server"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// VersionInfo is the body of GET /version.
type VersionInfo struct {
	Version   string  `json:"version"`
	Variant   string  `json:"variant"`
	Alpha     float64 `json:"alpha,omitempty"`
	Reduction string  `json:"reduction"`
	Bus       string  `json:"bus"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	settings := s.evaluator.Settings()
	info := VersionInfo{
		Version:   s.version,
		Variant:   string(settings.Variant),
		Reduction: string(settings.Reduction),
		Bus:       s.cfg.Bus.Type,
	}
	if info.Variant == "" {
		info.Variant = string(evaluation.VariantCombinatorial)
	}
	if settings.Variant == evaluation.VariantLogPenalty {
		info.Alpha = settings.Alpha
	}
	if info.Bus == "" {
		info.Bus = "memory"
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

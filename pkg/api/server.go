package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`

	// ReadTimeout bounds reading a full request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a full response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful drain on stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP boundary: order submission, order and instance
// queries, and the deployer result webhook.
type Server struct {
	cfg    Config
	orch   *orchestrator.Orchestrator
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	router *mux.Router
	srv    *http.Server
}

// NewServer creates the server and registers all routes.
func NewServer(cfg Config, orch *orchestrator.Orchestrator, tel *telemetry.Telemetry) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	s := &Server{
		cfg:    cfg,
		orch:   orch,
		tel:    tel,
		logger: tel.Logger.Zerolog().With().Str("component", "api").Logger(),
		router: mux.NewRouter(),
	}
	s.routes()

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/services", s.handleDeploy).Methods(http.MethodPost)
	v1.HandleFunc("/services", s.handleListInstances).Methods(http.MethodGet)
	v1.HandleFunc("/services/{id}", s.handleGetInstance).Methods(http.MethodGet)
	v1.HandleFunc("/services/{id}/modify", s.handleOperation("modify")).Methods(http.MethodPost)
	v1.HandleFunc("/services/{id}/redeploy", s.handleOperation("deploy")).Methods(http.MethodPost)
	v1.HandleFunc("/services/{id}/destroy", s.handleOperation("destroy")).Methods(http.MethodPost)
	v1.HandleFunc("/services/{id}/migrate", s.handleOperation("migrate")).Methods(http.MethodPost)
	v1.HandleFunc("/services/{id}/port", s.handleOperation("port")).Methods(http.MethodPost)
	v1.HandleFunc("/services/{id}/purge", s.handleOperation("purge")).Methods(http.MethodPost)
	v1.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/templates", s.handleListTemplates).Methods(http.MethodGet)
	v1.HandleFunc("/csps", s.handleListCsps).Methods(http.MethodGet)
	v1.HandleFunc("/credentials", s.handleStoreCredential).Methods(http.MethodPut)

	r.HandleFunc("/webhooks/deployer/{correlationId}", s.handleDeployerWebhook).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.tel.Metrics.Handler()).Methods(http.MethodGet)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("HTTP server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// logRequests is the access-log middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

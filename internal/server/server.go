// Package server assembles the HTTP surface: router, middleware chain,
// health and metrics endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bspnode/internal/api"
	"bspnode/internal/observability/logging"
	"bspnode/internal/observability/metrics"
	"bspnode/internal/serverutil"
)

// Config controls the HTTP server.
type Config struct {
	Addr            string
	TLS             serverutil.TLSConfig
	RateLimit       RateLimitConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	tls             serverutil.TLSConfig
	shutdownTimeout time.Duration
}

// New wires the router and middleware around the API handler.
func New(handler *api.Handler, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	limiter := newRateLimiter(cfg.RateLimit)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return requestIDMiddleware(logger, next)
	})
	router.Use(logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger}))
	router.Use(recorder.Middleware)
	router.Use(limiter.middleware)

	router.Get("/healthz", handler.Healthz)
	router.Method(http.MethodGet, "/metrics", recorder.Handler())
	handler.Register(router)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		logger:          logger,
		tls:             cfg.TLS,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr, "tls", s.tls.CertFile != "")
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             s.tls,
		ShutdownTimeout: s.shutdownTimeout,
	})
}

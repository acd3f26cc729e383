// Package server exposes the chat runtime over HTTP: one endpoint to run a
// turn, a learn endpoint to store feedbacks, and management endpoints for
// the feedback collections.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convoloop/convoloop/pkg/chat"
	"github.com/convoloop/convoloop/pkg/config"
)

// Server is the HTTP front of the runtime.
type Server struct {
	config       *config.ServerConfig
	orchestrator *chat.Orchestrator
	httpServer   *http.Server
	log          *slog.Logger

	// newFeedback builds the feedback service for the learn and
	// management endpoints. Swapped in tests.
	newFeedback func(setting *config.Setting) feedbackService
}

// New assembles the server and its router.
func New(cfg *config.ServerConfig, orchestrator *chat.Orchestrator) *Server {
	s := &Server{
		config:       cfg,
		orchestrator: orchestrator,
		log:          slog.Default().With("component", "server"),
		newFeedback: func(setting *config.Setting) feedbackService {
			svc := chat.BuildFeedback(setting)
			if svc == nil {
				return nil
			}
			return svc
		},
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/chat", s.handleChat)
	r.Post("/learn", s.handleLearn)
	r.Get("/feedbacks", s.handleListFeedbacks)
	r.Delete("/feedbacks", s.handleClearFeedbacks)
	r.Delete("/collections/{agent_name}", s.handleDropCollection)

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server starting", "address", s.config.Address())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.config.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.log.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

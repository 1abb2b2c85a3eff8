package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docscan/internal/config"
	"github.com/dgallion1/docscan/internal/history"
	"github.com/dgallion1/docscan/internal/pipeline"
	"github.com/dgallion1/docscan/internal/recognize"
)

// Server is the HTTP API server for docscan.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        *recognize.Stats
	metrics      http.Handler
	history      *history.Store
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(orch *pipeline.Orchestrator, stats *recognize.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

// WithMetrics serves h at /metrics.
func (s *Server) WithMetrics(h http.Handler) *Server {
	s.metrics = h
	return s
}

// WithHistory enables the /api/runs endpoints.
func (s *Server) WithHistory(h *history.Store) *Server {
	s.history = h
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/jobs", s.handleSubmit)
		r.Get("/api/jobs/{runID}/status", s.handleStatus)
		r.Get("/api/jobs/{runID}/events", s.handleEvents)
		r.Get("/api/jobs/{runID}/hits", s.handleHits)
		r.Get("/api/jobs/{runID}/report", s.handleReport)
		r.Post("/api/jobs/{runID}/cancel", s.handleCancel)
		r.Get("/api/stats/ocr", s.handleOCRStats)

		r.Get("/api/runs", s.handleListRuns)
		r.Get("/api/runs/{runID}", s.handleGetRun)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

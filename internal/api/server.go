// Package api serves the dashboard's read/write HTTP surface: sentiment
// queries, stats, AI summaries and insights, suppression-keyword admin,
// report generation, and the signed feedback callback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/fusae/mailcheck/internal/buildinfo"
	"github.com/fusae/mailcheck/internal/classify"
	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/feedback"
	"github.com/fusae/mailcheck/internal/report"
	"github.com/fusae/mailcheck/internal/store"
)

// Pinger reports component liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the dashboard HTTP API server.
type Server struct {
	cfg      config.RuntimeConfig
	store    *store.Store
	llm      classify.Chatter
	loop     *feedback.Loop
	reports  *report.Generator
	mailPing Pinger
	logger   *slog.Logger
	server   *http.Server
}

// NewServer wires the API over its collaborators. mailPing may be nil
// when the pipeline is disabled.
func NewServer(cfg config.RuntimeConfig, st *store.Store, llm classify.Chatter, loop *feedback.Loop, reports *report.Generator, mailPing Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		llm:      llm,
		loop:     loop,
		reports:  reports,
		mailPing: mailPing,
		logger:   logger.With("component", "api"),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/opinions", s.handleListOpinions)
		r.Get("/opinions/{id}", s.handleGetOpinion)
		r.Get("/search", s.handleSearch)

		r.Get("/stats", s.handleStats)
		r.Get("/stats/trend", s.handleTrend)

		r.Post("/ai/summary", s.handleAISummary)
		r.Post("/ai/insight", s.handleAIInsight)

		r.Get("/notification/suppress_keywords", s.handleGetSuppressKeywords)
		r.Post("/notification/suppress_keywords", s.handleSetSuppressKeywords)

		r.Post("/report/generate", s.handleReportGenerate)
		r.Get("/report/download/{filename}", s.handleReportDownload)

		r.Get("/events/{id}", s.handleGetEvent)
		r.Get("/events/{id}/sentiments", s.handleEventSentiments)

		// The feedback callback is reachable from chat clients on the
		// open internet; rate-limit it per IP.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(30, time.Minute))
			r.Get("/feedback", s.handleFeedback)
			r.Post("/feedback", s.handleFeedback)
		})
	})

	return r
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddress, s.cfg.ListenPort)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
	}

	s.logger.Info("API server listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requestLogger logs each request at debug with method, path, status,
// and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	}

	if err := s.store.Ping(ctx); err != nil {
		health["status"] = "degraded"
		health["database"] = err.Error()
	} else {
		health["database"] = "ok"
	}

	if s.mailPing != nil {
		if err := s.mailPing.Ping(ctx); err != nil {
			health["status"] = "degraded"
			health["imap"] = err.Error()
		} else {
			health["imap"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, health, s.logger)
}

// errorBody is the stable error envelope for 4xx/5xx responses.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body, logger)
}

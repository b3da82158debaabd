// Package server exposes the rule repository, redaction primitives, coverage
// verification, and the learning loop over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/config"
	"github.com/raaihank/redact-sentinel/internal/learning"
	"github.com/raaihank/redact-sentinel/internal/logger"
	"github.com/raaihank/redact-sentinel/internal/store"
)

// Server is the HTTP front of the engine.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	store    *store.Store
	verifier *learning.Verifier
	learner  *learning.Learner
	router   *mux.Router
	server   *http.Server
}

// New creates a server wired to the given collaborators.
func New(cfg *config.Config, st *store.Store, verifier *learning.Verifier, learner *learning.Learner, log *logger.Logger) *Server {
	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		store:    st,
		verifier: verifier,
		learner:  learner,
		router:   mux.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/rules", s.handleCreateRule).Methods("POST")
	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules/search", s.handleSearchRules).Methods("GET")
	api.HandleFunc("/rules/name/{name}", s.handleGetRuleByName).Methods("GET")
	api.HandleFunc("/rules/{id:[0-9]+}", s.handleGetRule).Methods("GET")
	api.HandleFunc("/rules/{id:[0-9]+}", s.handleUpdateRule).Methods("PATCH")
	api.HandleFunc("/rules/{id:[0-9]+}", s.handleRemoveRule).Methods("DELETE")

	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/verify", s.handleVerify).Methods("POST")
	api.HandleFunc("/learn", s.handleLearn).Methods("POST")
}

// loggingMiddleware logs request method, path and latency. Bodies are never
// logged: they carry sensitive samples.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting redact-sentinel server", zap.Int("port", s.config.Server.Port))
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping redact-sentinel server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                  "redact-sentinel",
		"version":               "0.1.0",
		"rules_count":           count,
		"learning_max_attempts": s.config.Learning.MaxAttempts,
	})
}

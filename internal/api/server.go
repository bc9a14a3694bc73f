// Package api provides the REST server for retrieval and document
// administration.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/authz-engine/prp-core/internal/cache"
	"github.com/authz-engine/prp-core/internal/canonical"
	"github.com/authz-engine/prp-core/internal/index"
	"github.com/authz-engine/prp-core/internal/policy"
	"github.com/authz-engine/prp-core/internal/prp"
	"github.com/authz-engine/prp-core/internal/similarity"
)

// CompileFactory builds a leaf compiler for a variable environment. It
// backs the evaluation-context update endpoint.
type CompileFactory func(variables map[string]interface{}) (canonical.CompileFunc, error)

// Config configures the REST server.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64

	EnableAuth bool
	JWTSecret  string
	// APIKeyHash is a bcrypt hash of the accepted API key.
	APIKeyHash string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodySize:  1 * 1024 * 1024,
	}
}

// Server is the REST server over the live index.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config

	live       *prp.LiveIndex
	results    cache.Cache
	similar    *similarity.Index
	newCompile CompileFactory
}

// New creates a REST server. The cache, similarity index, and compile
// factory are optional; their endpoints degrade gracefully when absent.
func New(cfg Config, live *prp.LiveIndex, results cache.Cache, similar *similarity.Index, newCompile CompileFactory, logger *zap.Logger) (*Server, error) {
	if live == nil {
		return nil, fmt.Errorf("live index is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		config:     cfg,
		live:       live,
		results:    results,
		similar:    similar,
		newCompile: newCompile,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.maxBodySizeMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/retrieve", s.retrieve).Methods("POST")

	api.HandleFunc("/documents", s.listDocuments).Methods("GET")
	api.HandleFunc("/documents", s.publishDocument).Methods("POST")
	api.HandleFunc("/documents/{id}", s.getDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", s.unpublishDocument).Methods("DELETE")
	api.HandleFunc("/documents/{id}/similar", s.similarDocuments).Methods("GET")

	api.HandleFunc("/context", s.updateContext).Methods("PUT")

	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{
			index.NewMetrics().Registry(),
			policy.NewMetrics().Registry(),
		},
		promhttp.HandlerOpts{},
	)).Methods("GET")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Starting REST server", zap.Int("port", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping REST server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := apiResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

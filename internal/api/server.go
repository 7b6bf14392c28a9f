// Package api provides the HTTP API for the sync status service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/service"
	"github.com/gorilla/mux"
)

// StatusServiceInterface defines the interface for sync status operations
type StatusServiceInterface interface {
	ReadStatus(ctx context.Context) *models.SyncStatus
	ReadStatusRepaired(ctx context.Context) *models.SyncStatus
	GetCurrentSyncInfo(ctx context.Context) *models.CurrentSync
	GetHeartbeatData(ctx context.Context) *models.HeartbeatData
	CancelCurrentSync(ctx context.Context) *models.CancelResult
	ValidateStateConsistency(ctx context.Context) *models.ValidationReport
	AutoFixInconsistencies(ctx context.Context, report *models.ValidationReport) *models.FixResult
	History() service.HistorySink
	Locks() service.LockManager
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	status     StatusServiceInterface
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, status StatusServiceInterface, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		status: status,
		config: config,
		logger: logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// Middleware order matters: logging wraps everything, recovery catches
	// handler panics, rate limiting runs last.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Status endpoints
	api.HandleFunc("/sync/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/sync/heartbeat", s.handleGetHeartbeat).Methods("GET")
	api.HandleFunc("/sync/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/sync/locks", s.handleGetLocks).Methods("GET")

	// Admin endpoints
	api.HandleFunc("/sync/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/sync/validate", s.handleValidate).Methods("POST")
	api.HandleFunc("/sync/repair", s.handleRepair).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "erp-sync",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/chm/internal/config"
	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/ingest"
	"github.com/jonathan/chm/internal/log"
	"github.com/jonathan/chm/internal/server/middleware"
)

// Store is the persistence surface the API handlers need. *db.DB satisfies
// it; tests substitute a fake.
type Store interface {
	CreateClient(ctx context.Context, name string, isActive bool) (*db.Client, error)
	GetClient(ctx context.Context, clientID uuid.UUID) (*db.Client, error)
	ListClients(ctx context.Context, activeOnly bool, limit int) ([]db.Client, error)
	UpdateClient(ctx context.Context, clientID uuid.UUID, name *string, isActive *bool) (*db.Client, error)
	DeleteClient(ctx context.Context, clientID uuid.UUID) (bool, error)
	GetClientRunSummary(ctx context.Context, clientID uuid.UUID, since, until time.Time) (*db.ClientRunSummary, error)

	CreatePipeline(ctx context.Context, p db.PipelineCreate) (*db.Pipeline, error)
	GetPipeline(ctx context.Context, pipelineID uuid.UUID) (*db.Pipeline, error)
	ListPipelines(ctx context.Context, clientID uuid.UUID, activeOnly bool, limit int) ([]db.Pipeline, error)
	UpdatePipeline(ctx context.Context, pipelineID uuid.UUID, u db.PipelineUpdate) (*db.Pipeline, error)
	DeletePipeline(ctx context.Context, pipelineID uuid.UUID) (bool, error)

	CreateRun(ctx context.Context, u db.RunUpsert) (*db.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListRuns(ctx context.Context, pipelineID uuid.UUID, filters db.RunFilters) ([]db.Run, error)
	GetLatestRun(ctx context.Context, pipelineID uuid.UUID) (*db.Run, error)

	CreateAlertRule(ctx context.Context, a db.AlertRuleCreate) (*db.AlertRule, error)
	GetAlertRule(ctx context.Context, ruleID uuid.UUID) (*db.AlertRule, error)
	ListAlertRules(ctx context.Context, clientID, pipelineID *uuid.UUID, limit int) ([]db.AlertRule, error)
	UpdateAlertRule(ctx context.Context, ruleID uuid.UUID, u db.AlertRuleUpdate) (*db.AlertRule, error)
	DeleteAlertRule(ctx context.Context, ruleID uuid.UUID) (bool, error)

	QueryFailuresOverTime(ctx context.Context, since, until time.Time, bucket string) ([]db.FailureBucket, error)
	QueryLatestStatusByPipeline(ctx context.Context) ([]db.LatestPipelineStatus, error)
	QueryFailureCountsByClient(ctx context.Context, asOf time.Time) ([]db.ClientFailureCounts, error)
	QueryTopFlakyPipelines(ctx context.Context, since time.Time, limit int) ([]db.FlakyPipeline, error)
	QueryFailureRateByPlatform(ctx context.Context, since, until time.Time) ([]db.PlatformFailureRate, error)
	QueryRunDurationDistribution(ctx context.Context, since, until time.Time, maxDurationSeconds, bucketCount int) ([]db.DurationBucket, error)
}

// IngestRunner triggers one ingestion invocation.
type IngestRunner interface {
	Run(ctx context.Context) (*ingest.Summary, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	store      Store
	ingestor   IngestRunner
	jwtService *JWTService // nil when auth is disabled
	logger     *logrus.Logger
	closeDB    func()
}

// New creates a server wired to a live database and partner client.
func New(cfg *config.Config) (*Server, error) {
	database, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	client := ingest.NewPartnerClient(ingest.ClientOptions{
		BaseURL:        cfg.PartnerBaseURL,
		APIToken:       cfg.PartnerAPIToken,
		Timeout:        cfg.HTTPTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxRetries:     cfg.MaxRetries,
		Backoff:        cfg.Backoff,
		RateLimitRPS:   cfg.RateLimitRPS,
	})
	ingestor := ingest.NewIngestor(client, database, ingest.NewMapper(cfg.RedactFields), cfg.Concurrency)

	s := newServer(database, ingestor, cfg.JWTSecret, cfg.Port)
	s.closeDB = database.Close
	return s, nil
}

// newServer assembles routes and middleware. Split from New so tests can
// inject fakes without a database.
func newServer(store Store, ingestor IngestRunner, jwtSecret string, port int) *Server {
	s := &Server{
		store:    store,
		ingestor: ingestor,
		logger:   log.GetLogger(),
	}
	if jwtSecret != "" {
		s.jwtService = NewJWTService(jwtSecret, 0)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Clients
	mux.Handle("POST /api/v1/clients", s.protect(s.handleCreateClient))
	mux.HandleFunc("GET /api/v1/clients", s.handleListClients)
	mux.HandleFunc("GET /api/v1/clients/{id}", s.handleGetClient)
	mux.Handle("PATCH /api/v1/clients/{id}", s.protect(s.handleUpdateClient))
	mux.Handle("DELETE /api/v1/clients/{id}", s.protect(s.handleDeleteClient))
	mux.HandleFunc("GET /api/v1/clients/{id}/summary", s.handleClientRunSummary)

	// Pipelines
	mux.Handle("POST /api/v1/clients/{id}/pipelines", s.protect(s.handleCreatePipeline))
	mux.HandleFunc("GET /api/v1/clients/{id}/pipelines", s.handleListPipelines)
	mux.HandleFunc("GET /api/v1/pipelines/{id}", s.handleGetPipeline)
	mux.Handle("PATCH /api/v1/pipelines/{id}", s.protect(s.handleUpdatePipeline))
	mux.Handle("DELETE /api/v1/pipelines/{id}", s.protect(s.handleDeletePipeline))

	// Runs
	mux.Handle("POST /api/v1/pipelines/{id}/runs", s.protect(s.handleCreateRun))
	mux.HandleFunc("GET /api/v1/pipelines/{id}/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/pipelines/{id}/runs/latest", s.handleGetLatestRun)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)

	// Alert rules
	mux.Handle("POST /api/v1/alert-rules", s.protect(s.handleCreateAlertRule))
	mux.HandleFunc("GET /api/v1/alert-rules", s.handleListAlertRules)
	mux.HandleFunc("GET /api/v1/alert-rules/{id}", s.handleGetAlertRule)
	mux.Handle("PATCH /api/v1/alert-rules/{id}", s.protect(s.handleUpdateAlertRule))
	mux.Handle("DELETE /api/v1/alert-rules/{id}", s.protect(s.handleDeleteAlertRule))

	// Dashboard
	mux.HandleFunc("GET /api/v1/dashboard/failures-over-time", s.handleFailuresOverTime)
	mux.HandleFunc("GET /api/v1/dashboard/latest-status", s.handleLatestStatus)
	mux.HandleFunc("GET /api/v1/dashboard/failure-counts-by-client", s.handleFailureCountsByClient)
	mux.HandleFunc("GET /api/v1/dashboard/top-flaky-pipelines", s.handleTopFlakyPipelines)
	mux.HandleFunc("GET /api/v1/dashboard/failure-rate-by-platform", s.handleFailureRateByPlatform)
	mux.HandleFunc("GET /api/v1/dashboard/run-duration-distribution", s.handleRunDurationDistribution)

	// Ingestion
	mux.Handle("POST /api/v1/ingestion/trigger", s.protect(s.handleTriggerIngestion))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for synchronous ingestion triggers
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for requests
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("server error")
		}
	}()

	<-stop
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.closeDB != nil {
		s.closeDB()
	}
	s.logger.Info("server stopped")
	return nil
}

// protect wraps mutating handlers with bearer-token authentication when a
// JWT secret is configured. Without one the handler is served as-is.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.jwtService == nil {
		return h
	}
	return middleware.Auth(s.jwtService.AsTokenValidator())(h)
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("failed to encode JSON response")
	}
}

// errorResponse writes an error envelope with the status implied by code.
func (s *Server) errorResponse(w http.ResponseWriter, code, message string, details ...ErrorDetail) {
	s.jsonResponse(w, statusForCode(code), ErrorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// validationErrorResponse writes a validation_error envelope with field
// details extracted from the validation failure.
func (s *Server) validationErrorResponse(w http.ResponseWriter, err error) {
	s.jsonResponse(w, http.StatusBadRequest, ErrorEnvelope{Error: ErrorBody{
		Code:    CodeValidationError,
		Message: "request validation failed",
		Details: validationDetails(err),
	}})
}

// decodeJSON decodes a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// pathUUID parses the named path parameter as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/types"
)

// handleCreateRun records a run manually, outside partner ingestion. A
// missing external_run_id gets a generated "manual-" identity.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid pipeline ID")
		return
	}

	var req types.CreateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.validationErrorResponse(w, err)
		return
	}

	pipeline, err := s.store.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if pipeline == nil {
		s.errorResponse(w, CodeNotFound, "Pipeline not found")
		return
	}

	externalRunID := "manual-" + uuid.NewString()
	if req.ExternalRunID != nil {
		externalRunID = *req.ExternalRunID
	}

	run, err := s.store.CreateRun(r.Context(), db.RunUpsert{
		PipelineID:      pipelineID,
		ExternalRunID:   externalRunID,
		Status:          db.RunStatus(req.Status),
		StartedAt:       req.StartedAt,
		FinishedAt:      req.FinishedAt,
		DurationSeconds: req.DurationSeconds,
		RowsProcessed:   req.RowsProcessed,
		ErrorMessage:    req.ErrorMessage,
		StatusReason:    req.StatusReason,
		Payload:         req.Payload,
	})
	if err != nil {
		s.errorResponse(w, CodeConflict, "Run with this external_run_id already exists")
		return
	}

	s.jsonResponse(w, http.StatusCreated, run)
}

// handleListRuns lists a pipeline's runs with optional filters
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid pipeline ID")
		return
	}

	filters := db.RunFilters{
		Limit: parseQueryInt(r, "limit", 100, 500),
		Order: r.URL.Query().Get("order"),
	}
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		if !db.ValidRunStatus(statusStr) {
			s.errorResponse(w, CodeValidationError, "Invalid status filter")
			return
		}
		status := db.RunStatus(statusStr)
		filters.Status = &status
	}
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			s.errorResponse(w, CodeValidationError, "Invalid since timestamp")
			return
		}
		filters.Since = &since
	}
	if untilStr := r.URL.Query().Get("until"); untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			s.errorResponse(w, CodeValidationError, "Invalid until timestamp")
			return
		}
		filters.Until = &until
	}

	runs, err := s.store.ListRuns(r.Context(), pipelineID, filters)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetLatestRun returns a pipeline's most recent run
func (s *Server) handleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid pipeline ID")
		return
	}

	pipeline, err := s.store.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if pipeline == nil {
		s.errorResponse(w, CodeNotFound, "Pipeline not found")
		return
	}

	run, err := s.store.GetLatestRun(r.Context(), pipelineID)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, CodeNotFound, "Pipeline has no runs")
		return
	}

	s.jsonResponse(w, http.StatusOK, run)
}

// handleGetRun retrieves a run by ID
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid run ID")
		return
	}

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, CodeNotFound, "Run not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, run)
}

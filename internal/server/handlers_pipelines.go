package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/types"
)

// handleCreatePipeline registers a pipeline under a client
func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid client ID")
		return
	}

	var req types.CreatePipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.validationErrorResponse(w, err)
		return
	}

	client, err := s.store.GetClient(r.Context(), clientID)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if client == nil {
		s.errorResponse(w, CodeNotFound, "Client not found")
		return
	}

	pipeline, err := s.store.CreatePipeline(r.Context(), db.PipelineCreate{
		ClientID:     clientID,
		Name:         req.Name,
		Platform:     db.Platform(req.Platform),
		ExternalID:   req.ExternalID,
		PipelineType: db.PipelineType(req.PipelineType),
		Description:  req.Description,
		Environment:  req.Environment,
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicateName) {
			s.errorResponse(w, CodeConflict, "Pipeline name already exists for this client")
			return
		}
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, pipeline)
}

// handleListPipelines lists a client's pipelines
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid client ID")
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	limit := parseQueryInt(r, "limit", 100, 500)

	pipelines, err := s.store.ListPipelines(r.Context(), clientID, activeOnly, limit)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"pipelines": pipelines,
		"count":     len(pipelines),
	})
}

// handleGetPipeline retrieves a pipeline by ID
func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
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

	s.jsonResponse(w, http.StatusOK, pipeline)
}

// handleUpdatePipeline patches a pipeline
func (s *Server) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid pipeline ID")
		return
	}

	var req types.UpdatePipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.validationErrorResponse(w, err)
		return
	}

	pipeline, err := s.store.UpdatePipeline(r.Context(), pipelineID, db.PipelineUpdate{
		Name:        req.Name,
		ExternalID:  req.ExternalID,
		Description: req.Description,
		Environment: req.Environment,
		IsActive:    req.IsActive,
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicateName) {
			s.errorResponse(w, CodeConflict, "Pipeline name already exists for this client")
			return
		}
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if pipeline == nil {
		s.errorResponse(w, CodeNotFound, "Pipeline not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, pipeline)
}

// handleDeletePipeline removes a pipeline
func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid pipeline ID")
		return
	}

	deleted, err := s.store.DeletePipeline(r.Context(), pipelineID)
	if err != nil {
		s.errorResponse(w, CodeConflict, "Cannot delete pipeline: "+err.Error())
		return
	}
	if !deleted {
		s.errorResponse(w, CodeNotFound, "Pipeline not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

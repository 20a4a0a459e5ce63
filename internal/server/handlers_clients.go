package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/types"
)

// parseQueryInt parses an integer query parameter with default and max values
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return defaultValue
	}
	if maxValue > 0 && val > maxValue {
		return maxValue
	}
	return val
}

// parseQueryTime parses an RFC 3339 query parameter, returning fallback when
// absent and an error when present but malformed.
func parseQueryTime(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, valStr)
}

// handleCreateClient registers a new client
func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req types.CreateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.validationErrorResponse(w, err)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	client, err := s.store.CreateClient(r.Context(), req.Name, isActive)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateName) {
			s.errorResponse(w, CodeConflict, "Client name already exists")
			return
		}
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, client)
}

// handleListClients lists clients, optionally only active ones
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	limit := parseQueryInt(r, "limit", 100, 500)

	clients, err := s.store.ListClients(r.Context(), activeOnly, limit)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"clients": clients,
		"count":   len(clients),
	})
}

// handleGetClient retrieves a client by ID
func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid client ID")
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

	s.jsonResponse(w, http.StatusOK, client)
}

// handleUpdateClient patches a client
func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid client ID")
		return
	}

	var req types.UpdateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.validationErrorResponse(w, err)
		return
	}

	client, err := s.store.UpdateClient(r.Context(), clientID, req.Name, req.IsActive)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateName) {
			s.errorResponse(w, CodeConflict, "Client name already exists")
			return
		}
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if client == nil {
		s.errorResponse(w, CodeNotFound, "Client not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, client)
}

// handleDeleteClient removes a client
func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid client ID")
		return
	}

	deleted, err := s.store.DeleteClient(r.Context(), clientID)
	if err != nil {
		s.errorResponse(w, CodeConflict, "Cannot delete client: "+err.Error())
		return
	}
	if !deleted {
		s.errorResponse(w, CodeNotFound, "Client not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleClientRunSummary aggregates run outcomes for a client in a window
func (s *Server) handleClientRunSummary(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid client ID")
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

	now := time.Now().UTC()
	until, err := parseQueryTime(r, "until", now)
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid until timestamp")
		return
	}
	since, err := parseQueryTime(r, "since", until.Add(-24*time.Hour))
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid since timestamp")
		return
	}
	if !since.Before(until) {
		s.errorResponse(w, CodeValidationError, "since must be before until")
		return
	}

	summary, err := s.store.GetClientRunSummary(r.Context(), clientID, since, until)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, summary)
}

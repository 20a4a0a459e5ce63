package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/types"
)

// handleCreateAlertRule creates alerting configuration
func (s *Server) handleCreateAlertRule(w http.ResponseWriter, r *http.Request) {
	var req types.CreateAlertRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.validationErrorResponse(w, err)
		return
	}

	// Scope references must exist before the rule is stored.
	if req.ClientID != nil {
		client, err := s.store.GetClient(r.Context(), *req.ClientID)
		if err != nil {
			s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
			return
		}
		if client == nil {
			s.errorResponse(w, CodeNotFound, "Client not found")
			return
		}
	}
	if req.PipelineID != nil {
		pipeline, err := s.store.GetPipeline(r.Context(), *req.PipelineID)
		if err != nil {
			s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
			return
		}
		if pipeline == nil {
			s.errorResponse(w, CodeNotFound, "Pipeline not found")
			return
		}
	}

	isEnabled := true
	if req.IsEnabled != nil {
		isEnabled = *req.IsEnabled
	}

	rule, err := s.store.CreateAlertRule(r.Context(), db.AlertRuleCreate{
		ClientID:      req.ClientID,
		PipelineID:    req.PipelineID,
		RuleType:      db.RuleType(req.RuleType),
		Threshold:     req.Threshold,
		WindowMinutes: req.WindowMinutes,
		Channel:       db.Channel(req.Channel),
		Destination:   req.Destination,
		IsEnabled:     isEnabled,
	})
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, rule)
}

// handleListAlertRules lists alert rules, optionally filtered by scope
func (s *Server) handleListAlertRules(w http.ResponseWriter, r *http.Request) {
	var clientID, pipelineID *uuid.UUID
	if v := r.URL.Query().Get("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.errorResponse(w, CodeValidationError, "Invalid client_id filter")
			return
		}
		clientID = &id
	}
	if v := r.URL.Query().Get("pipeline_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.errorResponse(w, CodeValidationError, "Invalid pipeline_id filter")
			return
		}
		pipelineID = &id
	}
	limit := parseQueryInt(r, "limit", 100, 500)

	rules, err := s.store.ListAlertRules(r.Context(), clientID, pipelineID, limit)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"alert_rules": rules,
		"count":       len(rules),
	})
}

// handleGetAlertRule retrieves an alert rule by ID
func (s *Server) handleGetAlertRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid alert rule ID")
		return
	}

	rule, err := s.store.GetAlertRule(r.Context(), ruleID)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if rule == nil {
		s.errorResponse(w, CodeNotFound, "Alert rule not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, rule)
}

// handleUpdateAlertRule patches an alert rule
func (s *Server) handleUpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid alert rule ID")
		return
	}

	var req types.UpdateAlertRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.validationErrorResponse(w, err)
		return
	}

	rule, err := s.store.UpdateAlertRule(r.Context(), ruleID, db.AlertRuleUpdate{
		Threshold:     req.Threshold,
		WindowMinutes: req.WindowMinutes,
		Destination:   req.Destination,
		IsEnabled:     req.IsEnabled,
	})
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if rule == nil {
		s.errorResponse(w, CodeNotFound, "Alert rule not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, rule)
}

// handleDeleteAlertRule removes an alert rule
func (s *Server) handleDeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathUUID(r, "id")
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid alert rule ID")
		return
	}

	deleted, err := s.store.DeleteAlertRule(r.Context(), ruleID)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}
	if !deleted {
		s.errorResponse(w, CodeNotFound, "Alert rule not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

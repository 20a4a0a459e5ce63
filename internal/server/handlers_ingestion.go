package server

import (
	"net/http"
)

// handleTriggerIngestion runs one ingestion invocation synchronously and
// returns its summary. Partial summaries from an aborted invocation still
// come back with the error.
func (s *Server) handleTriggerIngestion(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		s.errorResponse(w, CodeInternalError, "Ingestion is not configured")
		return
	}

	summary, err := s.ingestor.Run(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("ingestion invocation failed")
		s.errorResponse(w, CodeInternalError, "Ingestion failed: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, summary)
}

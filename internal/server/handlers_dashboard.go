package server

import (
	"net/http"
	"time"

	"github.com/jonathan/chm/internal/db"
)

// dashboardWindow parses the shared since/until query parameters, defaulting
// to the trailing seven days.
func (s *Server) dashboardWindow(w http.ResponseWriter, r *http.Request) (since, until time.Time, ok bool) {
	now := time.Now().UTC()
	until, err := parseQueryTime(r, "until", now)
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid until timestamp")
		return since, until, false
	}
	since, err = parseQueryTime(r, "since", until.Add(-7*24*time.Hour))
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid since timestamp")
		return since, until, false
	}
	if !since.Before(until) {
		s.errorResponse(w, CodeValidationError, "since must be before until")
		return since, until, false
	}
	return since, until, true
}

// handleFailuresOverTime returns failed-run counts per time bucket
func (s *Server) handleFailuresOverTime(w http.ResponseWriter, r *http.Request) {
	since, until, ok := s.dashboardWindow(w, r)
	if !ok {
		return
	}
	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = "day"
	}
	if !db.ValidBucket(bucket) {
		s.errorResponse(w, CodeValidationError, "Invalid bucket; use minute, hour, day, or week")
		return
	}

	buckets, err := s.store.QueryFailuresOverTime(r.Context(), since, until, bucket)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"since":   since,
		"until":   until,
		"bucket":  bucket,
		"buckets": buckets,
	})
}

// handleLatestStatus returns the latest run status per active pipeline
func (s *Server) handleLatestStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.QueryLatestStatusByPipeline(r.Context())
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"pipelines": statuses,
		"count":     len(statuses),
	})
}

// handleFailureCountsByClient returns rolling 24h/7d failure counts per client
func (s *Server) handleFailureCountsByClient(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseQueryTime(r, "as_of", time.Now().UTC())
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid as_of timestamp")
		return
	}

	counts, err := s.store.QueryFailureCountsByClient(r.Context(), asOf)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"as_of":   asOf,
		"clients": counts,
	})
}

// handleTopFlakyPipelines ranks pipelines by failure frequency
func (s *Server) handleTopFlakyPipelines(w http.ResponseWriter, r *http.Request) {
	since, err := parseQueryTime(r, "since", time.Now().UTC().Add(-7*24*time.Hour))
	if err != nil {
		s.errorResponse(w, CodeValidationError, "Invalid since timestamp")
		return
	}
	limit := parseQueryInt(r, "limit", 20, 100)

	pipelines, err := s.store.QueryTopFlakyPipelines(r.Context(), since, limit)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"since":     since,
		"pipelines": pipelines,
	})
}

// handleFailureRateByPlatform returns failure rates grouped by platform
func (s *Server) handleFailureRateByPlatform(w http.ResponseWriter, r *http.Request) {
	since, until, ok := s.dashboardWindow(w, r)
	if !ok {
		return
	}

	rates, err := s.store.QueryFailureRateByPlatform(r.Context(), since, until)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"since":     since,
		"until":     until,
		"platforms": rates,
	})
}

// handleRunDurationDistribution returns a histogram of run durations
func (s *Server) handleRunDurationDistribution(w http.ResponseWriter, r *http.Request) {
	since, until, ok := s.dashboardWindow(w, r)
	if !ok {
		return
	}
	maxDuration := parseQueryInt(r, "max_duration_seconds", 7200, 0)
	bucketCount := parseQueryInt(r, "bucket_count", 24, 100)
	if maxDuration <= 0 || bucketCount <= 0 {
		s.errorResponse(w, CodeValidationError, "max_duration_seconds and bucket_count must be positive")
		return
	}

	buckets, err := s.store.QueryRunDurationDistribution(r.Context(), since, until, maxDuration, bucketCount)
	if err != nil {
		s.errorResponse(w, CodeInternalError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"since":                since,
		"until":                until,
		"max_duration_seconds": maxDuration,
		"bucket_count":         bucketCount,
		"buckets":              buckets,
	})
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/ingest"
)

func TestHandleCreateClient(t *testing.T) {
	s := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(`{"name": "acme"}`))
	w := httptest.NewRecorder()
	s.handleCreateClient(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var client db.Client
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &client))
	assert.Equal(t, "acme", client.Name)
	assert.True(t, client.IsActive)
}

func TestHandleCreateClient_Duplicate(t *testing.T) {
	s := newTestServer(&fakeStore{
		createClient: func(context.Context, string, bool) (*db.Client, error) {
			return nil, db.ErrDuplicateName
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(`{"name": "acme"}`))
	w := httptest.NewRecorder()
	s.handleCreateClient(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	envelope := decodeErrorEnvelope(t, w.Body.Bytes())
	assert.Equal(t, CodeConflict, envelope.Error.Code)
}

func TestHandleCreateClient_MissingName(t *testing.T) {
	s := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleCreateClient(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeErrorEnvelope(t, w.Body.Bytes())
	assert.Equal(t, CodeValidationError, envelope.Error.Code)
	require.NotEmpty(t, envelope.Error.Details)
	assert.Equal(t, "Name", envelope.Error.Details[0].Field)
}

func TestHandleCreatePipeline_BadPlatform(t *testing.T) {
	s := newTestServer(&fakeStore{})
	clientID := uuid.NewString()

	body := `{"name": "nightly", "platform": "jenkins", "pipeline_type": "ingestion", "environment": "prod"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients/"+clientID+"/pipelines", strings.NewReader(body))
	req.SetPathValue("id", clientID)
	w := httptest.NewRecorder()
	s.handleCreatePipeline(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeErrorEnvelope(t, w.Body.Bytes())
	assert.Equal(t, CodeValidationError, envelope.Error.Code)
}

func TestHandleCreatePipeline_ClientMissing(t *testing.T) {
	s := newTestServer(&fakeStore{})
	clientID := uuid.NewString()

	body := `{"name": "nightly", "platform": "airflow", "pipeline_type": "ingestion", "environment": "prod"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients/"+clientID+"/pipelines", strings.NewReader(body))
	req.SetPathValue("id", clientID)
	w := httptest.NewRecorder()
	s.handleCreatePipeline(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCreateRun_AssignsManualIdentity(t *testing.T) {
	pipelineID := uuid.New()
	var captured db.RunUpsert
	s := newTestServer(&fakeStore{
		getPipeline: func(_ context.Context, id uuid.UUID) (*db.Pipeline, error) {
			return &db.Pipeline{ID: id}, nil
		},
		createRun: func(_ context.Context, u db.RunUpsert) (*db.Run, error) {
			captured = u
			return &db.Run{ID: uuid.New(), PipelineID: u.PipelineID, ExternalRunID: u.ExternalRunID, Status: u.Status}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines/"+pipelineID.String()+"/runs",
		strings.NewReader(`{"status": "success"}`))
	req.SetPathValue("id", pipelineID.String())
	w := httptest.NewRecorder()
	s.handleCreateRun(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, strings.HasPrefix(captured.ExternalRunID, "manual-"))
	assert.Equal(t, db.RunStatusSuccess, captured.Status)
}

func TestHandleCreateRun_FinishedBeforeStarted(t *testing.T) {
	pipelineID := uuid.NewString()
	s := newTestServer(&fakeStore{})

	body := `{"status": "success", "started_at": "2026-08-01T10:00:00Z", "finished_at": "2026-08-01T09:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines/"+pipelineID+"/runs", strings.NewReader(body))
	req.SetPathValue("id", pipelineID)
	w := httptest.NewRecorder()
	s.handleCreateRun(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeErrorEnvelope(t, w.Body.Bytes())
	require.NotEmpty(t, envelope.Error.Details)
	assert.Equal(t, "finished_at", envelope.Error.Details[0].Field)
}

func TestHandleListRuns_BadStatusFilter(t *testing.T) {
	pipelineID := uuid.NewString()
	s := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/"+pipelineID+"/runs?status=exploded", nil)
	req.SetPathValue("id", pipelineID)
	w := httptest.NewRecorder()
	s.handleListRuns(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListRuns_PassesFilters(t *testing.T) {
	pipelineID := uuid.New()
	var captured db.RunFilters
	s := newTestServer(&fakeStore{
		listRuns: func(_ context.Context, _ uuid.UUID, filters db.RunFilters) ([]db.Run, error) {
			captured = filters
			return []db.Run{{ID: uuid.New()}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/pipelines/"+pipelineID.String()+"/runs?status=failed&limit=10&order=asc", nil)
	req.SetPathValue("id", pipelineID.String())
	w := httptest.NewRecorder()
	s.handleListRuns(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured.Status)
	assert.Equal(t, db.RunStatusFailed, *captured.Status)
	assert.Equal(t, 10, captured.Limit)
	assert.Equal(t, "asc", captured.Order)
}

func TestHandleGetLatestRun_NoRuns(t *testing.T) {
	pipelineID := uuid.New()
	s := newTestServer(&fakeStore{
		getPipeline: func(_ context.Context, id uuid.UUID) (*db.Pipeline, error) {
			return &db.Pipeline{ID: id}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/"+pipelineID.String()+"/runs/latest", nil)
	req.SetPathValue("id", pipelineID.String())
	w := httptest.NewRecorder()
	s.handleGetLatestRun(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCreateAlertRule_ScopeMustExist(t *testing.T) {
	s := newTestServer(&fakeStore{})
	clientID := uuid.NewString()

	body := `{"client_id": "` + clientID + `", "rule_type": "on_failure", "channel": "slack", "destination": "#alerts"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alert-rules", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleCreateAlertRule(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCreateAlertRule_WindowedRequiresThreshold(t *testing.T) {
	s := newTestServer(&fakeStore{})
	clientID := uuid.NewString()

	body := `{"client_id": "` + clientID + `", "rule_type": "failures_in_window", "channel": "slack", "destination": "#alerts"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alert-rules", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleCreateAlertRule(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeErrorEnvelope(t, w.Body.Bytes())
	require.NotEmpty(t, envelope.Error.Details)
	assert.Equal(t, "threshold", envelope.Error.Details[0].Field)
}

func TestHandleFailuresOverTime_BadBucket(t *testing.T) {
	s := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/failures-over-time?bucket=year", nil)
	w := httptest.NewRecorder()
	s.handleFailuresOverTime(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTriggerIngestion(t *testing.T) {
	ingestor := &fakeIngestor{summary: &ingest.Summary{RunsCreated: 3, RunsUpdated: 1}}
	s := newServer(&fakeStore{}, ingestor, "", 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestion/trigger", nil)
	w := httptest.NewRecorder()
	s.handleTriggerIngestion(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var summary ingest.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, int64(3), summary.RunsCreated)
	assert.Equal(t, int64(1), summary.RunsUpdated)
}

func TestMutatingRoutesRequireAuthWhenConfigured(t *testing.T) {
	s := newServer(&fakeStore{}, &fakeIngestor{summary: &ingest.Summary{}}, "test-secret", 0)

	// No token: rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(`{"name": "acme"}`))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Reads stay open.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// A valid token passes.
	token, err := s.jwtService.GenerateToken("ops")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(`{"name": "acme"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	s := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(`{"name": "acme"}`))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

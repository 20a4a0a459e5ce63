package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/chm/internal/db"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name       string
		raw        any
		want       db.RunStatus
		wantReason bool
	}{
		{"running", "running", db.RunStatusRunning, false},
		{"in_progress", "in_progress", db.RunStatusRunning, false},
		{"queued", "queued", db.RunStatusRunning, false},
		{"pending", "pending", db.RunStatusRunning, false},
		{"success", "success", db.RunStatusSuccess, false},
		{"succeeded", "succeeded", db.RunStatusSuccess, false},
		{"completed", "completed", db.RunStatusSuccess, false},
		{"failed", "failed", db.RunStatusFailed, false},
		{"failure", "failure", db.RunStatusFailed, false},
		{"error", "error", db.RunStatusFailed, false},
		{"errored", "errored", db.RunStatusFailed, false},
		{"canceled", "canceled", db.RunStatusCanceled, false},
		{"cancelled", "cancelled", db.RunStatusCanceled, false},
		{"aborted", "aborted", db.RunStatusCanceled, false},
		{"skipped", "skipped", db.RunStatusSkipped, false},
		{"mixed case", "SUCCESS", db.RunStatusSuccess, false},
		{"padded", "  failed ", db.RunStatusFailed, false},
		{"unknown", "exploded", db.RunStatusFailed, true},
		{"missing", nil, db.RunStatusFailed, true},
		{"empty", "", db.RunStatusFailed, true},
		{"non-string", 7.0, db.RunStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := NormalizeStatus(tt.raw)
			assert.Equal(t, tt.want, status)
			if tt.wantReason {
				assert.NotEmpty(t, reason)
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestMapRunEventFullRecord(t *testing.T) {
	mapper := NewMapper(nil)
	upsert, err := mapper.MapRunEvent(map[string]any{
		"external_run_id":  "r-42",
		"status":           "succeeded",
		"started_at":       "2026-08-01T10:00:00+02:00",
		"finished_at":      "2026-08-01T08:30:00Z",
		"duration_seconds": 1800.0,
		"rows_processed":   "12345",
		"error_message":    "",
		"status_reason":    "manual rerun",
	})
	require.NoError(t, err)

	assert.Equal(t, "r-42", upsert.ExternalRunID)
	assert.Equal(t, db.RunStatusSuccess, upsert.Status)
	// Offsets are normalized to UTC.
	assert.Equal(t, time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC), upsert.StartedAt.UTC())
	assert.Equal(t, time.Date(2026, 8, 1, 8, 30, 0, 0, time.UTC), upsert.FinishedAt.UTC())
	require.NotNil(t, upsert.DurationSeconds)
	assert.Equal(t, int64(1800), *upsert.DurationSeconds)
	require.NotNil(t, upsert.RowsProcessed)
	assert.Equal(t, int64(12345), *upsert.RowsProcessed)
	assert.Nil(t, upsert.ErrorMessage)
	require.NotNil(t, upsert.StatusReason)
	assert.Equal(t, "manual rerun", *upsert.StatusReason)
	assert.Equal(t, "r-42", upsert.Payload["external_run_id"])
}

func TestMapRunEventIdentityFallsBackToID(t *testing.T) {
	mapper := NewMapper(nil)

	upsert, err := mapper.MapRunEvent(map[string]any{"id": "raw-7", "status": "running"})
	require.NoError(t, err)
	assert.Equal(t, "raw-7", upsert.ExternalRunID)

	// Numeric identities are stringified.
	upsert, err = mapper.MapRunEvent(map[string]any{"id": 99.0, "status": "running"})
	require.NoError(t, err)
	assert.Equal(t, "99", upsert.ExternalRunID)
}

func TestMapRunEventMissingIdentity(t *testing.T) {
	mapper := NewMapper(nil)
	_, err := mapper.MapRunEvent(map[string]any{"status": "running"})
	require.Error(t, err)

	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "external_run_id", mapErr.Field)
}

func TestMapRunEventUnknownStatusGetsReason(t *testing.T) {
	mapper := NewMapper(nil)
	upsert, err := mapper.MapRunEvent(map[string]any{"id": "r1", "status": "kaboom"})
	require.NoError(t, err)

	assert.Equal(t, db.RunStatusFailed, upsert.Status)
	require.NotNil(t, upsert.StatusReason)
	assert.Contains(t, *upsert.StatusReason, "kaboom")
}

func TestMapRunEventSourceReasonWinsOverNormalization(t *testing.T) {
	mapper := NewMapper(nil)
	upsert, err := mapper.MapRunEvent(map[string]any{
		"id":            "r1",
		"status":        "kaboom",
		"status_reason": "vendor said so",
	})
	require.NoError(t, err)
	require.NotNil(t, upsert.StatusReason)
	assert.Equal(t, "vendor said so", *upsert.StatusReason)
}

func TestMapRunEventTimestamps(t *testing.T) {
	mapper := NewMapper(nil)

	// Offset-less timestamps are interpreted as UTC.
	upsert, err := mapper.MapRunEvent(map[string]any{
		"id":         "r1",
		"status":     "success",
		"started_at": "2026-08-01T10:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), upsert.StartedAt.UTC())

	// Unparsable timestamps reject the record.
	_, err = mapper.MapRunEvent(map[string]any{
		"id":         "r1",
		"status":     "success",
		"started_at": "yesterday-ish",
	})
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "started_at", mapErr.Field)

	// Finishing before starting rejects the record.
	_, err = mapper.MapRunEvent(map[string]any{
		"id":          "r1",
		"status":      "success",
		"started_at":  "2026-08-01T10:00:00Z",
		"finished_at": "2026-08-01T09:00:00Z",
	})
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "finished_at", mapErr.Field)
}

func TestMapRunEventNumericCoercion(t *testing.T) {
	mapper := NewMapper(nil)
	upsert, err := mapper.MapRunEvent(map[string]any{
		"id":               "r1",
		"status":           "success",
		"duration_seconds": -5.0,
		"rows_processed":   "not a number",
	})
	require.NoError(t, err)

	// Negative and unparsable numerics are dropped, not stored invalid.
	assert.Nil(t, upsert.DurationSeconds)
	assert.Nil(t, upsert.RowsProcessed)
}

func TestMapRunEventRedaction(t *testing.T) {
	mapper := NewMapper([]string{"api_key", " Secret_Token "})
	raw := map[string]any{
		"id":           "r1",
		"status":       "success",
		"api_key":      "super-secret",
		"SECRET_TOKEN": "also-secret",
		"note":         "kept",
	}
	upsert, err := mapper.MapRunEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, "<redacted>", upsert.Payload["api_key"])
	assert.Equal(t, "<redacted>", upsert.Payload["SECRET_TOKEN"])
	assert.Equal(t, "kept", upsert.Payload["note"])
	// The source record is never mutated.
	assert.Equal(t, "super-secret", raw["api_key"])
}

func TestMapRunEventIsDeterministic(t *testing.T) {
	mapper := NewMapper([]string{"token"})
	raw := map[string]any{
		"id":          "r1",
		"status":      "failed",
		"started_at":  "2026-08-01T10:00:00Z",
		"finished_at": "2026-08-01T10:05:00Z",
		"token":       "x",
	}

	first, err := mapper.MapRunEvent(raw)
	require.NoError(t, err)
	second, err := mapper.MapRunEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

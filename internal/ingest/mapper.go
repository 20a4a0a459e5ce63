package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/chm/internal/db"
)

// redactedPlaceholder replaces configured sensitive payload fields.
const redactedPlaceholder = "<redacted>"

// statusVocabulary maps the partner status vocabulary onto the canonical
// five-state model.
var statusVocabulary = map[string]db.RunStatus{
	"running":     db.RunStatusRunning,
	"in_progress": db.RunStatusRunning,
	"queued":      db.RunStatusRunning,
	"pending":     db.RunStatusRunning,
	"success":     db.RunStatusSuccess,
	"succeeded":   db.RunStatusSuccess,
	"completed":   db.RunStatusSuccess,
	"failed":      db.RunStatusFailed,
	"failure":     db.RunStatusFailed,
	"error":       db.RunStatusFailed,
	"errored":     db.RunStatusFailed,
	"canceled":    db.RunStatusCanceled,
	"cancelled":   db.RunStatusCanceled,
	"aborted":     db.RunStatusCanceled,
	"skipped":     db.RunStatusSkipped,
}

// MappingError reports a raw run record that cannot be normalized. The
// record is skipped and counted; it never aborts a page.
type MappingError struct {
	Field   string
	Message string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map run record: %s: %s", e.Field, e.Message)
}

// Mapper normalizes raw partner run records into canonical run upserts.
// It is pure: no I/O, no clock, deterministic for a given input.
type Mapper struct {
	redactFields map[string]bool
}

// NewMapper creates a mapper that redacts the given payload fields.
func NewMapper(redactFields []string) *Mapper {
	redact := make(map[string]bool, len(redactFields))
	for _, f := range redactFields {
		f = strings.TrimSpace(f)
		if f != "" {
			redact[strings.ToLower(f)] = true
		}
	}
	return &Mapper{redactFields: redact}
}

// NormalizeStatus maps a raw status value to the canonical vocabulary. An
// unknown or missing status maps to failed, with a reason explaining why.
func NormalizeStatus(raw any) (db.RunStatus, string) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return db.RunStatusFailed, "source status missing"
	}
	if status, known := statusVocabulary[strings.ToLower(strings.TrimSpace(s))]; known {
		return status, ""
	}
	return db.RunStatusFailed, fmt.Sprintf("unrecognized source status %q", s)
}

// MapRunEvent normalizes one raw run record. The caller assigns PipelineID
// and IngestedAt on the result before persisting.
func (m *Mapper) MapRunEvent(raw map[string]any) (*db.RunUpsert, error) {
	externalRunID := stringValue(raw["external_run_id"])
	if externalRunID == "" {
		externalRunID = stringValue(raw["id"])
	}
	if externalRunID == "" {
		return nil, &MappingError{Field: "external_run_id", Message: "no usable run identity"}
	}

	status, reason := NormalizeStatus(raw["status"])

	startedAt, err := timestampValue(raw["started_at"])
	if err != nil {
		return nil, &MappingError{Field: "started_at", Message: err.Error()}
	}
	finishedAt, err := timestampValue(raw["finished_at"])
	if err != nil {
		return nil, &MappingError{Field: "finished_at", Message: err.Error()}
	}
	if startedAt != nil && finishedAt != nil && finishedAt.Before(*startedAt) {
		return nil, &MappingError{Field: "finished_at", Message: "finished before started"}
	}

	upsert := &db.RunUpsert{
		ExternalRunID:   externalRunID,
		Status:          status,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		DurationSeconds: nonNegativeInt(raw["duration_seconds"]),
		RowsProcessed:   nonNegativeInt(raw["rows_processed"]),
		ErrorMessage:    optionalString(raw["error_message"]),
		StatusReason:    optionalString(raw["status_reason"]),
		Payload:         m.redactPayload(raw),
	}
	if upsert.StatusReason == nil && reason != "" {
		upsert.StatusReason = &reason
	}
	return upsert, nil
}

// redactPayload copies the raw record, replacing configured sensitive
// fields. The original map is never mutated.
func (m *Mapper) redactPayload(raw map[string]any) map[string]any {
	payload := make(map[string]any, len(raw))
	for k, v := range raw {
		if m.redactFields[strings.ToLower(k)] {
			payload[k] = redactedPlaceholder
		} else {
			payload[k] = v
		}
	}
	return payload
}

// stringValue renders a scalar identity value as a string. Non-scalar values
// yield "".
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// nonNegativeInt coerces a numeric value, dropping negative or unparsable
// values as absent rather than storing them invalid.
func nonNegativeInt(v any) *int64 {
	var n int64
	switch t := v.(type) {
	case float64:
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if n < 0 {
		return nil
	}
	return &n
}

// timestampLayouts are accepted source timestamp formats. Offset-less values
// are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// timestampValue parses a source timestamp and converts it to UTC. Missing
// values are fine; present but unparsable values are an error.
func timestampValue(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("timestamp is not a string (%T)", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			utc := ts.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unparsable timestamp %q", s)
}

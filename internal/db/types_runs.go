package db

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the canonical five-state run status.
type RunStatus string

// RunStatus values match the `run_status` Postgres enum.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
	RunStatusSkipped  RunStatus = "skipped"
)

// ValidRunStatus reports whether s is a known run status.
func ValidRunStatus(s string) bool {
	switch RunStatus(s) {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed, RunStatusCanceled, RunStatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status can no longer progress.
// Every status except `running` is terminal.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// Run is an execution record for a pipeline run.
type Run struct {
	ID              uuid.UUID      `json:"id"`
	PipelineID      uuid.UUID      `json:"pipeline_id"`
	ExternalRunID   string         `json:"external_run_id"`
	Status          RunStatus      `json:"status"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	DurationSeconds *int64         `json:"duration_seconds,omitempty"`
	RowsProcessed   *int64         `json:"rows_processed,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	StatusReason    *string        `json:"status_reason,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	IngestedAt      time.Time      `json:"ingested_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RunUpsert carries the normalized fields applied by UpsertRun.
type RunUpsert struct {
	PipelineID      uuid.UUID
	ExternalRunID   string
	Status          RunStatus
	StartedAt       *time.Time
	FinishedAt      *time.Time
	DurationSeconds *int64
	RowsProcessed   *int64
	ErrorMessage    *string
	StatusReason    *string
	Payload         map[string]any
	IngestedAt      time.Time
}

// UpsertResult describes what an idempotent upsert did.
type UpsertResult string

const (
	// UpsertCreated means a new run row was inserted.
	UpsertCreated UpsertResult = "created"
	// UpsertUpdated means an existing row was updated in place.
	UpsertUpdated UpsertResult = "updated"
	// UpsertIgnored means the lifecycle guard rejected the write
	// (terminal-to-different-terminal transition or regression to running).
	UpsertIgnored UpsertResult = "ignored"
)

// RunFilters holds optional filters for listing runs.
type RunFilters struct {
	Status *RunStatus
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Order  string // "asc" or "desc"
}

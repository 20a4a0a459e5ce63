// Package types provides the API request types and their validation rules.
package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateClientRequest creates a monitored client.
type CreateClientRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// UpdateClientRequest patches a client; nil fields are left unchanged.
type UpdateClientRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// CreatePipelineRequest registers a pipeline under a client.
type CreatePipelineRequest struct {
	Name         string  `json:"name" validate:"required,min=1,max=255"`
	Platform     string  `json:"platform" validate:"required,oneof=airflow dbt cron vendor_api custom"`
	ExternalID   *string `json:"external_id,omitempty" validate:"omitempty,min=1,max=255"`
	PipelineType string  `json:"pipeline_type" validate:"required,oneof=ingestion transform quality export healthcheck"`
	Description  *string `json:"description,omitempty"`
	Environment  string  `json:"environment" validate:"required,oneof=dev staging prod"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// UpdatePipelineRequest patches a pipeline; nil fields are left unchanged.
type UpdatePipelineRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	ExternalID  *string `json:"external_id,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
	Environment *string `json:"environment,omitempty" validate:"omitempty,oneof=dev staging prod"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// CreateRunRequest records a run manually, outside ingestion. When
// ExternalRunID is absent the server assigns a "manual-" identity.
type CreateRunRequest struct {
	ExternalRunID   *string        `json:"external_run_id,omitempty" validate:"omitempty,min=1,max=255"`
	Status          string         `json:"status" validate:"required,oneof=running success failed canceled skipped"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	DurationSeconds *int64         `json:"duration_seconds,omitempty" validate:"omitempty,gte=0"`
	RowsProcessed   *int64         `json:"rows_processed,omitempty" validate:"omitempty,gte=0"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	StatusReason    *string        `json:"status_reason,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// CreateAlertRuleRequest creates alerting configuration for a client,
// a pipeline, or both.
type CreateAlertRuleRequest struct {
	ClientID      *uuid.UUID `json:"client_id,omitempty"`
	PipelineID    *uuid.UUID `json:"pipeline_id,omitempty"`
	RuleType      string     `json:"rule_type" validate:"required,oneof=on_failure failures_in_window"`
	Threshold     *int       `json:"threshold,omitempty" validate:"omitempty,gt=0"`
	WindowMinutes *int       `json:"window_minutes,omitempty" validate:"omitempty,gt=0"`
	Channel       string     `json:"channel" validate:"required,oneof=slack email webhook"`
	Destination   string     `json:"destination" validate:"required,min=1"`
	IsEnabled     *bool      `json:"is_enabled,omitempty"`
}

// UpdateAlertRuleRequest patches an alert rule; nil fields are left unchanged.
type UpdateAlertRuleRequest struct {
	Threshold     *int    `json:"threshold,omitempty" validate:"omitempty,gt=0"`
	WindowMinutes *int    `json:"window_minutes,omitempty" validate:"omitempty,gt=0"`
	Destination   *string `json:"destination,omitempty" validate:"omitempty,min=1"`
	IsEnabled     *bool   `json:"is_enabled,omitempty"`
}

// Validate validates the CreateClientRequest using the validator.
func (r *CreateClientRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the UpdateClientRequest using the validator.
func (r *UpdateClientRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the CreatePipelineRequest using the validator.
func (r *CreatePipelineRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the UpdatePipelineRequest using the validator.
func (r *UpdatePipelineRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the CreateRunRequest using the validator, plus the
// cross-field rule that a run cannot finish before it starts.
func (r *CreateRunRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.StartedAt != nil && r.FinishedAt != nil && r.FinishedAt.Before(*r.StartedAt) {
		return &CrossFieldError{Field: "finished_at", Message: "must not be before started_at"}
	}
	return nil
}

// Validate validates the CreateAlertRuleRequest using the validator, plus
// the rule-type parameter requirements.
func (r *CreateAlertRuleRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.ClientID == nil && r.PipelineID == nil {
		return &CrossFieldError{Field: "client_id", Message: "at least one of client_id or pipeline_id is required"}
	}
	if r.RuleType == "failures_in_window" {
		if r.Threshold == nil {
			return &CrossFieldError{Field: "threshold", Message: "required for failures_in_window rules"}
		}
		if r.WindowMinutes == nil {
			return &CrossFieldError{Field: "window_minutes", Message: "required for failures_in_window rules"}
		}
	}
	return nil
}

// Validate validates the UpdateAlertRuleRequest using the validator.
func (r *UpdateAlertRuleRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// CrossFieldError reports a validation rule spanning multiple fields, which
// struct tags cannot express.
type CrossFieldError struct {
	Field   string
	Message string
}

func (e *CrossFieldError) Error() string {
	return e.Field + ": " + e.Message
}

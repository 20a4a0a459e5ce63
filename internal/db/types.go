package db

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies the scheduler or vendor a pipeline runs on.
type Platform string

// Platform values match the `platform` Postgres enum.
const (
	PlatformAirflow   Platform = "airflow"
	PlatformDBT       Platform = "dbt"
	PlatformCron      Platform = "cron"
	PlatformVendorAPI Platform = "vendor_api"
	PlatformCustom    Platform = "custom"
)

// ValidPlatform reports whether s is a known platform value.
func ValidPlatform(s string) bool {
	switch Platform(s) {
	case PlatformAirflow, PlatformDBT, PlatformCron, PlatformVendorAPI, PlatformCustom:
		return true
	}
	return false
}

// PipelineType classifies what a pipeline does.
type PipelineType string

// PipelineType values match the `pipeline_type` Postgres enum.
const (
	PipelineTypeIngestion   PipelineType = "ingestion"
	PipelineTypeTransform   PipelineType = "transform"
	PipelineTypeQuality     PipelineType = "quality"
	PipelineTypeExport      PipelineType = "export"
	PipelineTypeHealthcheck PipelineType = "healthcheck"
)

// ValidPipelineType reports whether s is a known pipeline type.
func ValidPipelineType(s string) bool {
	switch PipelineType(s) {
	case PipelineTypeIngestion, PipelineTypeTransform, PipelineTypeQuality,
		PipelineTypeExport, PipelineTypeHealthcheck:
		return true
	}
	return false
}

// ValidEnvironment reports whether s is an allowed deployment environment.
func ValidEnvironment(s string) bool {
	return s == "dev" || s == "staging" || s == "prod"
}

// Client is a customer whose pipelines CHM monitors.
type Client struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pipeline is a monitored pipeline belonging to a client.
type Pipeline struct {
	ID           uuid.UUID    `json:"id"`
	ClientID     uuid.UUID    `json:"client_id"`
	Name         string       `json:"name"`
	Platform     Platform     `json:"platform"`
	ExternalID   *string      `json:"external_id,omitempty"`
	PipelineType PipelineType `json:"pipeline_type"`
	Description  *string      `json:"description,omitempty"`
	Environment  string       `json:"environment"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

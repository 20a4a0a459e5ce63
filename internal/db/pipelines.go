package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const pipelineColumns = `id, client_id, name, platform, external_id, pipeline_type,
	description, environment, is_active, created_at, updated_at`

// PipelineCreate carries the fields for creating a pipeline.
type PipelineCreate struct {
	ClientID     uuid.UUID
	Name         string
	Platform     Platform
	ExternalID   *string
	PipelineType PipelineType
	Description  *string
	Environment  string
}

// PipelineUpdate carries optional fields for patching a pipeline.
type PipelineUpdate struct {
	Name        *string
	ExternalID  *string
	Description *string
	Environment *string
	IsActive    *bool
}

// CreatePipeline inserts a pipeline and returns it.
func (db *DB) CreatePipeline(ctx context.Context, p PipelineCreate) (*Pipeline, error) {
	if p.Environment == "" {
		p.Environment = "prod"
	}
	row := db.pool.QueryRow(ctx,
		`INSERT INTO pipelines (id, client_id, name, platform, external_id, pipeline_type, description, environment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+pipelineColumns,
		uuid.New(), p.ClientID, p.Name, p.Platform, p.ExternalID, p.PipelineType, p.Description, p.Environment,
	)
	pipeline, err := scanPipeline(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return pipeline, nil
}

// GetPipeline retrieves a pipeline by ID.
func (db *DB) GetPipeline(ctx context.Context, pipelineID uuid.UUID) (*Pipeline, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, pipelineID)
	pipeline, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return pipeline, nil
}

// ListPipelines retrieves pipelines for a client ordered by name.
func (db *DB) ListPipelines(ctx context.Context, clientID uuid.UUID, activeOnly bool, limit int) ([]Pipeline, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE client_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY name LIMIT $2`

	rows, err := db.pool.Query(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []Pipeline
	for rows.Next() {
		pipeline, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		pipelines = append(pipelines, *pipeline)
	}
	return pipelines, rows.Err()
}

// ListIngestionPipelines returns active pipelines that carry an external
// mapping identifier and belong to active clients. These are the pipelines
// eligible for partner run ingestion.
func (db *DB) ListIngestionPipelines(ctx context.Context) ([]Pipeline, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+qualifiedPipelineColumns+`
		 FROM pipelines p
		 JOIN clients c ON c.id = p.client_id
		 WHERE p.external_id IS NOT NULL
		   AND p.is_active = TRUE
		   AND c.is_active = TRUE
		 ORDER BY p.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []Pipeline
	for rows.Next() {
		pipeline, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		pipelines = append(pipelines, *pipeline)
	}
	return pipelines, rows.Err()
}

const qualifiedPipelineColumns = `p.id, p.client_id, p.name, p.platform, p.external_id,
	p.pipeline_type, p.description, p.environment, p.is_active, p.created_at, p.updated_at`

// UpdatePipeline applies non-nil fields to a pipeline and returns the result,
// or nil when the pipeline does not exist.
func (db *DB) UpdatePipeline(ctx context.Context, pipelineID uuid.UUID, u PipelineUpdate) (*Pipeline, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE pipelines
		 SET name = COALESCE($2, name),
		     external_id = COALESCE($3, external_id),
		     description = COALESCE($4, description),
		     environment = COALESCE($5, environment),
		     is_active = COALESCE($6, is_active),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+pipelineColumns,
		pipelineID, u.Name, u.ExternalID, u.Description, u.Environment, u.IsActive,
	)
	pipeline, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to update pipeline: %w", err)
	}
	return pipeline, nil
}

// DeletePipeline removes a pipeline. Runs reference pipelines with RESTRICT,
// so deleting a pipeline that has runs fails.
func (db *DB) DeletePipeline(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, pipelineID)
	if err != nil {
		return false, fmt.Errorf("failed to delete pipeline: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func scanPipeline(row rowScanner) (*Pipeline, error) {
	var p Pipeline
	err := row.Scan(
		&p.ID, &p.ClientID, &p.Name, &p.Platform, &p.ExternalID, &p.PipelineType,
		&p.Description, &p.Environment, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

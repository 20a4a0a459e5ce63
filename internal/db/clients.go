package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateName is returned when a unique name constraint is violated.
var ErrDuplicateName = errors.New("name already exists")

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const clientColumns = `id, name, is_active, created_at, updated_at`

// CreateClient inserts a client and returns it.
func (db *DB) CreateClient(ctx context.Context, name string, isActive bool) (*Client, error) {
	var c Client
	err := db.pool.QueryRow(ctx,
		`INSERT INTO clients (id, name, is_active) VALUES ($1, $2, $3) RETURNING `+clientColumns,
		uuid.New(), name, isActive,
	).Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &c, nil
}

// GetClient retrieves a client by ID.
func (db *DB) GetClient(ctx context.Context, clientID uuid.UUID) (*Client, error) {
	var c Client
	err := db.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, clientID,
	).Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// ListClients retrieves clients ordered by name.
func (db *DB) ListClients(ctx context.Context, activeOnly bool, limit int) ([]Client, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + clientColumns + ` FROM clients`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// UpdateClient applies non-nil fields to a client and returns the result,
// or nil when the client does not exist.
func (db *DB) UpdateClient(ctx context.Context, clientID uuid.UUID, name *string, isActive *bool) (*Client, error) {
	var c Client
	err := db.pool.QueryRow(ctx,
		`UPDATE clients
		 SET name = COALESCE($2, name),
		     is_active = COALESCE($3, is_active),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+clientColumns,
		clientID, name, isActive,
	).Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	return &c, nil
}

// DeleteClient removes a client. Pipelines reference clients with RESTRICT,
// so deleting a client that still has pipelines fails.
func (db *DB) DeleteClient(ctx context.Context, clientID uuid.UUID) (bool, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, clientID)
	if err != nil {
		return false, fmt.Errorf("failed to delete client: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// PipelineStatus pairs a pipeline with its most recent run status.
type PipelineStatus struct {
	PipelineID   uuid.UUID  `json:"pipeline_id"`
	PipelineName string     `json:"pipeline_name"`
	Platform     Platform   `json:"platform"`
	LatestStatus *RunStatus `json:"latest_status,omitempty"`
	LatestRunAt  *time.Time `json:"latest_run_at,omitempty"`
}

// ClientRunSummary aggregates run outcomes for one client inside a window.
type ClientRunSummary struct {
	ClientID         uuid.UUID        `json:"client_id"`
	Since            time.Time        `json:"since"`
	Until            time.Time        `json:"until"`
	StatusCounts     map[string]int   `json:"status_counts"`
	LatestByPipeline []PipelineStatus `json:"latest_by_pipeline"`
}

// GetClientRunSummary returns per-status run counts and the latest run per
// pipeline for a client within [since, until).
func (db *DB) GetClientRunSummary(ctx context.Context, clientID uuid.UUID, since, until time.Time) (*ClientRunSummary, error) {
	summary := &ClientRunSummary{
		ClientID: clientID,
		Since:    since,
		Until:    until,
		StatusCounts: map[string]int{
			string(RunStatusRunning):  0,
			string(RunStatusSuccess):  0,
			string(RunStatusFailed):   0,
			string(RunStatusCanceled): 0,
			string(RunStatusSkipped):  0,
		},
	}

	rows, err := db.pool.Query(ctx,
		`SELECT r.status, COUNT(r.id)
		 FROM runs r
		 JOIN pipelines p ON p.id = r.pipeline_id
		 WHERE p.client_id = $1 AND r.started_at >= $2 AND r.started_at < $3
		 GROUP BY r.status`,
		clientID, since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		summary.StatusCounts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	latestRows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (p.id) p.id, p.name, p.platform, r.status, r.started_at
		 FROM pipelines p
		 JOIN runs r ON r.pipeline_id = p.id
		 WHERE p.client_id = $1 AND r.started_at >= $2 AND r.started_at < $3
		 ORDER BY p.id, r.started_at DESC NULLS LAST, r.finished_at DESC NULLS LAST, r.id DESC`,
		clientID, since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest pipeline statuses: %w", err)
	}
	defer latestRows.Close()
	for latestRows.Next() {
		var ps PipelineStatus
		if err := latestRows.Scan(&ps.PipelineID, &ps.PipelineName, &ps.Platform, &ps.LatestStatus, &ps.LatestRunAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline status: %w", err)
		}
		summary.LatestByPipeline = append(summary.LatestByPipeline, ps)
	}
	return summary, latestRows.Err()
}

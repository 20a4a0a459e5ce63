package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const runColumns = `id, pipeline_id, external_run_id, status, started_at, finished_at,
	duration_seconds, rows_processed, error_message, status_reason, payload,
	ingested_at, created_at, updated_at`

// upsertRunSQL is a single atomic conditional write. The WHERE clause on the
// conflict arm enforces the lifecycle rule: a stored non-terminal run accepts
// any incoming status, a stored terminal run accepts only a replay of the same
// terminal status. Anything else (terminal flip, regression to running)
// matches no row, which surfaces as pgx.ErrNoRows and maps to UpsertIgnored.
const upsertRunSQL = `
	INSERT INTO runs (id, pipeline_id, external_run_id, status, started_at, finished_at,
		duration_seconds, rows_processed, error_message, status_reason, payload,
		ingested_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12)
	ON CONFLICT ON CONSTRAINT uq_runs_pipeline_id_external_run_id DO UPDATE SET
		status = EXCLUDED.status,
		started_at = EXCLUDED.started_at,
		finished_at = EXCLUDED.finished_at,
		duration_seconds = EXCLUDED.duration_seconds,
		rows_processed = EXCLUDED.rows_processed,
		error_message = EXCLUDED.error_message,
		status_reason = EXCLUDED.status_reason,
		payload = EXCLUDED.payload,
		ingested_at = EXCLUDED.ingested_at,
		updated_at = EXCLUDED.updated_at
	WHERE runs.status = 'running' OR runs.status = EXCLUDED.status
	RETURNING (xmax = 0)`

// UpsertRun atomically creates or updates the run identified by
// (pipeline_id, external_run_id). It never creates a duplicate row and never
// lets a terminal run regress; rejected writes return UpsertIgnored.
func (db *DB) UpsertRun(ctx context.Context, u RunUpsert) (UpsertResult, error) {
	payload, err := marshalPayload(u.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run payload: %w", err)
	}

	var inserted bool
	err = db.pool.QueryRow(ctx, upsertRunSQL,
		uuid.New(), u.PipelineID, u.ExternalRunID, u.Status, u.StartedAt, u.FinishedAt,
		u.DurationSeconds, u.RowsProcessed, u.ErrorMessage, u.StatusReason, payload,
		u.IngestedAt,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UpsertIgnored, nil
		}
		return "", fmt.Errorf("failed to upsert run: %w", err)
	}

	if inserted {
		return UpsertCreated, nil
	}
	return UpsertUpdated, nil
}

// CreateRun inserts a manually created run row and returns it.
// Unlike UpsertRun it fails on identity conflicts instead of updating.
func (db *DB) CreateRun(ctx context.Context, u RunUpsert) (*Run, error) {
	payload, err := marshalPayload(u.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run payload: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO runs (id, pipeline_id, external_run_id, status, started_at, finished_at,
			duration_seconds, rows_processed, error_message, status_reason, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+runColumns,
		uuid.New(), u.PipelineID, u.ExternalRunID, u.Status, u.StartedAt, u.FinishedAt,
		u.DurationSeconds, u.RowsProcessed, u.ErrorMessage, u.StatusReason, payload,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs for a pipeline with optional filters.
func (db *DB) ListRuns(ctx context.Context, pipelineID uuid.UUID, filters RunFilters) ([]Run, error) {
	query, args := buildListRunsQuery(pipelineID, filters)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// latestRunOrder is the deterministic ordering used for "latest run" answers:
// most recent start first, nulls last, id as the final tiebreaker.
const latestRunOrder = `started_at DESC NULLS LAST, finished_at DESC NULLS LAST, id DESC`

// GetLatestRun returns the most recent run for a pipeline, or nil when the
// pipeline has no runs.
func (db *DB) GetLatestRun(ctx context.Context, pipelineID uuid.UUID) (*Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE pipeline_id = $1 ORDER BY `+latestRunOrder+` LIMIT 1`,
		pipelineID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// buildListRunsQuery assembles the filtered list query. Split out so the
// argument numbering logic is unit-testable without a database.
func buildListRunsQuery(pipelineID uuid.UUID, filters RunFilters) (string, []any) {
	if filters.Limit <= 0 {
		filters.Limit = 100
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE pipeline_id = $1`
	args := []any{pipelineID}
	argNum := 2

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.Since != nil {
		query += fmt.Sprintf(" AND started_at >= $%d", argNum)
		args = append(args, *filters.Since)
		argNum++
	}
	if filters.Until != nil {
		query += fmt.Sprintf(" AND started_at < $%d", argNum)
		args = append(args, *filters.Until)
		argNum++
	}

	if filters.Order == "asc" {
		query += " ORDER BY started_at ASC NULLS LAST, finished_at ASC NULLS LAST, id ASC"
	} else {
		query += " ORDER BY " + latestRunOrder
	}

	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var payload []byte
	err := row.Scan(
		&run.ID, &run.PipelineID, &run.ExternalRunID, &run.Status,
		&run.StartedAt, &run.FinishedAt, &run.DurationSeconds, &run.RowsProcessed,
		&run.ErrorMessage, &run.StatusReason, &payload,
		&run.IngestedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &run.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode run payload: %w", err)
		}
	}
	return &run, nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

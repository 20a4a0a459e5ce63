package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const alertRuleColumns = `id, client_id, pipeline_id, rule_type, threshold,
	window_minutes, channel, destination, is_enabled, created_at, updated_at`

// AlertRuleCreate carries the fields for creating an alert rule.
type AlertRuleCreate struct {
	ClientID      *uuid.UUID
	PipelineID    *uuid.UUID
	RuleType      RuleType
	Threshold     *int
	WindowMinutes *int
	Channel       Channel
	Destination   string
	IsEnabled     bool
}

// AlertRuleUpdate carries optional fields for patching an alert rule.
type AlertRuleUpdate struct {
	Threshold     *int
	WindowMinutes *int
	Destination   *string
	IsEnabled     *bool
}

// CreateAlertRule inserts an alert rule and returns it.
func (db *DB) CreateAlertRule(ctx context.Context, a AlertRuleCreate) (*AlertRule, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO alert_rules (id, client_id, pipeline_id, rule_type, threshold, window_minutes, channel, destination, is_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+alertRuleColumns,
		uuid.New(), a.ClientID, a.PipelineID, a.RuleType, a.Threshold, a.WindowMinutes, a.Channel, a.Destination, a.IsEnabled,
	)
	rule, err := scanAlertRule(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert rule: %w", err)
	}
	return rule, nil
}

// GetAlertRule retrieves an alert rule by ID.
func (db *DB) GetAlertRule(ctx context.Context, ruleID uuid.UUID) (*AlertRule, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE id = $1`, ruleID)
	rule, err := scanAlertRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return rule, nil
}

// ListAlertRules retrieves alert rules, optionally filtered by scope.
func (db *DB) ListAlertRules(ctx context.Context, clientID, pipelineID *uuid.UUID, limit int) ([]AlertRule, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE 1=1`
	args := []any{}
	argNum := 1

	if clientID != nil {
		query += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, *clientID)
		argNum++
	}
	if pipelineID != nil {
		query += fmt.Sprintf(" AND pipeline_id = $%d", argNum)
		args = append(args, *pipelineID)
		argNum++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// UpdateAlertRule applies non-nil fields to an alert rule and returns the
// result, or nil when the rule does not exist.
func (db *DB) UpdateAlertRule(ctx context.Context, ruleID uuid.UUID, u AlertRuleUpdate) (*AlertRule, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE alert_rules
		 SET threshold = COALESCE($2, threshold),
		     window_minutes = COALESCE($3, window_minutes),
		     destination = COALESCE($4, destination),
		     is_enabled = COALESCE($5, is_enabled),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+alertRuleColumns,
		ruleID, u.Threshold, u.WindowMinutes, u.Destination, u.IsEnabled,
	)
	rule, err := scanAlertRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update alert rule: %w", err)
	}
	return rule, nil
}

// DeleteAlertRule removes an alert rule.
func (db *DB) DeleteAlertRule(ctx context.Context, ruleID uuid.UUID) (bool, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert rule: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func scanAlertRule(row rowScanner) (*AlertRule, error) {
	var a AlertRule
	err := row.Scan(
		&a.ID, &a.ClientID, &a.PipelineID, &a.RuleType, &a.Threshold,
		&a.WindowMinutes, &a.Channel, &a.Destination, &a.IsEnabled,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowtrail/flowtrail/internal/core"
)

const definitionColumns = `definition_id, name, description, workflow_type, version,
	trigger_type, trigger_conditions, steps_definition, variables,
	timeout_minutes, max_concurrent_executions, retry_attempts,
	requires_approval, approval_threshold, notification_settings,
	is_active, is_template, created_at, updated_at`

func scanDefinition(row interface{ Scan(...any) error }) (core.WorkflowDefinition, error) {
	var d core.WorkflowDefinition
	var steps []byte
	err := row.Scan(
		&d.DefinitionID, &d.Name, &d.Description, &d.WorkflowType, &d.Version,
		&d.TriggerType, &d.TriggerConditions, &steps, &d.Variables,
		&d.TimeoutMinutes, &d.MaxConcurrentExecutions, &d.RetryAttempts,
		&d.RequiresApproval, &d.ApprovalThreshold, &d.NotificationSettings,
		&d.IsActive, &d.IsTemplate, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return core.WorkflowDefinition{}, err
	}
	if err := json.Unmarshal(steps, &d.StepsDefinition); err != nil {
		return core.WorkflowDefinition{}, fmt.Errorf("decode steps_definition: %w", err)
	}
	return d, nil
}

func (q *Queries) CreateDefinition(ctx context.Context, d core.WorkflowDefinition) (core.WorkflowDefinition, error) {
	steps, err := json.Marshal(d.StepsDefinition)
	if err != nil {
		return core.WorkflowDefinition{}, fmt.Errorf("encode steps_definition: %w", err)
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO ft.workflow_definitions (
			definition_id, name, description, workflow_type, version,
			trigger_type, trigger_conditions, steps_definition, variables,
			timeout_minutes, max_concurrent_executions, retry_attempts,
			requires_approval, approval_threshold, notification_settings,
			is_active, is_template
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING `+definitionColumns,
		d.DefinitionID, d.Name, d.Description, d.WorkflowType, d.Version,
		d.TriggerType, jsonbOr(d.TriggerConditions, "{}"), steps, jsonbOr(d.Variables, "{}"),
		d.TimeoutMinutes, d.MaxConcurrentExecutions, d.RetryAttempts,
		d.RequiresApproval, d.ApprovalThreshold, jsonbOr(d.NotificationSettings, "{}"),
		d.IsActive, d.IsTemplate,
	)
	return scanDefinition(row)
}

func (q *Queries) GetDefinition(ctx context.Context, definitionID string) (core.WorkflowDefinition, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM ft.workflow_definitions WHERE definition_id = $1`,
		definitionID)
	return scanDefinition(row)
}

type ListDefinitionsParams struct {
	Limit        int32
	Cursor       *time.Time
	ActiveOnly   bool
	WorkflowType string
}

func (q *Queries) ListDefinitions(ctx context.Context, p ListDefinitionsParams) ([]core.WorkflowDefinition, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM ft.workflow_definitions
		WHERE (NOT $1::bool OR is_active)
		  AND ($2 = '' OR workflow_type = $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4`,
		p.ActiveOnly, p.WorkflowType, p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.WorkflowDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeactivateDefinition marks a definition inactive. Running executions
// keep their materialized steps, so this never affects them.
func (q *Queries) DeactivateDefinition(ctx context.Context, definitionID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_definitions
		SET is_active = false, updated_at = now()
		WHERE definition_id = $1 AND is_active`,
		definitionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func jsonbOr(raw json.RawMessage, fallback string) []byte {
	if len(raw) == 0 {
		return []byte(fallback)
	}
	return raw
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowtrail/flowtrail/internal/core"
)

const executionColumns = `execution_id, definition_id, triggered_by, trigger_event,
	trigger_data, idempotency_key, request_hash, status,
	started_at, completed_at, failed_at,
	input_data, output_data, execution_log, error_message,
	total_steps, completed_steps, current_step,
	related_object_type, related_object_id, financial_impact, currency_code,
	created_at`

func scanExecution(row interface{ Scan(...any) error }) (core.WorkflowExecution, error) {
	var e core.WorkflowExecution
	var logRaw []byte
	err := row.Scan(
		&e.ExecutionID, &e.DefinitionID, &e.TriggeredBy, &e.TriggerEvent,
		&e.TriggerData, &e.IdempotencyKey, &e.RequestHash, &e.Status,
		&e.StartedAt, &e.CompletedAt, &e.FailedAt,
		&e.InputData, &e.OutputData, &logRaw, &e.ErrorMessage,
		&e.TotalSteps, &e.CompletedSteps, &e.CurrentStep,
		&e.RelatedObjectType, &e.RelatedObjectID, &e.FinancialImpact, &e.CurrencyCode,
		&e.CreatedAt,
	)
	if err != nil {
		return core.WorkflowExecution{}, err
	}
	if err := json.Unmarshal(logRaw, &e.ExecutionLog); err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("decode execution_log: %w", err)
	}
	return e, nil
}

// AcquireDefinitionLock takes a transaction-scoped advisory lock keyed
// on the definition id. Held for the count-then-insert in StartWorkflow
// so the concurrency cap cannot race.
func (q *Queries) AcquireDefinitionLock(ctx context.Context, definitionID string) error {
	_, err := q.db.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, definitionID)
	return err
}

func (q *Queries) CountActiveExecutions(ctx context.Context, definitionID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM ft.workflow_executions
		WHERE definition_id = $1 AND status IN ('PENDING','RUNNING')`,
		definitionID).Scan(&n)
	return n, err
}

func (q *Queries) CreateExecution(ctx context.Context, e core.WorkflowExecution) (core.WorkflowExecution, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO ft.workflow_executions (
			execution_id, definition_id, triggered_by, trigger_event,
			trigger_data, idempotency_key, request_hash, status, input_data,
			total_steps, related_object_type, related_object_id,
			financial_impact, currency_code
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+executionColumns,
		e.ExecutionID, e.DefinitionID, e.TriggeredBy, e.TriggerEvent,
		jsonbOr(e.TriggerData, "{}"), e.IdempotencyKey, e.RequestHash,
		e.Status, jsonbOr(e.InputData, "{}"),
		e.TotalSteps, e.RelatedObjectType, e.RelatedObjectID,
		e.FinancialImpact, e.CurrencyCode,
	)
	return scanExecution(row)
}

func (q *Queries) GetExecution(ctx context.Context, executionID string) (core.WorkflowExecution, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM ft.workflow_executions WHERE execution_id = $1`,
		executionID)
	return scanExecution(row)
}

func (q *Queries) GetExecutionByIdempotencyKey(ctx context.Context, definitionID, key string) (core.WorkflowExecution, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+executionColumns+` FROM ft.workflow_executions
		WHERE definition_id = $1 AND idempotency_key = $2`,
		definitionID, key)
	return scanExecution(row)
}

type ListExecutionsParams struct {
	DefinitionID string
	Status       string
	TriggeredBy  string
	Limit        int32
	Cursor       *time.Time
}

func (q *Queries) ListExecutions(ctx context.Context, p ListExecutionsParams) ([]core.WorkflowExecution, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+executionColumns+`
		FROM ft.workflow_executions
		WHERE ($1 = '' OR definition_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR triggered_by = $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC
		LIMIT $5`,
		p.DefinitionID, p.Status, p.TriggeredBy, p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Status transitions are compare-and-swap on the current status so two
// processes can never both win the same transition.

func (q *Queries) MarkExecutionRunning(ctx context.Context, executionID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET status = 'RUNNING', started_at = coalesce(started_at, now())
		WHERE execution_id = $1 AND status = 'PENDING'`,
		executionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) CompleteExecution(ctx context.Context, executionID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET status = 'COMPLETED', completed_at = now()
		WHERE execution_id = $1 AND status = 'RUNNING'`,
		executionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) FailExecution(ctx context.Context, executionID, errorMessage string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET status = 'FAILED', failed_at = now(), error_message = $2
		WHERE execution_id = $1 AND status IN ('PENDING','RUNNING','PAUSED')`,
		executionID, errorMessage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) CancelExecution(ctx context.Context, executionID, reason string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET status = 'CANCELLED', completed_at = now(), error_message = $2
		WHERE execution_id = $1 AND status IN ('PENDING','RUNNING')`,
		executionID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) PauseExecution(ctx context.Context, executionID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET status = 'PAUSED'
		WHERE execution_id = $1 AND status = 'RUNNING'`,
		executionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) ResumeExecution(ctx context.Context, executionID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET status = 'RUNNING'
		WHERE execution_id = $1 AND status = 'PAUSED'`,
		executionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) UpdateExecutionProgress(ctx context.Context, executionID string, currentStep, completedSteps int) error {
	_, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET current_step = $2, completed_steps = least($3, total_steps)
		WHERE execution_id = $1`,
		executionID, currentStep, completedSteps)
	return err
}

// MergeExecutionOutput folds a step's output into the execution's
// accumulated output_data.
func (q *Queries) MergeExecutionOutput(ctx context.Context, executionID string, output json.RawMessage) error {
	if len(output) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET output_data = output_data || $2::jsonb
		WHERE execution_id = $1`,
		executionID, []byte(output))
	return err
}

func (q *Queries) AppendExecutionLog(ctx context.Context, executionID string, entry core.LogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
		UPDATE ft.workflow_executions
		SET execution_log = execution_log || jsonb_build_array($2::jsonb)
		WHERE execution_id = $1`,
		executionID, b)
	return err
}

// ListDueWaitExecutions finds paused executions whose parked wait step
// has come due. The worker resumes them; the PAUSED->RUNNING swap makes
// duplicate pickups harmless.
func (q *Queries) ListDueWaitExecutions(ctx context.Context, limit int32) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT e.execution_id
		FROM ft.workflow_executions e
		JOIN ft.workflow_steps s ON s.execution_id = e.execution_id
		WHERE e.status = 'PAUSED'
		  AND s.status = 'PENDING'
		  AND s.resume_at IS NOT NULL
		  AND s.resume_at <= now()
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (q *Queries) GetExecutionQueueDepth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM ft.workflow_executions
		WHERE status IN ('PENDING','RUNNING','PAUSED')`).Scan(&n)
	return n, err
}

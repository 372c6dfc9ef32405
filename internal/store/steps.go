package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowtrail/flowtrail/internal/core"
)

const stepColumns = `step_id, execution_id, step_name, step_type, step_order,
	step_config, status, started_at, completed_at, resume_at,
	input_data, output_data, error_message,
	assigned_to, approved_by, approval_comments, approval_deadline,
	retry_count, max_retries`

func scanStep(row interface{ Scan(...any) error }) (core.WorkflowStep, error) {
	var s core.WorkflowStep
	err := row.Scan(
		&s.StepID, &s.ExecutionID, &s.StepName, &s.StepType, &s.StepOrder,
		&s.StepConfig, &s.Status, &s.StartedAt, &s.CompletedAt, &s.ResumeAt,
		&s.InputData, &s.OutputData, &s.ErrorMessage,
		&s.AssignedTo, &s.ApprovedBy, &s.ApprovalComments, &s.ApprovalDeadline,
		&s.RetryCount, &s.MaxRetries,
	)
	return s, err
}

func (q *Queries) CreateStep(ctx context.Context, s core.WorkflowStep) (core.WorkflowStep, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO ft.workflow_steps (
			step_id, execution_id, step_name, step_type, step_order,
			step_config, status, assigned_to, max_retries
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+stepColumns,
		s.StepID, s.ExecutionID, s.StepName, s.StepType, s.StepOrder,
		jsonbOr(s.StepConfig, "{}"), s.Status, s.AssignedTo, s.MaxRetries,
	)
	return scanStep(row)
}

func (q *Queries) GetStep(ctx context.Context, stepID string) (core.WorkflowStep, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM ft.workflow_steps WHERE step_id = $1`, stepID)
	return scanStep(row)
}

func (q *Queries) ListSteps(ctx context.Context, executionID string) ([]core.WorkflowStep, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+stepColumns+` FROM ft.workflow_steps
		WHERE execution_id = $1 ORDER BY step_order`,
		executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// NextPendingStep returns the lowest-ordered PENDING step, or pgx.ErrNoRows.
func (q *Queries) NextPendingStep(ctx context.Context, executionID string) (core.WorkflowStep, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+stepColumns+` FROM ft.workflow_steps
		WHERE execution_id = $1 AND status = 'PENDING'
		ORDER BY step_order LIMIT 1`,
		executionID)
	return scanStep(row)
}

func (q *Queries) MarkStepRunning(ctx context.Context, stepID string, input json.RawMessage) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'RUNNING', started_at = coalesce(started_at, now()),
		    input_data = $2, resume_at = NULL
		WHERE step_id = $1 AND status = 'PENDING'`,
		stepID, jsonbOr(input, "{}"))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) CompleteStep(ctx context.Context, stepID string, output json.RawMessage) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'COMPLETED', completed_at = now(), output_data = $2
		WHERE step_id = $1 AND status = 'RUNNING'`,
		stepID, jsonbOr(output, "{}"))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) MarkStepWaitingApproval(ctx context.Context, stepID string, output json.RawMessage, deadline *time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'WAITING_APPROVAL', output_data = $2, approval_deadline = $3
		WHERE step_id = $1 AND status = 'RUNNING'`,
		stepID, jsonbOr(output, "{}"), deadline)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ParkStepForWait puts a running WAIT step back to PENDING with the
// time it becomes due again.
func (q *Queries) ParkStepForWait(ctx context.Context, stepID string, resumeAt time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'PENDING', resume_at = $2
		WHERE step_id = $1 AND status = 'RUNNING'`,
		stepID, resumeAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RetryStep returns a failed attempt to PENDING, recording the error
// and bumping retry_count.
func (q *Queries) RetryStep(ctx context.Context, stepID, errorMessage string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'PENDING', retry_count = retry_count + 1, error_message = $2
		WHERE step_id = $1 AND status = 'RUNNING'`,
		stepID, errorMessage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) FailStep(ctx context.Context, stepID, errorMessage string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'FAILED', retry_count = retry_count + 1,
		    completed_at = now(), error_message = $2
		WHERE step_id = $1 AND status = 'RUNNING'`,
		stepID, errorMessage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) ApproveStep(ctx context.Context, stepID, approvedBy, comments string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'APPROVED', approved_by = $2, approval_comments = $3,
		    completed_at = now()
		WHERE step_id = $1 AND status = 'WAITING_APPROVAL'`,
		stepID, approvedBy, comments)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) RejectStep(ctx context.Context, stepID, rejectedBy, comments string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'REJECTED', approved_by = $2, approval_comments = $3,
		    completed_at = now()
		WHERE step_id = $1 AND status = 'WAITING_APPROVAL'`,
		stepID, rejectedBy, comments)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SkipPendingStepsByName skips the still-pending steps on the branch a
// CONDITION step did not select.
func (q *Queries) SkipPendingStepsByName(ctx context.Context, executionID string, names []string) (int, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET status = 'SKIPPED', completed_at = now()
		WHERE execution_id = $1 AND status = 'PENDING' AND step_name = ANY($2)`,
		executionID, names)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CountProgress counts steps that advance the execution: completed,
// approved or skipped.
func (q *Queries) CountProgress(ctx context.Context, executionID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM ft.workflow_steps
		WHERE execution_id = $1 AND status IN ('COMPLETED','APPROVED','SKIPPED')`,
		executionID).Scan(&n)
	return n, err
}

// ListOverdueApprovals returns waiting steps whose deadline has passed.
func (q *Queries) ListOverdueApprovals(ctx context.Context, limit int32) ([]core.WorkflowStep, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+stepColumns+` FROM ft.workflow_steps
		WHERE status = 'WAITING_APPROVAL'
		  AND approval_deadline IS NOT NULL
		  AND approval_deadline <= now()
		ORDER BY approval_deadline
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClearApprovalDeadline stops an overdue approval from being escalated
// twice. The step stays WAITING_APPROVAL.
func (q *Queries) ClearApprovalDeadline(ctx context.Context, stepID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ft.workflow_steps
		SET approval_deadline = NULL
		WHERE step_id = $1 AND status = 'WAITING_APPROVAL' AND approval_deadline IS NOT NULL`,
		stepID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

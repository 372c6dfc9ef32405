package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/audit"
	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/notify"
	"github.com/flowtrail/flowtrail/internal/observability"
	"github.com/flowtrail/flowtrail/internal/store"
)

// Engine orchestrates workflow executions. It holds no execution state
// of its own; every transition is a guarded update against Postgres, so
// any number of engine instances can share one database.
type Engine struct {
	pool    *pgxpool.Pool
	queries *store.Queries
	audit   *audit.Service
	sender  notify.Sender
	client  *http.Client
	log     *zap.Logger
	now     func() time.Time

	// runTimeout bounds one background continuation of an execution.
	runTimeout time.Duration
}

func New(pool *pgxpool.Pool, auditSvc *audit.Service, sender notify.Sender, log *zap.Logger) *Engine {
	return &Engine{
		pool:       pool,
		queries:    store.New(pool),
		audit:      auditSvc,
		sender:     sender,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log,
		now:        time.Now,
		runTimeout: 30 * time.Minute,
	}
}

// StartParams describes one execution start request.
type StartParams struct {
	DefinitionID      string
	TriggeredBy       string
	TriggerEvent      string
	TriggerData       json.RawMessage
	InputData         json.RawMessage
	IdempotencyKey    string
	RequestHash       string
	RelatedObjectType string
	RelatedObjectID   string
	FinancialImpact   *float64
	CurrencyCode      string
}

// StartWorkflow validates the definition, enforces the concurrency cap
// under an advisory lock and creates the execution with its step rows.
// The caller decides when to run it (RunAsync for the API path).
func (e *Engine) StartWorkflow(ctx context.Context, p StartParams) (core.WorkflowExecution, error) {
	def, err := e.queries.GetDefinition(ctx, p.DefinitionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.WorkflowExecution{}, core.NewAppError(core.ErrNotFound, "workflow definition not found")
		}
		return core.WorkflowExecution{}, fmt.Errorf("load definition: %w", err)
	}
	if !def.IsActive {
		return core.WorkflowExecution{}, core.NewAppError(core.ErrPreconditionFailed, "workflow definition is not active")
	}
	if len(def.StepsDefinition) == 0 {
		return core.WorkflowExecution{}, core.NewAppError(core.ErrBadRequest, "workflow definition has no steps")
	}
	for _, s := range def.StepsDefinition {
		if !core.ValidStepType(s.Type) {
			return core.WorkflowExecution{}, core.NewAppError(core.ErrBadRequest,
				fmt.Sprintf("unknown step type %q in step %q", s.Type, s.Name))
		}
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	qtx := e.queries.WithTx(tx)

	lockStart := e.now()
	if err := qtx.AcquireDefinitionLock(ctx, def.DefinitionID); err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("acquire definition lock: %w", err)
	}
	observability.LockWaitSeconds.Observe(time.Since(lockStart).Seconds())

	if p.IdempotencyKey != "" {
		existing, err := qtx.GetExecutionByIdempotencyKey(ctx, def.DefinitionID, p.IdempotencyKey)
		switch {
		case err == nil:
			if existing.RequestHash != p.RequestHash {
				return core.WorkflowExecution{}, core.NewAppError(core.ErrConflictIdempotent,
					"idempotency key reused with a different request")
			}
			return existing, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return core.WorkflowExecution{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	if def.MaxConcurrentExecutions > 0 {
		active, err := qtx.CountActiveExecutions(ctx, def.DefinitionID)
		if err != nil {
			return core.WorkflowExecution{}, fmt.Errorf("count active executions: %w", err)
		}
		if active >= def.MaxConcurrentExecutions {
			return core.WorkflowExecution{}, core.NewAppError(core.ErrPreconditionFailed,
				fmt.Sprintf("concurrency limit reached: %d executions already active", active))
		}
	}

	exec, err := qtx.CreateExecution(ctx, core.WorkflowExecution{
		ExecutionID:       core.NewID(),
		DefinitionID:      def.DefinitionID,
		TriggeredBy:       p.TriggeredBy,
		TriggerEvent:      p.TriggerEvent,
		TriggerData:       p.TriggerData,
		IdempotencyKey:    p.IdempotencyKey,
		RequestHash:       p.RequestHash,
		Status:            core.ExecutionPending,
		InputData:         p.InputData,
		TotalSteps:        len(def.StepsDefinition),
		RelatedObjectType: p.RelatedObjectType,
		RelatedObjectID:   p.RelatedObjectID,
		FinancialImpact:   p.FinancialImpact,
		CurrencyCode:      p.CurrencyCode,
	})
	if err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("create execution: %w", err)
	}

	for i, spec := range def.StepsDefinition {
		maxRetries := spec.MaxRetries
		if maxRetries == 0 {
			maxRetries = def.RetryAttempts
		}
		_, err := qtx.CreateStep(ctx, core.WorkflowStep{
			StepID:      core.NewID(),
			ExecutionID: exec.ExecutionID,
			StepName:    spec.Name,
			StepType:    spec.Type,
			StepOrder:   i + 1,
			StepConfig:  spec.Config,
			Status:      core.StepPending,
			AssignedTo:  spec.AssignedTo,
			MaxRetries:  maxRetries,
		})
		if err != nil {
			return core.WorkflowExecution{}, fmt.Errorf("create step %q: %w", spec.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("commit: %w", err)
	}

	e.logExecution(ctx, exec.ExecutionID, fmt.Sprintf("execution created for workflow %q", def.Name), p.TriggeredBy)
	e.recordAudit(ctx, audit.Entry{
		ActionType:      core.ActionCreate,
		Actor:           core.Actor{ID: p.TriggeredBy},
		ObjectType:      "workflow_execution",
		ObjectID:        exec.ExecutionID,
		Description:     fmt.Sprintf("started workflow %q", def.Name),
		BusinessProcess: string(def.WorkflowType),
		FinancialImpact: p.FinancialImpact,
		CurrencyCode:    p.CurrencyCode,
	})
	return exec, nil
}

// RunAsync continues an execution on a background goroutine. Used after
// start, approval and resume so HTTP handlers can return immediately.
func (e *Engine) RunAsync(executionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.runTimeout)
		defer cancel()
		if err := e.Run(ctx, executionID); err != nil {
			e.log.Error("execution run failed",
				zap.String("execution_id", executionID),
				zap.Error(err),
			)
		}
	}()
}

// Run drives an execution forward until it completes, fails or parks
// on an approval or wait.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	if ok, err := e.queries.MarkExecutionRunning(ctx, executionID); err != nil {
		return fmt.Errorf("mark running: %w", err)
	} else if ok {
		observability.ExecutionStateTransitions.WithLabelValues(
			string(core.ExecutionPending), string(core.ExecutionRunning)).Inc()
		e.logExecution(ctx, executionID, "execution started", "engine")
	}
	return e.runLoop(ctx, executionID)
}

func (e *Engine) runLoop(ctx context.Context, executionID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		exec, err := e.queries.GetExecution(ctx, executionID)
		if err != nil {
			return fmt.Errorf("load execution: %w", err)
		}
		if exec.Status != core.ExecutionRunning {
			// Paused, cancelled or finished by someone else.
			return nil
		}
		def, err := e.queries.GetDefinition(ctx, exec.DefinitionID)
		if err != nil {
			return fmt.Errorf("load definition: %w", err)
		}
		log := observability.ExecutionLogger(e.log, exec.ExecutionID, def.DefinitionID, string(def.WorkflowType))

		step, err := e.queries.NextPendingStep(ctx, executionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return e.completeExecution(ctx, def, exec, log)
		}
		if err != nil {
			return fmt.Errorf("next pending step: %w", err)
		}

		input := e.buildStepInput(def, exec)
		inputJSON, _ := json.Marshal(input)
		ok, err := e.queries.MarkStepRunning(ctx, step.StepID, inputJSON)
		if err != nil {
			return fmt.Errorf("mark step running: %w", err)
		}
		if !ok {
			// Lost the race to another engine instance.
			continue
		}
		if err := e.queries.UpdateExecutionProgress(ctx, executionID, step.StepOrder, exec.CompletedSteps); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		stepStart := e.now()
		res, handlerErr := e.executeStep(ctx, def, &exec, &step, input)
		observability.StepDuration.WithLabelValues(string(step.StepType)).Observe(time.Since(stepStart).Seconds())

		if handlerErr != nil {
			terminal, err := e.retryOrFail(ctx, def, exec, step, handlerErr, log)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
			continue
		}

		switch res.outcome {
		case outcomeWaitingApproval:
			if err := e.parkForApproval(ctx, def, exec, step, res, log); err != nil {
				return err
			}
			return nil
		case outcomeParked:
			if err := e.parkForWait(ctx, exec, step, res, log); err != nil {
				return err
			}
			return nil
		default:
			if err := e.finishStep(ctx, exec, step, res, log); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) finishStep(ctx context.Context, exec core.WorkflowExecution, step core.WorkflowStep, res stepResult, log *zap.Logger) error {
	outputJSON, err := json.Marshal(res.output)
	if err != nil {
		return fmt.Errorf("encode step output: %w", err)
	}
	if ok, err := e.queries.CompleteStep(ctx, step.StepID, outputJSON); err != nil {
		return fmt.Errorf("complete step: %w", err)
	} else if !ok {
		return core.NewAppError(core.ErrConflictState, "step no longer running")
	}
	if len(res.output) > 0 {
		if err := e.queries.MergeExecutionOutput(ctx, exec.ExecutionID, outputJSON); err != nil {
			return fmt.Errorf("merge output: %w", err)
		}
	}
	if len(res.skipSteps) > 0 {
		skipped, err := e.queries.SkipPendingStepsByName(ctx, exec.ExecutionID, res.skipSteps)
		if err != nil {
			return fmt.Errorf("skip steps: %w", err)
		}
		if skipped > 0 {
			e.logExecution(ctx, exec.ExecutionID,
				fmt.Sprintf("step %q skipped %d unselected steps", step.StepName, skipped), "engine")
		}
	}
	if err := e.syncProgress(ctx, exec.ExecutionID, step.StepOrder); err != nil {
		return err
	}
	observability.StepTotal.WithLabelValues(string(step.StepType), string(core.StepCompleted)).Inc()
	e.logExecution(ctx, exec.ExecutionID, fmt.Sprintf("step %q completed", step.StepName), "engine")
	log.Info("step completed",
		zap.String("step_id", step.StepID),
		zap.String("step_name", step.StepName),
		zap.String("step_type", string(step.StepType)),
	)
	return nil
}

func (e *Engine) parkForApproval(ctx context.Context, def core.WorkflowDefinition, exec core.WorkflowExecution, step core.WorkflowStep, res stepResult, log *zap.Logger) error {
	outputJSON, _ := json.Marshal(res.output)
	if ok, err := e.queries.MarkStepWaitingApproval(ctx, step.StepID, outputJSON, res.deadline); err != nil {
		return fmt.Errorf("mark waiting approval: %w", err)
	} else if !ok {
		return core.NewAppError(core.ErrConflictState, "step no longer running")
	}
	observability.StepTotal.WithLabelValues(string(step.StepType), string(core.StepWaitingApproval)).Inc()
	e.logExecution(ctx, exec.ExecutionID,
		fmt.Sprintf("step %q waiting for approval by %s", step.StepName, res.assignee), "engine")
	log.Info("step waiting for approval",
		zap.String("step_id", step.StepID),
		zap.String("assignee", res.assignee),
	)
	if res.assignee != "" {
		e.notify(ctx, res.assignee,
			fmt.Sprintf("Approval required: %s", step.StepName),
			fmt.Sprintf("Workflow %q is waiting for your approval on step %q.", def.Name, step.StepName))
	}
	return nil
}

func (e *Engine) parkForWait(ctx context.Context, exec core.WorkflowExecution, step core.WorkflowStep, res stepResult, log *zap.Logger) error {
	if ok, err := e.queries.ParkStepForWait(ctx, step.StepID, res.resumeAt); err != nil {
		return fmt.Errorf("park step: %w", err)
	} else if !ok {
		return core.NewAppError(core.ErrConflictState, "step no longer running")
	}
	if ok, err := e.queries.PauseExecution(ctx, exec.ExecutionID); err != nil {
		return fmt.Errorf("pause execution: %w", err)
	} else if ok {
		observability.ExecutionStateTransitions.WithLabelValues(
			string(core.ExecutionRunning), string(core.ExecutionPaused)).Inc()
	}
	e.logExecution(ctx, exec.ExecutionID,
		fmt.Sprintf("step %q waiting until %s", step.StepName, res.resumeAt.Format(time.RFC3339)), "engine")
	log.Info("execution parked for wait",
		zap.String("step_id", step.StepID),
		zap.Time("resume_at", res.resumeAt),
	)
	return nil
}

func (e *Engine) retryOrFail(ctx context.Context, def core.WorkflowDefinition, exec core.WorkflowExecution, step core.WorkflowStep, handlerErr error, log *zap.Logger) (terminal bool, err error) {
	fresh, err := e.queries.GetStep(ctx, step.StepID)
	if err != nil {
		return false, fmt.Errorf("reload step: %w", err)
	}
	if fresh.RetryCount+1 <= fresh.MaxRetries {
		if ok, err := e.queries.RetryStep(ctx, step.StepID, handlerErr.Error()); err != nil {
			return false, fmt.Errorf("retry step: %w", err)
		} else if !ok {
			return false, core.NewAppError(core.ErrConflictState, "step no longer running")
		}
		observability.StepRetryTotal.WithLabelValues(string(step.StepType)).Inc()
		e.logExecution(ctx, exec.ExecutionID,
			fmt.Sprintf("step %q failed (attempt %d/%d), will retry: %s",
				step.StepName, fresh.RetryCount+1, fresh.MaxRetries+1, handlerErr), "engine")
		log.Warn("step failed, retrying",
			zap.String("step_id", step.StepID),
			zap.Int("retry_count", fresh.RetryCount+1),
			zap.Error(handlerErr),
		)
		return false, nil
	}

	if ok, err := e.queries.FailStep(ctx, step.StepID, handlerErr.Error()); err != nil {
		return false, fmt.Errorf("fail step: %w", err)
	} else if !ok {
		return false, core.NewAppError(core.ErrConflictState, "step no longer running")
	}
	observability.StepTotal.WithLabelValues(string(step.StepType), string(core.StepFailed)).Inc()
	msg := fmt.Sprintf("step %q failed after %d attempts: %s", step.StepName, fresh.RetryCount+1, handlerErr)
	if err := e.failExecution(ctx, def, exec, msg, log); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) completeExecution(ctx context.Context, def core.WorkflowDefinition, exec core.WorkflowExecution, log *zap.Logger) error {
	if err := e.syncProgress(ctx, exec.ExecutionID, exec.TotalSteps); err != nil {
		return err
	}
	ok, err := e.queries.CompleteExecution(ctx, exec.ExecutionID)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	if !ok {
		return nil
	}
	observability.ExecutionStateTransitions.WithLabelValues(
		string(core.ExecutionRunning), string(core.ExecutionCompleted)).Inc()
	observability.ExecutionTotal.WithLabelValues(string(def.WorkflowType), string(core.ExecutionCompleted)).Inc()
	if exec.StartedAt != nil {
		observability.ExecutionDuration.WithLabelValues(string(def.WorkflowType)).
			Observe(e.now().Sub(*exec.StartedAt).Seconds())
	}
	e.logExecution(ctx, exec.ExecutionID, "execution completed", "engine")
	log.Info("execution completed")
	e.recordAudit(ctx, audit.Entry{
		ActionType:      core.ActionSystem,
		Actor:           core.Actor{ID: "engine", Name: "workflow engine"},
		ObjectType:      "workflow_execution",
		ObjectID:        exec.ExecutionID,
		Description:     fmt.Sprintf("workflow %q completed", def.Name),
		BusinessProcess: string(def.WorkflowType),
	})
	if exec.TriggeredBy != "" {
		e.notify(ctx, exec.TriggeredBy,
			fmt.Sprintf("Workflow completed: %s", def.Name),
			fmt.Sprintf("Your workflow %q finished successfully.", def.Name))
	}
	return nil
}

func (e *Engine) failExecution(ctx context.Context, def core.WorkflowDefinition, exec core.WorkflowExecution, msg string, log *zap.Logger) error {
	ok, err := e.queries.FailExecution(ctx, exec.ExecutionID, msg)
	if err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}
	if !ok {
		return nil
	}
	observability.ExecutionStateTransitions.WithLabelValues(
		string(core.ExecutionRunning), string(core.ExecutionFailed)).Inc()
	observability.ExecutionTotal.WithLabelValues(string(def.WorkflowType), string(core.ExecutionFailed)).Inc()
	e.logExecution(ctx, exec.ExecutionID, msg, "engine")
	log.Error("execution failed", zap.String("reason", msg))
	e.recordAudit(ctx, audit.Entry{
		ActionType:      core.ActionError,
		Severity:        core.SeverityHigh,
		Actor:           core.Actor{ID: "engine", Name: "workflow engine"},
		ObjectType:      "workflow_execution",
		ObjectID:        exec.ExecutionID,
		Description:     fmt.Sprintf("workflow %q failed: %s", def.Name, msg),
		BusinessProcess: string(def.WorkflowType),
	})
	if exec.TriggeredBy != "" {
		e.notify(ctx, exec.TriggeredBy,
			fmt.Sprintf("Workflow failed: %s", def.Name),
			fmt.Sprintf("Your workflow %q failed: %s", def.Name, msg))
	}
	return nil
}

// syncProgress recomputes completed_steps from step rows. Approved and
// skipped steps count the same as completed ones.
func (e *Engine) syncProgress(ctx context.Context, executionID string, currentStep int) error {
	done, err := e.queries.CountProgress(ctx, executionID)
	if err != nil {
		return fmt.Errorf("count progress: %w", err)
	}
	if err := e.queries.UpdateExecutionProgress(ctx, executionID, currentStep, done); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ApproveStep resolves a waiting approval. Only WAITING_APPROVAL steps
// can be approved; anything else is a state conflict.
func (e *Engine) ApproveStep(ctx context.Context, stepID, approver, comments string) (core.WorkflowStep, error) {
	step, err := e.queries.GetStep(ctx, stepID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.WorkflowStep{}, core.NewAppError(core.ErrNotFound, "step not found")
		}
		return core.WorkflowStep{}, fmt.Errorf("load step: %w", err)
	}
	ok, err := e.queries.ApproveStep(ctx, stepID, approver, comments)
	if err != nil {
		return core.WorkflowStep{}, fmt.Errorf("approve step: %w", err)
	}
	if !ok {
		return core.WorkflowStep{}, core.NewAppError(core.ErrConflictState,
			fmt.Sprintf("step is %s, not waiting for approval", step.Status))
	}
	observability.StepTotal.WithLabelValues(string(step.StepType), string(core.StepApproved)).Inc()
	e.logExecution(ctx, step.ExecutionID,
		fmt.Sprintf("step %q approved by %s", step.StepName, approver), approver)
	e.recordAudit(ctx, audit.Entry{
		ActionType:   core.ActionApprove,
		Actor:        core.Actor{ID: approver},
		ObjectType:   "workflow_step",
		ObjectID:     stepID,
		Description:  fmt.Sprintf("approved step %q", step.StepName),
		WorkflowStep: step.StepName,
	})
	if err := e.syncProgress(ctx, step.ExecutionID, step.StepOrder); err != nil {
		return core.WorkflowStep{}, err
	}
	e.RunAsync(step.ExecutionID)
	return e.queries.GetStep(ctx, stepID)
}

// RejectStep resolves a waiting approval negatively and fails the whole
// execution.
func (e *Engine) RejectStep(ctx context.Context, stepID, rejectedBy, comments string) (core.WorkflowStep, error) {
	step, err := e.queries.GetStep(ctx, stepID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.WorkflowStep{}, core.NewAppError(core.ErrNotFound, "step not found")
		}
		return core.WorkflowStep{}, fmt.Errorf("load step: %w", err)
	}
	ok, err := e.queries.RejectStep(ctx, stepID, rejectedBy, comments)
	if err != nil {
		return core.WorkflowStep{}, fmt.Errorf("reject step: %w", err)
	}
	if !ok {
		return core.WorkflowStep{}, core.NewAppError(core.ErrConflictState,
			fmt.Sprintf("step is %s, not waiting for approval", step.Status))
	}
	observability.StepTotal.WithLabelValues(string(step.StepType), string(core.StepRejected)).Inc()
	e.recordAudit(ctx, audit.Entry{
		ActionType:   core.ActionReject,
		Actor:        core.Actor{ID: rejectedBy},
		ObjectType:   "workflow_step",
		ObjectID:     stepID,
		Description:  fmt.Sprintf("rejected step %q", step.StepName),
		WorkflowStep: step.StepName,
	})

	exec, err := e.queries.GetExecution(ctx, step.ExecutionID)
	if err != nil {
		return core.WorkflowStep{}, fmt.Errorf("load execution: %w", err)
	}
	def, err := e.queries.GetDefinition(ctx, exec.DefinitionID)
	if err != nil {
		return core.WorkflowStep{}, fmt.Errorf("load definition: %w", err)
	}
	log := observability.ExecutionLogger(e.log, exec.ExecutionID, def.DefinitionID, string(def.WorkflowType))
	msg := fmt.Sprintf("step %q rejected by %s", step.StepName, rejectedBy)
	if comments != "" {
		msg = fmt.Sprintf("%s: %s", msg, comments)
	}
	if err := e.failExecution(ctx, def, exec, msg, log); err != nil {
		return core.WorkflowStep{}, err
	}
	return e.queries.GetStep(ctx, stepID)
}

// CancelWorkflow stops a pending or running execution.
func (e *Engine) CancelWorkflow(ctx context.Context, executionID, cancelledBy, reason string) (core.WorkflowExecution, error) {
	exec, err := e.queries.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.WorkflowExecution{}, core.NewAppError(core.ErrNotFound, "execution not found")
		}
		return core.WorkflowExecution{}, fmt.Errorf("load execution: %w", err)
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	ok, err := e.queries.CancelExecution(ctx, executionID, reason)
	if err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("cancel execution: %w", err)
	}
	if !ok {
		return core.WorkflowExecution{}, core.NewAppError(core.ErrConflictState,
			fmt.Sprintf("execution is %s and cannot be cancelled", exec.Status))
	}
	observability.ExecutionStateTransitions.WithLabelValues(
		string(exec.Status), string(core.ExecutionCancelled)).Inc()
	e.logExecution(ctx, executionID, fmt.Sprintf("execution cancelled: %s", reason), cancelledBy)
	e.recordAudit(ctx, audit.Entry{
		ActionType:  core.ActionDelete,
		Actor:       core.Actor{ID: cancelledBy},
		ObjectType:  "workflow_execution",
		ObjectID:    executionID,
		Description: fmt.Sprintf("cancelled execution: %s", reason),
	})
	return e.queries.GetExecution(ctx, executionID)
}

// PauseWorkflow suspends a running execution between steps.
func (e *Engine) PauseWorkflow(ctx context.Context, executionID, pausedBy string) (core.WorkflowExecution, error) {
	ok, err := e.queries.PauseExecution(ctx, executionID)
	if err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("pause execution: %w", err)
	}
	if !ok {
		exec, err := e.queries.GetExecution(ctx, executionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.WorkflowExecution{}, core.NewAppError(core.ErrNotFound, "execution not found")
		}
		if err != nil {
			return core.WorkflowExecution{}, fmt.Errorf("load execution: %w", err)
		}
		return core.WorkflowExecution{}, core.NewAppError(core.ErrConflictState,
			fmt.Sprintf("execution is %s and cannot be paused", exec.Status))
	}
	observability.ExecutionStateTransitions.WithLabelValues(
		string(core.ExecutionRunning), string(core.ExecutionPaused)).Inc()
	e.logExecution(ctx, executionID, "execution paused", pausedBy)
	return e.queries.GetExecution(ctx, executionID)
}

// ResumeWorkflow restarts a paused execution.
func (e *Engine) ResumeWorkflow(ctx context.Context, executionID, resumedBy string) (core.WorkflowExecution, error) {
	ok, err := e.queries.ResumeExecution(ctx, executionID)
	if err != nil {
		return core.WorkflowExecution{}, fmt.Errorf("resume execution: %w", err)
	}
	if !ok {
		exec, err := e.queries.GetExecution(ctx, executionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.WorkflowExecution{}, core.NewAppError(core.ErrNotFound, "execution not found")
		}
		if err != nil {
			return core.WorkflowExecution{}, fmt.Errorf("load execution: %w", err)
		}
		return core.WorkflowExecution{}, core.NewAppError(core.ErrConflictState,
			fmt.Sprintf("execution is %s and cannot be resumed", exec.Status))
	}
	observability.ExecutionStateTransitions.WithLabelValues(
		string(core.ExecutionPaused), string(core.ExecutionRunning)).Inc()
	e.logExecution(ctx, executionID, "execution resumed", resumedBy)
	e.RunAsync(executionID)
	return e.queries.GetExecution(ctx, executionID)
}

// buildStepInput layers definition variables, execution input and the
// accumulated outputs of earlier steps, later layers winning.
func (e *Engine) buildStepInput(def core.WorkflowDefinition, exec core.WorkflowExecution) map[string]any {
	input := map[string]any{}
	for _, raw := range []json.RawMessage{def.Variables, exec.InputData, exec.OutputData} {
		if len(raw) == 0 {
			continue
		}
		var layer map[string]any
		if err := json.Unmarshal(raw, &layer); err != nil {
			continue
		}
		for k, v := range layer {
			input[k] = v
		}
	}
	return input
}

func (e *Engine) logExecution(ctx context.Context, executionID, message, actor string) {
	err := e.queries.AppendExecutionLog(ctx, executionID, core.LogEntry{
		Timestamp: e.now().UTC(),
		Message:   message,
		Actor:     actor,
	})
	if err != nil {
		e.log.Warn("failed to append execution log",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
	}
}

// recordAudit writes to the trail and only logs on failure. The trail
// never blocks workflow progress.
func (e *Engine) recordAudit(ctx context.Context, entry audit.Entry) {
	if _, err := e.audit.LogEvent(ctx, entry); err != nil {
		e.log.Warn("failed to record audit event", zap.Error(err))
	}
}

// notify delivers best-effort. Failures are logged and swallowed.
func (e *Engine) notify(ctx context.Context, recipient, subject, body string) {
	if e.sender == nil {
		return
	}
	if err := e.sender.Send(ctx, notify.Message{Recipient: recipient, Subject: subject, Body: body}); err != nil {
		e.log.Warn("notification failed",
			zap.String("recipient", recipient),
			zap.Error(err),
		)
	}
}

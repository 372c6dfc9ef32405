package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/audit"
	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/engine"
	"github.com/flowtrail/flowtrail/internal/notify"
	"github.com/flowtrail/flowtrail/internal/observability"
	"github.com/flowtrail/flowtrail/internal/store"
)

// Worker polls for executions that are waiting on the clock: paused
// executions whose wait step has come due, and approval steps whose
// deadline has passed.
type Worker struct {
	queries *store.Queries
	engine  *engine.Engine
	audit   *audit.Service
	sender  notify.Sender
	cfg     Config
	log     *zap.Logger
}

func New(pool *pgxpool.Pool, eng *engine.Engine, auditSvc *audit.Service, sender notify.Sender, cfg Config, log *zap.Logger) *Worker {
	return &Worker{
		queries: store.New(pool),
		engine:  eng,
		audit:   auditSvc,
		sender:  sender,
		cfg:     cfg,
		log:     log,
	}
}

func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int32("batch_size", w.cfg.BatchSize),
	)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return
		default:
		}

		resumed := w.resumeDueWaits(ctx)
		expired := w.expireOverdueApprovals(ctx)

		if depth, err := w.queries.GetExecutionQueueDepth(ctx); err == nil {
			observability.ExecutionQueueDepth.Set(float64(depth))
		}

		wait := w.cfg.PollInterval
		if resumed == 0 && expired == 0 {
			observability.PollEmptyTotal.Inc()
			wait = w.cfg.IdleBackoff
		}
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return
		case <-time.After(wait):
		}
	}
}

// resumeDueWaits moves paused executions with a due wait step back to
// RUNNING and drives them forward. The PAUSED->RUNNING swap is the
// claim: a worker that loses it skips the execution.
func (w *Worker) resumeDueWaits(ctx context.Context) int {
	ids, err := w.queries.ListDueWaitExecutions(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("list due waits failed", zap.Error(err))
		return 0
	}

	resumed := 0
	for _, id := range ids {
		ok, err := w.queries.ResumeExecution(ctx, id)
		if err != nil {
			w.log.Error("resume failed", zap.String("execution_id", id), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		observability.ExecutionStateTransitions.WithLabelValues(
			string(core.ExecutionPaused), string(core.ExecutionRunning)).Inc()
		w.log.Info("resuming execution after wait", zap.String("execution_id", id))
		resumed++

		if err := w.engine.Run(ctx, id); err != nil {
			w.log.Error("run after resume failed", zap.String("execution_id", id), zap.Error(err))
		}
	}
	return resumed
}

// expireOverdueApprovals escalates approval steps that blew through
// their deadline: notify the assignee, record an audit event, then
// clear the deadline so the step is escalated once. The step stays
// WAITING_APPROVAL; only a human resolves it.
func (w *Worker) expireOverdueApprovals(ctx context.Context) int {
	steps, err := w.queries.ListOverdueApprovals(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("list overdue approvals failed", zap.Error(err))
		return 0
	}

	expired := 0
	for i := range steps {
		step := &steps[i]
		ok, err := w.queries.ClearApprovalDeadline(ctx, step.StepID)
		if err != nil {
			w.log.Error("clear approval deadline failed", zap.String("step_id", step.StepID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		expired++

		w.log.Warn("approval deadline expired",
			zap.String("step_id", step.StepID),
			zap.String("execution_id", step.ExecutionID),
			zap.String("step_name", step.StepName),
			zap.String("assigned_to", step.AssignedTo),
		)

		if _, err := w.audit.LogSystemEvent(ctx, core.ActionWarning,
			fmt.Sprintf("approval deadline expired for step %q", step.StepName),
			map[string]any{
				"step_id":      step.StepID,
				"execution_id": step.ExecutionID,
				"assigned_to":  step.AssignedTo,
			}); err != nil {
			w.log.Warn("audit write failed", zap.String("step_id", step.StepID), zap.Error(err))
		}

		if w.sender != nil && step.AssignedTo != "" {
			msg := notify.Message{
				Recipient: step.AssignedTo,
				Subject:   "Approval overdue: " + step.StepName,
				Body: fmt.Sprintf("Step %q in execution %s is still waiting for your approval past its deadline.",
					step.StepName, step.ExecutionID),
			}
			if err := w.sender.Send(ctx, msg); err != nil {
				w.log.Warn("escalation notification failed", zap.String("step_id", step.StepID), zap.Error(err))
			}
		}
	}
	return expired
}

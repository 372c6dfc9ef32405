package engine

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/audit"
	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/notify"
	"github.com/flowtrail/flowtrail/internal/store"
)

func waitForStatus(t *testing.T, ctx context.Context, queries *store.Queries, executionID string, want core.ExecutionStatus) core.WorkflowExecution {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := queries.GetExecution(ctx, executionID)
		if err != nil {
			t.Fatalf("failed to get execution: %s", err)
		}
		if exec.Status == want {
			return exec
		}
		time.Sleep(100 * time.Millisecond)
	}
	exec, _ := queries.GetExecution(ctx, executionID)
	t.Fatalf("execution %s never reached %s, stuck at %s (%s)",
		executionID, want, exec.Status, exec.ErrorMessage)
	return core.WorkflowExecution{}
}

func TestEngineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("flowtrail"),
		postgres.WithUsername("flowtrail"),
		postgres.WithPassword("flowtrail_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections"),
		),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}
	pool, err := store.NewPool(ctx, connStr, 5)
	if err != nil {
		t.Fatalf("failed to connect: %s", err)
	}
	defer pool.Close()

	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %s", err)
	}
	if _, err := pool.Exec(ctx, string(migration)); err != nil {
		t.Fatalf("failed to run migration: %s", err)
	}

	queries := store.New(pool)
	log := zap.NewNop()
	auditSvc := audit.NewService(queries, log)
	eng := New(pool, auditSvc, &notify.LogSender{Log: log}, log)

	t.Run("ApprovalWorkflowRunsToCompletion", func(t *testing.T) {
		threshold := 1000.0
		def, err := queries.CreateDefinition(ctx, core.WorkflowDefinition{
			DefinitionID: core.NewID(),
			Name:         "invoice-approval",
			WorkflowType: core.WorkflowInvoiceApproval,
			Version:      "1.0",
			TriggerType:  core.TriggerManual,
			StepsDefinition: []core.StepSpec{
				{Name: "compute_total", Type: core.StepScript,
					Config: []byte(`{"script": "total = amount * 1.1"}`)},
				{Name: "manager_approval", Type: core.StepApproval, AssignedTo: "manager"},
				{Name: "notify_requester", Type: core.StepNotify,
					Config: []byte(`{"subject": "done", "message": "total {{total}}"}`)},
			},
			RetryAttempts:     2,
			RequiresApproval:  true,
			ApprovalThreshold: &threshold,
			IsActive:          true,
		})
		if err != nil {
			t.Fatalf("failed to create definition: %s", err)
		}

		impact := 5000.0
		exec, err := eng.StartWorkflow(ctx, StartParams{
			DefinitionID:    def.DefinitionID,
			TriggeredBy:     "alice",
			IdempotencyKey:  "inv-42",
			RequestHash:     "h1",
			InputData:       []byte(`{"amount": 5000}`),
			FinancialImpact: &impact,
		})
		if err != nil {
			t.Fatalf("failed to start workflow: %s", err)
		}
		if exec.TotalSteps != 3 {
			t.Errorf("expected 3 total steps, got %d", exec.TotalSteps)
		}

		// Same key and hash returns the same execution.
		again, err := eng.StartWorkflow(ctx, StartParams{
			DefinitionID:    def.DefinitionID,
			TriggeredBy:     "alice",
			IdempotencyKey:  "inv-42",
			RequestHash:     "h1",
			InputData:       []byte(`{"amount": 5000}`),
			FinancialImpact: &impact,
		})
		if err != nil {
			t.Fatalf("idempotent restart errored: %s", err)
		}
		if again.ExecutionID != exec.ExecutionID {
			t.Errorf("expected same execution back, got %s", again.ExecutionID)
		}

		// Same key with a different request is a conflict.
		_, err = eng.StartWorkflow(ctx, StartParams{
			DefinitionID:   def.DefinitionID,
			TriggeredBy:    "alice",
			IdempotencyKey: "inv-42",
			RequestHash:    "h2",
		})
		var appErr *core.AppError
		if !errors.As(err, &appErr) || appErr.Code != core.ErrConflictIdempotent {
			t.Fatalf("expected idempotency conflict, got %v", err)
		}

		if err := eng.Run(ctx, exec.ExecutionID); err != nil {
			t.Fatalf("run failed: %s", err)
		}

		// The run parks on the approval step.
		steps, err := queries.ListSteps(ctx, exec.ExecutionID)
		if err != nil {
			t.Fatalf("failed to list steps: %s", err)
		}
		if steps[0].Status != core.StepCompleted {
			t.Errorf("expected script step COMPLETED, got %s", steps[0].Status)
		}
		if steps[1].Status != core.StepWaitingApproval {
			t.Fatalf("expected approval step WAITING_APPROVAL, got %s", steps[1].Status)
		}

		// Rejecting, cancelling or completing checks aside, approve it.
		if _, err := eng.ApproveStep(ctx, steps[1].StepID, "manager", "within budget"); err != nil {
			t.Fatalf("failed to approve: %s", err)
		}
		// A second resolution of the same step conflicts.
		_, err = eng.RejectStep(ctx, steps[1].StepID, "manager", "changed my mind")
		if !errors.As(err, &appErr) || appErr.Code != core.ErrConflictState {
			t.Fatalf("expected state conflict on double resolution, got %v", err)
		}

		final := waitForStatus(t, ctx, queries, exec.ExecutionID, core.ExecutionCompleted)
		if final.CompletedSteps != final.TotalSteps {
			t.Errorf("expected completed_steps == total_steps, got %d/%d",
				final.CompletedSteps, final.TotalSteps)
		}
		if len(final.ExecutionLog) == 0 {
			t.Error("expected execution log entries")
		}

		// Terminal executions cannot be cancelled.
		_, err = eng.CancelWorkflow(ctx, exec.ExecutionID, "alice", "too late")
		if !errors.As(err, &appErr) || appErr.Code != core.ErrConflictState {
			t.Fatalf("expected state conflict on cancel, got %v", err)
		}
	})

	t.Run("InvalidFormulaRetriesThenFails", func(t *testing.T) {
		def, err := queries.CreateDefinition(ctx, core.WorkflowDefinition{
			DefinitionID: core.NewID(),
			Name:         "broken-calc",
			WorkflowType: core.WorkflowCustom,
			Version:      "1.0",
			TriggerType:  core.TriggerManual,
			StepsDefinition: []core.StepSpec{
				{Name: "bad_math", Type: core.StepCalculation, MaxRetries: 1,
					Config: []byte(`{"formula": "amount / 0"}`)},
				{Name: "never_runs", Type: core.StepNotify},
			},
			IsActive: true,
		})
		if err != nil {
			t.Fatalf("failed to create definition: %s", err)
		}

		exec, err := eng.StartWorkflow(ctx, StartParams{
			DefinitionID: def.DefinitionID,
			TriggeredBy:  "bob",
			InputData:    []byte(`{"amount": 10}`),
		})
		if err != nil {
			t.Fatalf("failed to start workflow: %s", err)
		}
		if err := eng.Run(ctx, exec.ExecutionID); err != nil {
			t.Fatalf("run errored: %s", err)
		}

		final, err := queries.GetExecution(ctx, exec.ExecutionID)
		if err != nil {
			t.Fatalf("failed to get execution: %s", err)
		}
		if final.Status != core.ExecutionFailed {
			t.Fatalf("expected FAILED, got %s", final.Status)
		}
		if final.ErrorMessage == "" {
			t.Error("expected a failure message")
		}

		steps, err := queries.ListSteps(ctx, exec.ExecutionID)
		if err != nil {
			t.Fatalf("failed to list steps: %s", err)
		}
		if steps[0].Status != core.StepFailed {
			t.Errorf("expected step FAILED, got %s", steps[0].Status)
		}
		// One initial attempt plus one retry.
		if steps[0].RetryCount != 2 {
			t.Errorf("expected retry_count 2, got %d", steps[0].RetryCount)
		}
		if steps[1].Status != core.StepPending {
			t.Errorf("later steps must never run, got %s", steps[1].Status)
		}
	})

	t.Run("UnknownStepTypeRejectedAtStart", func(t *testing.T) {
		def, err := queries.CreateDefinition(ctx, core.WorkflowDefinition{
			DefinitionID: core.NewID(),
			Name:         "mystery",
			WorkflowType: core.WorkflowCustom,
			Version:      "1.0",
			TriggerType:  core.TriggerManual,
			StepsDefinition: []core.StepSpec{
				{Name: "teleport", Type: core.StepType("TELEPORT")},
			},
			IsActive: true,
		})
		if err != nil {
			t.Fatalf("failed to create definition: %s", err)
		}
		_, err = eng.StartWorkflow(ctx, StartParams{DefinitionID: def.DefinitionID})
		var appErr *core.AppError
		if !errors.As(err, &appErr) || appErr.Code != core.ErrBadRequest {
			t.Fatalf("expected bad request, got %v", err)
		}
	})

	t.Run("ConcurrencyCapEnforced", func(t *testing.T) {
		def, err := queries.CreateDefinition(ctx, core.WorkflowDefinition{
			DefinitionID: core.NewID(),
			Name:         "capped",
			WorkflowType: core.WorkflowCustom,
			Version:      "1.0",
			TriggerType:  core.TriggerManual,
			StepsDefinition: []core.StepSpec{
				{Name: "hold", Type: core.StepHumanTask, AssignedTo: "someone"},
			},
			MaxConcurrentExecutions: 1,
			IsActive:                true,
		})
		if err != nil {
			t.Fatalf("failed to create definition: %s", err)
		}
		if _, err := eng.StartWorkflow(ctx, StartParams{DefinitionID: def.DefinitionID, TriggeredBy: "a"}); err != nil {
			t.Fatalf("first start failed: %s", err)
		}
		_, err = eng.StartWorkflow(ctx, StartParams{DefinitionID: def.DefinitionID, TriggeredBy: "b"})
		var appErr *core.AppError
		if !errors.As(err, &appErr) || appErr.Code != core.ErrPreconditionFailed {
			t.Fatalf("expected precondition failure, got %v", err)
		}
	})

	t.Run("PauseAndResume", func(t *testing.T) {
		def, err := queries.CreateDefinition(ctx, core.WorkflowDefinition{
			DefinitionID: core.NewID(),
			Name:         "pausable",
			WorkflowType: core.WorkflowCustom,
			Version:      "1.0",
			TriggerType:  core.TriggerManual,
			StepsDefinition: []core.StepSpec{
				{Name: "greet", Type: core.StepNotify},
			},
			IsActive: true,
		})
		if err != nil {
			t.Fatalf("failed to create definition: %s", err)
		}
		exec, err := eng.StartWorkflow(ctx, StartParams{DefinitionID: def.DefinitionID, TriggeredBy: "carol"})
		if err != nil {
			t.Fatalf("failed to start: %s", err)
		}
		if ok, err := queries.MarkExecutionRunning(ctx, exec.ExecutionID); err != nil || !ok {
			t.Fatalf("failed to mark running: ok=%v err=%s", ok, err)
		}
		if _, err := eng.PauseWorkflow(ctx, exec.ExecutionID, "carol"); err != nil {
			t.Fatalf("failed to pause: %s", err)
		}
		if _, err := eng.ResumeWorkflow(ctx, exec.ExecutionID, "carol"); err != nil {
			t.Fatalf("failed to resume: %s", err)
		}
		waitForStatus(t, ctx, queries, exec.ExecutionID, core.ExecutionCompleted)
	})
}

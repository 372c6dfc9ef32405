package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowtrail/flowtrail/internal/core"
)

func TestStoreIntegration(t *testing.T) {
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

	pool, err := NewPool(ctx, connStr, 5)
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

	queries := New(pool)

	var defID string

	t.Run("CreateDefinition", func(t *testing.T) {
		def, err := queries.CreateDefinition(ctx, core.WorkflowDefinition{
			DefinitionID: core.NewID(),
			Name:         "invoice-approval",
			WorkflowType: core.WorkflowInvoiceApproval,
			Version:      "1.0",
			TriggerType:  core.TriggerManual,
			StepsDefinition: []core.StepSpec{
				{Name: "validate", Type: core.StepCalculation},
				{Name: "manager_approval", Type: core.StepApproval, AssignedTo: "manager@example.com"},
			},
			TimeoutMinutes:          60,
			MaxConcurrentExecutions: 10,
			RetryAttempts:           3,
			IsActive:                true,
		})
		if err != nil {
			t.Fatalf("failed to create definition: %s", err)
		}
		if !def.IsActive {
			t.Error("expected definition to be active")
		}
		if len(def.StepsDefinition) != 2 {
			t.Fatalf("expected 2 steps back, got %d", len(def.StepsDefinition))
		}
		if def.StepsDefinition[1].AssignedTo != "manager@example.com" {
			t.Errorf("assigned_to round trip failed: %q", def.StepsDefinition[1].AssignedTo)
		}
		defID = def.DefinitionID
	})

	t.Run("ListDefinitionsFiltered", func(t *testing.T) {
		defs, err := queries.ListDefinitions(ctx, ListDefinitionsParams{
			Limit:        10,
			ActiveOnly:   true,
			WorkflowType: string(core.WorkflowInvoiceApproval),
		})
		if err != nil {
			t.Fatalf("failed to list definitions: %s", err)
		}
		if len(defs) != 1 {
			t.Fatalf("expected 1 definition, got %d", len(defs))
		}
		defs, err = queries.ListDefinitions(ctx, ListDefinitionsParams{
			Limit:        10,
			WorkflowType: string(core.WorkflowPeriodClose),
		})
		if err != nil {
			t.Fatalf("failed to list definitions: %s", err)
		}
		if len(defs) != 0 {
			t.Errorf("expected 0 period-close definitions, got %d", len(defs))
		}
	})

	var execID string

	t.Run("CreateExecution", func(t *testing.T) {
		exec, err := queries.CreateExecution(ctx, core.WorkflowExecution{
			ExecutionID:    core.NewID(),
			DefinitionID:   defID,
			TriggeredBy:    "alice",
			IdempotencyKey: "inv-2026-001",
			RequestHash:    "abc123",
			Status:         core.ExecutionPending,
			InputData:      []byte(`{"amount": 1200}`),
			TotalSteps:     2,
		})
		if err != nil {
			t.Fatalf("failed to create execution: %s", err)
		}
		if exec.Status != core.ExecutionPending {
			t.Errorf("expected status PENDING, got %s", exec.Status)
		}
		execID = exec.ExecutionID
	})

	t.Run("GetExecutionByIdempotencyKey", func(t *testing.T) {
		exec, err := queries.GetExecutionByIdempotencyKey(ctx, defID, "inv-2026-001")
		if err != nil {
			t.Fatalf("failed to look up by idempotency key: %s", err)
		}
		if exec.ExecutionID != execID {
			t.Errorf("expected %s, got %s", execID, exec.ExecutionID)
		}
	})

	t.Run("CountActiveExecutions", func(t *testing.T) {
		n, err := queries.CountActiveExecutions(ctx, defID)
		if err != nil {
			t.Fatalf("failed to count: %s", err)
		}
		if n != 1 {
			t.Errorf("expected 1 active execution, got %d", n)
		}
	})

	var stepID string

	t.Run("StepLifecycle", func(t *testing.T) {
		step, err := queries.CreateStep(ctx, core.WorkflowStep{
			StepID:      core.NewID(),
			ExecutionID: execID,
			StepName:    "validate",
			StepType:    core.StepCalculation,
			StepOrder:   1,
			Status:      core.StepPending,
			MaxRetries:  3,
		})
		if err != nil {
			t.Fatalf("failed to create step: %s", err)
		}
		stepID = step.StepID

		next, err := queries.NextPendingStep(ctx, execID)
		if err != nil {
			t.Fatalf("failed to fetch next pending step: %s", err)
		}
		if next.StepID != stepID {
			t.Errorf("expected %s, got %s", stepID, next.StepID)
		}

		ok, err := queries.MarkStepRunning(ctx, stepID, []byte(`{"amount": 1200}`))
		if err != nil || !ok {
			t.Fatalf("failed to mark running: ok=%v err=%s", ok, err)
		}
		// Same transition again must lose the compare-and-set.
		ok, err = queries.MarkStepRunning(ctx, stepID, []byte(`{}`))
		if err != nil {
			t.Fatalf("second mark running errored: %s", err)
		}
		if ok {
			t.Error("expected second PENDING->RUNNING transition to be rejected")
		}

		ok, err = queries.CompleteStep(ctx, stepID, []byte(`{"valid": true}`))
		if err != nil || !ok {
			t.Fatalf("failed to complete step: ok=%v err=%s", ok, err)
		}

		got, err := queries.GetStep(ctx, stepID)
		if err != nil {
			t.Fatalf("failed to get step: %s", err)
		}
		if got.Status != core.StepCompleted {
			t.Errorf("expected COMPLETED, got %s", got.Status)
		}
		if got.CompletedAt == nil {
			t.Error("expected completed_at to be set")
		}
	})

	t.Run("ApprovalCAS", func(t *testing.T) {
		step, err := queries.CreateStep(ctx, core.WorkflowStep{
			StepID:      core.NewID(),
			ExecutionID: execID,
			StepName:    "manager_approval",
			StepType:    core.StepApproval,
			StepOrder:   2,
			Status:      core.StepPending,
			AssignedTo:  "manager@example.com",
		})
		if err != nil {
			t.Fatalf("failed to create step: %s", err)
		}

		// Approving a step that is not waiting must fail closed.
		ok, err := queries.ApproveStep(ctx, step.StepID, "manager@example.com", "lgtm")
		if err != nil {
			t.Fatalf("approve errored: %s", err)
		}
		if ok {
			t.Fatal("expected approval of a PENDING step to be rejected")
		}

		if ok, err := queries.MarkStepRunning(ctx, step.StepID, nil); err != nil || !ok {
			t.Fatalf("failed to mark running: ok=%v err=%s", ok, err)
		}
		deadline := time.Now().Add(time.Hour)
		if ok, err := queries.MarkStepWaitingApproval(ctx, step.StepID, nil, &deadline); err != nil || !ok {
			t.Fatalf("failed to mark waiting: ok=%v err=%s", ok, err)
		}

		ok, err = queries.ApproveStep(ctx, step.StepID, "manager@example.com", "lgtm")
		if err != nil || !ok {
			t.Fatalf("failed to approve: ok=%v err=%s", ok, err)
		}
		// The race loser gets zero rows.
		ok, err = queries.RejectStep(ctx, step.StepID, "cfo@example.com", "too late")
		if err != nil {
			t.Fatalf("reject errored: %s", err)
		}
		if ok {
			t.Error("expected reject after approve to be rejected")
		}

		got, err := queries.GetStep(ctx, step.StepID)
		if err != nil {
			t.Fatalf("failed to get step: %s", err)
		}
		if got.Status != core.StepApproved {
			t.Errorf("expected APPROVED, got %s", got.Status)
		}
		if got.ApprovedBy != "manager@example.com" {
			t.Errorf("expected approver to stick, got %q", got.ApprovedBy)
		}
	})

	t.Run("CountProgress", func(t *testing.T) {
		n, err := queries.CountProgress(ctx, execID)
		if err != nil {
			t.Fatalf("failed to count progress: %s", err)
		}
		if n != 2 {
			t.Errorf("expected 2 (completed + approved), got %d", n)
		}
	})

	t.Run("ExecutionTransitions", func(t *testing.T) {
		if ok, err := queries.MarkExecutionRunning(ctx, execID); err != nil || !ok {
			t.Fatalf("failed to mark running: ok=%v err=%s", ok, err)
		}
		if ok, err := queries.PauseExecution(ctx, execID); err != nil || !ok {
			t.Fatalf("failed to pause: ok=%v err=%s", ok, err)
		}
		if ok, err := queries.ResumeExecution(ctx, execID); err != nil || !ok {
			t.Fatalf("failed to resume: ok=%v err=%s", ok, err)
		}
		if err := queries.UpdateExecutionProgress(ctx, execID, 2, 2); err != nil {
			t.Fatalf("failed to update progress: %s", err)
		}
		if err := queries.AppendExecutionLog(ctx, execID, core.LogEntry{
			Timestamp: time.Now().UTC(),
			Message:   "all steps finished",
			Actor:     "system",
		}); err != nil {
			t.Fatalf("failed to append log: %s", err)
		}
		if ok, err := queries.CompleteExecution(ctx, execID); err != nil || !ok {
			t.Fatalf("failed to complete: ok=%v err=%s", ok, err)
		}
		// Terminal states reject further transitions.
		if ok, _ := queries.CancelExecution(ctx, execID, "changed my mind"); ok {
			t.Error("expected cancel of COMPLETED execution to be rejected")
		}

		got, err := queries.GetExecution(ctx, execID)
		if err != nil {
			t.Fatalf("failed to get execution: %s", err)
		}
		if got.Status != core.ExecutionCompleted {
			t.Errorf("expected COMPLETED, got %s", got.Status)
		}
		if len(got.ExecutionLog) != 1 {
			t.Errorf("expected 1 log entry, got %d", len(got.ExecutionLog))
		}
	})

	t.Run("AuditEvents", func(t *testing.T) {
		impact := 15000.0
		ev, err := queries.InsertAuditEvent(ctx, core.AuditEvent{
			EventID:         core.NewID(),
			ActionType:      core.ActionApprove,
			Severity:        core.SeverityNormal,
			Actor:           core.Actor{ID: "alice", Email: "alice@example.com"},
			ObjectType:      "invoice",
			ObjectID:        "inv-001",
			Description:     "invoice approved",
			FinancialImpact: &impact,
			CurrencyCode:    "USD",
			BusinessProcess: "invoice_approval",
			ComplianceFlag:  true,
			RiskLevel:       core.RiskHigh,
			ChangedFields:   []string{"status"},
		})
		if err != nil {
			t.Fatalf("failed to insert audit event: %s", err)
		}
		if ev.RiskLevel != core.RiskHigh {
			t.Errorf("expected HIGH risk, got %s", ev.RiskLevel)
		}

		min := 10000.0
		events, err := queries.ListAuditEvents(ctx, AuditFilter{
			ObjectType:     "invoice",
			ComplianceOnly: true,
			FinancialOnly:  true,
			MinAmount:      &min,
			Limit:          10,
		})
		if err != nil {
			t.Fatalf("failed to list audit events: %s", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if len(events[0].ChangedFields) != 1 || events[0].ChangedFields[0] != "status" {
			t.Errorf("changed_fields round trip failed: %v", events[0].ChangedFields)
		}

		if err := queries.SetRequiresReview(ctx, ev.EventID); err != nil {
			t.Fatalf("failed to flag for review: %s", err)
		}
	})

	t.Run("FailedLoginGroups", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := queries.InsertAuditEvent(ctx, core.AuditEvent{
				EventID:     core.NewID(),
				ActionType:  core.ActionError,
				Severity:    core.SeverityHigh,
				Actor:       core.Actor{ID: "mallory"},
				IPAddress:   "203.0.113.9",
				Description: "login failed",
				RiskLevel:   core.RiskLow,
			})
			if err != nil {
				t.Fatalf("failed to insert login failure: %s", err)
			}
		}
		from := time.Now().Add(-time.Hour)
		to := time.Now().Add(time.Hour)
		groups, err := queries.ListFailedLoginGroups(ctx, from, to, 5)
		if err != nil {
			t.Fatalf("failed to query login groups: %s", err)
		}
		if len(groups) != 1 {
			t.Fatalf("expected 1 group, got %d", len(groups))
		}
		if groups[0].Attempts != 5 || groups[0].IPAddress != "203.0.113.9" {
			t.Errorf("unexpected group: %+v", groups[0])
		}
	})

	t.Run("AfterHoursHighValue", func(t *testing.T) {
		impact := 20000.0
		ev, err := queries.InsertAuditEvent(ctx, core.AuditEvent{
			EventID:         core.NewID(),
			ActionType:      core.ActionPost,
			Severity:        core.SeverityHigh,
			Actor:           core.Actor{ID: "eve"},
			Description:     "large posting",
			FinancialImpact: &impact,
			RiskLevel:       core.RiskHigh,
		})
		if err != nil {
			t.Fatalf("failed to insert audit event: %s", err)
		}

		// Backdate to 03:00 yesterday so the hour filter is deterministic.
		y := time.Now().UTC().AddDate(0, 0, -1)
		ts := time.Date(y.Year(), y.Month(), y.Day(), 3, 0, 0, 0, time.UTC)
		if _, err := pool.Exec(ctx,
			`UPDATE ft.audit_events SET event_timestamp = $1 WHERE event_id = $2`,
			ts, ev.EventID); err != nil {
			t.Fatalf("failed to backdate event: %s", err)
		}

		events, err := queries.ListAfterHoursHighValue(ctx, ts.Add(-time.Hour), ts.Add(time.Hour), 10000)
		if err != nil {
			t.Fatalf("failed to query after-hours events: %s", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].EventID != ev.EventID {
			t.Errorf("expected event %s, got %s", ev.EventID, events[0].EventID)
		}
	})

	t.Run("BusinessObjects", func(t *testing.T) {
		amount := 2500.0
		obj, err := queries.UpsertBusinessObject(ctx, core.BusinessObject{
			ObjectID:        "inv-001",
			ObjectType:      "invoice",
			ReferenceNumber: "INV-2026-001",
			Attributes:      []byte(`{"customer": "acme"}`),
			Amount:          &amount,
			CurrencyCode:    "USD",
			Status:          "draft",
		})
		if err != nil {
			t.Fatalf("failed to upsert object: %s", err)
		}
		if obj.Status != "draft" {
			t.Errorf("expected draft, got %s", obj.Status)
		}

		merged, err := queries.MergeObjectAttributes(ctx, "inv-001", []byte(`{"approved": true}`), "approved")
		if err != nil {
			t.Fatalf("failed to merge attributes: %s", err)
		}
		if merged.Status != "approved" {
			t.Errorf("expected approved, got %s", merged.Status)
		}

		n, err := queries.CountBusinessObjects(ctx, "invoice")
		if err != nil {
			t.Fatalf("failed to count objects: %s", err)
		}
		if n != 1 {
			t.Errorf("expected 1 invoice, got %d", n)
		}
	})
}

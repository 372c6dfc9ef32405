package engine

import (
	"testing"

	"github.com/flowtrail/flowtrail/internal/core"
)

func TestBuilderBuild(t *testing.T) {
	def, err := NewBuilder("expense-approval", core.WorkflowExpenseApproval).
		Description("Expense claims over budget go to a manager.").
		ApprovalThreshold(500).
		Retries(2).
		Step("check_budget", core.StepCondition, map[string]any{
			"condition":   "amount > 500",
			"false_steps": []string{"manager_approval"},
		}).
		AssignedStep("manager_approval", core.StepApproval, "manager", nil).
		StepRetries(0).
		Step("reimburse", core.StepDataUpdate, map[string]any{
			"status": "reimbursed",
		}).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if def.DefinitionID == "" {
		t.Error("expected a generated definition id")
	}
	if !def.RequiresApproval || def.ApprovalThreshold == nil || *def.ApprovalThreshold != 500 {
		t.Errorf("approval threshold not applied: %+v", def)
	}
	if len(def.StepsDefinition) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(def.StepsDefinition))
	}
	if def.StepsDefinition[1].AssignedTo != "manager" {
		t.Errorf("expected assignee on approval step, got %q", def.StepsDefinition[1].AssignedTo)
	}
}

func TestBuilderDefaultsRetryAttempts(t *testing.T) {
	def, err := NewBuilder("plain", core.WorkflowCustom).
		Step("notify", core.StepNotify, nil).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if def.RetryAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", def.RetryAttempts)
	}

	def, err = NewBuilder("tuned", core.WorkflowCustom).
		Retries(1).
		Step("notify", core.StepNotify, nil).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if def.RetryAttempts != 1 {
		t.Errorf("explicit retry attempts overridden: got %d", def.RetryAttempts)
	}
}

func TestBuilderRejectsDuplicateStepNames(t *testing.T) {
	_, err := NewBuilder("dup", core.WorkflowCustom).
		Step("same", core.StepNotify, nil).
		Step("same", core.StepNotify, nil).
		Build()
	if err == nil {
		t.Fatal("expected duplicate step names to be rejected")
	}
}

func TestBuilderRejectsEmptyWorkflow(t *testing.T) {
	if _, err := NewBuilder("empty", core.WorkflowCustom).Build(); err == nil {
		t.Fatal("expected workflow without steps to be rejected")
	}
}

func TestBuilderRejectsUnknownStepType(t *testing.T) {
	_, err := NewBuilder("bad", core.WorkflowCustom).
		Step("mystery", core.StepType("TELEPORT"), nil).
		Build()
	if err == nil {
		t.Fatal("expected unknown step type to be rejected")
	}
}

func TestTemplatesBuild(t *testing.T) {
	defs, err := Templates()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(defs) != 4 {
		t.Fatalf("expected 4 templates, got %d", len(defs))
	}
	byType := map[core.WorkflowType]bool{}
	for _, d := range defs {
		if !d.IsTemplate {
			t.Errorf("template %q not flagged as template", d.Name)
		}
		if len(d.StepsDefinition) == 0 {
			t.Errorf("template %q has no steps", d.Name)
		}
		byType[d.WorkflowType] = true
	}
	for _, wt := range []core.WorkflowType{
		core.WorkflowInvoiceApproval, core.WorkflowPaymentApproval,
		core.WorkflowPeriodClose, core.WorkflowRecurringBilling,
	} {
		if !byType[wt] {
			t.Errorf("missing template for %s", wt)
		}
	}
}

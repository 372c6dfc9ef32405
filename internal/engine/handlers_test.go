package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/flowtrail/flowtrail/internal/core"
)

func testEngine(now time.Time) *Engine {
	return &Engine{now: func() time.Time { return now }}
}

func mustConfig(t *testing.T, cfg map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %s", err)
	}
	return raw
}

func TestHandleConditionSkipsUnselectedBranch(t *testing.T) {
	e := testEngine(time.Now())
	step := &core.WorkflowStep{
		StepName: "check_amount",
		StepType: core.StepCondition,
		StepConfig: mustConfig(t, map[string]any{
			"condition":   "amount > 1000",
			"true_steps":  []string{"fast_track"},
			"false_steps": []string{"manager_approval", "cfo_approval"},
		}),
	}

	res, err := e.handleCondition(step, map[string]any{"amount": 5000.0})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.output["condition_met"] != true {
		t.Errorf("expected condition_met true, got %v", res.output["condition_met"])
	}
	if len(res.skipSteps) != 2 || res.skipSteps[0] != "manager_approval" {
		t.Errorf("expected false branch skipped, got %v", res.skipSteps)
	}

	res, err = e.handleCondition(step, map[string]any{"amount": 100.0})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.output["condition_met"] != false {
		t.Errorf("expected condition_met false, got %v", res.output["condition_met"])
	}
	if len(res.skipSteps) != 1 || res.skipSteps[0] != "fast_track" {
		t.Errorf("expected true branch skipped, got %v", res.skipSteps)
	}
}

func TestHandleConditionBadExpression(t *testing.T) {
	e := testEngine(time.Now())
	step := &core.WorkflowStep{
		StepName:   "bad",
		StepConfig: mustConfig(t, map[string]any{"condition": "import('os')"}),
	}
	if _, err := e.handleCondition(step, nil); err == nil {
		t.Fatal("expected unsafe condition to be rejected")
	}
}

func TestHandleLoop(t *testing.T) {
	e := testEngine(time.Now())
	step := &core.WorkflowStep{
		StepName: "line_totals",
		StepConfig: mustConfig(t, map[string]any{
			"items":   []any{10.0, 20.0, 30.0},
			"formula": "item * rate",
		}),
	}
	res, err := e.handleLoop(step, map[string]any{"rate": 2.0})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.output["iterations"] != 3 {
		t.Errorf("expected 3 iterations, got %v", res.output["iterations"])
	}
	results, ok := res.output["results"].([]any)
	if !ok || len(results) != 3 {
		t.Fatalf("expected 3 results, got %v", res.output["results"])
	}
	if results[2] != 60.0 {
		t.Errorf("expected 60, got %v", results[2])
	}
}

func TestHandleLoopCountOnly(t *testing.T) {
	e := testEngine(time.Now())
	step := &core.WorkflowStep{
		StepName:   "repeat",
		StepConfig: mustConfig(t, map[string]any{"count": 4}),
	}
	res, err := e.handleLoop(step, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.output["iterations"] != 4 {
		t.Errorf("expected 4 iterations, got %v", res.output["iterations"])
	}
}

func TestHandleWaitParksForFutureTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e := testEngine(now)
	step := &core.WorkflowStep{
		StepName:   "cool_off",
		StepConfig: mustConfig(t, map[string]any{"duration_minutes": 30}),
	}
	res, err := e.handleWait(step)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.outcome != outcomeParked {
		t.Fatalf("expected parked outcome, got %v", res.outcome)
	}
	if want := now.Add(30 * time.Minute); !res.resumeAt.Equal(want) {
		t.Errorf("expected resume at %s, got %s", want, res.resumeAt)
	}
}

func TestHandleWaitKeepsPersistedResumeTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e := testEngine(now)
	future := now.Add(10 * time.Minute)
	step := &core.WorkflowStep{
		StepName:   "cool_off",
		ResumeAt:   &future,
		StepConfig: mustConfig(t, map[string]any{"duration_minutes": 30}),
	}
	res, err := e.handleWait(step)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.outcome != outcomeParked {
		t.Fatalf("expected parked outcome, got %v", res.outcome)
	}
	if !res.resumeAt.Equal(future) {
		t.Errorf("expected resume at %s, got %s", future, res.resumeAt)
	}
}

func TestHandleWaitCompletesWhenDue(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e := testEngine(now)
	past := now.Add(-time.Minute)
	step := &core.WorkflowStep{
		StepName:   "cool_off",
		ResumeAt:   &past,
		StepConfig: mustConfig(t, map[string]any{"duration_minutes": 30}),
	}
	res, err := e.handleWait(step)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.outcome != outcomeCompleted {
		t.Fatalf("expected completed outcome, got %v", res.outcome)
	}
}

func TestHandleScript(t *testing.T) {
	e := testEngine(time.Now())
	step := &core.WorkflowStep{
		StepName: "compute_charge",
		StepConfig: mustConfig(t, map[string]any{
			"script": "subtotal = quantity * unit_price\ntotal = subtotal * 1.1",
		}),
	}
	res, err := e.handleScript(step, map[string]any{"quantity": 3.0, "unit_price": 100.0})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.output["subtotal"] != 300.0 {
		t.Errorf("expected subtotal 300, got %v", res.output["subtotal"])
	}
	total, _ := res.output["total"].(float64)
	if total < 329.99 || total > 330.01 {
		t.Errorf("expected total ~330, got %v", total)
	}
}

func TestHandleApprovalAutoApproveBelowThreshold(t *testing.T) {
	e := testEngine(time.Now())
	threshold := 1000.0
	impact := 250.0
	def := core.WorkflowDefinition{ApprovalThreshold: &threshold}
	exec := &core.WorkflowExecution{FinancialImpact: &impact}
	step := &core.WorkflowStep{StepName: "manager_approval", AssignedTo: "manager"}

	res, err := e.handleApproval(def, exec, step)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.outcome != outcomeCompleted {
		t.Fatalf("expected auto-approve, got outcome %v", res.outcome)
	}
	if res.output["auto_approved"] != true {
		t.Errorf("expected auto_approved, got %v", res.output)
	}
}

func TestHandleApprovalParksAboveThreshold(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e := testEngine(now)
	threshold := 1000.0
	impact := 25000.0
	def := core.WorkflowDefinition{ApprovalThreshold: &threshold}
	exec := &core.WorkflowExecution{FinancialImpact: &impact}
	step := &core.WorkflowStep{
		StepName:   "manager_approval",
		AssignedTo: "manager",
		StepConfig: mustConfig(t, map[string]any{"deadline_hours": 48}),
	}

	res, err := e.handleApproval(def, exec, step)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.outcome != outcomeWaitingApproval {
		t.Fatalf("expected waiting approval, got outcome %v", res.outcome)
	}
	if res.assignee != "manager" {
		t.Errorf("expected assignee manager, got %q", res.assignee)
	}
	if res.deadline == nil || !res.deadline.Equal(now.Add(48*time.Hour)) {
		t.Errorf("unexpected deadline %v", res.deadline)
	}
}

func TestHandleApprovalNoAssignee(t *testing.T) {
	e := testEngine(time.Now())
	step := &core.WorkflowStep{StepName: "orphan_approval"}
	if _, err := e.handleApproval(core.WorkflowDefinition{}, &core.WorkflowExecution{}, step); err == nil {
		t.Fatal("expected error for approval without assignee")
	}
}

func TestRenderTemplate(t *testing.T) {
	vars := map[string]any{"total": 330.0, "customer": "acme"}
	got := renderTemplate("Charged {{customer}} a total of {{total}}", vars)
	if got != "Charged acme a total of 330" {
		t.Errorf("unexpected render: %q", got)
	}
	if renderTemplate("no placeholders", vars) != "no placeholders" {
		t.Error("plain strings must pass through")
	}
}

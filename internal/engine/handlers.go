package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flowtrail/flowtrail/internal/audit"
	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/expr"
	"github.com/flowtrail/flowtrail/internal/notify"
)

type stepOutcome int

const (
	outcomeCompleted stepOutcome = iota
	outcomeWaitingApproval
	outcomeParked
)

type stepResult struct {
	outcome   stepOutcome
	output    map[string]any
	assignee  string
	deadline  *time.Time
	resumeAt  time.Time
	skipSteps []string
}

func completed(output map[string]any) stepResult {
	return stepResult{outcome: outcomeCompleted, output: output}
}

// executeStep dispatches on the closed step-type set. Definitions with
// unknown types are rejected at start, so the default arm is a bug trap.
func (e *Engine) executeStep(ctx context.Context, def core.WorkflowDefinition, exec *core.WorkflowExecution, step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	switch step.StepType {
	case core.StepApproval:
		return e.handleApproval(def, exec, step)
	case core.StepNotify:
		return e.handleNotification(ctx, exec, step, input)
	case core.StepCalculation:
		return e.handleCalculation(ctx, exec, step, input)
	case core.StepDataUpdate:
		return e.handleDataUpdate(ctx, exec, step)
	case core.StepExternalAPI:
		return e.handleExternalAPI(ctx, step, input)
	case core.StepCondition:
		return e.handleCondition(step, input)
	case core.StepLoop:
		return e.handleLoop(step, input)
	case core.StepWait:
		return e.handleWait(step)
	case core.StepHumanTask:
		return e.handleHumanTask(step)
	case core.StepScript:
		return e.handleScript(step, input)
	case core.StepEmail:
		return e.handleEmail(ctx, exec, step, input)
	case core.StepReport:
		return e.handleReport(ctx, exec, step)
	case core.StepIntegration:
		return e.handleIntegration(ctx, exec, step)
	default:
		return stepResult{}, fmt.Errorf("no handler for step type %q", step.StepType)
	}
}

// APPROVAL auto-approves below the definition threshold, otherwise the
// step parks until a human resolves it.
func (e *Engine) handleApproval(def core.WorkflowDefinition, exec *core.WorkflowExecution, step *core.WorkflowStep) (stepResult, error) {
	var cfg struct {
		Approver      string  `json:"approver"`
		DeadlineHours float64 `json:"deadline_hours"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}

	if def.ApprovalThreshold != nil && exec.FinancialImpact != nil &&
		*exec.FinancialImpact < *def.ApprovalThreshold {
		return completed(map[string]any{
			"approved":      true,
			"auto_approved": true,
		}), nil
	}

	assignee := step.AssignedTo
	if assignee == "" {
		assignee = cfg.Approver
	}
	if assignee == "" {
		return stepResult{}, fmt.Errorf("approval step %q has no assignee", step.StepName)
	}
	res := stepResult{outcome: outcomeWaitingApproval, assignee: assignee}
	if cfg.DeadlineHours > 0 {
		d := e.now().Add(time.Duration(cfg.DeadlineHours * float64(time.Hour)))
		res.deadline = &d
	}
	return res, nil
}

// NOTIFICATION is best-effort: delivery failure never fails the step.
func (e *Engine) handleNotification(ctx context.Context, exec *core.WorkflowExecution, step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	var cfg struct {
		Recipient string `json:"recipient"`
		Subject   string `json:"subject"`
		Message   string `json:"message"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	recipient := cfg.Recipient
	if recipient == "" {
		recipient = exec.TriggeredBy
	}
	if recipient == "" {
		return completed(map[string]any{"notified": false}), nil
	}
	e.notify(ctx, recipient,
		renderTemplate(cfg.Subject, input),
		renderTemplate(cfg.Message, input))
	return completed(map[string]any{"notified": recipient}), nil
}

// CALCULATION evaluates a formula, or one of the builtin lookups, over
// the step input.
func (e *Engine) handleCalculation(ctx context.Context, exec *core.WorkflowExecution, step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	var cfg struct {
		Formula        string `json:"formula"`
		Builtin        string `json:"builtin"`
		OutputVariable string `json:"output_variable"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	name := cfg.OutputVariable
	if name == "" {
		name = "result"
	}

	if cfg.Builtin != "" {
		switch cfg.Builtin {
		case "object_amount":
			if exec.RelatedObjectID == "" {
				return stepResult{}, fmt.Errorf("builtin %q needs a related object", cfg.Builtin)
			}
			obj, err := e.queries.GetBusinessObject(ctx, exec.RelatedObjectID)
			if err != nil {
				return stepResult{}, fmt.Errorf("load business object: %w", err)
			}
			var amount float64
			if obj.Amount != nil {
				amount = *obj.Amount
			}
			return completed(map[string]any{name: amount}), nil
		default:
			return stepResult{}, fmt.Errorf("unknown builtin calculation %q", cfg.Builtin)
		}
	}

	if cfg.Formula == "" {
		return stepResult{}, fmt.Errorf("calculation step %q has no formula", step.StepName)
	}
	v, err := expr.Eval(cfg.Formula, input)
	if err != nil {
		return stepResult{}, fmt.Errorf("evaluate formula: %w", err)
	}
	return completed(map[string]any{name: v}), nil
}

// DATA_UPDATE merges attributes into a business object.
func (e *Engine) handleDataUpdate(ctx context.Context, exec *core.WorkflowExecution, step *core.WorkflowStep) (stepResult, error) {
	var cfg struct {
		ObjectID string         `json:"object_id"`
		Updates  map[string]any `json:"updates"`
		Status   string         `json:"status"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	objectID := cfg.ObjectID
	if objectID == "" {
		objectID = exec.RelatedObjectID
	}
	if objectID == "" {
		return stepResult{}, fmt.Errorf("data update step %q has no target object", step.StepName)
	}
	attrs, err := json.Marshal(cfg.Updates)
	if err != nil {
		return stepResult{}, fmt.Errorf("encode updates: %w", err)
	}
	obj, err := e.queries.MergeObjectAttributes(ctx, objectID, attrs, cfg.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stepResult{}, fmt.Errorf("business object %q not found", objectID)
		}
		return stepResult{}, fmt.Errorf("update business object: %w", err)
	}
	return completed(map[string]any{
		"updated_object": obj.ObjectID,
		"object_status":  obj.Status,
	}), nil
}

// EXTERNAL_API calls out over HTTP. 5xx responses and timeouts are
// returned as errors so the retry policy applies.
func (e *Engine) handleExternalAPI(ctx context.Context, step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	var cfg struct {
		URL            string            `json:"url"`
		Method         string            `json:"method"`
		Headers        map[string]string `json:"headers"`
		Body           json.RawMessage   `json:"body"`
		TimeoutSeconds float64           `json:"timeout_seconds"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	if cfg.URL == "" {
		return stepResult{}, fmt.Errorf("external api step %q has no url", step.StepName)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, renderTemplate(cfg.URL, input), body)
	if err != nil {
		return stepResult{}, fmt.Errorf("build request: %w", err)
	}
	if len(cfg.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return stepResult{}, core.NewAppError(core.ErrUpstreamTimeout,
				fmt.Sprintf("call to %s timed out", cfg.URL))
		}
		return stepResult{}, fmt.Errorf("call %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 500 {
		return stepResult{}, core.NewAppError(core.ErrUpstreamError,
			fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}
	return completed(map[string]any{
		"status_code": resp.StatusCode,
		"response":    string(respBody),
	}), nil
}

// CONDITION evaluates a predicate and skips the still-pending steps of
// the branch that was not taken.
func (e *Engine) handleCondition(step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	var cfg struct {
		Condition  string   `json:"condition"`
		TrueSteps  []string `json:"true_steps"`
		FalseSteps []string `json:"false_steps"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	if cfg.Condition == "" {
		return stepResult{}, fmt.Errorf("condition step %q has no condition", step.StepName)
	}
	met, err := expr.EvalBool(cfg.Condition, input)
	if err != nil {
		return stepResult{}, fmt.Errorf("evaluate condition: %w", err)
	}
	res := completed(map[string]any{"condition_met": met})
	if met {
		res.skipSteps = cfg.FalseSteps
	} else {
		res.skipSteps = cfg.TrueSteps
	}
	return res, nil
}

// LOOP applies an optional formula per item, exposing item and index as
// variables.
func (e *Engine) handleLoop(step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	var cfg struct {
		Items   []any  `json:"items"`
		Count   int    `json:"count"`
		Formula string `json:"formula"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	items := cfg.Items
	if items == nil && cfg.Count > 0 {
		items = make([]any, cfg.Count)
		for i := range items {
			items[i] = float64(i)
		}
	}
	if len(items) == 0 {
		return completed(map[string]any{"iterations": 0}), nil
	}

	var results []any
	for i, item := range items {
		if cfg.Formula == "" {
			continue
		}
		vars := make(map[string]any, len(input)+2)
		for k, v := range input {
			vars[k] = v
		}
		vars["item"] = item
		vars["index"] = float64(i)
		v, err := expr.Eval(cfg.Formula, vars)
		if err != nil {
			return stepResult{}, fmt.Errorf("loop iteration %d: %w", i, err)
		}
		results = append(results, v)
	}
	out := map[string]any{"iterations": len(items)}
	if results != nil {
		out["results"] = results
	}
	return completed(out), nil
}

// WAIT parks the step until the configured time. A step that comes back
// with its resume time already reached completes immediately, which
// makes the worker's re-run idempotent. A persisted resume time that is
// still in the future is kept as-is, so a manual resume does not
// restart a duration-based timer.
func (e *Engine) handleWait(step *core.WorkflowStep) (stepResult, error) {
	if step.ResumeAt != nil {
		if !e.now().Before(*step.ResumeAt) {
			return completed(map[string]any{
				"waited_until": step.ResumeAt.UTC().Format(time.RFC3339),
			}), nil
		}
		return stepResult{outcome: outcomeParked, resumeAt: *step.ResumeAt}, nil
	}

	var cfg struct {
		DurationMinutes float64 `json:"duration_minutes"`
		Until           string  `json:"until"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	var resumeAt time.Time
	switch {
	case cfg.Until != "":
		t, err := time.Parse(time.RFC3339, cfg.Until)
		if err != nil {
			return stepResult{}, fmt.Errorf("parse wait until: %w", err)
		}
		resumeAt = t
	case cfg.DurationMinutes > 0:
		resumeAt = e.now().Add(time.Duration(cfg.DurationMinutes * float64(time.Minute)))
	default:
		return stepResult{}, fmt.Errorf("wait step %q has no duration", step.StepName)
	}
	if !e.now().Before(resumeAt) {
		return completed(map[string]any{
			"waited_until": resumeAt.UTC().Format(time.RFC3339),
		}), nil
	}
	return stepResult{outcome: outcomeParked, resumeAt: resumeAt}, nil
}

// HUMAN_TASK always needs a person; there is no auto-complete path.
func (e *Engine) handleHumanTask(step *core.WorkflowStep) (stepResult, error) {
	var cfg struct {
		Assignee      string  `json:"assignee"`
		Instructions  string  `json:"instructions"`
		DeadlineHours float64 `json:"deadline_hours"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	assignee := step.AssignedTo
	if assignee == "" {
		assignee = cfg.Assignee
	}
	if assignee == "" {
		return stepResult{}, fmt.Errorf("human task %q has no assignee", step.StepName)
	}
	res := stepResult{
		outcome:  outcomeWaitingApproval,
		assignee: assignee,
		output:   map[string]any{"instructions": cfg.Instructions},
	}
	if cfg.DeadlineHours > 0 {
		d := e.now().Add(time.Duration(cfg.DeadlineHours * float64(time.Hour)))
		res.deadline = &d
	}
	return res, nil
}

// SCRIPT runs a line-oriented assignment script; its assignments become
// the step output.
func (e *Engine) handleScript(step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	var cfg struct {
		Script string `json:"script"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	if cfg.Script == "" {
		return stepResult{}, fmt.Errorf("script step %q has no script", step.StepName)
	}
	outputs, err := expr.RunScript(cfg.Script, input)
	if err != nil {
		return stepResult{}, fmt.Errorf("run script: %w", err)
	}
	return completed(outputs), nil
}

// EMAIL delivers through the configured sender; unlike NOTIFICATION the
// delivery is the point of the step, so failures are retryable errors.
func (e *Engine) handleEmail(ctx context.Context, exec *core.WorkflowExecution, step *core.WorkflowStep, input map[string]any) (stepResult, error) {
	var cfg struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	to := cfg.To
	if to == "" {
		to = exec.TriggeredBy
	}
	if to == "" {
		return stepResult{}, fmt.Errorf("email step %q has no recipient", step.StepName)
	}
	if e.sender == nil {
		return stepResult{}, fmt.Errorf("no email sender configured")
	}
	msg := notify.Message{
		Recipient: to,
		Subject:   renderTemplate(cfg.Subject, input),
		Body:      renderTemplate(cfg.Body, input),
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		return stepResult{}, fmt.Errorf("send email: %w", err)
	}
	return completed(map[string]any{"emailed": to}), nil
}

// REPORT produces either an audit summary or a snapshot of this
// execution's own progress.
func (e *Engine) handleReport(ctx context.Context, exec *core.WorkflowExecution, step *core.WorkflowStep) (stepResult, error) {
	var cfg struct {
		ReportType string `json:"report_type"`
		PeriodDays int    `json:"period_days"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	switch cfg.ReportType {
	case "audit_summary":
		days := cfg.PeriodDays
		if days <= 0 {
			days = 30
		}
		to := e.now()
		sum, err := e.audit.GenerateSummary(ctx, to.AddDate(0, 0, -days), to)
		if err != nil {
			return stepResult{}, fmt.Errorf("generate audit summary: %w", err)
		}
		return completed(map[string]any{
			"report_type":       "audit_summary",
			"total_events":      sum.TotalEvents,
			"compliance_events": sum.ComplianceEvents,
			"generated_at":      to.UTC().Format(time.RFC3339),
		}), nil
	case "execution_summary", "":
		fresh, err := e.queries.GetExecution(ctx, exec.ExecutionID)
		if err != nil {
			return stepResult{}, fmt.Errorf("load execution: %w", err)
		}
		return completed(map[string]any{
			"report_type":     "execution_summary",
			"total_steps":     fresh.TotalSteps,
			"completed_steps": fresh.CompletedSteps,
			"generated_at":    e.now().UTC().Format(time.RFC3339),
		}), nil
	default:
		return stepResult{}, fmt.Errorf("unknown report type %q", cfg.ReportType)
	}
}

// INTEGRATION records an outbound sync of the related business object
// and stamps the object with the sync time.
func (e *Engine) handleIntegration(ctx context.Context, exec *core.WorkflowExecution, step *core.WorkflowStep) (stepResult, error) {
	var cfg struct {
		System    string `json:"system"`
		Operation string `json:"operation"`
	}
	if err := decodeConfig(step.StepConfig, &cfg); err != nil {
		return stepResult{}, err
	}
	if cfg.System == "" {
		return stepResult{}, fmt.Errorf("integration step %q has no target system", step.StepName)
	}
	operation := cfg.Operation
	if operation == "" {
		operation = "sync"
	}

	if exec.RelatedObjectID != "" {
		stamp := fmt.Sprintf(`{"last_synced_%s": %q}`,
			strings.ToLower(cfg.System), e.now().UTC().Format(time.RFC3339))
		if _, err := e.queries.MergeObjectAttributes(ctx, exec.RelatedObjectID, []byte(stamp), ""); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return stepResult{}, fmt.Errorf("stamp business object: %w", err)
			}
		}
	}

	e.recordAudit(ctx, audit.Entry{
		ActionType:        core.ActionSync,
		Actor:             core.Actor{ID: "engine", Name: "workflow engine"},
		ObjectType:        exec.RelatedObjectType,
		ObjectID:          exec.RelatedObjectID,
		Description:       fmt.Sprintf("%s %s via %s", operation, exec.RelatedObjectType, cfg.System),
		SourceSystem:      cfg.System,
		ExternalReference: exec.ExecutionID,
	})
	return completed(map[string]any{
		"system": cfg.System,
		"synced": true,
	}), nil
}

func decodeConfig(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode step config: %w", err)
	}
	return nil
}

// renderTemplate substitutes {{name}} placeholders with input values.
func renderTemplate(s string, vars map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", fmt.Sprint(v))
	}
	return s
}

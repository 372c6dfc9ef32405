package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/engine"
	"github.com/flowtrail/flowtrail/internal/store"
)

type StartExecutionRequest struct {
	TriggeredBy       string          `json:"triggered_by"`
	TriggerEvent      string          `json:"trigger_event"`
	TriggerData       json.RawMessage `json:"trigger_data"`
	InputData         json.RawMessage `json:"input_data"`
	RelatedObjectType string          `json:"related_object_type"`
	RelatedObjectID   string          `json:"related_object_id"`
	FinancialImpact   *float64        `json:"financial_impact"`
	CurrencyCode      string          `json:"currency_code"`
}

// StartExecution starts a workflow run. The Idempotency-Key header is
// required; retries with the same key and body get the original
// execution back.
func (a *API) StartExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	definitionID := chi.URLParam(r, "definition_id")

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "Idempotency-Key header required"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "failed to read request body"))
		return
	}
	var req StartExecutionRequest
	if len(body) > 0 {
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
			WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
			return
		}
	}
	requestHash := core.ComputeRequestHash(body, "POST", "/v1/definitions/"+definitionID+"/executions")

	exec, err := a.engine.StartWorkflow(ctx, engine.StartParams{
		DefinitionID:      definitionID,
		TriggeredBy:       req.TriggeredBy,
		TriggerEvent:      req.TriggerEvent,
		TriggerData:       req.TriggerData,
		InputData:         req.InputData,
		IdempotencyKey:    idempotencyKey,
		RequestHash:       requestHash,
		RelatedObjectType: req.RelatedObjectType,
		RelatedObjectID:   req.RelatedObjectID,
		FinancialImpact:   req.FinancialImpact,
		CurrencyCode:      req.CurrencyCode,
	})
	if err != nil {
		a.writeAppErr(w, err, "failed to start execution")
		return
	}

	if exec.Status == core.ExecutionPending {
		a.engine.RunAsync(exec.ExecutionID)
	}
	WriteAccepted(w, exec.ExecutionID, "/v1/executions/")
}

// ListExecutions lists executions with filters.
func (a *API) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)

	execs, err := a.queries.ListExecutions(ctx, store.ListExecutionsParams{
		DefinitionID: r.URL.Query().Get("definition_id"),
		Status:       r.URL.Query().Get("status"),
		TriggeredBy:  r.URL.Query().Get("triggered_by"),
		Limit:        int32(limit),
		Cursor:       parseCursor(r.URL.Query().Get("cursor")),
	})
	if err != nil {
		a.log.Error("list executions failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list executions"))
		return
	}

	var nextCursor string
	if len(execs) == limit {
		nextCursor = encodeCursor(execs[len(execs)-1].CreatedAt)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"executions":  execs,
		"next_cursor": nextCursor,
	})
}

// GetExecution gets a single execution by id.
func (a *API) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exec, err := a.queries.GetExecution(ctx, chi.URLParam(r, "execution_id"))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrNotFound, "execution not found"))
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

// ListExecutionSteps lists an execution's steps in order.
func (a *API) ListExecutionSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "execution_id")

	if _, err := a.queries.GetExecution(ctx, executionID); err != nil {
		WriteError(w, core.NewAppError(core.ErrNotFound, "execution not found"))
		return
	}
	steps, err := a.queries.ListSteps(ctx, executionID)
	if err != nil {
		a.log.Error("list steps failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list steps"))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelExecution cancels a pending or running execution.
func (a *API) CancelExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "execution_id")

	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	exec, err := a.engine.CancelWorkflow(ctx, executionID, r.Header.Get("X-Actor-ID"), req.Reason)
	if err != nil {
		a.writeAppErr(w, err, "failed to cancel execution")
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

// PauseExecution suspends a running execution between steps.
func (a *API) PauseExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exec, err := a.engine.PauseWorkflow(ctx, chi.URLParam(r, "execution_id"), r.Header.Get("X-Actor-ID"))
	if err != nil {
		a.writeAppErr(w, err, "failed to pause execution")
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

// ResumeExecution continues a paused execution.
func (a *API) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exec, err := a.engine.ResumeWorkflow(ctx, chi.URLParam(r, "execution_id"), r.Header.Get("X-Actor-ID"))
	if err != nil {
		a.writeAppErr(w, err, "failed to resume execution")
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

type approvalRequest struct {
	ApprovedBy string `json:"approved_by"`
	Comments   string `json:"comments"`
}

// ApproveStep resolves a waiting approval positively.
func (a *API) ApproveStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID := chi.URLParam(r, "step_id")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.ApprovedBy == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "approved_by is required"))
		return
	}

	step, err := a.engine.ApproveStep(ctx, stepID, req.ApprovedBy, req.Comments)
	if err != nil {
		a.writeAppErr(w, err, "failed to approve step")
		return
	}
	WriteJSON(w, http.StatusOK, step)
}

// RejectStep resolves a waiting approval negatively and fails the
// execution.
func (a *API) RejectStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID := chi.URLParam(r, "step_id")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.ApprovedBy == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "approved_by is required"))
		return
	}

	step, err := a.engine.RejectStep(ctx, stepID, req.ApprovedBy, req.Comments)
	if err != nil {
		a.writeAppErr(w, err, "failed to reject step")
		return
	}
	WriteJSON(w, http.StatusOK, step)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/audit"
	"github.com/flowtrail/flowtrail/internal/core"
	"github.com/flowtrail/flowtrail/internal/store"
)

type CreateDefinitionRequest struct {
	Name                    string          `json:"name"`
	Description             string          `json:"description"`
	WorkflowType            string          `json:"workflow_type"`
	Version                 string          `json:"version"`
	TriggerType             string          `json:"trigger_type"`
	TriggerConditions       json.RawMessage `json:"trigger_conditions"`
	Steps                   []core.StepSpec `json:"steps"`
	Variables               json.RawMessage `json:"variables"`
	TimeoutMinutes          int             `json:"timeout_minutes"`
	MaxConcurrentExecutions int             `json:"max_concurrent_executions"`
	RetryAttempts           int             `json:"retry_attempts"`
	RequiresApproval        bool            `json:"requires_approval"`
	ApprovalThreshold       *float64        `json:"approval_threshold"`
	NotificationSettings    json.RawMessage `json:"notification_settings"`
	IsTemplate              bool            `json:"is_template"`
}

func (req *CreateDefinitionRequest) validate() *core.AppError {
	if req.Name == "" {
		return core.NewAppError(core.ErrBadRequest, "name is required")
	}
	if req.WorkflowType == "" {
		return core.NewAppError(core.ErrBadRequest, "workflow_type is required")
	}
	if len(req.Steps) == 0 {
		return core.NewAppError(core.ErrBadRequest, "at least one step is required")
	}
	seen := make(map[string]bool, len(req.Steps))
	for _, s := range req.Steps {
		if s.Name == "" {
			return core.NewAppError(core.ErrBadRequest, "every step needs a name")
		}
		if seen[s.Name] {
			return core.NewAppError(core.ErrBadRequest, "duplicate step name "+s.Name)
		}
		seen[s.Name] = true
		if !core.ValidStepType(s.Type) {
			return core.NewAppError(core.ErrBadRequest, "unknown step type "+string(s.Type))
		}
	}
	return nil
}

func (req *CreateDefinitionRequest) toDefinition() core.WorkflowDefinition {
	version := req.Version
	if version == "" {
		version = "1.0"
	}
	trigger := core.TriggerType(req.TriggerType)
	if trigger == "" {
		trigger = core.TriggerManual
	}
	retries := req.RetryAttempts
	if retries == 0 {
		retries = core.DefaultRetryAttempts
	}
	return core.WorkflowDefinition{
		DefinitionID:            core.NewID(),
		Name:                    req.Name,
		Description:             req.Description,
		WorkflowType:            core.WorkflowType(req.WorkflowType),
		Version:                 version,
		TriggerType:             trigger,
		TriggerConditions:       req.TriggerConditions,
		StepsDefinition:         req.Steps,
		Variables:               req.Variables,
		TimeoutMinutes:          req.TimeoutMinutes,
		MaxConcurrentExecutions: req.MaxConcurrentExecutions,
		RetryAttempts:           retries,
		RequiresApproval:        req.RequiresApproval,
		ApprovalThreshold:       req.ApprovalThreshold,
		NotificationSettings:    req.NotificationSettings,
		IsActive:                true,
		IsTemplate:              req.IsTemplate,
	}
}

// ListDefinitions lists workflow definitions with pagination.
func (a *API) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)

	defs, err := a.queries.ListDefinitions(ctx, store.ListDefinitionsParams{
		Limit:        int32(limit),
		Cursor:       parseCursor(r.URL.Query().Get("cursor")),
		ActiveOnly:   r.URL.Query().Get("active") == "true",
		WorkflowType: r.URL.Query().Get("workflow_type"),
	})
	if err != nil {
		a.log.Error("list definitions failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list definitions"))
		return
	}

	var nextCursor string
	if len(defs) == limit {
		nextCursor = encodeCursor(defs[len(defs)-1].CreatedAt)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"definitions": defs,
		"next_cursor": nextCursor,
	})
}

// GetDefinition gets a single definition by id.
func (a *API) GetDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def, err := a.queries.GetDefinition(ctx, chi.URLParam(r, "definition_id"))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrNotFound, "definition not found"))
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// CreateDefinition creates a new workflow definition.
func (a *API) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if appErr := req.validate(); appErr != nil {
		WriteError(w, appErr)
		return
	}

	def, err := a.queries.CreateDefinition(ctx, req.toDefinition())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			WriteError(w, core.NewAppError(core.ErrConflictExists, "a definition with this name and version already exists"))
			return
		}
		a.log.Error("create definition failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to create definition"))
		return
	}

	a.recordAudit(ctx, r, audit.Entry{
		ActionType:  core.ActionCreate,
		ObjectType:  "workflow_definition",
		ObjectID:    def.DefinitionID,
		ObjectRepr:  def.Name,
		Description: "created workflow definition " + def.Name,
	})
	WriteJSON(w, http.StatusCreated, def)
}

// DeactivateDefinition retires a definition. Existing executions keep
// running; new starts are refused.
func (a *API) DeactivateDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	definitionID := chi.URLParam(r, "definition_id")

	ok, err := a.queries.DeactivateDefinition(ctx, definitionID)
	if err != nil {
		a.log.Error("deactivate definition failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to deactivate definition"))
		return
	}
	if !ok {
		def, err := a.queries.GetDefinition(ctx, definitionID)
		if err != nil {
			WriteError(w, core.NewAppError(core.ErrNotFound, "definition not found"))
			return
		}
		// Already inactive, idempotent.
		WriteJSON(w, http.StatusOK, def)
		return
	}

	a.recordAudit(ctx, r, audit.Entry{
		ActionType:  core.ActionUpdate,
		ObjectType:  "workflow_definition",
		ObjectID:    definitionID,
		Description: "deactivated workflow definition",
	})
	def, _ := a.queries.GetDefinition(ctx, definitionID)
	WriteJSON(w, http.StatusOK, def)
}

type NewVersionRequest struct {
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Steps       []core.StepSpec `json:"steps"`
	Variables   json.RawMessage `json:"variables"`
}

// NewDefinitionVersion copies a definition into a new version row.
// Referenced definitions stay immutable; changes always land on a new
// version.
func (a *API) NewDefinitionVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	definitionID := chi.URLParam(r, "definition_id")

	base, err := a.queries.GetDefinition(ctx, definitionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			WriteError(w, core.NewAppError(core.ErrNotFound, "definition not found"))
			return
		}
		a.log.Error("load definition failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to load definition"))
		return
	}

	var req NewVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.Version == "" || req.Version == base.Version {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "a new version string is required"))
		return
	}

	next := base
	next.DefinitionID = core.NewID()
	next.Version = req.Version
	next.IsActive = true
	if req.Description != "" {
		next.Description = req.Description
	}
	if req.Steps != nil {
		check := CreateDefinitionRequest{Name: next.Name, WorkflowType: string(next.WorkflowType), Steps: req.Steps}
		if appErr := check.validate(); appErr != nil {
			WriteError(w, appErr)
			return
		}
		next.StepsDefinition = req.Steps
	}
	if req.Variables != nil {
		next.Variables = req.Variables
	}

	created, err := a.queries.CreateDefinition(ctx, next)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			WriteError(w, core.NewAppError(core.ErrConflictExists, "this version already exists"))
			return
		}
		a.log.Error("create version failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to create version"))
		return
	}

	a.recordAudit(ctx, r, audit.Entry{
		ActionType:  core.ActionUpdate,
		ObjectType:  "workflow_definition",
		ObjectID:    created.DefinitionID,
		ObjectRepr:  created.Name,
		Description: "created version " + created.Version + " of workflow " + created.Name,
	})
	WriteJSON(w, http.StatusCreated, created)
}

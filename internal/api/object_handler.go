package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/audit"
	"github.com/flowtrail/flowtrail/internal/core"
)

type UpsertObjectRequest struct {
	ObjectType      string          `json:"object_type"`
	ReferenceNumber string          `json:"reference_number"`
	Attributes      json.RawMessage `json:"attributes"`
	Amount          *float64        `json:"amount"`
	CurrencyCode    string          `json:"currency_code"`
	Status          string          `json:"status"`
}

func (req *UpsertObjectRequest) validate() *core.AppError {
	if req.ObjectType == "" {
		return core.NewAppError(core.ErrBadRequest, "object_type is required")
	}
	if len(req.Attributes) > 0 && !json.Valid(req.Attributes) {
		return core.NewAppError(core.ErrBadRequest, "attributes must be a JSON object")
	}
	return nil
}

// UpsertObject creates or replaces the business object a workflow acts
// on. Attributes merge shallowly on conflict; scalar fields win.
func (a *API) UpsertObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	objectID := chi.URLParam(r, "object_id")

	var req UpsertObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if appErr := req.validate(); appErr != nil {
		WriteError(w, appErr)
		return
	}

	obj, err := a.queries.UpsertBusinessObject(ctx, core.BusinessObject{
		ObjectID:        objectID,
		ObjectType:      req.ObjectType,
		ReferenceNumber: req.ReferenceNumber,
		Attributes:      req.Attributes,
		Amount:          req.Amount,
		CurrencyCode:    req.CurrencyCode,
		Status:          req.Status,
	})
	if err != nil {
		a.log.Error("upsert business object failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to upsert business object"))
		return
	}

	// created_at and updated_at share the transaction timestamp on a
	// fresh insert, so equality tells insert and update apart.
	action := core.ActionUpdate
	status := http.StatusOK
	if obj.UpdatedAt.Equal(obj.CreatedAt) {
		action = core.ActionCreate
		status = http.StatusCreated
	}

	a.recordAudit(ctx, r, audit.Entry{
		ActionType:      action,
		ObjectType:      obj.ObjectType,
		ObjectID:        obj.ObjectID,
		ObjectRepr:      obj.ReferenceNumber,
		Description:     "upserted business object " + obj.ObjectID,
		FinancialImpact: obj.Amount,
		CurrencyCode:    obj.CurrencyCode,
		ReferenceNumber: obj.ReferenceNumber,
	})
	WriteJSON(w, status, obj)
}

// GetObject returns a business object by id.
func (a *API) GetObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	obj, err := a.queries.GetBusinessObject(ctx, chi.URLParam(r, "object_id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			WriteError(w, core.NewAppError(core.ErrNotFound, "business object not found"))
			return
		}
		a.log.Error("get business object failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to load business object"))
		return
	}
	WriteJSON(w, http.StatusOK, obj)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/flowtrail/flowtrail/internal/core"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an error response from an AppError.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// writeAppErr maps an arbitrary error onto the envelope, falling back
// to FT_INTERNAL for anything that is not an AppError.
func (a *API) writeAppErr(w http.ResponseWriter, err error, fallback string) {
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		WriteError(w, appErr)
		return
	}
	a.log.Error(fallback, zap.Error(err))
	WriteError(w, core.NewAppError(core.ErrInternal, fallback))
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteAccepted writes a 202 Accepted response with an execution
// reference.
func WriteAccepted(w http.ResponseWriter, executionID string, path string) {
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"execution_id": executionID,
		"status":       string(core.ExecutionPending),
		"status_href":  path + executionID,
	})
}

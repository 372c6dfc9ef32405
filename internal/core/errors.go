package core

import "fmt"

type ErrorCode string

const (
	ErrBadRequest         ErrorCode = "FT_BAD_REQUEST"
	ErrNotFound           ErrorCode = "FT_NOT_FOUND"
	ErrConflictState      ErrorCode = "FT_CONFLICT_STATE"
	ErrConflictIdempotent ErrorCode = "FT_CONFLICT_IDEMPOTENT_MISMATCH"
	ErrConflictExists     ErrorCode = "FT_CONFLICT_EXISTS"
	ErrGone               ErrorCode = "FT_GONE"
	ErrPreconditionFailed ErrorCode = "FT_PRECONDITION_FAILED"
	ErrInternal           ErrorCode = "FT_INTERNAL"
	ErrStepFailed         ErrorCode = "FT_STEP_FAILED"
	ErrUpstreamError      ErrorCode = "FT_UPSTREAM_ERROR"
	ErrUpstreamTimeout    ErrorCode = "FT_UPSTREAM_TIMEOUT"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrNotFound:
		return 404
	case ErrConflictState, ErrConflictIdempotent, ErrConflictExists:
		return 409
	case ErrGone:
		return 410
	case ErrPreconditionFailed:
		return 412
	case ErrUpstreamError:
		return 502
	case ErrUpstreamTimeout:
		return 504
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

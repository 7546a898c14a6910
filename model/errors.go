package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Proposal-workflow error codes.
const (
	ErrStageNotOpen    = "STAGE_NOT_OPEN"
	ErrUnknownStage    = "UNKNOWN_STAGE"
	ErrIngestionFailed = "INGESTION_FAILED"
	ErrStaleIngestion  = "STALE_INGESTION"
	ErrBackendRejected = "BACKEND_REJECTED"
)

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsCode reports whether err is an ErrorEnvelope carrying the given code.
func IsCode(err error, code string) bool {
	var ee *ErrorEnvelope
	return errors.As(err, &ee) && ee.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The portal backend is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The portal backend did not respond in time",
	}
}

// NewBackendRejectedError wraps a success:false envelope from the portal
// backend. An empty server message is replaced by a generic one.
func NewBackendRejectedError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = "The portal backend rejected the request"
	}
	return &ErrorEnvelope{Code: ErrBackendRejected, Message: msg}
}

// NewStageNotOpenError returns a STAGE_NOT_OPEN error for the given state.
func NewStageNotOpenError(state StageState) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStageNotOpen,
		Message: fmt.Sprintf("stage is %s and accepts no changes", state),
	}
}

// NewUnknownStageError returns an UNKNOWN_STAGE error for an unrecognised tag.
func NewUnknownStageError(tag string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownStage,
		Message: fmt.Sprintf("stage type %q is not supported", tag),
	}
}

// NewIngestionFailedError returns an INGESTION_FAILED error.
func NewIngestionFailedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrIngestionFailed, Message: msg}
}

// NewStaleIngestionError returns a STALE_INGESTION error.
func NewStaleIngestionError(field string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStaleIngestion,
		Message: fmt.Sprintf("a newer upload for %q superseded this one", field),
	}
}

// Package transport is the HTTP surface of the BFF: the router, the
// middleware chain and the proposal, review and template handlers.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/hibah/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrStageNotOpen:       http.StatusConflict,
	model.ErrStaleIngestion:     http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:  http.StatusUnprocessableEntity,
	model.ErrUnknownStage:       http.StatusUnprocessableEntity,
	model.ErrIngestionFailed:    http.StatusUnprocessableEntity,
	model.ErrBackendRejected:    http.StatusUnprocessableEntity,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrInternalError:      http.StatusInternalServerError,
}

// retryAfter is the Retry-After hint, in seconds, sent with errors the
// client can resolve by simply trying again.
var retryAfter = map[string]string{
	model.ErrBackendUnavailable: "30",
	model.ErrBackendTimeout:     "5",
	model.ErrStaleIngestion:     "1",
}

// StatusFor returns the HTTP status for an error code. Unknown codes are
// treated as internal errors.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes the ErrorEnvelope found in err's chain. Anything that
// is not an envelope is reported as a generic internal error so backend
// and driver messages never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env == nil {
		env = model.NewInternalError()
	}
	if secs, ok := retryAfter[env.Code]; ok {
		w.Header().Set("Retry-After", secs)
	}
	WriteJSON(w, StatusFor(env.Code), errorResponse{Error: env})
}

// WriteValidationError writes a 422 with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}

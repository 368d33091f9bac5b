package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/warp/fee-ledger/ledger"
)

// =============================================================================
// ERROR RESPONSES
// =============================================================================

// Error codes returned alongside 4xx/5xx statuses. Conflict codes are the
// ledger.ConflictKind values (DuplicatePeriod, StaleVersion, AlreadyReversed).
const (
	CodeValidation      = "ValidationFailed"
	CodeRemarksRequired = "RemarksRequired"
	CodeNotFound        = "NotFound"
	CodeUnavailable     = "StorageUnavailable"
	CodeUnauthorized    = "Unauthorized"
	CodeBadRequest      = "BadRequest"
	CodeInternal        = "InternalError"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

// FieldErrorDTO names one invalid input field.
type FieldErrorDTO struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a domain error to its HTTP status. Unclassified errors are
// logged and reported as 500 without details.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *ledger.ValidationError
		conflict *ledger.ConflictError
		notFound *ledger.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		code := CodeValidation
		if errors.Is(err, ledger.ErrRemarksRequired) {
			code = CodeRemarksRequired
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "Validation failed",
			Code:   code,
			Fields: fieldErrors(verr.Fields),
		})

	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: conflict.Error(),
			Code:  string(conflict.Kind),
		})

	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: notFound.Error(),
			Code:  CodeNotFound,
		})

	case ledger.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("storage unavailable")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "The ledger is busy, please retry",
			Code:  CodeUnavailable,
		})

	default:
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Internal server error",
			Code:  CodeInternal,
		})
	}
}

func fieldErrors(fields []ledger.FieldError) []FieldErrorDTO {
	out := make([]FieldErrorDTO, len(fields))
	for i, f := range fields {
		out[i] = FieldErrorDTO{Name: f.Name, Message: f.Message}
	}
	return out
}

// Package errors carries the application error taxonomy shared by the CLI
// and the HTTP facade. CLI paths render AppError envelopes on stderr and
// map them to foundry exit codes; HTTP handlers call RespondWithError,
// which maps engine, tracker, and validation failures onto stable wire
// codes.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/tracker"
)

// Wire error codes surfaced in HTTP responses and preflight records.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeEngineUnavailable  = "ENGINE_UNAVAILABLE"
	CodeTrackerUnavailable = "TRACKER_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the JSON error body returned by every gostudio
// HTTP endpoint.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// HTTPErrorDetail carries the code, human message, and optional context
// for one failed request.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// AppError is an error with an attached wire code and HTTP status. The
// zero Status maps to 500.
type AppError struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	RequestID string
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Envelope renders the error as a gofulmen error envelope for structured
// CLI output and logs.
func (e *AppError) Envelope() *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if e.RequestID != "" {
		env = env.WithCorrelationID(e.RequestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// NewValidationError reports a rejected input. Details may carry
// field-level context and may be nil.
func NewValidationError(message string, details map[string]interface{}) error {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Status:  http.StatusBadRequest,
		Details: details,
	}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) error {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// NewMethodNotAllowedError reports an unsupported HTTP method.
func NewMethodNotAllowedError(message string) error {
	return &AppError{Code: CodeMethodNotAllowed, Message: message, Status: http.StatusMethodNotAllowed}
}

// NewExternalServiceError reports a dependency outage where the caller
// does not know (or care) which backend failed.
func NewExternalServiceError(message string) error {
	return &AppError{Code: CodeExternalService, Message: message, Status: http.StatusBadGateway}
}

// WrapInternal wraps an unexpected failure, stamping the request ID from
// ctx when one is present.
func WrapInternal(ctx context.Context, err error, message string) error {
	return &AppError{
		Code:      CodeInternal,
		Message:   message,
		Status:    http.StatusInternalServerError,
		RequestID: chimiddleware.GetReqID(ctx),
		Err:       err,
	}
}

// RespondWithError writes the JSON error body for err, classifying engine
// and tracker failures onto their wire codes.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if detail.RequestID == "" {
		detail.RequestID = chimiddleware.GetReqID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: detail})
}

func classify(err error) (int, HTTPErrorDetail) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, HTTPErrorDetail{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: appErr.RequestID,
		}
	}

	switch {
	case engine.IsPromptRejected(err), engine.IsUploadRejected(err):
		return http.StatusBadRequest, HTTPErrorDetail{Code: CodeValidation, Message: err.Error()}
	case engine.IsUnavailable(err), engine.IsHistoryUnavailable(err):
		return http.StatusBadGateway, HTTPErrorDetail{Code: CodeEngineUnavailable, Message: err.Error()}
	case tracker.IsUnavailable(err), tracker.IsMalformed(err):
		return http.StatusBadGateway, HTTPErrorDetail{Code: CodeTrackerUnavailable, Message: err.Error()}
	case tracker.IsRejected(err):
		return http.StatusBadRequest, HTTPErrorDetail{Code: CodeValidation, Message: err.Error()}
	default:
		return http.StatusInternalServerError, HTTPErrorDetail{Code: CodeInternal, Message: err.Error()}
	}
}

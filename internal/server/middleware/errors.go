// Package middleware provides the HTTP middleware chain for the gostudio
// server: request IDs, panic recovery, and access logging.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON body written for failures raised inside the
// middleware chain. It mirrors the shape handlers produce so clients see
// one error format no matter where a request died.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries one error's code, message, and request context.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// RequestID tags each request with an id, honoring an inbound
// X-Request-Id header when present.
func RequestID(next http.Handler) http.Handler {
	return chimiddleware.RequestID(next)
}

// Recovery converts panics into 500 responses with a JSON error body.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				envelope := gferrors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
				if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
					envelope = envelope.WithCorrelationID(reqID)
				}
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name older call sites use.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
			Details:   envelope.Context,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

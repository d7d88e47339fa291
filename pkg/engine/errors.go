package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations.
var (
	// ErrEngineUnavailable indicates the engine could not be reached at all
	// (connection refused, DNS failure, transport timeout).
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrUploadRejected indicates the engine refused an input upload.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrPromptRejected indicates the engine refused a workflow graph or
	// returned no prompt id for it.
	ErrPromptRejected = errors.New("prompt rejected")

	// ErrHistoryUnavailable indicates a history query failed with a
	// non-success status.
	ErrHistoryUnavailable = errors.New("history unavailable")

	// ErrOutputUnavailable indicates a generated output could not be fetched.
	ErrOutputUnavailable = errors.New("output unavailable")
)

// EngineError wraps engine call failures with context.
type EngineError struct {
	// Op is the operation that failed (e.g., "UploadImage", "History").
	Op string

	// URL is the request URL, if applicable.
	URL string

	// PromptID is the prompt id involved, if applicable.
	PromptID string

	// StatusCode is the HTTP status of a rejected response, zero when the
	// failure happened before a response arrived.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.PromptID != "" {
		return fmt.Sprintf("engine %s: prompt %s: %v", e.Op, e.PromptID, e.Err)
	}
	if e.URL != "" {
		return fmt.Sprintf("engine %s: %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsUnavailable returns true if the error indicates the engine could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrEngineUnavailable)
}

// IsUploadRejected returns true if the error indicates an input upload was refused.
func IsUploadRejected(err error) bool {
	return errors.Is(err, ErrUploadRejected)
}

// IsPromptRejected returns true if the error indicates a workflow graph was refused.
func IsPromptRejected(err error) bool {
	return errors.Is(err, ErrPromptRejected)
}

// IsHistoryUnavailable returns true if the error indicates a history query failed.
func IsHistoryUnavailable(err error) bool {
	return errors.Is(err, ErrHistoryUnavailable)
}

// IsTransient reports whether an error is worth retrying on the next poll
// tick. Transport-level failures and server-side (5xx) history failures are
// transient; rejections (4xx) are not.
func IsTransient(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) && ee.StatusCode >= 400 && ee.StatusCode < 500 {
		return false
	}
	return errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrHistoryUnavailable)
}

package tracker

import (
	"errors"
	"fmt"
)

// Sentinel errors for tracking backend operations.
var (
	// ErrTrackerUnavailable indicates the tracking backend could not be
	// reached at all (connection refused, DNS failure, transport timeout).
	ErrTrackerUnavailable = errors.New("tracker unavailable")

	// ErrRequestRejected indicates the backend refused the request, either
	// with a non-2xx status or a success=false envelope.
	ErrRequestRejected = errors.New("request rejected")

	// ErrMalformedResponse indicates the backend answered with a body that
	// does not match the documented contract.
	ErrMalformedResponse = errors.New("malformed response")
)

// TrackerError wraps tracking backend call failures with context.
type TrackerError struct {
	// Op is the operation that failed (e.g., "CreateJob", "Complete").
	Op string

	// ID is the tracking record id involved, if applicable.
	ID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TrackerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("tracker %s: job %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("tracker %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TrackerError) Unwrap() error {
	return e.Err
}

// IsUnavailable returns true if the error indicates the backend could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrTrackerUnavailable)
}

// IsRejected returns true if the error indicates the backend refused the request.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRequestRejected)
}

// IsMalformed returns true if the error indicates an off-contract response body.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

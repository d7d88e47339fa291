package runner

import (
	"errors"
	"fmt"
)

// Stages of the generation lifecycle, used in RunError.
const (
	StageUpload  = "upload"
	StageSubmit  = "submit"
	StageTrack   = "track"
	StagePoll    = "poll"
	StagePersist = "persist"
)

// Sentinel errors for generation runs.
var (
	// ErrUpload indicates an input resource could not be uploaded.
	ErrUpload = errors.New("upload failed")

	// ErrSubmission indicates the workflow graph could not be rendered or
	// was refused by the engine.
	ErrSubmission = errors.New("submission failed")

	// ErrTracking indicates the tracking record could not be created.
	ErrTracking = errors.New("tracking failed")

	// ErrEngineReported indicates the engine executed the job and reported
	// a failure in its history entry.
	ErrEngineReported = errors.New("engine reported error")

	// ErrPersistence indicates outputs were produced but the completion
	// could not be recorded. Never retried: the single completion attempt
	// has already been spent.
	ErrPersistence = errors.New("persistence failed")

	// ErrTimeout indicates no terminal state was observed within the poll
	// ceiling. The job's engine-side state is unresolved.
	ErrTimeout = errors.New("poll timeout")
)

// RunError wraps a generation run failure with the stage it occurred in.
type RunError struct {
	// Stage is the lifecycle stage that failed.
	Stage string

	// JobID is the tracking record id when one exists, else the prompt id.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("run %s: job %s: %v", e.Stage, e.JobID, e.Err)
	}
	return fmt.Sprintf("run %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsUpload returns true if the error indicates an input upload failure.
func IsUpload(err error) bool {
	return errors.Is(err, ErrUpload)
}

// IsSubmission returns true if the error indicates a graph render or submission failure.
func IsSubmission(err error) bool {
	return errors.Is(err, ErrSubmission)
}

// IsTracking returns true if the error indicates a tracking record creation failure.
func IsTracking(err error) bool {
	return errors.Is(err, ErrTracking)
}

// IsEngineReported returns true if the error carries an engine-side execution failure.
func IsEngineReported(err error) bool {
	return errors.Is(err, ErrEngineReported)
}

// IsPersistence returns true if the error indicates a completion persistence failure.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsTimeout returns true if the error indicates the poll ceiling was exceeded.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

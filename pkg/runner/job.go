package runner

import (
	"time"

	"github.com/3leaps/gostudio/pkg/engine"
)

// Status is a generation job lifecycle state.
type Status string

// Job lifecycle states. A job starts in StatusPending, moves forward only,
// and ends in exactly one of StatusCompleted or StatusError. A timed-out
// job keeps StatusProcessing: its true engine-side state is unresolved.
const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job is one generation request driven through the engine and the tracking
// backend.
//
// A Job is owned by a single goroutine until it reaches a terminal state;
// it carries no internal locking. Invariants maintained by the runner:
// OutputRefs is non-empty exactly when Status is completed, ErrorMessage is
// set exactly when Status is error, and PromptID is written once at
// submission and never changes.
type Job struct {
	// LocalID is the tracking backend record id.
	LocalID string `json:"local_id,omitempty"`

	// PromptID is the engine-issued prompt id.
	PromptID string `json:"prompt_id,omitempty"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Workflow is the workflow template name.
	Workflow string `json:"workflow"`

	// InputRefs holds engine-assigned names of uploaded inputs, in upload
	// order.
	InputRefs []string `json:"input_refs,omitempty"`

	// OutputRefs holds engine output references, populated on completion.
	OutputRefs []engine.OutputRef `json:"output_refs,omitempty"`

	// OutputURLs holds the stored output addresses confirmed by the
	// tracking backend, populated on completion.
	OutputURLs []string `json:"output_urls,omitempty"`

	// Parameters is the substitution mapping the job was submitted with.
	Parameters map[string]any `json:"parameters,omitempty"`

	// ErrorMessage is the failure cause, populated on error.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

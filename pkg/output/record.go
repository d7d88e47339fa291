// Package output provides JSONL output for submission and feed results.
//
// Output is structured as typed record envelopes containing job state
// changes, produced outputs, errors, progress heartbeats, and feed items.
// Each line is a self-contained JSON object that can be parsed
// independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Envelope type identifiers. The version suffix lets consumers skip
// record shapes they do not understand.
const (
	// TypeJob marks job state transition records.
	TypeJob = "gostudio.job.v1"

	// TypeOutput marks produced-output records.
	TypeOutput = "gostudio.output.v1"

	// TypeError marks error records.
	TypeError = "gostudio.error.v1"

	// TypeProgress marks polling heartbeat records.
	TypeProgress = "gostudio.progress.v1"

	// TypeSummary marks end-of-run summary records.
	TypeSummary = "gostudio.summary.v1"

	// TypeFeedItem marks feed item records.
	TypeFeedItem = "gostudio.feed_item.v1"

	// TypePreflight marks capability check records.
	TypePreflight = "gostudio.preflight.v1"
)

// Record is the envelope every JSONL line carries. Type selects the
// shape of Data; everything else is shared metadata.
type Record struct {
	// Type names the payload shape, e.g. "gostudio.job.v1".
	Type string `json:"type"`

	// TS is when the record was emitted, RFC3339Nano in JSON.
	TS time.Time `json:"ts"`

	// RunID correlates every record from one invocation. One submit or
	// feed command is one run, however many jobs it covers.
	RunID string `json:"run_id"`

	// Workflow is the workflow template driving this run, when a single
	// one applies. Batch runs across workflows leave it empty and carry
	// the workflow per payload.
	Workflow string `json:"workflow,omitempty"`

	// Data is the type-specific payload, left raw so consumers can
	// defer decoding until they have checked Type.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the payload for job state changes.
//
// One record is emitted per state transition: submitted, processing,
// and the terminal completed or error.
type JobRecord struct {
	// JobID is the journal ID of this submission.
	JobID string `json:"job_id"`

	// PromptID is the engine's ID for the queued prompt, once assigned.
	PromptID string `json:"prompt_id,omitempty"`

	// TrackerID is the tracking backend's ID, once assigned.
	TrackerID string `json:"tracker_id,omitempty"`

	// Workflow is the template this job renders.
	Workflow string `json:"workflow"`

	// State is the job state after this transition.
	State string `json:"state"`

	// OutputURLs are the engine view URLs, present on completion.
	OutputURLs []string `json:"output_urls,omitempty"`

	// ArchiveKeys are the archived object keys, when archiving ran.
	ArchiveKeys []string `json:"archive_keys,omitempty"`

	// Error is the failure detail for the error state.
	Error string `json:"error,omitempty"`
}

// OutputRecord describes one produced output.
type OutputRecord struct {
	// JobID is the journal ID of the submission that produced it.
	JobID string `json:"job_id"`

	// PromptID is the engine's prompt ID.
	PromptID string `json:"prompt_id,omitempty"`

	// Filename is the engine-side output filename.
	Filename string `json:"filename"`

	// Subfolder is the engine-side subfolder, if any.
	Subfolder string `json:"subfolder,omitempty"`

	// URL is the engine view URL for fetching the output.
	URL string `json:"url"`

	// ArchiveKey is the destination key when the output was archived.
	ArchiveKey string `json:"archive_key,omitempty"`
}

// ErrorRecord is the payload for TypeError records.
//
// Errors are emitted as records rather than aborting the batch,
// allowing partial results when some submissions fail.
type ErrorRecord struct {
	// Code is a stable machine-matchable identifier from the ErrCode
	// constants below.
	Code string `json:"code"`

	// Message says what happened, for humans.
	Message string `json:"message"`

	// JobID ties the error to a journaled submission, when one exists.
	JobID string `json:"job_id,omitempty"`

	// PromptID ties the error to an engine prompt, when one exists.
	PromptID string `json:"prompt_id,omitempty"`

	// Details carries extra context; the shape depends on Code.
	Details any `json:"details,omitempty"`
}

// Error codes carried in ErrorRecord.Code.
const (
	// ErrCodeEngineUnavailable indicates the workflow engine could not be reached.
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"

	// ErrCodeTrackerUnavailable indicates the tracking backend could not be reached.
	ErrCodeTrackerUnavailable = "TRACKER_UNAVAILABLE"

	// ErrCodeUploadFailed indicates an input upload failed.
	ErrCodeUploadFailed = "UPLOAD_FAILED"

	// ErrCodeRenderFailed indicates template rendering or binding failed.
	ErrCodeRenderFailed = "RENDER_FAILED"

	// ErrCodeExecutionFailed indicates the engine reported a failed run.
	ErrCodeExecutionFailed = "EXECUTION_FAILED"

	// ErrCodeTimeout indicates polling gave up before the run finished.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeArchiveFailed indicates archiving an output failed.
	ErrCodeArchiveFailed = "ARCHIVE_FAILED"

	// ErrCodeInternal is the fallback for unexpected failures.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the payload for progress heartbeats.
//
// Progress records are emitted periodically while polling so long
// renders stay visible in the event stream.
type ProgressRecord struct {
	// Phase indicates the current submission phase.
	Phase string `json:"phase"`

	// JobID is the journal ID of the submission being polled.
	JobID string `json:"job_id,omitempty"`

	// PromptID is the engine prompt ID being polled.
	PromptID string `json:"prompt_id,omitempty"`

	// Polls is the number of history polls performed so far.
	Polls int64 `json:"polls"`

	// Elapsed is the time since submission.
	Elapsed time.Duration `json:"elapsed_ns"`

	// ElapsedHuman repeats Elapsed in time.Duration string form.
	ElapsedHuman string `json:"elapsed"`

	// QueueRunning is the engine's running count, when known.
	QueueRunning int `json:"queue_running,omitempty"`

	// QueuePending is the engine's pending count, when known.
	QueuePending int `json:"queue_pending,omitempty"`
}

// Phases a submission moves through.
const (
	// PhaseUploading indicates inputs are being uploaded.
	PhaseUploading = "uploading"

	// PhaseSubmitting indicates the rendered graph is being queued.
	PhaseSubmitting = "submitting"

	// PhaseProcessing indicates the engine is executing the prompt.
	PhaseProcessing = "processing"

	// PhaseComplete indicates the run has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the payload for the single TypeSummary record
// emitted when a run ends.
type SummaryRecord struct {
	// Jobs is the total number of jobs attempted.
	Jobs int64 `json:"jobs"`

	// Completed is the number of jobs that finished with outputs.
	Completed int64 `json:"completed"`

	// Failed is the number of jobs that ended in error or timeout.
	Failed int64 `json:"failed"`

	// Outputs is the total number of outputs produced.
	Outputs int64 `json:"outputs"`

	// Archived is the number of outputs copied to the archive store.
	Archived int64 `json:"archived,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman repeats Duration in time.Duration string form.
	DurationHuman string `json:"duration"`
}

// FeedItemRecord is the payload for feed items.
//
// Field names mirror the tracking backend's job records so feed JSONL
// can round-trip into other tools.
type FeedItemRecord struct {
	// TrackerID is the tracking backend's job ID.
	TrackerID string `json:"tracker_id"`

	// Workflow is the workflow that produced the job.
	Workflow string `json:"workflow"`

	// Status is the tracked status string.
	Status string `json:"status"`

	// PromptID is the engine prompt ID, when recorded.
	PromptID string `json:"prompt_id,omitempty"`

	// OutputURLs are the recorded output URLs.
	OutputURLs []string `json:"output_urls,omitempty"`

	// Width is the recorded output width in pixels.
	Width int `json:"width,omitempty"`

	// Height is the recorded output height in pixels.
	Height int `json:"height,omitempty"`

	// ErrorMessage is the recorded failure detail.
	ErrorMessage string `json:"error_message,omitempty"`

	// CreatedAt is when the tracking backend first saw the job.
	CreatedAt time.Time `json:"created_at"`
}

// PreflightRecord is the payload for capability checks.
//
// One is emitted before long-running operations as an explicit, parseable
// statement of what was checked and whether the environment can support
// the run.
type PreflightRecord struct {
	Mode        string                 `json:"mode"`
	ProbePrefix string                 `json:"probe_prefix,omitempty"`
	Results     []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult reports one capability probe.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps failures inside the writer, tagging them with the
// step that failed.
type WriteError struct {
	Op  string // "marshal_data", "write", ...
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

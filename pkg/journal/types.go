package journal

import "time"

// State is the lifecycle state of a journaled submission.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract. They mirror the run lifecycle, plus "abandoned" for
// records whose owning process died before reaching a terminal state.
type State string

const (
	StatePending    State = "pending"
	StateUploading  State = "uploading"
	StateSubmitted  State = "submitted"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
	StateAbandoned  State = "abandoned"
)

// Terminal reports whether the state is final for journal purposes.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateAbandoned
}

// Record is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive
// fields) and is intentionally string-only so the journal stays stable
// even if engine or tracker schemas evolve.
type Record struct {
	JobID     string `json:"job_id"`
	Workflow  string `json:"workflow,omitempty"`
	State     State  `json:"state"`
	PromptID  string `json:"prompt_id,omitempty"`
	TrackerID string `json:"tracker_id,omitempty"`
	EngineURL string `json:"engine_url,omitempty"`
	PID       int    `json:"pid,omitempty"`

	InputRefs   []string `json:"input_refs,omitempty"`
	OutputRefs  []string `json:"output_refs,omitempty"`
	OutputURLs  []string `json:"output_urls,omitempty"`
	ArchiveKeys []string `json:"archive_keys,omitempty"`
	Error       string   `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

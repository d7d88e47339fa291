package tracker

import "time"

// Job status values used by the tracking backend. A record is created in
// StatusSubmitted once the engine has accepted the graph, moves to
// StatusProcessing when execution starts, and ends in exactly one of
// StatusCompleted or StatusError.
const (
	StatusSubmitted  = "submitted"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// JobRecord is one tracking backend job record.
type JobRecord struct {
	ID           string         `json:"id"`
	WorkflowName string         `json:"workflow_name"`
	PromptID     string         `json:"prompt_id,omitempty"`
	Status       string         `json:"status"`
	EngineURL    string         `json:"engine_url,omitempty"`
	InputRefs    []string       `json:"input_refs,omitempty"`
	OutputURLs   []string       `json:"output_image_urls,omitempty"`
	Width        int            `json:"width,omitempty"`
	Height       int            `json:"height,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// Terminal reports whether the record has reached a final status.
func (r *JobRecord) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// NewJob is the payload for creating a tracking record.
type NewJob struct {
	WorkflowName string         `json:"workflow_name"`
	PromptID     string         `json:"prompt_id,omitempty"`
	EngineURL    string         `json:"engine_url"`
	InputRefs    []string       `json:"input_refs,omitempty"`
	Width        int            `json:"width,omitempty"`
	Height       int            `json:"height,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// Query filters and pages a job listing.
type Query struct {
	// Limit is the page size. Zero means DefaultListLimit.
	Limit int

	// Offset is the number of records to skip, newest first.
	Offset int

	// WorkflowName restricts the listing to one workflow when non-empty.
	WorkflowName string

	// CompletedOnly restricts the listing to completed records.
	CompletedOnly bool
}

// Page is one page of job records, newest first.
//
// TotalCount mirrors the backend's total_count field when present. It is
// advisory only: pagination termination must be decided from page length,
// never from this value.
type Page struct {
	Items      []JobRecord
	TotalCount *int64
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gostudio/internal/errors"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/runner"
	"github.com/3leaps/gostudio/pkg/workflow"
)

// JobRunner drives generation jobs for the HTTP facade. *runner.Runner
// satisfies it.
type JobRunner interface {
	Submit(ctx context.Context, req runner.SubmitRequest) (*runner.Job, error)
	PollUntilTerminal(ctx context.Context, job *runner.Job) (*runner.Job, error)
}

// TemplateSource resolves workflow templates by name. *workflow.Registry
// satisfies it.
type TemplateSource interface {
	Get(name string) (*workflow.Template, error)
}

// EngineStatus is the engine surface the status endpoint reads.
// *engine.Client satisfies it.
type EngineStatus interface {
	History(ctx context.Context, promptID string) (*engine.HistoryEntry, error)
	ViewURL(ref engine.OutputRef) string
}

// SubmitJobRequest is the body accepted by POST /api/v1/jobs. Inputs must
// already live on the engine: InputRefs maps template parameter keys to
// engine-assigned upload names. The facade never proxies media bytes.
type SubmitJobRequest struct {
	WorkflowName string            `json:"workflow_name"`
	Parameters   map[string]any    `json:"parameters,omitempty"`
	InputRefs    map[string]string `json:"input_refs,omitempty"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
}

// JobStatusResponse is the body returned by GET /api/v1/jobs/{prompt_id}.
type JobStatusResponse struct {
	PromptID     string             `json:"prompt_id"`
	Status       string             `json:"status"`
	Outputs      []engine.OutputRef `json:"outputs,omitempty"`
	OutputURLs   []string           `json:"output_urls,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// JobsHandler serves the job submission and status endpoints.
type JobsHandler struct {
	runner    JobRunner
	templates TemplateSource
	engine    EngineStatus

	// baseCtx outlives individual requests; background polls run on it so
	// tracking records converge after the submit response is sent.
	baseCtx context.Context
	logger  *zap.Logger
}

// JobsConfig wires a JobsHandler.
type JobsConfig struct {
	Runner    JobRunner
	Templates TemplateSource
	Engine    EngineStatus
	BaseCtx   context.Context
	Logger    *zap.Logger
}

// NewJobsHandler creates the jobs handler. Runner, Templates, and Engine
// may be nil; the affected endpoints then answer 503.
func NewJobsHandler(cfg JobsConfig) *JobsHandler {
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsHandler{
		runner:    cfg.Runner,
		templates: cfg.Templates,
		engine:    cfg.Engine,
		baseCtx:   baseCtx,
		logger:    logger,
	}
}

// SubmitHandler serves POST /api/v1/jobs. On success it answers 202 with
// the submitted job; polling continues in the background so the tracking
// record reaches a terminal state without the client holding the
// connection open.
func (h *JobsHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil || h.templates == nil {
		respondWithError(w, r, &apperrors.AppError{
			Code:    apperrors.CodeServiceUnavailable,
			Message: "job submission is not configured",
			Status:  http.StatusServiceUnavailable,
		})
		return
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewValidationError("invalid request body", map[string]interface{}{
			"cause": err.Error(),
		}))
		return
	}
	if req.WorkflowName == "" {
		respondWithError(w, r, apperrors.NewValidationError("workflow_name is required", nil))
		return
	}

	tmpl, err := h.templates.Get(req.WorkflowName)
	if err != nil {
		respondWithError(w, r, apperrors.NewValidationError("unknown workflow", map[string]interface{}{
			"workflow_name": req.WorkflowName,
		}))
		return
	}

	params := make(map[string]any, len(req.Parameters)+len(req.InputRefs))
	for k, v := range req.Parameters {
		params[k] = v
	}
	for key, ref := range req.InputRefs {
		params[key] = ref
	}

	job, err := h.runner.Submit(r.Context(), runner.SubmitRequest{
		Template:   tmpl,
		Parameters: params,
		Width:      req.Width,
		Height:     req.Height,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	go h.pollInBackground(job)

	writeJSON(w, http.StatusAccepted, job)
}

func (h *JobsHandler) pollInBackground(job *runner.Job) {
	polled, err := h.runner.PollUntilTerminal(h.baseCtx, job)
	if err != nil {
		h.logger.Warn("background poll ended with error",
			zap.String("prompt_id", job.PromptID),
			zap.Error(err))
		return
	}
	h.logger.Info("job reached terminal state",
		zap.String("prompt_id", polled.PromptID),
		zap.String("status", string(polled.Status)))
}

// StatusHandler serves GET /api/v1/jobs/{prompt_id}, reading the engine's
// history for the prompt. A prompt absent from history is still queued or
// running and reports processing.
func (h *JobsHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		respondWithError(w, r, &apperrors.AppError{
			Code:    apperrors.CodeServiceUnavailable,
			Message: "engine is not configured",
			Status:  http.StatusServiceUnavailable,
		})
		return
	}

	promptID := chi.URLParam(r, "prompt_id")
	if promptID == "" {
		respondWithError(w, r, apperrors.NewValidationError("prompt_id is required", nil))
		return
	}

	entry, err := h.engine.History(r.Context(), promptID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp := JobStatusResponse{PromptID: promptID}
	refs := entry.OutputRefs()
	switch {
	case entry == nil || (entry.Err() == "" && len(refs) == 0):
		// Absent from history, or a history row without outputs yet:
		// still executing.
		resp.Status = "processing"
	case entry.Err() != "":
		resp.Status = "error"
		resp.ErrorMessage = entry.Err()
	default:
		resp.Status = "completed"
		resp.Outputs = refs
		for _, ref := range refs {
			resp.OutputURLs = append(resp.OutputURLs, h.engine.ViewURL(ref))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

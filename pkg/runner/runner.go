// Package runner drives generation jobs through their full lifecycle:
// input upload, graph submission, tracking record creation, and history
// polling until a terminal state.
//
// One Runner serves many jobs; each job is confined to the goroutine that
// submitted it. The poll loop is an explicit loop with a fixed interval,
// checks cancellation on every iteration, and enforces a hard wall-clock
// ceiling.
package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/tracker"
	"github.com/3leaps/gostudio/pkg/workflow"
)

// Default poll loop parameters.
const (
	// DefaultPollInterval is the delay between history queries.
	DefaultPollInterval = 2 * time.Second

	// DefaultPollTimeout is the wall-clock ceiling for one job's poll loop.
	DefaultPollTimeout = 300 * time.Second
)

// Engine is the workflow engine surface the runner drives.
// *engine.Client satisfies it.
type Engine interface {
	UploadImage(ctx context.Context, filename string, r io.Reader) (string, error)
	SubmitPrompt(ctx context.Context, graph map[string]any) (string, error)
	History(ctx context.Context, promptID string) (*engine.HistoryEntry, error)
	ViewURL(ref engine.OutputRef) string
	BaseURL() string
}

// Tracker is the tracking backend surface the runner drives.
// *tracker.Client satisfies it.
type Tracker interface {
	CreateJob(ctx context.Context, job tracker.NewJob) (*tracker.JobRecord, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, outputURLs []string) (*tracker.JobRecord, error)
	Fail(ctx context.Context, id, message string) error
}

// Config holds runner configuration.
type Config struct {
	// Engine executes workflows. Required.
	Engine Engine

	// Tracker persists job records. Required.
	Tracker Tracker

	// PollInterval is the delay between history queries. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// PollTimeout is the wall-clock ceiling for one poll loop. Zero means
	// DefaultPollTimeout.
	PollTimeout time.Duration

	// OnStatus is called after every job status transition, from the
	// goroutine driving the job. Optional.
	OnStatus func(*Job)

	// Logger receives runner diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// ConfigError describes an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("runner config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Engine == nil {
		return &ConfigError{Field: "Engine", Message: "is required"}
	}
	if c.Tracker == nil {
		return &ConfigError{Field: "Tracker", Message: "is required"}
	}
	if c.PollInterval < 0 {
		return &ConfigError{Field: "PollInterval", Message: "must not be negative"}
	}
	if c.PollTimeout < 0 {
		return &ConfigError{Field: "PollTimeout", Message: "must not be negative"}
	}
	return nil
}

// Input is one resource to upload before submission. ParamKey names the
// template placeholder that receives the engine-assigned filename.
type Input struct {
	ParamKey string
	Name     string
	Data     io.Reader
}

// SubmitRequest describes one generation job to run.
type SubmitRequest struct {
	// Template is the workflow template to render and submit. Required.
	Template *workflow.Template

	// Inputs are uploaded in order before the graph is rendered; each
	// input's assigned name is bound into Parameters under its ParamKey.
	Inputs []Input

	// Parameters is the substitution mapping for the template. The runner
	// copies it before binding upload names; the caller's map is not
	// mutated.
	Parameters map[string]any

	// Width and Height are recorded on the tracking record.
	Width  int
	Height int
}

// Runner drives generation jobs. Safe for concurrent use; each call owns
// the job it creates.
type Runner struct {
	engine       Engine
	tracker      Tracker
	pollInterval time.Duration
	pollTimeout  time.Duration
	onStatus     func(*Job)
	logger       *zap.Logger

	// Test seams.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a runner from the given configuration.
func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	timeout := cfg.PollTimeout
	if timeout == 0 {
		timeout = DefaultPollTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		engine:       cfg.Engine,
		tracker:      cfg.Tracker,
		pollInterval: interval,
		pollTimeout:  timeout,
		onStatus:     cfg.OnStatus,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepContext,
	}, nil
}

// Submit uploads inputs, renders and submits the workflow graph, and
// creates the tracking record, each step gated on the previous one. No
// step is retried. On success the returned job is in StatusSubmitted with
// both ids set; on failure the returned job is terminal with the cause
// recorded, alongside the error.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Template == nil {
		return nil, &RunError{Stage: StageSubmit,
			Err: fmt.Errorf("%w: template is required", ErrSubmission)}
	}

	job := &Job{
		Status:     StatusPending,
		Workflow:   req.Template.Name,
		Parameters: req.Parameters,
		CreatedAt:  r.now().UTC(),
	}

	params := make(map[string]any, len(req.Parameters)+len(req.Inputs))
	for k, v := range req.Parameters {
		params[k] = v
	}

	r.transition(job, StatusUploading)
	for _, in := range req.Inputs {
		assigned, err := r.engine.UploadImage(ctx, in.Name, in.Data)
		if err != nil {
			r.failLocal(job, fmt.Sprintf("upload %s: %v", in.Name, err))
			return job, &RunError{Stage: StageUpload, Err: fmt.Errorf("%w: %v", ErrUpload, err)}
		}
		job.InputRefs = append(job.InputRefs, assigned)
		if in.ParamKey != "" {
			params[in.ParamKey] = assigned
		}
	}

	graph, err := req.Template.Render(params)
	if err != nil {
		r.failLocal(job, fmt.Sprintf("render %s: %v", req.Template.Name, err))
		return job, &RunError{Stage: StageSubmit, Err: fmt.Errorf("%w: %v", ErrSubmission, err)}
	}

	promptID, err := r.engine.SubmitPrompt(ctx, graph)
	if err != nil {
		r.failLocal(job, fmt.Sprintf("submit %s: %v", req.Template.Name, err))
		return job, &RunError{Stage: StageSubmit, Err: fmt.Errorf("%w: %v", ErrSubmission, err)}
	}
	job.PromptID = promptID
	job.SubmittedAt = r.now().UTC()
	r.transition(job, StatusSubmitted)

	rec, err := r.tracker.CreateJob(ctx, tracker.NewJob{
		WorkflowName: req.Template.Name,
		PromptID:     promptID,
		EngineURL:    r.engine.BaseURL(),
		InputRefs:    job.InputRefs,
		Width:        req.Width,
		Height:       req.Height,
		Parameters:   req.Parameters,
	})
	if err != nil {
		r.failLocal(job, fmt.Sprintf("track %s: %v", promptID, err))
		return job, &RunError{Stage: StageTrack, JobID: promptID,
			Err: fmt.Errorf("%w: %v", ErrTracking, err)}
	}
	job.LocalID = rec.ID

	r.logger.Info("job submitted",
		zap.String("workflow", job.Workflow),
		zap.String("prompt_id", job.PromptID),
		zap.String("job_id", job.LocalID))
	return job, nil
}

// PollUntilTerminal polls the engine history for the job's prompt until it
// reports outputs or an error, the poll ceiling passes, or ctx is
// cancelled.
//
// The first iteration flips the job to StatusProcessing and best-effort
// notifies the tracking backend. Transient history failures are retried
// silently on the next tick. On timeout the job keeps StatusProcessing and
// ErrTimeout is returned; on cancellation the job is returned unchanged
// with ctx's error.
func (r *Runner) PollUntilTerminal(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, &RunError{Stage: StagePoll, Err: fmt.Errorf("nil job")}
	}
	if job.Terminal() {
		return job, nil
	}
	if job.PromptID == "" {
		return job, &RunError{Stage: StagePoll, JobID: job.LocalID,
			Err: fmt.Errorf("job has no prompt id")}
	}

	r.transition(job, StatusProcessing)
	if job.LocalID != "" {
		if err := r.tracker.MarkProcessing(ctx, job.LocalID); err != nil {
			r.logger.Warn("mark processing failed",
				zap.String("job_id", job.LocalID), zap.Error(err))
		}
	}

	start := r.now()
	for {
		if err := ctx.Err(); err != nil {
			return job, err
		}
		if r.now().Sub(start) >= r.pollTimeout {
			r.logger.Warn("poll ceiling reached",
				zap.String("prompt_id", job.PromptID),
				zap.Duration("timeout", r.pollTimeout))
			return job, &RunError{Stage: StagePoll, JobID: job.LocalID,
				Err: fmt.Errorf("%w: no terminal state after %s", ErrTimeout, r.pollTimeout)}
		}

		entry, err := r.engine.History(ctx, job.PromptID)
		if err != nil {
			if ctx.Err() != nil {
				return job, ctx.Err()
			}
			// Every history failure is retried until the ceiling; only the
			// engine's own verdict or the clock ends the loop.
			r.logger.Debug("history query failed, retrying",
				zap.String("prompt_id", job.PromptID), zap.Error(err))
		} else if entry != nil {
			if msg := entry.Err(); msg != "" {
				r.failJob(ctx, job, msg)
				return job, &RunError{Stage: StagePoll, JobID: job.LocalID,
					Err: fmt.Errorf("%w: %s", ErrEngineReported, msg)}
			}
			if refs := entry.OutputRefs(); len(refs) > 0 {
				return r.completeJob(ctx, job, refs)
			}
		}

		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return job, err
		}
	}
}

// Run submits a job and polls it to a terminal state.
func (r *Runner) Run(ctx context.Context, req SubmitRequest) (*Job, error) {
	job, err := r.Submit(ctx, req)
	if err != nil {
		return job, err
	}
	return r.PollUntilTerminal(ctx, job)
}

// completeJob records the single completion attempt. A failed or
// unconfirmed completion is terminal: retrying could double-record the
// outputs downstream.
func (r *Runner) completeJob(ctx context.Context, job *Job, refs []engine.OutputRef) (*Job, error) {
	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		urls = append(urls, r.engine.ViewURL(ref))
	}

	rec, err := r.tracker.Complete(ctx, job.LocalID, urls)
	if err != nil {
		job.ErrorMessage = fmt.Sprintf("record completion: %v", err)
		job.FinishedAt = r.now().UTC()
		r.transition(job, StatusError)
		return job, &RunError{Stage: StagePersist, JobID: job.LocalID,
			Err: fmt.Errorf("%w: %v", ErrPersistence, err)}
	}

	job.OutputRefs = refs
	job.OutputURLs = rec.OutputURLs
	job.FinishedAt = r.now().UTC()
	r.transition(job, StatusCompleted)

	r.logger.Info("job completed",
		zap.String("job_id", job.LocalID),
		zap.String("prompt_id", job.PromptID),
		zap.Int("outputs", len(refs)))
	return job, nil
}

// failJob marks the job terminal with an engine-reported cause and
// best-effort notifies the tracking backend.
func (r *Runner) failJob(ctx context.Context, job *Job, msg string) {
	job.ErrorMessage = msg
	job.FinishedAt = r.now().UTC()
	r.transition(job, StatusError)

	if job.LocalID != "" {
		if err := r.tracker.Fail(ctx, job.LocalID, msg); err != nil {
			r.logger.Warn("failed to report error to tracker",
				zap.String("job_id", job.LocalID), zap.Error(err))
		}
	}
}

// failLocal marks the job terminal before a tracking record exists.
func (r *Runner) failLocal(job *Job, msg string) {
	job.ErrorMessage = msg
	job.FinishedAt = r.now().UTC()
	r.transition(job, StatusError)
}

// transition advances the job status and notifies the observer.
func (r *Runner) transition(job *Job, next Status) {
	if job.Status == next {
		return
	}
	job.Status = next
	r.logger.Debug("job status",
		zap.String("status", string(next)),
		zap.String("prompt_id", job.PromptID))
	if r.onStatus != nil {
		r.onStatus(job)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

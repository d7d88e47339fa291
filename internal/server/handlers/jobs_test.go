package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/gostudio/internal/errors"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/runner"
	"github.com/3leaps/gostudio/pkg/workflow"
)

type fakeRunner struct {
	mu        sync.Mutex
	submitErr error
	job       *runner.Job
	polled    chan struct{}
	submitted []runner.SubmitRequest
}

func (f *fakeRunner) Submit(_ context.Context, req runner.SubmitRequest) (*runner.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.job, nil
}

func (f *fakeRunner) PollUntilTerminal(_ context.Context, job *runner.Job) (*runner.Job, error) {
	if f.polled != nil {
		close(f.polled)
	}
	return job, nil
}

type fakeTemplates struct {
	tmpl *workflow.Template
}

func (f *fakeTemplates) Get(name string) (*workflow.Template, error) {
	if f.tmpl != nil && f.tmpl.Name == name {
		return f.tmpl, nil
	}
	return nil, workflow.ErrTemplateNotFound
}

type fakeEngineStatus struct {
	entry *engine.HistoryEntry
	err   error
}

func (f *fakeEngineStatus) History(_ context.Context, _ string) (*engine.HistoryEntry, error) {
	return f.entry, f.err
}

func (f *fakeEngineStatus) ViewURL(ref engine.OutputRef) string {
	return "http://127.0.0.1:8188/view?filename=" + ref.Filename
}

func newJobsRouter(h *JobsHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/jobs", h.SubmitHandler)
	r.Get("/api/v1/jobs/{prompt_id}", h.StatusHandler)
	return r
}

func submitBody(t *testing.T, req SubmitJobRequest) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestSubmitHandler_Accepted(t *testing.T) {
	fr := &fakeRunner{
		job: &runner.Job{
			LocalID:  "42",
			PromptID: "p-123",
			Status:   runner.StatusSubmitted,
			Workflow: "image_edit",
		},
		polled: make(chan struct{}),
	}
	h := NewJobsHandler(JobsConfig{
		Runner: fr,
		Templates: &fakeTemplates{tmpl: &workflow.Template{
			Name: "image_edit",
			Raw:  []byte(`{"1":{"inputs":{"image":"{{image_1}}"}}}`),
		}},
	})

	body := submitBody(t, SubmitJobRequest{
		WorkflowName: "image_edit",
		Parameters:   map[string]any{"prompt": "a red door"},
		InputRefs:    map[string]string{"image_1": "upload_0001.png"},
		Width:        768,
		Height:       768,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var job runner.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "p-123", job.PromptID)
	assert.Equal(t, runner.StatusSubmitted, job.Status)

	// Pre-uploaded refs are bound into parameters under their keys.
	fr.mu.Lock()
	require.Len(t, fr.submitted, 1)
	assert.Equal(t, "upload_0001.png", fr.submitted[0].Parameters["image_1"])
	assert.Equal(t, "a red door", fr.submitted[0].Parameters["prompt"])
	assert.Equal(t, 768, fr.submitted[0].Width)
	fr.mu.Unlock()

	select {
	case <-fr.polled:
	case <-time.After(2 * time.Second):
		t.Fatal("background poll did not run")
	}
}

func TestSubmitHandler_MissingWorkflowName(t *testing.T) {
	h := NewJobsHandler(JobsConfig{
		Runner:    &fakeRunner{},
		Templates: &fakeTemplates{},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", submitBody(t, SubmitJobRequest{}))
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeValidation, body.Error.Code)
}

func TestSubmitHandler_UnknownWorkflow(t *testing.T) {
	h := NewJobsHandler(JobsConfig{
		Runner:    &fakeRunner{},
		Templates: &fakeTemplates{},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		submitBody(t, SubmitJobRequest{WorkflowName: "nope"}))
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeValidation, body.Error.Code)
	assert.Equal(t, "nope", body.Error.Details["workflow_name"])
}

func TestSubmitHandler_InvalidJSON(t *testing.T) {
	h := NewJobsHandler(JobsConfig{
		Runner:    &fakeRunner{},
		Templates: &fakeTemplates{},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitHandler_EngineUnavailable(t *testing.T) {
	fr := &fakeRunner{
		submitErr: &engine.EngineError{Op: "SubmitPrompt", Err: engine.ErrEngineUnavailable},
	}
	h := NewJobsHandler(JobsConfig{
		Runner: fr,
		Templates: &fakeTemplates{tmpl: &workflow.Template{
			Name: "image_edit",
			Raw:  []byte(`{}`),
		}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		submitBody(t, SubmitJobRequest{WorkflowName: "image_edit"}))
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeEngineUnavailable, body.Error.Code)
}

func TestSubmitHandler_NotConfigured(t *testing.T) {
	h := NewJobsHandler(JobsConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		submitBody(t, SubmitJobRequest{WorkflowName: "image_edit"}))
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusHandler_Processing(t *testing.T) {
	h := NewJobsHandler(JobsConfig{Engine: &fakeEngineStatus{entry: nil}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/p-1", nil)
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "p-1", resp.PromptID)
	assert.Equal(t, "processing", resp.Status)
	assert.Empty(t, resp.OutputURLs)
}

func TestStatusHandler_EntryWithoutOutputsIsProcessing(t *testing.T) {
	// The engine can write a history row before outputs attach to it.
	entry := &engine.HistoryEntry{
		Status: engine.HistoryStatus{StatusStr: "success"},
	}
	h := NewJobsHandler(JobsConfig{Engine: &fakeEngineStatus{entry: entry}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/p-5", nil)
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "processing", resp.Status)
	assert.Empty(t, resp.Outputs)
}

func TestStatusHandler_Completed(t *testing.T) {
	entry := &engine.HistoryEntry{
		Status: engine.HistoryStatus{StatusStr: "success", Completed: true},
		Outputs: map[string]engine.NodeOutput{
			"9": {Images: []engine.OutputRef{{Filename: "out_0001.png", Type: "output"}}},
		},
	}
	h := NewJobsHandler(JobsConfig{Engine: &fakeEngineStatus{entry: entry}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/p-2", nil)
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	require.Len(t, resp.OutputURLs, 1)
	assert.Contains(t, resp.OutputURLs[0], "out_0001.png")
}

func TestStatusHandler_Error(t *testing.T) {
	entry := &engine.HistoryEntry{
		Status: engine.HistoryStatus{StatusStr: "error", Error: "CUDA out of memory"},
	}
	h := NewJobsHandler(JobsConfig{Engine: &fakeEngineStatus{entry: entry}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/p-3", nil)
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "CUDA out of memory", resp.ErrorMessage)
}

func TestStatusHandler_HistoryUnavailable(t *testing.T) {
	h := NewJobsHandler(JobsConfig{Engine: &fakeEngineStatus{
		err: &engine.EngineError{Op: "History", Err: engine.ErrHistoryUnavailable},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/p-4", nil)
	rec := httptest.NewRecorder()

	newJobsRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeEngineUnavailable, body.Error.Code)
}

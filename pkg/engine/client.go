// Package engine provides a typed HTTP client for a ComfyUI-compatible
// workflow engine.
//
// The engine executes generation graphs and reports queue and history
// state; this client covers the surface the submission and polling flows
// need: media upload, prompt submission, history queries, queue and system
// introspection, and output retrieval.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is a workflow engine HTTP client. Safe for concurrent use.
type Client struct {
	baseURL  string
	clientID string
	httpc    *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New creates an engine client from the given configuration.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "studio-" + uuid.NewString()[:8]
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = DefaultBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		clientID: clientID,
		httpc:    &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		logger:   logger,
	}, nil
}

// BaseURL returns the engine address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the client identifier submitted with prompts.
func (c *Client) ClientID() string { return c.clientID }

// UploadImage uploads a media resource and returns the engine-assigned
// filename. The engine accepts all media types (including audio and video)
// through its image upload endpoint under the "image" form field.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	if filename == "" {
		return "", &EngineError{Op: "UploadImage", Err: fmt.Errorf("%w: filename is required", ErrUploadRejected)}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", &EngineError{Op: "UploadImage", Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", &EngineError{Op: "UploadImage", Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &EngineError{Op: "UploadImage", Err: err}
	}

	u := c.baseURL + "/upload/image"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", &EngineError{Op: "UploadImage", URL: u, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return "", &EngineError{Op: "UploadImage", URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &EngineError{Op: "UploadImage", URL: u, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: status %d: %s", ErrUploadRejected, resp.StatusCode, readBodyText(resp.Body))}
	}

	// The engine usually answers {"name": "<assigned>"}; fall back to the
	// submitted filename for terse or non-JSON responses.
	var parsed struct {
		Name     string `json:"name"`
		Filename string `json:"filename"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &EngineError{Op: "UploadImage", URL: u, Err: err}
	}
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr == nil {
		if parsed.Name != "" {
			return parsed.Name, nil
		}
		if parsed.Filename != "" {
			return parsed.Filename, nil
		}
	}
	c.logger.Debug("upload response had no assigned name; using submitted filename",
		zap.String("filename", filename))
	return filename, nil
}

// SubmitPrompt submits a workflow graph and returns the engine's prompt id.
func (c *Client) SubmitPrompt(ctx context.Context, graph map[string]any) (string, error) {
	if len(graph) == 0 {
		return "", &EngineError{Op: "SubmitPrompt", Err: fmt.Errorf("%w: graph is empty", ErrPromptRejected)}
	}

	payload, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", &EngineError{Op: "SubmitPrompt", Err: err}
	}

	u := c.baseURL + "/prompt"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", &EngineError{Op: "SubmitPrompt", URL: u, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return "", &EngineError{Op: "SubmitPrompt", URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail := rejectionDetail(resp.Body)
		return "", &EngineError{Op: "SubmitPrompt", URL: u, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: status %d: %s", ErrPromptRejected, resp.StatusCode, detail)}
	}

	var parsed struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &EngineError{Op: "SubmitPrompt", URL: u, Err: fmt.Errorf("%w: %v", ErrPromptRejected, err)}
	}
	if parsed.PromptID == "" {
		return "", &EngineError{Op: "SubmitPrompt", URL: u,
			Err: fmt.Errorf("%w: engine returned no prompt id", ErrPromptRejected)}
	}
	return parsed.PromptID, nil
}

// History fetches the history entry for a prompt. A nil entry with a nil
// error means the prompt has no history yet (still queued or running).
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	if promptID == "" {
		return nil, &EngineError{Op: "History", Err: fmt.Errorf("%w: prompt id is required", ErrHistoryUnavailable)}
	}

	u := c.baseURL + "/history/" + url.PathEscape(promptID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &EngineError{Op: "History", URL: u, PromptID: promptID, Err: err}
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, &EngineError{Op: "History", URL: u, PromptID: promptID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &EngineError{Op: "History", URL: u, PromptID: promptID, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: status %d", ErrHistoryUnavailable, resp.StatusCode)}
	}

	// Keyed by prompt id; an empty object means "not finished yet".
	var entries map[string]*HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, &EngineError{Op: "History", URL: u, PromptID: promptID,
			Err: fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)}
	}
	return entries[promptID], nil
}

// Queue returns the engine's queue lengths.
func (c *Client) Queue(ctx context.Context) (*QueueState, error) {
	u := c.baseURL + "/queue"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &EngineError{Op: "Queue", URL: u, Err: err}
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, &EngineError{Op: "Queue", URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &EngineError{Op: "Queue", URL: u, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: status %d", ErrEngineUnavailable, resp.StatusCode)}
	}

	var parsed struct {
		QueueRunning []json.RawMessage `json:"queue_running"`
		QueuePending []json.RawMessage `json:"queue_pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &EngineError{Op: "Queue", URL: u, Err: err}
	}
	return &QueueState{Running: len(parsed.QueueRunning), Pending: len(parsed.QueuePending)}, nil
}

// SystemStats returns the engine host's system and device details.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	u := c.baseURL + "/system_stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &EngineError{Op: "SystemStats", URL: u, Err: err}
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, &EngineError{Op: "SystemStats", URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &EngineError{Op: "SystemStats", URL: u, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: status %d", ErrEngineUnavailable, resp.StatusCode)}
	}

	var stats SystemStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, &EngineError{Op: "SystemStats", URL: u, Err: err}
	}
	return &stats, nil
}

// ViewURL builds the retrieval URL for a generated output.
func (c *Client) ViewURL(ref OutputRef) string {
	typ := ref.Type
	if typ == "" {
		typ = "output"
	}
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", typ)
	return c.baseURL + "/view?" + q.Encode()
}

// FetchOutput streams a generated output. The caller owns the returned
// reader and must close it. Size is -1 when the engine does not report a
// content length.
func (c *Client) FetchOutput(ctx context.Context, ref OutputRef) (io.ReadCloser, int64, error) {
	u := c.ViewURL(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, &EngineError{Op: "FetchOutput", URL: u, Err: err}
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, 0, &EngineError{Op: "FetchOutput", URL: u, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, &EngineError{Op: "FetchOutput", URL: u, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: status %d", ErrOutputUnavailable, resp.StatusCode)}
	}
	return resp.Body, resp.ContentLength, nil
}

// do applies the rate limit and issues the request, normalizing transport
// failures to ErrEngineUnavailable.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return resp, nil
}

// rejectionDetail extracts the engine's error text from a rejection body.
func rejectionDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(data))
}

func readBodyText(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

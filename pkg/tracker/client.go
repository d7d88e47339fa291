// Package tracker provides a REST client for the job tracking backend.
//
// The backend persists generation job records and serves the paged feed of
// completed work. Every response is decoded into a typed envelope at the
// boundary: a success=false flag, a missing record, or an off-contract body
// is surfaced as an error, never as a silent zero value.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Default configuration values.
const (
	// DefaultHTTPTimeout bounds a single backend request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultListLimit is the page size used when a query does not set one.
	DefaultListLimit = 50
)

// Config holds tracking backend client configuration.
type Config struct {
	// BaseURL is the backend API root (e.g., "http://127.0.0.1:8000/api/v1").
	// Required.
	BaseURL string

	// HTTPTimeout bounds each request. Zero means DefaultHTTPTimeout.
	HTTPTimeout time.Duration

	// Logger receives client diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// ConfigError describes an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("tracker config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "BaseURL", Message: "is required"}
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return &ConfigError{Field: "BaseURL", Message: "must start with http:// or https://"}
	}
	if c.HTTPTimeout < 0 {
		return &ConfigError{Field: "HTTPTimeout", Message: "must not be negative"}
	}
	return nil
}

// Client is a tracking backend HTTP client. Safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

// New creates a tracking backend client from the given configuration.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// BaseURL returns the backend address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateJob creates a tracking record for a submitted generation job and
// returns the stored record, including its backend-assigned id.
func (c *Client) CreateJob(ctx context.Context, job NewJob) (*JobRecord, error) {
	if job.WorkflowName == "" {
		return nil, &TrackerError{Op: "CreateJob",
			Err: fmt.Errorf("%w: workflow name is required", ErrRequestRejected)}
	}

	rec, err := c.jobCall(ctx, "CreateJob", "", http.MethodPost, "/jobs", job)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, &TrackerError{Op: "CreateJob",
			Err: fmt.Errorf("%w: record missing id", ErrMalformedResponse)}
	}
	c.logger.Debug("tracking record created",
		zap.String("id", rec.ID),
		zap.String("workflow", rec.WorkflowName))
	return rec, nil
}

// GetJob fetches a single tracking record by id.
func (c *Client) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	if id == "" {
		return nil, &TrackerError{Op: "GetJob",
			Err: fmt.Errorf("%w: id is required", ErrRequestRejected)}
	}

	rec, err := c.jobCall(ctx, "GetJob", id, http.MethodGet, "/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, &TrackerError{Op: "GetJob", ID: id,
			Err: fmt.Errorf("%w: record missing id", ErrMalformedResponse)}
	}
	return rec, nil
}

// MarkProcessing transitions a tracking record to StatusProcessing.
func (c *Client) MarkProcessing(ctx context.Context, id string) error {
	if id == "" {
		return &TrackerError{Op: "MarkProcessing",
			Err: fmt.Errorf("%w: id is required", ErrRequestRejected)}
	}

	_, err := c.jobCall(ctx, "MarkProcessing", id, http.MethodPut,
		"/jobs/"+url.PathEscape(id)+"/processing", nil)
	return err
}

// Complete transitions a tracking record to StatusCompleted with the given
// output URLs and returns the stored record. The backend may rewrite the
// URLs (e.g., to durable storage addresses); the returned record carries
// the authoritative set, which must be non-empty.
func (c *Client) Complete(ctx context.Context, id string, outputURLs []string) (*JobRecord, error) {
	if id == "" {
		return nil, &TrackerError{Op: "Complete",
			Err: fmt.Errorf("%w: id is required", ErrRequestRejected)}
	}
	if len(outputURLs) == 0 {
		return nil, &TrackerError{Op: "Complete", ID: id,
			Err: fmt.Errorf("%w: output URLs are required", ErrRequestRejected)}
	}

	payload := struct {
		OutputURLs []string `json:"output_image_urls"`
	}{OutputURLs: outputURLs}

	rec, err := c.jobCall(ctx, "Complete", id, http.MethodPut,
		"/jobs/"+url.PathEscape(id)+"/complete", payload)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Status != StatusCompleted || len(rec.OutputURLs) == 0 {
		return nil, &TrackerError{Op: "Complete", ID: id,
			Err: fmt.Errorf("%w: record did not confirm stored outputs", ErrMalformedResponse)}
	}
	return rec, nil
}

// Fail transitions a tracking record to StatusError with the given message.
func (c *Client) Fail(ctx context.Context, id, message string) error {
	if id == "" {
		return &TrackerError{Op: "Fail",
			Err: fmt.Errorf("%w: id is required", ErrRequestRejected)}
	}

	payload := struct {
		ErrorMessage string `json:"error_message"`
	}{ErrorMessage: message}

	_, err := c.jobCall(ctx, "Fail", id, http.MethodPut,
		"/jobs/"+url.PathEscape(id)+"/fail", payload)
	return err
}

// ListJobs fetches one page of tracking records, newest first.
func (c *Client) ListJobs(ctx context.Context, q Query) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	if q.WorkflowName != "" {
		params.Set("workflow_name", q.WorkflowName)
	}
	if q.CompletedOnly {
		params.Set("completed_only", "true")
	}

	u := c.baseURL + "/jobs?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &TrackerError{Op: "ListJobs", Err: err}
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, &TrackerError{Op: "ListJobs", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TrackerError{Op: "ListJobs",
			Err: fmt.Errorf("%w: status %d: %s", ErrRequestRejected, resp.StatusCode, readBodyText(resp.Body))}
	}

	var env struct {
		Success    bool        `json:"success"`
		Items      []JobRecord `json:"items"`
		TotalCount *int64      `json:"total_count"`
		Error      string      `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &TrackerError{Op: "ListJobs",
			Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if !env.Success {
		return nil, &TrackerError{Op: "ListJobs",
			Err: fmt.Errorf("%w: %s", ErrRequestRejected, rejectionText(env.Error))}
	}
	return &Page{Items: env.Items, TotalCount: env.TotalCount}, nil
}

// jobCall issues a request whose response carries a single-record envelope
// and returns the record, which may be nil when the backend omits it.
func (c *Client) jobCall(ctx context.Context, op, id, method, path string, payload any) (*JobRecord, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &TrackerError{Op: op, ID: id, Err: err}
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &TrackerError{Op: op, ID: id, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, &TrackerError{Op: op, ID: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TrackerError{Op: op, ID: id,
			Err: fmt.Errorf("%w: status %d: %s", ErrRequestRejected, resp.StatusCode, readBodyText(resp.Body))}
	}

	var env struct {
		Success bool       `json:"success"`
		Job     *JobRecord `json:"job"`
		Error   string     `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &TrackerError{Op: op, ID: id,
			Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if !env.Success {
		return nil, &TrackerError{Op: op, ID: id,
			Err: fmt.Errorf("%w: %s", ErrRequestRejected, rejectionText(env.Error))}
	}
	return env.Job, nil
}

// do issues the request, normalizing transport failures to
// ErrTrackerUnavailable.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	return resp, nil
}

func rejectionText(detail string) string {
	if detail == "" {
		return "backend reported failure"
	}
	return detail
}

func readBodyText(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

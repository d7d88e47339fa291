package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	return client
}

func writeJob(t *testing.T, w http.ResponseWriter, rec JobRecord) {
	t.Helper()
	err := json.NewEncoder(w).Encode(map[string]any{"success": true, "job": rec})
	require.NoError(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{BaseURL: "http://localhost:8000/api/v1"}, ""},
		{"missing base url", Config{}, "BaseURL"},
		{"bad scheme", Config{BaseURL: "backend:8000"}, "BaseURL"},
		{"negative timeout", Config{BaseURL: "http://h", HTTPTimeout: -time.Second}, "HTTPTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateJob(t *testing.T) {
	t.Run("returns stored record", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/jobs", r.URL.Path)

			var body NewJob
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "image_edit", body.WorkflowName)
			assert.Equal(t, []string{"face_0001.png"}, body.InputRefs)
			assert.Equal(t, "prompt-9", body.PromptID)

			writeJob(t, w, JobRecord{
				ID:           "job-42",
				WorkflowName: body.WorkflowName,
				PromptID:     body.PromptID,
				Status:       StatusSubmitted,
				CreatedAt:    time.Now().UTC(),
			})
		}))

		rec, err := client.CreateJob(context.Background(), NewJob{
			WorkflowName: "image_edit",
			PromptID:     "prompt-9",
			EngineURL:    "http://engine:8188",
			InputRefs:    []string{"face_0001.png"},
		})
		require.NoError(t, err)
		assert.Equal(t, "job-42", rec.ID)
		assert.Equal(t, StatusSubmitted, rec.Status)
		assert.False(t, rec.Terminal())
	})

	t.Run("record without id is malformed", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success": true}`))
		}))

		_, err := client.CreateJob(context.Background(), NewJob{WorkflowName: "image_edit"})
		require.Error(t, err)
		assert.True(t, IsMalformed(err))
	})

	t.Run("success=false carries backend error text", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success": false, "error": "unknown workflow"}`))
		}))

		_, err := client.CreateJob(context.Background(), NewJob{WorkflowName: "nope"})
		require.Error(t, err)
		assert.True(t, IsRejected(err))
		assert.Contains(t, err.Error(), "unknown workflow")
	})

	t.Run("missing workflow name rejected locally", func(t *testing.T) {
		client := newTestClient(t, http.NotFoundHandler())

		_, err := client.CreateJob(context.Background(), NewJob{})
		require.Error(t, err)
		assert.True(t, IsRejected(err))
	})
}

func TestGetJob(t *testing.T) {
	t.Run("returns record", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/jobs/job-7", r.URL.Path)
			writeJob(t, w, JobRecord{ID: "job-7", Status: StatusProcessing})
		}))

		rec, err := client.GetJob(context.Background(), "job-7")
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, rec.Status)
	})

	t.Run("404 is a rejection", func(t *testing.T) {
		client := newTestClient(t, http.NotFoundHandler())

		_, err := client.GetJob(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, IsRejected(err))
		assert.Contains(t, err.Error(), "404")
	})
}

func TestMarkProcessing(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/jobs/job-7/processing", r.URL.Path)
		writeJob(t, w, JobRecord{ID: "job-7", Status: StatusProcessing})
	}))

	require.NoError(t, client.MarkProcessing(context.Background(), "job-7"))
}

func TestComplete(t *testing.T) {
	t.Run("returns record with stored outputs", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/jobs/job-7/complete", r.URL.Path)

			var body struct {
				OutputURLs []string `json:"output_image_urls"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []string{"http://engine:8188/view?filename=out.png"}, body.OutputURLs)

			// The backend mirrors outputs to durable storage and answers
			// with the rewritten addresses.
			writeJob(t, w, JobRecord{
				ID:         "job-7",
				Status:     StatusCompleted,
				OutputURLs: []string{"https://store.example/outputs/out.png"},
			})
		}))

		rec, err := client.Complete(context.Background(), "job-7",
			[]string{"http://engine:8188/view?filename=out.png"})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://store.example/outputs/out.png"}, rec.OutputURLs)
		assert.True(t, rec.Terminal())
	})

	t.Run("record without outputs is malformed", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJob(t, w, JobRecord{ID: "job-7", Status: StatusCompleted})
		}))

		_, err := client.Complete(context.Background(), "job-7", []string{"u"})
		require.Error(t, err)
		assert.True(t, IsMalformed(err))
	})

	t.Run("non-completed status is malformed", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJob(t, w, JobRecord{ID: "job-7", Status: StatusProcessing, OutputURLs: []string{"u"}})
		}))

		_, err := client.Complete(context.Background(), "job-7", []string{"u"})
		require.Error(t, err)
		assert.True(t, IsMalformed(err))
	})

	t.Run("empty output list rejected locally", func(t *testing.T) {
		client := newTestClient(t, http.NotFoundHandler())

		_, err := client.Complete(context.Background(), "job-7", nil)
		require.Error(t, err)
		assert.True(t, IsRejected(err))
	})
}

func TestFail(t *testing.T) {
	t.Run("sends error message", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/jobs/job-7/fail", r.URL.Path)

			var body struct {
				ErrorMessage string `json:"error_message"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "CUDA out of memory", body.ErrorMessage)

			writeJob(t, w, JobRecord{ID: "job-7", Status: StatusError, ErrorMessage: body.ErrorMessage})
		}))

		require.NoError(t, client.Fail(context.Background(), "job-7", "CUDA out of memory"))
	})

	t.Run("5xx is a rejection", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "db write failed", http.StatusInternalServerError)
		}))

		err := client.Fail(context.Background(), "job-7", "boom")
		require.Error(t, err)
		assert.True(t, IsRejected(err))
	})
}

func TestListJobs(t *testing.T) {
	t.Run("sends query params and returns page", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/jobs", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, "25", q.Get("limit"))
			assert.Equal(t, "50", q.Get("offset"))
			assert.Equal(t, "multitalk", q.Get("workflow_name"))
			assert.Equal(t, "true", q.Get("completed_only"))

			err := json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"items": []JobRecord{
					{ID: "job-2", Status: StatusCompleted},
					{ID: "job-1", Status: StatusCompleted},
				},
				"total_count": 77,
			})
			require.NoError(t, err)
		}))

		page, err := client.ListJobs(context.Background(), Query{
			Limit:         25,
			Offset:        50,
			WorkflowName:  "multitalk",
			CompletedOnly: true,
		})
		require.NoError(t, err)
		assert.Len(t, page.Items, 2)
		require.NotNil(t, page.TotalCount)
		assert.Equal(t, int64(77), *page.TotalCount)
	})

	t.Run("zero limit uses default", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"success": true, "items": []}`))
		}))

		page, err := client.ListJobs(context.Background(), Query{})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Nil(t, page.TotalCount)
	})

	t.Run("non-JSON body is malformed", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>gateway</html>"))
		}))

		_, err := client.ListJobs(context.Background(), Query{})
		require.Error(t, err)
		assert.True(t, IsMalformed(err))
	})
}

func TestUnreachableTracker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := New(Config{BaseURL: srv.URL, HTTPTimeout: time.Second})
	require.NoError(t, err)

	_, err = client.ListJobs(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	err = client.MarkProcessing(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

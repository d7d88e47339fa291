package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, ClientID: "studio-test"})
	require.NoError(t, err)
	return client, srv
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{BaseURL: "http://localhost:8188"}, ""},
		{"missing base url", Config{}, "BaseURL"},
		{"bad scheme", Config{BaseURL: "ftp://host"}, "BaseURL"},
		{"negative timeout", Config{BaseURL: "http://h", HTTPTimeout: -1}, "HTTPTimeout"},
		{"negative rate", Config{BaseURL: "http://h", RequestsPerSecond: -1}, "RequestsPerSecond"},
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

func TestNewDefaults(t *testing.T) {
	client, err := New(Config{BaseURL: "http://localhost:8188/"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8188", client.BaseURL(), "trailing slash trimmed")
	assert.True(t, strings.HasPrefix(client.ClientID(), "studio-"))
	assert.Len(t, client.ClientID(), len("studio-")+8)
}

func TestUploadImage(t *testing.T) {
	t.Run("returns assigned name", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/upload/image", r.URL.Path)

			require.NoError(t, r.ParseMultipartForm(1<<20))
			file, header, err := r.FormFile("image")
			require.NoError(t, err)
			defer func() { _ = file.Close() }()
			assert.Equal(t, "face.png", header.Filename)

			_ = json.NewEncoder(w).Encode(map[string]string{"name": "face_0001.png"})
		}))

		name, err := client.UploadImage(context.Background(), "face.png", strings.NewReader("pngbytes"))
		require.NoError(t, err)
		assert.Equal(t, "face_0001.png", name)
	})

	t.Run("falls back to submitted filename", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{}"))
		}))

		name, err := client.UploadImage(context.Background(), "clip.wav", strings.NewReader("wav"))
		require.NoError(t, err)
		assert.Equal(t, "clip.wav", name)
	})

	t.Run("non-2xx is an upload rejection", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		}))

		_, err := client.UploadImage(context.Background(), "big.png", strings.NewReader("x"))
		require.Error(t, err)
		assert.True(t, IsUploadRejected(err))
		assert.Contains(t, err.Error(), "413")
	})

	t.Run("empty filename rejected locally", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		_, err := client.UploadImage(context.Background(), "", strings.NewReader("x"))
		require.Error(t, err)
		assert.True(t, IsUploadRejected(err))
	})
}

func TestSubmitPrompt(t *testing.T) {
	graph := map[string]any{
		"3": map[string]any{"class_type": "KSampler", "inputs": map[string]any{"seed": float64(7)}},
	}

	t.Run("returns prompt id and sends client id", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/prompt", r.URL.Path)

			var body struct {
				Prompt   map[string]any `json:"prompt"`
				ClientID string         `json:"client_id"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "studio-test", body.ClientID)
			assert.Contains(t, body.Prompt, "3")

			_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": "abc-123"})
		}))

		id, err := client.SubmitPrompt(context.Background(), graph)
		require.NoError(t, err)
		assert.Equal(t, "abc-123", id)
	})

	t.Run("rejection carries engine detail", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid node 12"})
		}))

		_, err := client.SubmitPrompt(context.Background(), graph)
		require.Error(t, err)
		assert.True(t, IsPromptRejected(err))
		assert.Contains(t, err.Error(), "invalid node 12")
	})

	t.Run("missing prompt id is a rejection", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))

		_, err := client.SubmitPrompt(context.Background(), graph)
		require.Error(t, err)
		assert.True(t, IsPromptRejected(err))
	})

	t.Run("empty graph rejected locally", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		_, err := client.SubmitPrompt(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, IsPromptRejected(err))
	})
}

func TestHistory(t *testing.T) {
	t.Run("empty history means still running", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/history/abc", r.URL.Path)
			_, _ = w.Write([]byte(`{}`))
		}))

		entry, err := client.History(context.Background(), "abc")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("entry with outputs", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"abc": {
					"status": {"status_str": "success", "completed": true},
					"outputs": {
						"9": {"images": [{"filename": "out_0001.png", "subfolder": "edits", "type": "output"}]}
					}
				}
			}`))
		}))

		entry, err := client.History(context.Background(), "abc")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.True(t, entry.Status.Completed)
		assert.Empty(t, entry.Err())

		refs := entry.OutputRefs()
		require.Len(t, refs, 1)
		assert.Equal(t, "out_0001.png", refs[0].Filename)
		assert.Equal(t, "edits", refs[0].Subfolder)
	})

	t.Run("5xx is transient", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := client.History(context.Background(), "abc")
		require.Error(t, err)
		assert.True(t, IsHistoryUnavailable(err))
		assert.True(t, IsTransient(err))
	})

	t.Run("4xx is not transient", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := client.History(context.Background(), "abc")
		require.Error(t, err)
		assert.True(t, IsHistoryUnavailable(err))
		assert.False(t, IsTransient(err))
	})
}

func TestHistoryEntryErr(t *testing.T) {
	tests := []struct {
		name  string
		entry HistoryEntry
		want  string
	}{
		{
			name:  "explicit error field",
			entry: HistoryEntry{Status: HistoryStatus{StatusStr: "error", Error: "bad node"}},
			want:  "bad node",
		},
		{
			name: "execution_error message",
			entry: HistoryEntry{Status: HistoryStatus{
				StatusStr: "error",
				Messages: []json.RawMessage{
					json.RawMessage(`["execution_start", {}]`),
					json.RawMessage(`["execution_error", {"exception_message": "CUDA out of memory"}]`),
				},
			}},
			want: "CUDA out of memory",
		},
		{
			name:  "error status without detail",
			entry: HistoryEntry{Status: HistoryStatus{StatusStr: "error"}},
			want:  "execution error",
		},
		{
			name:  "success has no error",
			entry: HistoryEntry{Status: HistoryStatus{StatusStr: "success", Completed: true}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Err())
		})
	}
}

func TestHistoryEntryOutputRefsStableOrder(t *testing.T) {
	entry := HistoryEntry{Outputs: map[string]NodeOutput{
		"12": {Images: []OutputRef{{Filename: "b.png"}}},
		"9":  {Images: []OutputRef{{Filename: "c.png"}}},
		"10": {Images: []OutputRef{{Filename: "a.png"}}},
	}}

	refs := entry.OutputRefs()
	require.Len(t, refs, 3)
	// Node ids visit in lexicographic order.
	assert.Equal(t, "a.png", refs[0].Filename)
	assert.Equal(t, "b.png", refs[1].Filename)
	assert.Equal(t, "c.png", refs[2].Filename)
}

func TestQueue(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue", r.URL.Path)
		_, _ = w.Write([]byte(`{"queue_running": [[0, "a"]], "queue_pending": [[1, "b"], [2, "c"]]}`))
	}))

	q, err := client.Queue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Running)
	assert.Equal(t, 2, q.Pending)
}

func TestSystemStats(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/system_stats", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"system": {"python_version": "3.11.4", "torch_version": "2.3.0"},
			"devices": [{"name": "cuda:0", "type": "cuda", "vram_total": 24000000000, "vram_free": 18000000000}]
		}`))
	}))

	stats, err := client.SystemStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats.System)
	assert.Equal(t, "3.11.4", stats.System.PythonVersion)
	require.Len(t, stats.Devices, 1)
	assert.Equal(t, int64(18000000000), stats.Devices[0].VRAMFree)
}

func TestViewURL(t *testing.T) {
	client, err := New(Config{BaseURL: "http://engine:8188"})
	require.NoError(t, err)

	u := client.ViewURL(OutputRef{Filename: "out 1.png", Subfolder: "edits"})
	assert.Equal(t, "http://engine:8188/view?filename=out+1.png&subfolder=edits&type=output", u)
}

func TestFetchOutput(t *testing.T) {
	t.Run("streams body", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/view", r.URL.Path)
			assert.Equal(t, "out.png", r.URL.Query().Get("filename"))
			_, _ = w.Write([]byte("media-bytes"))
		}))

		body, size, err := client.FetchOutput(context.Background(), OutputRef{Filename: "out.png"})
		require.NoError(t, err)
		defer func() { _ = body.Close() }()
		assert.Equal(t, int64(len("media-bytes")), size)
	})

	t.Run("missing output", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		_, _, err := client.FetchOutput(context.Background(), OutputRef{Filename: "gone.png"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOutputUnavailable)
	})
}

func TestUnreachableEngine(t *testing.T) {
	// Closed server: transport-level failure.
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := New(Config{BaseURL: base})
	require.NoError(t, err)

	_, err = client.Queue(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.True(t, IsTransient(err))
}

package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/pkg/feed"
	"github.com/3leaps/gostudio/pkg/tracker"
)

func resetFeedFilterFlags() {
	feedAfter = ""
	feedBefore = ""
	feedStatuses = nil
	feedMatch = ""
}

func TestBuildFeedFilter(t *testing.T) {
	defer resetFeedFilterFlags()

	t.Run("no flags yields nil filter", func(t *testing.T) {
		resetFeedFilterFlags()

		filter, err := buildFeedFilter()
		require.NoError(t, err)
		assert.Nil(t, filter)
	})

	t.Run("status flag yields filter", func(t *testing.T) {
		resetFeedFilterFlags()
		feedStatuses = []string{"completed"}

		filter, err := buildFeedFilter()
		require.NoError(t, err)
		assert.NotNil(t, filter)
	})

	t.Run("date range yields filter", func(t *testing.T) {
		resetFeedFilterFlags()
		feedAfter = "2026-08-01"
		feedBefore = "2026-08-15"

		filter, err := buildFeedFilter()
		require.NoError(t, err)
		assert.NotNil(t, filter)
	})

	t.Run("bad regex errors", func(t *testing.T) {
		resetFeedFilterFlags()
		feedMatch = "(unclosed"

		_, err := buildFeedFilter()
		require.Error(t, err)
		assert.ErrorIs(t, err, feed.ErrBadRegex)
	})

	t.Run("bad date errors", func(t *testing.T) {
		resetFeedFilterFlags()
		feedAfter = "last tuesday"

		_, err := buildFeedFilter()
		require.Error(t, err)
		assert.ErrorIs(t, err, feed.ErrBadDate)
	})
}

func TestFeedItemRecord(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := &tracker.JobRecord{
		ID:           "trk-42",
		WorkflowName: "image_edit",
		Status:       "completed",
		PromptID:     "prompt-9",
		OutputURLs:   []string{"http://127.0.0.1:8188/view?filename=out.png"},
		Width:        512,
		Height:       768,
		ErrorMessage: "",
		CreatedAt:    created,
	}

	item := feedItemRecord(rec)

	assert.Equal(t, "trk-42", item.TrackerID)
	assert.Equal(t, "image_edit", item.Workflow)
	assert.Equal(t, "completed", item.Status)
	assert.Equal(t, "prompt-9", item.PromptID)
	assert.Equal(t, rec.OutputURLs, item.OutputURLs)
	assert.Equal(t, 512, item.Width)
	assert.Equal(t, 768, item.Height)
	assert.Equal(t, created, item.CreatedAt)
}

func TestPrintFeedTable(t *testing.T) {
	t.Run("empty page", func(t *testing.T) {
		out := captureStdout(t, func() { printFeedTable(nil) })
		require.Contains(t, out, "No jobs found")
	})

	t.Run("rows include size and output count", func(t *testing.T) {
		out := captureStdout(t, func() {
			printFeedTable([]tracker.JobRecord{
				{
					ID:           "4f9d2c81-aaaa-bbbb-cccc-000000000001",
					WorkflowName: "image_edit",
					Status:       "completed",
					Width:        512,
					Height:       512,
					OutputURLs:   []string{"u1", "u2"},
					CreatedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
				},
				{
					ID:           "trk-no-size",
					WorkflowName: "multitalk",
					Status:       "processing",
					CreatedAt:    time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
				},
			})
		})

		require.Contains(t, out, "4f9d2c81-aaa")
		require.Contains(t, out, "image_edit")
		require.Contains(t, out, "512x512")
		require.Contains(t, out, "2026-08-01T12:00:00Z")
		require.Contains(t, out, "multitalk")
		require.NotContains(t, out, "4f9d2c81-aaaa-bbbb")
	})
}

func TestFeedExitCode(t *testing.T) {
	t.Run("live context maps to service unavailable", func(t *testing.T) {
		assert.Equal(t, foundry.ExitExternalServiceUnavailable, feedExitCode(context.Background()))
	})

	t.Run("cancelled context maps to interrupt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, foundry.ExitSignalInt, feedExitCode(ctx))
	})
}

func TestResolveHistoryDBPath(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		path, err := resolveHistoryDBPath("/tmp/history.db")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/history.db", path)
	})

	t.Run("derives default from app identity", func(t *testing.T) {
		orig := appIdentity
		appIdentity = &config.Identity{BinaryName: "gostudio", EnvPrefix: "GOSTUDIO", ConfigName: "gostudio"}
		defer func() { appIdentity = orig }()

		path, err := resolveHistoryDBPath("")
		require.NoError(t, err)
		assert.Equal(t, "history.db", filepath.Base(path))
		assert.Equal(t, "history", filepath.Base(filepath.Dir(path)))
	})

	t.Run("errors without identity", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		_, err := resolveHistoryDBPath("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "app identity")
	})
}

func TestOpenHistoryDB_MissingFile(t *testing.T) {
	_, err := openHistoryDB(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "history database not found")
}

func TestFeedOffline_JSONL(t *testing.T) {
	now := time.Now().UTC()
	dbPath := seedHistoryDB(t, []tracker.JobRecord{
		{ID: "t1", WorkflowName: "image_edit", Status: "completed", OutputURLs: []string{"u1"}, CreatedAt: now.Add(-time.Hour)},
		{ID: "t2", WorkflowName: "multitalk", Status: "completed", OutputURLs: []string{"u2"}, CreatedAt: now.Add(-2 * time.Hour)},
	})

	out := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"feed", "--offline", "--history-db", dbPath, "--workflow", "image_edit", "--json"})
		rootCmd.SetContext(context.Background())

		err := rootCmd.Execute()
		rootCmd.SetArgs(nil)
		feedOffline = false
		feedWorkflow = ""
		feedJSON = false
		feedHistoryDB = ""
		require.NoError(t, err)
	})

	require.Contains(t, out, "gostudio.feed_item.v1")
	require.Contains(t, out, `"tracker_id":"t1"`)
	require.NotContains(t, out, `"tracker_id":"t2"`)
}

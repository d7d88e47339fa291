package historystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/pkg/tracker"
)

var historyBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func historyRecord(id, workflowName, status string, createdAt time.Time) tracker.JobRecord {
	rec := tracker.JobRecord{
		ID:           id,
		WorkflowName: workflowName,
		PromptID:     "prompt-" + id,
		Status:       status,
		EngineURL:    "http://engine:8188",
		InputRefs:    []string{"up_" + id + ".png"},
		Width:        768,
		Height:       768,
		Parameters:   map[string]any{"PROMPT": "a quiet harbor", "SEED": float64(42)},
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	switch status {
	case tracker.StatusCompleted:
		rec.OutputURLs = []string{"https://store.example/outputs/" + id + ".png"}
	case tracker.StatusError:
		rec.ErrorMessage = "CUDA out of memory"
	}
	return rec
}

func TestUpsertJobs(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	recordedAt := historyBase.Add(6 * time.Hour)

	t.Run("insert new records", func(t *testing.T) {
		items := []tracker.JobRecord{
			historyRecord("101", "image_edit", tracker.StatusProcessing, historyBase),
			historyRecord("102", "multitalk", tracker.StatusCompleted, historyBase.Add(time.Hour)),
		}
		require.NoError(t, UpsertJobs(ctx, db, items, recordedAt))

		count, err := CountJobs(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		got, err := GetJob(ctx, db, "102")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "multitalk", got.WorkflowName)
		assert.Equal(t, tracker.StatusCompleted, got.Status)
		assert.Equal(t, "prompt-102", got.PromptID)
		assert.Equal(t, []string{"https://store.example/outputs/102.png"}, got.OutputURLs)
		assert.Equal(t, []string{"up_102.png"}, got.InputRefs)
		assert.Equal(t, "a quiet harbor", got.Parameters["PROMPT"])
		assert.Equal(t, float64(42), got.Parameters["SEED"])
		assert.True(t, got.CreatedAt.Equal(historyBase.Add(time.Hour)))
	})

	t.Run("refresh existing record", func(t *testing.T) {
		done := historyRecord("101", "image_edit", tracker.StatusCompleted, historyBase)
		done.UpdatedAt = historyBase.Add(2 * time.Hour)
		require.NoError(t, UpsertJobs(ctx, db, []tracker.JobRecord{done}, recordedAt))

		count, err := CountJobs(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count, "upsert must not duplicate rows")

		got, err := GetJob(ctx, db, "101")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, tracker.StatusCompleted, got.Status)
		assert.Equal(t, []string{"https://store.example/outputs/101.png"}, got.OutputURLs)
		assert.True(t, got.UpdatedAt.Equal(historyBase.Add(2*time.Hour)))
	})

	t.Run("error record keeps message", func(t *testing.T) {
		failed := historyRecord("103", "image_edit", tracker.StatusError, historyBase.Add(2*time.Hour))
		require.NoError(t, UpsertJobs(ctx, db, []tracker.JobRecord{failed}, recordedAt))

		got, err := GetJob(ctx, db, "103")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, tracker.StatusError, got.Status)
		assert.Equal(t, "CUDA out of memory", got.ErrorMessage)
		assert.Empty(t, got.OutputURLs)
	})
}

func TestUpsertJobsRejectsEmptyID(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	bad := historyRecord("", "image_edit", tracker.StatusProcessing, historyBase)
	err = UpsertJobs(ctx, db, []tracker.JobRecord{bad}, historyBase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty tracker id")
}

func TestGetJobMissing(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	got, err := GetJob(ctx, db, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

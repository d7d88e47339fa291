package historystore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/pkg/tracker"
)

func seedHistory(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	items := []tracker.JobRecord{
		historyRecord("m3", "multitalk", tracker.StatusSubmitted, historyBase),
		historyRecord("i3", "image_edit", tracker.StatusCompleted, historyBase.Add(1*time.Hour)),
		historyRecord("i2", "image_edit", tracker.StatusError, historyBase.Add(2*time.Hour)),
		historyRecord("i1", "image_edit", tracker.StatusCompleted, historyBase.Add(3*time.Hour)),
		historyRecord("m2", "multitalk", tracker.StatusProcessing, historyBase.Add(4*time.Hour)),
		historyRecord("m1", "multitalk", tracker.StatusCompleted, historyBase.Add(5*time.Hour)),
	}
	require.NoError(t, UpsertJobs(ctx, db, items, historyBase.Add(6*time.Hour)))
}

func queryIDs(recs []tracker.JobRecord) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestQueryJobs(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))
	seedHistory(t, ctx, db)

	t.Run("all records newest first", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2", "i1", "i2", "i3", "m3"}, queryIDs(recs))
	})

	t.Run("workflow filter", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{Workflow: "image_edit"})
		require.NoError(t, err)
		assert.Equal(t, []string{"i1", "i2", "i3"}, queryIDs(recs))
	})

	t.Run("status filter", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{Status: tracker.StatusError})
		require.NoError(t, err)
		assert.Equal(t, []string{"i2"}, queryIDs(recs))
		assert.Equal(t, "CUDA out of memory", recs[0].ErrorMessage)
	})

	t.Run("completed only", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{CompletedOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "i1", "i3"}, queryIDs(recs))
		for _, r := range recs {
			assert.NotEmpty(t, r.OutputURLs)
		}
	})

	t.Run("since lower bound is inclusive", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{Since: historyBase.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2", "i1", "i2"}, queryIDs(recs))
	})

	t.Run("limit with offset pages the window", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"m2", "i1"}, queryIDs(recs))
	})

	t.Run("offset without limit", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{Offset: 4})
		require.NoError(t, err)
		assert.Equal(t, []string{"i3", "m3"}, queryIDs(recs))
	})

	t.Run("workflow and completed only combine", func(t *testing.T) {
		recs, err := QueryJobs(ctx, db, QueryParams{Workflow: "image_edit", CompletedOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"i1", "i3"}, queryIDs(recs))
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))

	t.Run("empty store", func(t *testing.T) {
		summary, err := Stats(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.TotalJobs)
		assert.Nil(t, summary.NewestCreatedAt)
		assert.Nil(t, summary.LastRecordedAt)
		assert.Empty(t, summary.Workflows)
	})

	seedHistory(t, ctx, db)

	t.Run("aggregates", func(t *testing.T) {
		summary, err := Stats(ctx, db)
		require.NoError(t, err)

		assert.Equal(t, int64(6), summary.TotalJobs)
		assert.Equal(t, int64(3), summary.CompletedJobs)
		assert.Equal(t, int64(1), summary.ErrorJobs)
		assert.Equal(t, int64(2), summary.ActiveJobs)

		require.NotNil(t, summary.NewestCreatedAt)
		assert.True(t, summary.NewestCreatedAt.Equal(historyBase.Add(5*time.Hour)))
		require.NotNil(t, summary.LastRecordedAt)
		assert.True(t, summary.LastRecordedAt.Equal(historyBase.Add(6*time.Hour)))

		require.Len(t, summary.Workflows, 2)
		// Equal totals fall back to workflow name order.
		assert.Equal(t, "image_edit", summary.Workflows[0].Workflow)
		assert.Equal(t, int64(3), summary.Workflows[0].TotalJobs)
		assert.Equal(t, int64(2), summary.Workflows[0].CompletedJobs)
		assert.Equal(t, int64(1), summary.Workflows[0].ErrorJobs)
		assert.Equal(t, "multitalk", summary.Workflows[1].Workflow)
		assert.Equal(t, int64(1), summary.Workflows[1].CompletedJobs)
	})
}

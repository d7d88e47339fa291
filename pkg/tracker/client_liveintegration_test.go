//go:build liveintegration

package tracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/pkg/tracker"
	"github.com/3leaps/gostudio/test/livetest"
)

// Read-only listing calls against a real tracking backend. Nothing here
// creates or mutates job records.
func TestClient_LiveIntegration(t *testing.T) {
	base := livetest.SkipUnlessTracker(t)

	client, err := tracker.New(tracker.Config{
		BaseURL:     base,
		HTTPTimeout: 15 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("list first page", func(t *testing.T) {
		page, err := client.ListJobs(ctx, tracker.Query{Limit: 1})
		require.NoError(t, err)
		require.NotNil(t, page)
		assert.LessOrEqual(t, len(page.Items), 1)
	})

	t.Run("list filtered by workflow", func(t *testing.T) {
		page, err := client.ListJobs(ctx, tracker.Query{Limit: 5, WorkflowName: "image_edit"})
		require.NoError(t, err)
		for _, item := range page.Items {
			assert.Equal(t, "image_edit", item.WorkflowName)
		}
	})

	t.Run("completed records carry outputs", func(t *testing.T) {
		page, err := client.ListJobs(ctx, tracker.Query{Limit: 5, CompletedOnly: true})
		require.NoError(t, err)
		for _, item := range page.Items {
			assert.Equal(t, tracker.StatusCompleted, item.Status)
		}
	})
}

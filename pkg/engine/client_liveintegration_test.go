//go:build liveintegration

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/test/livetest"
)

// These tests run read-only calls against a real engine. They never
// submit prompts, so a shared engine instance is safe to point at.
func TestClient_LiveIntegration(t *testing.T) {
	base := livetest.SkipUnlessEngine(t)

	client, err := engine.New(engine.Config{
		BaseURL:     base,
		HTTPTimeout: 15 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("system stats", func(t *testing.T) {
		stats, err := client.SystemStats(ctx)
		require.NoError(t, err)
		require.NotNil(t, stats)
		if stats.System != nil {
			assert.NotEmpty(t, stats.System.PythonVersion)
		}
	})

	t.Run("queue snapshot", func(t *testing.T) {
		state, err := client.Queue(ctx)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.GreaterOrEqual(t, state.Running, 0)
		assert.GreaterOrEqual(t, state.Pending, 0)
	})

	t.Run("history of unknown prompt", func(t *testing.T) {
		entry, err := client.History(ctx, "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})
}

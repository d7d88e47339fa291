package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/pkg/archive"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	return store, dir
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{BaseDir: "   "}.Validate())
	assert.NoError(t, Config{BaseDir: "/tmp/archive"}.Validate())
}

func TestStore_PutHeadRoundTrip(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	key := "image_edit/job-1/out_0001.png"
	err := store.Put(ctx, key, strings.NewReader("png bytes"), -1, "image/png")
	require.NoError(t, err)

	// The object lands at the key path under the base dir
	data, err := os.ReadFile(filepath.Join(dir, "image_edit", "job-1", "out_0001.png"))
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))

	info, err := store.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, info.Key)
	assert.Equal(t, int64(len("png bytes")), info.Size)
	assert.False(t, info.LastModified.IsZero())

	// No leftover temp files from the atomic write
	entries, err := os.ReadDir(filepath.Join(dir, "image_edit", "job-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_PutOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "out.png", strings.NewReader("first"), -1, ""))
	require.NoError(t, store.Put(ctx, "out.png", strings.NewReader("second"), -1, ""))

	info, err := store.Head(ctx, "out.png")
	require.NoError(t, err)
	assert.Equal(t, int64(len("second")), info.Size)
}

func TestStore_HeadMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Head(context.Background(), "does/not/exist.png")
	require.Error(t, err)
	assert.True(t, archive.IsNotFound(err))
}

func TestStore_HeadDirectory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sub/file.png", strings.NewReader("x"), -1, ""))

	// A directory is not an object
	_, err := store.Head(ctx, "sub")
	require.Error(t, err)
	assert.True(t, archive.IsNotFound(err))
}

func TestStore_TraversalContained(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	// Keys with ".." are re-rooted under the base dir, never outside it
	require.NoError(t, store.Put(ctx, "../escape.txt", strings.NewReader("x"), -1, ""))

	_, err := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_InvalidKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "/"} {
		assert.Error(t, store.Put(ctx, key, strings.NewReader("x"), -1, ""), "key %q", key)
	}
}

func TestStore_LeadingSlashNormalized(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "/job/out.png", strings.NewReader("x"), -1, ""))

	info, err := store.Head(ctx, "job/out.png")
	require.NoError(t, err)
	assert.Equal(t, "job/out.png", info.Key)
}

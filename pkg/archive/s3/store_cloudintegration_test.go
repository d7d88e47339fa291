//go:build cloudintegration

package s3_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/pkg/archive"
	"github.com/3leaps/gostudio/pkg/archive/s3"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/runner"
	"github.com/3leaps/gostudio/test/cloudtest"
)

func motoStore(t *testing.T, ctx context.Context, bucket string) *s3.Store {
	t.Helper()
	store, err := s3.New(ctx, s3.Config{
		Bucket:          bucket,
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_PutHead_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("round trips an object", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		store := motoStore(t, ctx, bucket)

		content := []byte("rendered output bytes")
		err := store.Put(ctx, "runs/job-1/out.png", bytes.NewReader(content), int64(len(content)), "image/png")
		require.NoError(t, err)

		info, err := store.Head(ctx, "runs/job-1/out.png")
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), info.Size)
		assert.Equal(t, "image/png", info.ContentType)

		assert.Equal(t, content, cloudtest.GetObject(t, ctx, bucket, "runs/job-1/out.png"))
	})

	t.Run("buffers unknown sizes", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		store := motoStore(t, ctx, bucket)

		content := []byte("length not known up front")
		err := store.Put(ctx, "unsized.bin", bytes.NewReader(content), -1, "")
		require.NoError(t, err)

		info, err := store.Head(ctx, "unsized.bin")
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), info.Size)
	})

	t.Run("head of missing key returns ErrNotFound", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		store := motoStore(t, ctx, bucket)

		_, err := store.Head(ctx, "does/not/exist.png")
		require.Error(t, err)

		var storeErr *archive.StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.ErrorIs(t, storeErr.Err, archive.ErrNotFound)
	})
}

// fetchStub serves output bytes by filename, standing in for the engine.
type fetchStub struct {
	outputs map[string][]byte
}

func (f *fetchStub) FetchOutput(ctx context.Context, ref engine.OutputRef) (io.ReadCloser, int64, error) {
	b, ok := f.outputs[ref.Filename]
	if !ok {
		return nil, 0, errors.New("no such output")
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func TestArchiver_S3_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	store := motoStore(t, ctx, bucket)

	eng := &fetchStub{outputs: map[string][]byte{
		"final.png":   []byte("png bytes"),
		"scratch.tmp": []byte("scratch"),
	}}

	filter, err := archive.NewFilter(nil, []string{"**/*.tmp", "*.tmp"})
	require.NoError(t, err)

	archiver, err := archive.New(archive.Config{
		Engine:    eng,
		Store:     store,
		Filter:    filter,
		KeyPrefix: "studio",
	})
	require.NoError(t, err)

	job := &runner.Job{
		LocalID:  "job-abc",
		Workflow: "image_edit",
		OutputRefs: []engine.OutputRef{
			{Filename: "final.png", Subfolder: "renders", Type: "output"},
			{Filename: "scratch.tmp", Type: "temp"},
		},
	}

	results, err := archiver.ArchiveJob(ctx, job)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "studio/image_edit/job-abc/renders/final.png", results[0].Key)

	keys := cloudtest.ListKeys(t, ctx, bucket)
	assert.Equal(t, []string{"studio/image_edit/job-abc/renders/final.png"}, keys)
	assert.Equal(t, []byte("png bytes"), cloudtest.GetObject(t, ctx, bucket, results[0].Key))
}

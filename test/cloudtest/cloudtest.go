// Package cloudtest points archive integration tests at a local moto
// server so the S3 store can be exercised without AWS credentials.
//
// Tests importing this package must carry the cloudintegration build tag
// and call SkipIfUnavailable first; without a reachable moto endpoint
// they skip instead of failing. Override the endpoint and region with
// GOSTUDIO_TEST_S3_ENDPOINT and GOSTUDIO_TEST_S3_REGION.
package cloudtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Moto accepts any non-empty credentials.
const (
	TestAccessKeyID     = "testing"
	TestSecretAccessKey = "testing"
)

// Endpoint and Region configure the store under test.
// Port 5555 avoids the macOS AirTunes listener on 5000.
var (
	Endpoint = envOr("GOSTUDIO_TEST_S3_ENDPOINT", "http://localhost:5555")
	Region   = envOr("GOSTUDIO_TEST_S3_REGION", "us-east-1")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SkipIfUnavailable skips the test unless a moto server answers at Endpoint.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		t.Skipf("moto probe request failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Skipf("no moto server at %s (start one with: moto_server -p 5555)", Endpoint)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("moto server at %s answered %d", Endpoint, resp.StatusCode)
	}
}

var (
	clientOnce sync.Once
	client     *s3.Client
	clientErr  error
)

// verifyClient is a raw S3 client for asserting on bucket contents from
// outside the store under test.
func verifyClient(t *testing.T) *s3.Client {
	t.Helper()

	clientOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(TestAccessKeyID, TestSecretAccessKey, "")),
		)
		if err != nil {
			clientErr = err
			return
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	if clientErr != nil {
		t.Fatalf("build verification client: %v", clientErr)
	}
	return client
}

// CreateBucket creates a uniquely named bucket for this test and removes
// it, contents included, when the test finishes.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()

	c := verifyClient(t)
	name := bucketName(t)

	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { destroyBucket(t, name) })
	return name
}

// bucketName derives a valid, unique S3 bucket name from the test name.
func bucketName(t *testing.T) string {
	name := strings.ToLower(t.Name())
	name = strings.NewReplacer("/", "-", "_", "-").Replace(name)
	if len(name) > 50 {
		name = name[:50]
	}
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)
}

func destroyBucket(t *testing.T, bucket string) {
	t.Helper()

	ctx := context.Background()
	c := verifyClient(t)

	for _, key := range ListKeys(t, ctx, bucket) {
		_, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			t.Logf("cleanup: delete object %s/%s: %v", bucket, key, err)
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("cleanup: delete bucket %s: %v", bucket, err)
	}
}

// GetObject reads an object back, failing the test when it is missing.
func GetObject(t *testing.T, ctx context.Context, bucket, key string) []byte {
	t.Helper()

	c := verifyClient(t)
	out, err := c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatalf("get object %s/%s: %v", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("read object %s/%s: %v", bucket, key, err)
	}
	return b
}

// ListKeys returns every object key in the bucket, in listing order.
func ListKeys(t *testing.T, ctx context.Context, bucket string) []string {
	t.Helper()

	c := verifyClient(t)
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			t.Fatalf("list objects in %s: %v", bucket, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys
}

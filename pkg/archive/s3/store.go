package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/gostudio/pkg/archive"
)

// imdsProbeTimeout bounds the instance-metadata region lookup so laptops
// without an IMDS endpoint fail fast instead of hanging New.
const imdsProbeTimeout = 2 * time.Second

// Store implements archive.Store for AWS S3 and S3-compatible storage.
type Store struct {
	client *s3.Client
	bucket string
}

var _ archive.Store = (*Store)(nil)

// New creates an S3 archive store. Credentials come from the SDK default
// chain unless the config carries explicit keys.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &archive.StoreError{
			Op:     "New",
			Store:  archive.StoreS3,
			Bucket: cfg.Bucket,
			Err:    err,
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// loadAWSConfig runs the SDK loader with the store's overrides, then fills
// in a region when nothing along the chain produced one.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Regionless against real AWS: ask the instance metadata service
	// before settling on the default.
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = imdsRegion(ctx, awsCfg)
	}
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// imdsRegion asks the EC2 instance metadata service for the local region.
// Returns "" off-instance or on any error.
func imdsRegion(ctx context.Context, awsCfg aws.Config) string {
	ctx, cancel := context.WithTimeout(ctx, imdsProbeTimeout)
	defer cancel()

	out, err := imds.NewFromConfig(awsCfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return ""
	}
	return out.Region
}

// resolveRegion applies the final fallback after SDK loading and the
// optional instance-metadata probe. cfgRegion was already handed to the
// SDK, so sdkRegion carries it; only the empty case needs a decision.
// Plain AWS defaults to us-east-1, custom endpoints stay regionless.
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	_ = cfgRegion // folded into sdkRegion during SDK load
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint != "" {
		return ""
	}
	return DefaultAWSRegion
}

// Put uploads one object. Unknown sizes (-1) are buffered first because
// PutObject needs a content length for unseekable bodies.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if size < 0 {
		b, err := io.ReadAll(body)
		if err != nil {
			return s.wrapError("Put", key, err)
		}
		body = bytes.NewReader(b)
		size = int64(len(b))
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

// Head returns metadata for a stored object.
func (s *Store) Head(ctx context.Context, key string) (*archive.ObjectInfo, error) {
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}

	return &archive.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		ContentType:  aws.ToString(output.ContentType),
		LastModified: aws.ToTime(output.LastModified),
	}, nil
}

// Close satisfies archive.Store; the S3 client holds no resources that
// need releasing.
func (s *Store) Close() error {
	return nil
}

// wrapError builds a StoreError, swapping in an archive sentinel when the
// underlying failure maps onto one.
func (s *Store) wrapError(op, key string, err error) error {
	wrapped := &archive.StoreError{
		Op:     op,
		Store:  archive.StoreS3,
		Bucket: s.bucket,
		Key:    key,
		Err:    err,
	}
	if sentinel := classifyS3Error(err); sentinel != nil {
		wrapped.Err = sentinel
	}
	return wrapped
}

// s3CodeSentinels maps S3 API error codes onto archive sentinels.
var s3CodeSentinels = map[string]error{
	"NoSuchKey":             archive.ErrNotFound,
	"NotFound":              archive.ErrNotFound,
	"NoSuchBucket":          archive.ErrBucketNotFound,
	"AccessDenied":          archive.ErrAccessDenied,
	"Forbidden":             archive.ErrAccessDenied,
	"InvalidAccessKeyId":    archive.ErrInvalidCredentials,
	"SignatureDoesNotMatch": archive.ErrInvalidCredentials,
	"SlowDown":              archive.ErrThrottled,
	"Throttling":            archive.ErrThrottled,
	"RequestLimitExceeded":  archive.ErrThrottled,
	"ServiceUnavailable":    archive.ErrStoreUnavailable,
	"InternalError":         archive.ErrStoreUnavailable,
}

// classifyS3Error finds the archive sentinel for an SDK error, or nil when
// the failure has no mapping. Typed errors win, then API error codes; bare
// transport errors fall back to message sniffing because the SDK flattens
// some failures into plain strings.
func classifyS3Error(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return archive.ErrNotFound
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return archive.ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return s3CodeSentinels[apiErr.ErrorCode()]
	}

	msg := err.Error()
	for _, probe := range []struct {
		needles  []string
		sentinel error
	}{
		{[]string{"NoSuchKey", "NotFound", "404"}, archive.ErrNotFound},
		{[]string{"NoSuchBucket"}, archive.ErrBucketNotFound},
		{[]string{"AccessDenied", "Forbidden", "403"}, archive.ErrAccessDenied},
		{[]string{"InvalidAccessKeyId", "SignatureDoesNotMatch"}, archive.ErrInvalidCredentials},
		{[]string{"SlowDown", "Throttling", "429"}, archive.ErrThrottled},
		{[]string{"ServiceUnavailable", "503"}, archive.ErrStoreUnavailable},
	} {
		for _, needle := range probe.needles {
			if strings.Contains(msg, needle) {
				return probe.sentinel
			}
		}
	}
	return nil
}

// Package s3 implements the archive store interface for AWS S3 and
// S3-compatible storage.
package s3

// DefaultAWSRegion is the fallback region for AWS S3 when nothing else
// resolves one.
const DefaultAWSRegion = "us-east-1"

// Config configures an S3 archive store.
//
// Credentials resolve through the AWS SDK v2 default chain: explicit
// AccessKeyID/SecretAccessKey when set, then environment variables, the
// shared credentials and config files, and finally instance metadata
// (ECS task roles and EKS IRSA included).
//
// Region resolution mirrors the AWS CLI: explicit config, environment,
// profile, instance metadata, then us-east-1. Stores with a custom
// Endpoint get no default region because most S3-compatible backends
// ignore it.
type Config struct {
	// Bucket receiving archived outputs (required).
	Bucket string

	// Region overrides region resolution. Usually left empty so the
	// environment or profile decides.
	Region string

	// Endpoint points at an S3-compatible backend such as MinIO
	// (http://localhost:9000) or Cloudflare R2. Empty means AWS S3.
	Endpoint string

	// Profile selects a named profile from the shared AWS config.
	Profile string

	// AccessKeyID and SecretAccessKey short-circuit the credential
	// chain. Set both or neither.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the URL path instead of the
	// subdomain. Most S3-compatible backends need it.
	ForcePathStyle bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError reports an invalid store configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

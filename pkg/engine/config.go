package engine

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Default configuration values.
const (
	// DefaultHTTPTimeout bounds a single engine request. Uploads can carry
	// multi-megabyte media, so this is generous.
	DefaultHTTPTimeout = 60 * time.Second

	// DefaultRequestsPerSecond limits outbound request rate. Several jobs
	// polling concurrently share one client, so the ceiling keeps poll
	// storms off the engine.
	DefaultRequestsPerSecond = 10

	// DefaultBurst is the rate limiter burst allowance.
	DefaultBurst = 20
)

// Config configures the workflow engine client.
//
// Example:
//
//	cfg := engine.Config{
//		BaseURL: "http://127.0.0.1:8188",
//	}
//	client, err := engine.New(cfg)
type Config struct {
	// BaseURL is the engine's HTTP address (e.g., "http://127.0.0.1:8188").
	// Required.
	BaseURL string

	// ClientID identifies this client to the engine. Submitted alongside
	// every workflow graph. When empty, a "studio-<hex8>" id is generated.
	ClientID string

	// HTTPTimeout bounds each request. Zero means DefaultHTTPTimeout.
	HTTPTimeout time.Duration

	// RequestsPerSecond caps outbound request rate. Zero means
	// DefaultRequestsPerSecond.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Zero means DefaultBurst.
	Burst int

	// Logger receives client diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// ConfigError describes an invalid engine configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "engine config: " + e.Field + ": " + e.Message
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return &ConfigError{Field: "BaseURL", Message: "base URL is required"}
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return &ConfigError{Field: "BaseURL", Message: "base URL must start with http:// or https://"}
	}
	if c.HTTPTimeout < 0 {
		return &ConfigError{Field: "HTTPTimeout", Message: "timeout must be >= 0"}
	}
	if c.RequestsPerSecond < 0 {
		return &ConfigError{Field: "RequestsPerSecond", Message: "rate must be >= 0"}
	}
	if c.Burst < 0 {
		return &ConfigError{Field: "Burst", Message: "burst must be >= 0"}
	}
	return nil
}

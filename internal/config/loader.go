// Package config loads gostudio configuration from defaults, an optional
// gostudio.yaml, GOSTUDIO_* environment variables, and runtime overrides,
// in ascending precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config discovery and env binding.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// Config is the full runtime configuration tree.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Journal JournalConfig `mapstructure:"journal"`
	History HistoryConfig `mapstructure:"history"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
	Workers int           `mapstructure:"workers"`
}

// ServerConfig controls the HTTP facade listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig points at the workflow engine HTTP API.
type EngineConfig struct {
	URL               string        `mapstructure:"url"`
	ClientID          string        `mapstructure:"client_id"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
}

// TrackerConfig points at the tracking backend REST API.
type TrackerConfig struct {
	URL         string        `mapstructure:"url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// RunnerConfig tunes the submit/poll state machine.
type RunnerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

// FeedConfig tunes feed pagination and refresh.
type FeedConfig struct {
	Limit           int           `mapstructure:"limit"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Categories      []string      `mapstructure:"categories"`
}

// JournalConfig locates the local job journal. An empty Dir means the
// per-user app data directory is used.
type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// HistoryConfig locates the local history cache database. An empty Path
// means the per-user app data directory is used.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig describes the optional output archive destination.
// Target is a directory path or an s3:// URI.
type ArchiveConfig struct {
	Target    string   `mapstructure:"target"`
	Region    string   `mapstructure:"region"`
	Endpoint  string   `mapstructure:"endpoint"`
	PathStyle bool     `mapstructure:"path_style"`
	Include   []string `mapstructure:"include"`
	Exclude   []string `mapstructure:"exclude"`
}

// LoggingConfig selects log level and output profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// envSpec maps one environment variable onto a config key path.
type envSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.Mutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

func defaultIdentity() *Identity {
	return &Identity{
		BinaryName: "gostudio",
		EnvPrefix:  "GOSTUDIO",
		ConfigName: "gostudio",
	}
}

// DefaultIdentity returns the gostudio application identity. The CLI
// installs this at startup; Load sets it again so library callers that
// skip the CLI still get an identity.
func DefaultIdentity() *Identity {
	return defaultIdentity()
}

// SetConfigFile forces Load to read exactly this file instead of searching
// the usual locations. An empty path restores search behavior.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration and installs it as the package config.
// Optional override maps take precedence over environment variables, the
// config file, and defaults. Load may be called again to reload.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()

	appIdentity = defaultIdentity()

	v := viper.New()
	setLoaderDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(appIdentity.ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if root, err := findProjectRoot(); err == nil {
			v.AddConfigPath(root)
		}
		for _, dir := range getUserConfigPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	for _, spec := range getEnvSpecs() {
		_ = v.BindEnv(spec.Path, spec.Name)
	}

	// Runtime overrides use viper's override layer so they outrank
	// bound environment variables.
	for _, m := range overrides {
		applyOverrides(v, "", m)
	}

	// Durations arrive as strings ("30s") and env-sourced lists as
	// comma-separated strings; both need explicit decode hooks.
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return appConfig, nil
}

// GetConfig returns the most recently loaded configuration, or nil if Load
// has not been called.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}

// AppIdentity returns the identity installed by Load, or nil before Load.
func AppIdentity() *Identity {
	configMu.Lock()
	defer configMu.Unlock()
	return appIdentity
}

// Validate rejects configurations the rest of the system cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	durations := []struct {
		name string
		val  time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"engine.http_timeout", c.Engine.HTTPTimeout},
		{"tracker.http_timeout", c.Tracker.HTTPTimeout},
		{"runner.poll_interval", c.Runner.PollInterval},
		{"runner.poll_timeout", c.Runner.PollTimeout},
		{"feed.refresh_interval", c.Feed.RefreshInterval},
	}
	for _, d := range durations {
		if d.val < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, d.val)
		}
	}

	switch strings.ToLower(c.Logging.Profile) {
	case "", "structured", "console":
	default:
		return fmt.Errorf("logging.profile must be structured or console, got %q", c.Logging.Profile)
	}

	if c.Engine.RequestsPerSecond < 0 {
		return fmt.Errorf("engine.requests_per_second must not be negative, got %v", c.Engine.RequestsPerSecond)
	}
	if c.Feed.Limit < 0 {
		return fmt.Errorf("feed.limit must not be negative, got %d", c.Feed.Limit)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}

	return nil
}

func setLoaderDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("engine.url", "http://127.0.0.1:8188")
	v.SetDefault("engine.client_id", "")
	v.SetDefault("engine.requests_per_second", 10)
	v.SetDefault("engine.http_timeout", "60s")

	v.SetDefault("tracker.url", "http://127.0.0.1:3000")
	v.SetDefault("tracker.http_timeout", "30s")

	v.SetDefault("runner.poll_interval", "2s")
	v.SetDefault("runner.poll_timeout", "300s")

	v.SetDefault("feed.limit", 20)
	v.SetDefault("feed.refresh_interval", "10s")
	v.SetDefault("feed.categories", []string{"multitalk", "image_edit"})

	v.SetDefault("journal.dir", "")
	v.SetDefault("history.path", "")

	v.SetDefault("archive.target", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.path_style", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("workers", 3)
}

// getEnvSpecs returns the environment bindings for the current identity.
// Callers inside Load already hold configMu; test helpers call it unlocked
// after releasing the mutex, so it must not lock.
func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return nil
	}
	p := appIdentity.EnvPrefix + "_"
	return []envSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "ENGINE_URL", Path: "engine.url"},
		{Name: p + "ENGINE_CLIENT_ID", Path: "engine.client_id"},
		{Name: p + "TRACKER_URL", Path: "tracker.url"},
		{Name: p + "POLL_INTERVAL", Path: "runner.poll_interval"},
		{Name: p + "POLL_TIMEOUT", Path: "runner.poll_timeout"},
		{Name: p + "FEED_LIMIT", Path: "feed.limit"},
		{Name: p + "FEED_CATEGORIES", Path: "feed.categories"},
		{Name: p + "JOURNAL_DIR", Path: "journal.dir"},
		{Name: p + "HISTORY_PATH", Path: "history.path"},
		{Name: p + "ARCHIVE_TARGET", Path: "archive.target"},
		{Name: p + "ARCHIVE_REGION", Path: "archive.region"},
		{Name: p + "ARCHIVE_ENDPOINT", Path: "archive.endpoint"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "WORKERS", Path: "workers"},
	}
}

// getUserConfigPaths returns per-user config directories for the current
// identity. Same locking contract as getEnvSpecs.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	return []string{filepath.Join(home, ".config", appIdentity.ConfigName)}
}

func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for key, val := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, val)
	}
}

// findProjectRoot locates the nearest ancestor of the working directory
// containing go.mod or .git. In CI the walk is bounded by the workspace
// root advertised by the CI environment; otherwise it is bounded by the
// user's home directory with an unbounded fallback for checkouts that
// live outside it.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}

	if isCI() {
		if boundary := ciWorkspaceBoundary(); boundary != "" {
			if root, err := discoverRoot(cwd, boundary); err == nil {
				return root, nil
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if root, err := discoverRoot(cwd, home); err == nil {
			return root, nil
		}
	}
	if root, err := discoverRoot(cwd, ""); err == nil {
		return root, nil
	}
	return cwd, nil
}

func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// ciWorkspaceBoundary returns the first usable workspace root advertised
// by the CI environment. Unset, relative, or nonexistent values are
// skipped so a bad hint degrades to default discovery.
func ciWorkspaceBoundary() string {
	names := []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}
	for _, name := range names {
		val := os.Getenv(name)
		if val == "" || !filepath.IsAbs(val) {
			continue
		}
		info, err := os.Stat(val)
		if err != nil || !info.IsDir() {
			continue
		}
		return val
	}
	return ""
}

// discoverRoot walks up from start looking for a project marker. An empty
// boundary means the walk is unbounded.
func discoverRoot(start, boundary string) (string, error) {
	dir := start
	for {
		if boundary != "" && !pathContains(boundary, dir) {
			return "", fmt.Errorf("no project root between %s and %s", start, boundary)
		}
		if isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no project root above %s", start)
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, marker := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

func pathContains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

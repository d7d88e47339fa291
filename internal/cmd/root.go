// Package cmd implements the gostudio command line interface.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
)

// versionInfo carries build metadata injected through SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata from main's ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// appIdentity is the application identity used for env prefixes and data
// directories. Set during root initialization, nil before.
var appIdentity *config.Identity

// GetAppIdentity returns the current application identity, or nil if the
// CLI has not initialized yet.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

var (
	cfgFile  string
	logLevel string
	verbose  bool
	quiet    bool
	readOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "gostudio",
	Short: "Drive generation workflows through an engine and tracking backend",
	Long: `gostudio submits generation jobs to a workflow engine, tracks them in a
tracking backend, and browses the resulting feed.

A submission uploads input media, renders a workflow template, queues the
graph on the engine, and polls history until the run completes or fails.
Every run is journaled locally so interrupted jobs stay inspectable.

Examples:
  gostudio submit --workflow image_edit --input IMAGE_1=photo.png --param PROMPT="make it snow"
  gostudio feed --limit 10 --completed-only
  gostudio jobs list
  gostudio serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initCLI()
	},
}

// Execute runs the root command under the given context. Errors are
// returned to main for exit code handling.
func Execute(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default searches ./gostudio.yaml and user config dirs)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress console logging")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Disable all local and remote mutations (journal GC, cache writes, write probes)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
	_ = viper.BindEnv("readonly", "GOSTUDIO_READONLY")

	setDefaults()
}

// initCLI installs identity and the console logger before any command
// body runs.
func initCLI() {
	appIdentity = config.DefaultIdentity()
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}

	observability.InitCLILogger(appIdentity.BinaryName, verbose)
	if quiet {
		observability.CLILogger = zap.NewNop()
	}
}

// setDefaults seeds the global viper instance. The config loader keeps
// its own viper; these defaults serve flag binding and paths that read
// settings before a Load.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("engine.url", "http://127.0.0.1:8188")
	viper.SetDefault("engine.requests_per_second", 10)
	viper.SetDefault("engine.http_timeout", "60s")
	viper.SetDefault("tracker.url", "http://127.0.0.1:3000")
	viper.SetDefault("tracker.http_timeout", "30s")

	viper.SetDefault("runner.poll_interval", "2s")
	viper.SetDefault("runner.poll_timeout", "300s")
	viper.SetDefault("feed.limit", 20)
	viper.SetDefault("feed.refresh_interval", "10s")

	viper.SetDefault("workers", 3)
	viper.SetDefault("readonly", false)
}

// IsReadOnly reports whether the readonly safety latch is engaged, via
// the --readonly flag or GOSTUDIO_READONLY.
func IsReadOnly() bool {
	if readOnly {
		return true
	}
	return viper.GetBool("readonly")
}

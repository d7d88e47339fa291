package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/tracker"
)

var (
	doctorProvider string
	doctorConnect  bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the local environment",
	Long: `Check the local environment and configured endpoints, and suggest
fixes for common issues.

Examples:
  gostudio doctor                # Full environment check
  gostudio doctor --connect      # Also probe engine and tracker endpoints
  gostudio doctor --provider s3  # S3 archive-specific checks`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
	doctorCmd.Flags().BoolVar(&doctorConnect, "connect", false, "Probe the configured engine and tracker endpoints")
}

// doctorReport numbers and logs check results while tracking overall health.
type doctorReport struct {
	num    int
	total  int
	failed bool
}

func (r *doctorReport) pass(what, detail string, fields ...zap.Field) {
	r.num++
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", r.num, r.total, what, detail), fields...)
}

func (r *doctorReport) warn(what, detail string, fields ...zap.Field) {
	r.num++
	r.failed = true
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", r.num, r.total, what, detail), fields...)
}

func (r *doctorReport) fail(what, detail string, fields ...zap.Field) {
	r.num++
	r.failed = true
	observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", r.num, r.total, what, detail), fields...)
}

func runDoctor(cmd *cobra.Command, args []string) {
	binName := "gostudio"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		binName = identity.BinaryName
	}
	bannerName := binName + " doctor"
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Checking the local environment...")
	observability.CLILogger.Info("")

	report := &doctorReport{total: 5}
	if doctorConnect {
		report.total += 2
	}
	if doctorProvider == "s3" {
		report.total += 2
	}

	if goVersion := runtime.Version(); goVersion >= "go1.23" {
		report.pass("Go version", goVersion, zap.String("go_version", goVersion))
	} else {
		report.warn("Go version", goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
	}

	version := crucible.GetVersion()
	if version.Crucible != "" {
		report.pass("Crucible access", "v"+version.Crucible, zap.String("crucible_version", version.Crucible))
	} else {
		report.fail("Crucible access", "Cannot access Crucible")
	}
	if version.Gofulmen != "" {
		report.pass("Gofulmen access", "v"+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
	} else {
		report.fail("Gofulmen access", "Cannot access Gofulmen")
	}

	if configDir, err := os.UserConfigDir(); err != nil {
		report.fail("config directory", "Cannot find config directory", zap.Error(err))
	} else {
		report.pass("config directory", configDir, zap.String("config_dir", configDir))
	}

	report.pass("environment", runtime.GOOS+"/"+runtime.GOARCH,
		zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH))

	if doctorConnect {
		runConnectChecks(cmd.Context(), report)
	}
	if doctorProvider == "s3" {
		runS3Checks(cmd.Context(), report)
	}

	observability.CLILogger.Info("")
	if report.failed {
		observability.CLILogger.Warn("⚠️  Some checks failed. See the messages above for what to fix.")
	} else {
		observability.CLILogger.Info(fmt.Sprintf("✅ All %d checks passed. %s looks ready to use.", report.total, binName))
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== Done ===")
}

// runConnectChecks probes the configured engine and tracker endpoints.
func runConnectChecks(ctx context.Context, report *doctorReport) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Endpoint Checks:")

	cfg, err := config.Load(ctx)
	if err != nil {
		report.fail("engine", "Cannot load configuration", zap.Error(err))
		return
	}

	engineClient, err := engine.New(engine.Config{
		BaseURL:           cfg.Engine.URL,
		ClientID:          cfg.Engine.ClientID,
		HTTPTimeout:       cfg.Engine.HTTPTimeout,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Logger:            observability.CLILogger,
	})
	if err != nil {
		report.fail("engine", "Invalid engine configuration", zap.Error(err))
	} else if _, err := engineClient.SystemStats(ctx); err != nil {
		report.fail("engine", "Not reachable at "+cfg.Engine.URL, zap.Error(err))
	} else {
		report.pass("engine", cfg.Engine.URL, zap.String("engine_url", cfg.Engine.URL))
	}

	trackerClient, err := tracker.New(tracker.Config{
		BaseURL:     cfg.Tracker.URL,
		HTTPTimeout: cfg.Tracker.HTTPTimeout,
		Logger:      observability.CLILogger,
	})
	if err != nil {
		report.fail("tracker", "Invalid tracker configuration", zap.Error(err))
	} else if _, err := trackerClient.ListJobs(ctx, tracker.Query{Limit: 1}); err != nil {
		report.fail("tracker", "Not reachable at "+cfg.Tracker.URL, zap.Error(err))
	} else {
		report.pass("tracker", cfg.Tracker.URL, zap.String("tracker_url", cfg.Tracker.URL))
	}
}

// runS3Checks verifies AWS credentials resolve for the S3 archive backend.
func runS3Checks(ctx context.Context, report *doctorReport) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Archive Checks:")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		report.fail("AWS credentials", "Cannot load AWS config", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		report.fail("AWS credentials", "Cannot retrieve credentials", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}

	report.pass("AWS credentials", "Found credentials",
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	report.pass("credential source", source, zap.String("credential_source", source))
}

// maskAccessKey hides everything but the key's last four characters.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp explains where archive credentials can come from.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Archive credentials can come from any of:")
	observability.CLILogger.Info("  1. AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY in the environment")
	observability.CLILogger.Info("  2. A profile created with 'aws configure'")
	observability.CLILogger.Info("  3. An IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3-compatible stores (MinIO, Wasabi, etc.) additionally need:")
	observability.CLILogger.Info("  - AWS_ENDPOINT_URL or archive.endpoint in the config file")
	observability.CLILogger.Info("")
}

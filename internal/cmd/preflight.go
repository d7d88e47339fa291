package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/output"
	"github.com/3leaps/gostudio/pkg/preflight"
	"github.com/3leaps/gostudio/pkg/tracker"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Probe engine, tracker, and archive capabilities",
	Long: `Probe the dependencies a run will touch before submitting work.

This command is intended for operational validation before long runs.
It emits a JSONL preflight record (gostudio.preflight.v1).

Examples:
  # Plan-only: no network calls
  gostudio preflight --mode plan-only

  # Read-safe: minimal non-mutating calls against engine and tracker
  gostudio preflight

  # Write-probe: also verify the archive target accepts writes
  gostudio preflight --mode write-probe --archive-to s3://media-archive/renders

Safety:
- --readonly (or GOSTUDIO_READONLY=1) disables write-probe preflight and other side effects.`,
	RunE: runPreflight,
}

var (
	preflightMode        string
	preflightProbePrefix string
	preflightArchiveTo   string
)

func init() {
	rootCmd.AddCommand(preflightCmd)

	preflightCmd.Flags().StringVar(&preflightMode, "mode", "read-safe", "Preflight mode (plan-only|read-safe|write-probe)")
	preflightCmd.Flags().StringVar(&preflightProbePrefix, "probe-prefix", preflight.DefaultProbePrefix, "Probe prefix for archive write probes")
	preflightCmd.Flags().StringVar(&preflightArchiveTo, "archive-to", "", "Archive target to probe (directory or s3://bucket/prefix)")
}

func runPreflight(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	mode, err := parsePreflightMode(preflightMode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --mode value", err)
	}
	if mode == preflight.ModeWriteProbe && IsReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "Write probes are disabled in readonly mode",
			fmt.Errorf("drop --mode write-probe or disable --readonly"))
	}

	w := output.NewJSONLWriter(os.Stdout, uuid.New().String(), "")
	defer func() { _ = w.Close() }()

	// Plan-only never loads config or creates clients; Check with empty
	// deps produces the record without touching the network.
	var deps preflight.Deps
	if mode != preflight.ModePlanOnly {
		deps, err = buildPreflightDeps(ctx, mode)
		if err != nil {
			return err
		}
		if deps.Store != nil {
			defer func() { _ = deps.Store.Close() }()
		}
	}

	rec, pfErr := preflight.Check(ctx, deps, preflight.Spec{
		Mode:        mode,
		ProbePrefix: preflightProbePrefix,
	})
	if err := w.WritePreflight(ctx, rec); err != nil {
		return err
	}
	if pfErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Preflight checks failed", pfErr)
	}
	return nil
}

func parsePreflightMode(value string) (preflight.Mode, error) {
	switch mode := preflight.Mode(value); mode {
	case preflight.ModePlanOnly, preflight.ModeReadSafe, preflight.ModeWriteProbe:
		return mode, nil
	}
	return "", fmt.Errorf("unsupported preflight mode: %q", value)
}

// buildPreflightDeps assembles the clients a non-plan preflight will probe.
// Errors come back already wrapped as exit errors.
func buildPreflightDeps(ctx context.Context, mode preflight.Mode) (preflight.Deps, error) {
	var deps preflight.Deps

	cfg, err := config.Load(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return deps, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	engineClient, err := engine.New(engine.Config{
		BaseURL:           cfg.Engine.URL,
		ClientID:          cfg.Engine.ClientID,
		HTTPTimeout:       cfg.Engine.HTTPTimeout,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Logger:            observability.CLILogger,
	})
	if err != nil {
		return deps, exitError(foundry.ExitInvalidArgument, "Invalid engine configuration", err)
	}
	deps.Engine = engineClient

	trackerClient, err := tracker.New(tracker.Config{
		BaseURL:     cfg.Tracker.URL,
		HTTPTimeout: cfg.Tracker.HTTPTimeout,
		Logger:      observability.CLILogger,
	})
	if err != nil {
		return deps, exitError(foundry.ExitInvalidArgument, "Invalid tracker configuration", err)
	}
	deps.Tracker = trackerClient

	if mode == preflight.ModeWriteProbe {
		target := firstNonEmpty(preflightArchiveTo, cfg.Archive.Target)
		if target == "" {
			return deps, exitError(foundry.ExitInvalidArgument, "write-probe requires an archive target",
				fmt.Errorf("set --archive-to or archive.target"))
		}
		store, _, err := openArchiveStore(ctx, target, cfg)
		if err != nil {
			observability.CLILogger.Error("Failed to connect to archive store", zap.Error(err))
			return deps, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to archive store", err)
		}
		deps.Store = store
	}

	return deps, nil
}

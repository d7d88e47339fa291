package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

// defaultJournalMaxAge keeps a week of finished runs around.
const defaultJournalMaxAge = "168h"

// jobsGCResult is the --json shape for jobs gc.
type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, maxAge, err := journalMaxAge(cmd)
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if IsReadOnly() && !dryRun {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing journal deletion",
			fmt.Errorf("use --dry-run or disable --readonly"))
	}

	store, err := jobsJournalStore(cmd)
	if err != nil {
		return err
	}
	collected, err := store.GC(maxAge, dryRun)
	if err != nil {
		return err
	}

	res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
	if dryRun {
		res.WouldDelete = len(collected)
	} else {
		res.Deleted = len(collected)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would_delete=%d\n", res.WouldDelete)
	} else {
		_, _ = fmt.Fprintf(os.Stdout, "deleted=%d\n", res.Deleted)
	}
	return nil
}

// journalMaxAge reads and validates the --max-age flag.
func journalMaxAge(cmd *cobra.Command) (string, time.Duration, error) {
	raw, _ := cmd.Flags().GetString("max-age")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = defaultJournalMaxAge
	}
	maxAge, err := time.ParseDuration(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --max-age: %w", err)
	}
	if maxAge <= 0 {
		return "", 0, fmt.Errorf("--max-age must be > 0")
	}
	return raw, maxAge, nil
}

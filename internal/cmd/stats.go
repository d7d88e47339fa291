package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/pkg/historystore"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show history cache statistics",
	Long: `Display aggregate statistics for the local history cache.

Shows job counts by terminal state and a per-workflow breakdown.
The cache is populated by 'gostudio feed --cache'.

Examples:
  # Show cache stats
  gostudio stats

  # Machine-readable output
  gostudio stats --json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Output as JSON")
	statsCmd.Flags().String("history-db", "", "History database path (default is the app data dir)")
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	dbPath, _ := cmd.Flags().GetString("history-db")

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	db, err := openHistoryDB(ctx, firstNonEmpty(dbPath, cfg.History.Path))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	summary, err := historystore.Stats(ctx, db)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if jsonOutput {
		return printStatsJSON(summary)
	}
	return printStatsTable(summary)
}

func printStatsTable(summary *historystore.Summary) error {
	_, _ = fmt.Fprintln(os.Stdout, "Jobs:")
	_, _ = fmt.Fprintf(os.Stdout, "  Total:      %d\n", summary.TotalJobs)
	_, _ = fmt.Fprintf(os.Stdout, "  Completed:  %d\n", summary.CompletedJobs)
	_, _ = fmt.Fprintf(os.Stdout, "  Error:      %d\n", summary.ErrorJobs)
	_, _ = fmt.Fprintf(os.Stdout, "  Active:     %d\n", summary.ActiveJobs)
	if summary.NewestCreatedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "  Newest:     %s\n", summary.NewestCreatedAt.UTC().Format(time.RFC3339))
	}
	if summary.LastRecordedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "  Recorded:   %s\n", summary.LastRecordedAt.UTC().Format(time.RFC3339))
	}
	_, _ = fmt.Fprintln(os.Stdout)

	if len(summary.Workflows) > 0 {
		_, _ = fmt.Fprintln(os.Stdout, "Workflows:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  WORKFLOW\tTOTAL\tCOMPLETED\tERROR")
		for _, ws := range summary.Workflows {
			_, _ = fmt.Fprintf(w, "  %s\t%d\t%d\t%d\n",
				ws.Workflow,
				ws.TotalJobs,
				ws.CompletedJobs,
				ws.ErrorJobs,
			)
		}
		_ = w.Flush()
	}

	return nil
}

func printStatsJSON(summary *historystore.Summary) error {
	type jsonWorkflow struct {
		Workflow  string `json:"workflow"`
		Total     int64  `json:"total"`
		Completed int64  `json:"completed"`
		Error     int64  `json:"error"`
	}

	type statsJSON struct {
		Jobs struct {
			Total     int64 `json:"total"`
			Completed int64 `json:"completed"`
			Error     int64 `json:"error"`
			Active    int64 `json:"active"`
		} `json:"jobs"`

		NewestCreatedAt *string `json:"newest_created_at,omitempty"`
		LastRecordedAt  *string `json:"last_recorded_at,omitempty"`

		Workflows []jsonWorkflow `json:"workflows,omitempty"`
	}

	var out statsJSON
	out.Jobs.Total = summary.TotalJobs
	out.Jobs.Completed = summary.CompletedJobs
	out.Jobs.Error = summary.ErrorJobs
	out.Jobs.Active = summary.ActiveJobs

	if summary.NewestCreatedAt != nil {
		ts := summary.NewestCreatedAt.UTC().Format(time.RFC3339)
		out.NewestCreatedAt = &ts
	}
	if summary.LastRecordedAt != nil {
		ts := summary.LastRecordedAt.UTC().Format(time.RFC3339)
		out.LastRecordedAt = &ts
	}

	if len(summary.Workflows) > 0 {
		out.Workflows = make([]jsonWorkflow, len(summary.Workflows))
		for i, ws := range summary.Workflows {
			out.Workflows[i] = jsonWorkflow{
				Workflow:  ws.Workflow,
				Total:     ws.TotalJobs,
				Completed: ws.CompletedJobs,
				Error:     ws.ErrorJobs,
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

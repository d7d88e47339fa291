package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/pkg/journal"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the local job journal",
	Long: `Inspect journal records for submitted generation jobs.

Output is stable enough to script against: job ids never change, records
live in one predictable directory, and every subcommand takes --json.

Records whose owning process died before reaching a terminal state show
as "abandoned".`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled jobs",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show a journal record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old journal records",
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsGCCmd)

	jobsCmd.PersistentFlags().String("journal-dir", "", "Journal directory (default is the app data dir)")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("state", "", "Only show jobs in this state")
	jobsShowCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func jobsJournalStore(cmd *cobra.Command) (*journal.Store, error) {
	dir, _ := cmd.Flags().GetString("journal-dir")
	if dir == "" {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		dir = cfg.Journal.Dir
	}
	root, err := resolveJournalDir(dir)
	if err != nil {
		return nil, err
	}
	return journal.NewStore(root), nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	stateFilter, _ := cmd.Flags().GetString("state")

	store, err := jobsJournalStore(cmd)
	if err != nil {
		return err
	}

	jobs, err := store.List()
	if err != nil {
		return err
	}
	if stateFilter != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.State) == stateFilter {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tWORKFLOW\tSTATE\tPROMPT\tCREATED\tENDED\tOUTPUTS")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			shortJobID(j.JobID),
			dash(j.Workflow),
			j.State,
			shortJobID(dash(j.PromptID)),
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.EndedAt),
			len(j.OutputRefs),
		)
	}

	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}

	store, err := jobsJournalStore(cmd)
	if err != nil {
		return err
	}

	resolvedID, err := store.Resolve(jobID)
	if err != nil {
		return err
	}

	rec, err := store.Get(resolvedID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	// key=value lines, one per field, optional fields omitted when empty.
	kv := func(key, value string) {
		_, _ = fmt.Fprintf(os.Stdout, "%s=%s\n", key, value)
	}
	opt := func(key, value string) {
		if value != "" {
			kv(key, value)
		}
	}

	kv("job_id", rec.JobID)
	opt("workflow", rec.Workflow)
	kv("state", string(rec.State))
	opt("prompt_id", rec.PromptID)
	opt("tracker_id", rec.TrackerID)
	opt("engine_url", rec.EngineURL)
	kv("created_at", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.StartedAt != nil {
		kv("started_at", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		kv("ended_at", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	for _, url := range rec.OutputURLs {
		kv("output_url", url)
	}
	for _, key := range rec.ArchiveKeys {
		kv("archive_key", key)
	}
	opt("error", rec.Error)

	return nil
}

// shortJobID keeps table columns narrow. 12 characters is enough to
// disambiguate and still resolves through the store's prefix matching.
func shortJobID(jobID string) string {
	id := strings.TrimSpace(jobID)
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
	"github.com/3leaps/gostudio/pkg/feed"
	"github.com/3leaps/gostudio/pkg/historystore"
	"github.com/3leaps/gostudio/pkg/output"
	"github.com/3leaps/gostudio/pkg/tracker"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Browse the merged generation feed",
	Long: `Browse recent generation jobs merged across workflow families.

Each page fetches one window per category from the tracking backend,
merges the windows newest-first, and dedupes by tracker id. Client-side
filters narrow the merged page without affecting pagination.

Examples:
  # First page, table output
  gostudio feed

  # Completed jobs only, as JSONL
  gostudio feed --completed-only --json

  # Filter by creation date and prompt text
  gostudio feed --after 2026-08-01 --match "sunset"

  # Keep the feed updating until interrupted
  gostudio feed --follow

  # Snapshot the current page into the local history cache
  gostudio feed --cache

  # Query the local cache without touching the backend
  gostudio feed --offline --workflow image_edit --limit 50`,
	RunE: runFeed,
}

var (
	feedLimit         int
	feedPages         int
	feedCategories    []string
	feedCompletedOnly bool
	feedAfter         string
	feedBefore        string
	feedStatuses      []string
	feedMatch         string
	feedJSON          bool
	feedFollow        bool
	feedRefresh       time.Duration
	feedCache         bool
	feedOffline       bool
	feedWorkflow      string
	feedOffset        int
	feedHistoryDB     string
)

func init() {
	rootCmd.AddCommand(feedCmd)

	feedCmd.Flags().IntVar(&feedLimit, "limit", 0, "Per-category page size (default from config)")
	feedCmd.Flags().IntVar(&feedPages, "pages", 1, "Number of pages to load")
	feedCmd.Flags().StringArrayVar(&feedCategories, "category", nil, "Workflow family to include (repeatable; default from config)")
	feedCmd.Flags().BoolVar(&feedCompletedOnly, "completed-only", false, "Only completed jobs with stored outputs")
	feedCmd.Flags().StringVar(&feedAfter, "after", "", "Jobs created at or after this date (YYYY-MM-DD or RFC3339)")
	feedCmd.Flags().StringVar(&feedBefore, "before", "", "Jobs created before this date (YYYY-MM-DD or RFC3339)")
	feedCmd.Flags().StringArrayVar(&feedStatuses, "status", nil, "Only jobs with this status (repeatable)")
	feedCmd.Flags().StringVar(&feedMatch, "match", "", "Regex applied to the job's prompt parameter")
	feedCmd.Flags().BoolVar(&feedJSON, "json", false, "Emit JSONL records instead of a table")
	feedCmd.Flags().BoolVar(&feedFollow, "follow", false, "Keep refreshing and emit new jobs as JSONL")
	feedCmd.Flags().DurationVar(&feedRefresh, "refresh", 0, "Refresh interval with --follow (default from config)")
	feedCmd.Flags().BoolVar(&feedCache, "cache", false, "Snapshot loaded jobs into the local history cache")
	feedCmd.Flags().BoolVar(&feedOffline, "offline", false, "Query the local history cache instead of the backend")
	feedCmd.Flags().StringVar(&feedWorkflow, "workflow", "", "Workflow filter for --offline queries")
	feedCmd.Flags().IntVar(&feedOffset, "offset", 0, "Row offset for --offline queries")
	feedCmd.Flags().StringVar(&feedHistoryDB, "history-db", "", "History database path (default is the app data dir)")
}

func runFeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if feedOffline {
		return runFeedOffline(ctx)
	}
	if feedCache && IsReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing history cache write", fmt.Errorf("drop --cache or disable --readonly"))
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	trackerClient, err := tracker.New(tracker.Config{
		BaseURL:     cfg.Tracker.URL,
		HTTPTimeout: cfg.Tracker.HTTPTimeout,
		Logger:      observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid tracker configuration", err)
	}

	filter, err := buildFeedFilter()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid feed filter", err)
	}

	limit := feedLimit
	if limit == 0 {
		limit = cfg.Feed.Limit
	}
	categories := feedCategories
	if len(categories) == 0 {
		categories = cfg.Feed.Categories
	}

	loader, err := feed.NewLoader(feed.Config{
		Tracker:       trackerClient,
		Categories:    categories,
		Limit:         limit,
		CompletedOnly: feedCompletedOnly,
		Filter:        filter,
		Logger:        observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid feed configuration", err)
	}

	if err := loader.Load(ctx, true); err != nil {
		observability.CLILogger.Error("Feed load failed", zap.Error(err))
		return exitError(feedExitCode(ctx), "Failed to load feed", err)
	}
	for page := 1; page < feedPages && loader.HasMore(); page++ {
		if err := loader.Load(ctx, false); err != nil {
			observability.CLILogger.Error("Feed load failed",
				zap.Int("page", page+1),
				zap.Error(err))
			return exitError(feedExitCode(ctx), "Failed to load feed", err)
		}
	}

	if feedCache {
		if err := cacheFeedItems(ctx, loader.Items(), firstNonEmpty(feedHistoryDB, cfg.History.Path)); err != nil {
			return err
		}
	}

	if feedFollow {
		interval := feedRefresh
		if interval == 0 {
			interval = cfg.Feed.RefreshInterval
		}
		return followFeed(ctx, loader, interval)
	}

	if feedJSON {
		return emitFeedJSONL(ctx, loader.Items())
	}
	printFeedTable(loader.Items())
	if loader.HasMore() {
		_, _ = fmt.Fprintf(os.Stderr, "More available; rerun with --pages %d\n", feedPages+1)
	}
	return nil
}

// buildFeedFilter assembles the client-side filter from the date, status,
// and prompt flags. Returns nil when no filter flags are set.
func buildFeedFilter() (*feed.FilterSet, error) {
	if feedAfter == "" && feedBefore == "" && len(feedStatuses) == 0 && feedMatch == "" {
		return nil, nil
	}
	fc := &feed.FilterConfig{
		Statuses:    feedStatuses,
		PromptRegex: feedMatch,
	}
	if feedAfter != "" || feedBefore != "" {
		fc.Created = &feed.DateRange{After: feedAfter, Before: feedBefore}
	}
	return feed.FilterSetFromConfig(fc)
}

// followFeed keeps the loader fresh in the background and streams jobs
// not yet seen as JSONL until the context is cancelled.
func followFeed(ctx context.Context, loader *feed.Loader, interval time.Duration) error {
	w := output.NewJSONLWriter(os.Stdout, uuid.New().String(), "")
	defer func() { _ = w.Close() }()

	seen := make(map[string]bool)
	emit := func() {
		for _, rec := range loader.Items() {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			_ = w.WriteFeedItem(ctx, feedItemRecord(&rec))
		}
	}
	emit()

	stop := feed.NewRefresher(loader, interval, observability.CLILogger).Start(ctx)
	defer stop()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			emit()
		}
	}
}

func emitFeedJSONL(ctx context.Context, items []tracker.JobRecord) error {
	w := output.NewJSONLWriter(os.Stdout, uuid.New().String(), "")
	defer func() { _ = w.Close() }()

	for i := range items {
		if err := w.WriteFeedItem(ctx, feedItemRecord(&items[i])); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	_, _ = fmt.Fprintf(os.Stderr, "Matched %d jobs\n", len(items))
	return nil
}

func feedItemRecord(rec *tracker.JobRecord) *output.FeedItemRecord {
	return &output.FeedItemRecord{
		TrackerID:    rec.ID,
		Workflow:     rec.WorkflowName,
		Status:       rec.Status,
		PromptID:     rec.PromptID,
		OutputURLs:   rec.OutputURLs,
		Width:        rec.Width,
		Height:       rec.Height,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
	}
}

func printFeedTable(items []tracker.JobRecord) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tSIZE\tOUTPUTS\tCREATED")
	for _, rec := range items {
		size := "-"
		if rec.Width > 0 && rec.Height > 0 {
			size = fmt.Sprintf("%dx%d", rec.Width, rec.Height)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortJobID(rec.ID),
			rec.WorkflowName,
			rec.Status,
			size,
			len(rec.OutputURLs),
			rec.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
}

// cacheFeedItems snapshots the loaded page into the history database.
func cacheFeedItems(ctx context.Context, items []tracker.JobRecord, explicit string) error {
	dbPath, err := resolveHistoryDBPath(explicit)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot resolve history path", err)
	}

	db, err := historystore.Open(ctx, historystore.Config{Path: dbPath})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open history database", err)
	}
	defer func() { _ = db.Close() }()

	if err := historystore.Migrate(ctx, db); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to migrate history database", err)
	}
	if err := historystore.UpsertJobs(ctx, db, items, time.Now().UTC()); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to cache feed items", err)
	}

	_, _ = fmt.Fprintf(os.Stderr, "Cached %d jobs in %s\n", len(items), dbPath)
	return nil
}

// runFeedOffline serves the feed from the local history cache.
func runFeedOffline(ctx context.Context) error {
	if len(feedStatuses) > 1 {
		return fmt.Errorf("only one --status is supported with --offline")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	db, err := openHistoryDB(ctx, firstNonEmpty(feedHistoryDB, cfg.History.Path))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	params := historystore.QueryParams{
		Workflow:      feedWorkflow,
		CompletedOnly: feedCompletedOnly,
		Limit:         feedLimit,
		Offset:        feedOffset,
	}
	if len(feedStatuses) == 1 {
		params.Status = feedStatuses[0]
	}
	if feedAfter != "" {
		t, err := feed.ParseDateTime(feedAfter)
		if err != nil {
			return fmt.Errorf("invalid --after: %w", err)
		}
		params.Since = t
	}

	items, err := historystore.QueryJobs(ctx, db, params)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if feedJSON {
		return emitFeedJSONL(ctx, items)
	}
	printFeedTable(items)
	return nil
}

// openHistoryDB opens the local history database for querying.
func openHistoryDB(ctx context.Context, explicit string) (*sql.DB, error) {
	dbPath, err := resolveHistoryDBPath(explicit)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("history database not found at %s (run 'gostudio feed --cache' first)", dbPath)
	}

	db, err := historystore.Open(ctx, historystore.Config{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return db, nil
}

// resolveHistoryDBPath resolves the history database path, deriving the
// default from the app data dir when nothing is configured.
func resolveHistoryDBPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	identity := GetAppIdentity()
	if identity == nil || strings.TrimSpace(identity.ConfigName) == "" {
		return "", fmt.Errorf("app identity is not available to derive default history path")
	}

	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	return filepath.Join(dataDir, "history", "history.db"), nil
}

// feedExitCode distinguishes cancellation from backend failure.
func feedExitCode(ctx context.Context) int {
	if ctx.Err() != nil {
		return foundry.ExitSignalInt
	}
	return foundry.ExitExternalServiceUnavailable
}

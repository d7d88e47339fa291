// Package feed maintains a paged, chronologically sorted view of
// generation records merged from multiple workflow families.
//
// The tracking backend serves each family as an independent listing; the
// loader queries them at the same limit and offset, merges the pages
// newest-first, and accumulates the result across "load more" calls or
// replaces it on refresh. Page-fullness, not the backend's total count,
// decides whether more pages exist.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/gostudio/pkg/tracker"
)

// DefaultLimit is the per-category page size when none is configured.
const DefaultLimit = 20

// DefaultCategories are the workflow families merged into the feed.
var DefaultCategories = []string{"multitalk", "image_edit"}

// ErrAllCategories indicates every category fetch failed; the accumulated
// list is left unchanged.
var ErrAllCategories = errors.New("all feed categories failed")

// Lister is the tracking backend surface the loader reads from.
// *tracker.Client satisfies it.
type Lister interface {
	ListJobs(ctx context.Context, q tracker.Query) (*tracker.Page, error)
}

// Config holds feed loader configuration.
type Config struct {
	// Tracker serves the per-category listings. Required.
	Tracker Lister

	// Categories are the workflow families to merge. Empty means
	// DefaultCategories.
	Categories []string

	// Limit is the per-category page size. Zero means DefaultLimit.
	Limit int

	// CompletedOnly keeps only completed records with stored outputs.
	// Applied client-side after merge and sort; never sent upstream, so
	// pagination always sees unfiltered page sizes.
	CompletedOnly bool

	// Filter is an optional additional client-side filter.
	Filter *FilterSet

	// Logger receives loader diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// ConfigError describes an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("feed config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Tracker == nil {
		return &ConfigError{Field: "Tracker", Message: "is required"}
	}
	if c.Limit < 0 {
		return &ConfigError{Field: "Limit", Message: "must not be negative"}
	}
	return nil
}

// Loader accumulates the merged feed. Safe for concurrent use: Load calls
// and accessors may race freely, and at most one load runs at a time.
type Loader struct {
	tracker       Lister
	categories    []string
	limit         int
	completedOnly bool
	filter        *FilterSet
	logger        *zap.Logger

	mu      sync.Mutex
	items   []tracker.JobRecord
	offset  int
	hasMore bool
	loading bool
}

// NewLoader creates a feed loader from the given configuration.
func NewLoader(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	categories := cfg.Categories
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	limit := cfg.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Loader{
		tracker:       cfg.Tracker,
		categories:    categories,
		limit:         limit,
		completedOnly: cfg.CompletedOnly,
		filter:        cfg.Filter,
		logger:        logger,
		hasMore:       true,
	}, nil
}

// Load fetches one page per category and folds the merged result into the
// accumulated list: reset=true replaces the list from offset zero,
// reset=false appends at the current offset.
//
// A load already in flight suppresses any further load: the call returns
// nil without fetching. Categories are queried independently; a failed
// category is logged and skipped, and only when every category fails is
// ErrAllCategories returned with the list left unchanged.
func (l *Loader) Load(ctx context.Context, reset bool) error {
	l.mu.Lock()
	if l.loading {
		l.mu.Unlock()
		return nil
	}
	l.loading = true
	offset := l.offset
	if reset {
		offset = 0
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.loading = false
		l.mu.Unlock()
	}()

	var merged []tracker.JobRecord
	var lastErr error
	maxPage := 0
	okCount := 0
	for _, category := range l.categories {
		page, err := l.tracker.ListJobs(ctx, tracker.Query{
			Limit:        l.limit,
			Offset:       offset,
			WorkflowName: category,
		})
		if err != nil {
			lastErr = err
			l.logger.Warn("feed category fetch failed",
				zap.String("category", category), zap.Error(err))
			continue
		}
		okCount++
		if len(page.Items) > maxPage {
			maxPage = len(page.Items)
		}
		merged = append(merged, page.Items...)
	}
	if okCount == 0 {
		return fmt.Errorf("%w: %v", ErrAllCategories, lastErr)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	// The termination heuristic sees the raw page: a full page from any
	// category means that category may have more.
	hasMore := maxPage == l.limit

	visible := l.applyFilters(merged)

	l.mu.Lock()
	defer l.mu.Unlock()
	if reset {
		l.items = visible
	} else {
		l.items = appendNew(l.items, visible)
	}
	l.offset = offset + l.limit
	l.hasMore = hasMore

	l.logger.Debug("feed page loaded",
		zap.Bool("reset", reset),
		zap.Int("fetched", len(merged)),
		zap.Int("visible", len(visible)),
		zap.Int("next_offset", l.offset),
		zap.Bool("has_more", hasMore))
	return nil
}

// applyFilters drops records excluded by the completed-only switch and the
// optional filter.
func (l *Loader) applyFilters(records []tracker.JobRecord) []tracker.JobRecord {
	if !l.completedOnly && l.filter == nil {
		return records
	}
	kept := make([]tracker.JobRecord, 0, len(records))
	for _, rec := range records {
		if l.completedOnly && !CompletedWithOutput(&rec) {
			continue
		}
		if l.filter != nil && !l.filter.Match(&rec) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// appendNew appends records not already present, keyed by record id.
// Pages can overlap when new records arrive between loads and shift the
// backend's offsets.
func appendNew(existing, incoming []tracker.JobRecord) []tracker.JobRecord {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec.ID] = struct{}{}
	}
	for _, rec := range incoming {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		existing = append(existing, rec)
	}
	return existing
}

// CompletedWithOutput reports whether the record is completed and carries
// at least one stored output.
func CompletedWithOutput(rec *tracker.JobRecord) bool {
	return rec.Status == tracker.StatusCompleted && len(rec.OutputURLs) > 0
}

// Items returns a copy of the accumulated records, newest first.
func (l *Loader) Items() []tracker.JobRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]tracker.JobRecord, len(l.items))
	copy(out, l.items)
	return out
}

// HasMore reports whether another page may exist. Heuristic: true after
// any load whose largest unfiltered category page was full.
func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// Loading reports whether a load is in flight.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Offset returns the offset the next "load more" will fetch at.
func (l *Loader) Offset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

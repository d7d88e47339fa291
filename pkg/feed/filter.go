package feed

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/3leaps/gostudio/pkg/tracker"
)

// Filter evaluates whether a feed record passes filter criteria.
//
// Filters operate on record data already present in the listing (status,
// creation time, parameters); nothing is fetched to evaluate them.
type Filter interface {
	Match(rec *tracker.JobRecord) bool

	// String describes the filter for run summaries and logs.
	String() string
}

// FilterConfig holds filter criteria from CLI flags or the HTTP facade.
type FilterConfig struct {
	// Created bounds the record creation time.
	Created *DateRange `json:"created,omitempty" yaml:"created,omitempty"`

	// Statuses restricts records to the given statuses.
	Statuses []string `json:"statuses,omitempty" yaml:"statuses,omitempty"`

	// PromptRegex is matched against the record's prompt parameter.
	PromptRegex string `json:"prompt_regex,omitempty" yaml:"prompt_regex,omitempty"`
}

// DateRange bounds creation time. After is inclusive, Before is an
// exclusive end. Both accept ISO 8601 dates ("2026-01-15") and
// datetimes ("2026-01-15T10:30:00Z").
type DateRange struct {
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

var (
	ErrBadDate   = errors.New("date must be ISO 8601")
	ErrBadRegex  = errors.New("prompt regex does not compile")
	ErrBadStatus = errors.New("unknown status name")
)

// CreatedFilter keeps records created inside a half-open time range.
// A zero bound leaves that side unconstrained.
type CreatedFilter struct {
	after  time.Time
	before time.Time
}

// NewCreatedFilter builds a creation-time filter, or nil when rng is nil.
func NewCreatedFilter(rng *DateRange) (*CreatedFilter, error) {
	if rng == nil {
		return nil, nil
	}

	var f CreatedFilter
	var err error
	if f.after, err = parseBound("after", rng.After); err != nil {
		return nil, err
	}
	if f.before, err = parseBound("before", rng.Before); err != nil {
		return nil, err
	}
	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after bound %s is not before %s", ErrBadDate, f.after, f.before)
	}
	return &f, nil
}

func parseBound(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := ParseDateTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s date: %w", name, err)
	}
	return t, nil
}

// Match reports whether the record was created inside the range.
func (f *CreatedFilter) Match(rec *tracker.JobRecord) bool {
	if !f.after.IsZero() && rec.CreatedAt.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !rec.CreatedAt.Before(f.before) {
		return false
	}
	return true
}

func (f *CreatedFilter) String() string {
	const day = "2006-01-02"
	hasAfter, hasBefore := !f.after.IsZero(), !f.before.IsZero()
	switch {
	case hasAfter && hasBefore:
		return fmt.Sprintf("created: %s to %s", f.after.Format(day), f.before.Format(day))
	case hasAfter:
		return "created: on/after " + f.after.Format(day)
	case hasBefore:
		return "created: before " + f.before.Format(day)
	default:
		return "created: any"
	}
}

// StatusFilter keeps records whose status is in an allowed set.
type StatusFilter struct {
	allowed map[string]struct{}
	raw     []string
}

// NewStatusFilter builds a status filter, or nil when statuses is
// empty. Unknown status names are rejected rather than silently
// matching nothing.
func NewStatusFilter(statuses []string) (*StatusFilter, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	allowed := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		switch s {
		case tracker.StatusSubmitted, tracker.StatusProcessing,
			tracker.StatusCompleted, tracker.StatusError:
			allowed[s] = struct{}{}
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadStatus, s)
		}
	}
	return &StatusFilter{allowed: allowed, raw: statuses}, nil
}

func (f *StatusFilter) Match(rec *tracker.JobRecord) bool {
	_, ok := f.allowed[rec.Status]
	return ok
}

func (f *StatusFilter) String() string {
	return "status: " + strings.Join(f.raw, "|")
}

// PromptFilter keeps records whose prompt parameter matches a regex.
// Records without a prompt never match.
type PromptFilter struct {
	re   *regexp.Regexp
	expr string
}

// NewPromptFilter builds a prompt filter, or nil when expr is empty.
func NewPromptFilter(expr string) (*PromptFilter, error) {
	if expr == "" {
		return nil, nil
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRegex, err)
	}
	return &PromptFilter{re: re, expr: expr}, nil
}

func (f *PromptFilter) Match(rec *tracker.JobRecord) bool {
	return f.re.MatchString(promptText(rec))
}

func (f *PromptFilter) String() string {
	return "prompt_regex: " + f.expr
}

// promptText extracts the record's prompt parameter, if present.
func promptText(rec *tracker.JobRecord) string {
	for _, key := range []string{"PROMPT", "prompt"} {
		if v, ok := rec.Parameters[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// FilterSet ANDs a set of filters.
type FilterSet struct {
	parts []Filter
}

// NewFilterSet combines the given filters, skipping nils. It returns
// nil when nothing remains.
func NewFilterSet(filters ...Filter) *FilterSet {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &FilterSet{parts: kept}
}

// FilterSetFromConfig builds the filter set cfg describes, or nil when
// cfg carries no criteria.
func FilterSetFromConfig(cfg *FilterConfig) (*FilterSet, error) {
	if cfg == nil {
		return nil, nil
	}

	var parts []Filter

	if f, err := NewCreatedFilter(cfg.Created); err != nil {
		return nil, err
	} else if f != nil {
		parts = append(parts, f)
	}
	if f, err := NewStatusFilter(cfg.Statuses); err != nil {
		return nil, err
	} else if f != nil {
		parts = append(parts, f)
	}
	if f, err := NewPromptFilter(cfg.PromptRegex); err != nil {
		return nil, err
	} else if f != nil {
		parts = append(parts, f)
	}

	if len(parts) == 0 {
		return nil, nil
	}
	return &FilterSet{parts: parts}, nil
}

// Match reports whether every filter passes.
func (f *FilterSet) Match(rec *tracker.JobRecord) bool {
	for _, part := range f.parts {
		if !part.Match(rec) {
			return false
		}
	}
	return true
}

func (f *FilterSet) String() string {
	if len(f.parts) == 0 {
		return "unfiltered"
	}
	var b strings.Builder
	for i, part := range f.parts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(part.String())
	}
	return b.String()
}

// ParseDateTime parses an ISO 8601 date or datetime, normalized to
// UTC. Date-only values ("2026-01-15") mean start of day UTC.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadDate
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
}

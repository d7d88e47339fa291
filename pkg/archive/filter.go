package archive

import (
	"errors"
	"path"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned when a glob pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid archive glob")

// PatternError ties a rejected pattern to the underlying error.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "glob " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Filter selects which output refs get archived, by doublestar glob over
// the ref's relative path (subfolder/filename).
//
//   - Include patterns: the ref must match at least one. Empty means all
//     refs pass, so a bare --archive-to mirrors everything.
//   - Exclude patterns: the ref must not match any.
type Filter struct {
	includes []string
	excludes []string
}

// NewFilter validates the patterns and builds a Filter.
func NewFilter(includes, excludes []string) (*Filter, error) {
	for _, p := range includes {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
	}
	for _, p := range excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
	}
	return &Filter{includes: includes, excludes: excludes}, nil
}

// Match reports whether the relative path passes the filter.
// A nil Filter passes everything.
func (f *Filter) Match(relPath string) bool {
	if f == nil {
		return true
	}

	if len(f.includes) > 0 {
		matched := false
		for _, p := range f.includes {
			if matchPattern(p, relPath) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, p := range f.excludes {
		if matchPattern(p, relPath) {
			return false
		}
	}

	return true
}

// RefPath is the relative path a ref is matched and keyed by.
func RefPath(subfolder, filename string) string {
	return path.Join(subfolder, filename)
}

func matchPattern(pattern, key string) bool {
	matched, err := doublestar.Match(pattern, key)
	if err != nil {
		// NewFilter already vetted the pattern; a late failure matches nothing.
		return false
	}
	return matched
}

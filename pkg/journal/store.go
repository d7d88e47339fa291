package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrNotFound is returned when no journal record matches the given id.
	ErrNotFound = errors.New("journal: job not found")
	// ErrAmbiguousID is returned when a short-id prefix matches more than
	// one journal record.
	ErrAmbiguousID = errors.New("journal: ambiguous job id prefix")
)

// Store persists submission records under an on-disk root, one
// directory per job:
//
//	<root>/<job_id>/job.json
//
// The CLI and the HTTP facade may read the same root from different
// processes, so records are staged and renamed into place.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

// dir is the per-job directory; JobPath the record file inside it.
func (s *Store) dir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) JobPath(jobID string) string {
	return filepath.Join(s.dir(jobID), "job.json")
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return errors.New("journal root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// cleanID trims a caller-supplied job id and rejects blanks.
func cleanID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("job_id is required")
	}
	return id, nil
}

func (s *Store) Write(record *Record) error {
	if record == nil {
		return errors.New("journal record is nil")
	}
	jobID, err := cleanID(record.JobID)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}
	jobDir := s.dir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create journal dir for %s: %w", jobID, err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	return atomicWrite(jobDir, s.JobPath(jobID), append(b, '\n'))
}

// atomicWrite stages content in a temp file in the same directory and
// renames it over path, so readers never observe a partial job.json.
func atomicWrite(dir, path string, content []byte) error {
	tmp, err := os.CreateTemp(dir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("stage journal record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	_, writeErr := tmp.Write(content)
	closeErr := tmp.Close()
	if writeErr != nil {
		return fmt.Errorf("write staged record: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close staged record: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish journal record: %w", err)
	}
	return nil
}

func (s *Store) Get(jobID string) (*Record, error) {
	jobID, err := cleanID(jobID)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(bytes.TrimSpace(b), &record); err != nil {
		return nil, fmt.Errorf("decode job.json for %s: %w", jobID, err)
	}
	s.repairAbandoned(&record)
	return &record, nil
}

// repairAbandoned flips a non-terminal record to abandoned when the
// process that owned the submission is gone. The run can never finish,
// and the repair is persisted so later reads agree.
func (s *Store) repairAbandoned(record *Record) {
	if record.State.Terminal() || record.PID <= 0 {
		return
	}
	if processAlive(record.PID) {
		return
	}
	record.State = StateAbandoned
	now := time.Now().UTC()
	record.EndedAt = &now
	_ = s.Write(record)
}

// Resolve expands a job id or unique short-id prefix to a full job id.
func (s *Store) Resolve(idOrPrefix string) (string, error) {
	idOrPrefix, err := cleanID(idOrPrefix)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(s.JobPath(idOrPrefix)); err == nil {
		return idOrPrefix, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
		}
		return "", fmt.Errorf("read journal root: %w", err)
	}

	var matches []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), idOrPrefix) {
			matches = append(matches, entry.Name())
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %q matches %s", ErrAmbiguousID, idOrPrefix, strings.Join(matches, ", "))
	}
}

// Update applies mutate to the stored record and persists the result.
func (s *Store) Update(jobID string, mutate func(*Record) error) (*Record, error) {
	record, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}
	if err := s.Write(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes a record and its directory.
func (s *Store) Delete(jobID string) error {
	jobID, err := cleanID(jobID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(s.JobPath(jobID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return err
	}
	return os.RemoveAll(s.dir(jobID))
}

func (s *Store) List() ([]Record, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return recordSortTime(out[i]).After(recordSortTime(out[j]))
	})

	return out, nil
}

// GC removes terminal records older than maxAge and returns the records it
// removed. With dryRun it returns the candidates without touching disk.
// Non-terminal records are never collected.
func (s *Store) GC(maxAge time.Duration, dryRun bool) ([]Record, error) {
	if maxAge <= 0 {
		return nil, errors.New("max age must be positive")
	}
	records, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	var collected []Record
	for _, r := range records {
		if !r.State.Terminal() {
			continue
		}
		if !recordEndTime(r).Before(cutoff) {
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(s.dir(r.JobID)); err != nil {
				return collected, fmt.Errorf("remove job dir %s: %w", r.JobID, err)
			}
		}
		collected = append(collected, r)
	}
	return collected, nil
}

func recordSortTime(r Record) time.Time {
	t := r.CreatedAt
	if r.StartedAt != nil {
		t = *r.StartedAt
	}
	return t.UTC()
}

func recordEndTime(r Record) time.Time {
	t := r.CreatedAt
	if r.EndedAt != nil {
		t = *r.EndedAt
	}
	return t.UTC()
}

// processAlive probes pid with signal 0, which checks process
// existence without delivering anything. Unix only.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

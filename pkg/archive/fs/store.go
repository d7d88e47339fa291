// Package fs implements the archive store interface for local directories.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/3leaps/gostudio/pkg/archive"
)

// Store writes archived outputs under a base directory.
//
// Keys are treated as relative slash paths under BaseDir. Writes are
// atomic: content lands in a temp file next to the target and is renamed
// into place.
type Store struct {
	baseDir string
}

var _ archive.Store = (*Store)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *Store) Close() error { return nil }

// Put stages content in a temp file beside the target and renames it
// into place, so readers never observe partial writes. Size and content
// type are advisory; local writes need neither.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	full, err := s.fullPath(key)
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "gostudio-put-*")
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrapError("Put", key, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

func (s *Store) Head(ctx context.Context, key string) (*archive.ObjectInfo, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &archive.StoreError{Op: "Head", Store: archive.StoreFS, Key: key, Err: archive.ErrNotFound}
		}
		return nil, s.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &archive.StoreError{Op: "Head", Store: archive.StoreFS, Key: key, Err: archive.ErrNotFound}
	}

	return &archive.ObjectInfo{
		Key:          strings.TrimPrefix(key, "/"),
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}, nil
}

// fullPath re-roots the key against "/" so ".." segments collapse inside
// the base dir instead of escaping it.
func (s *Store) fullPath(key string) (string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
	if clean == "" {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Store) wrapError(op, key string, err error) error {
	// Common filesystem failures map onto archive sentinels.
	switch {
	case err == nil:
		err = fmt.Errorf("unknown error")
	case os.IsNotExist(err):
		err = archive.ErrNotFound
	case os.IsPermission(err):
		err = archive.ErrAccessDenied
	}
	return &archive.StoreError{Op: op, Store: archive.StoreFS, Key: key, Err: err}
}

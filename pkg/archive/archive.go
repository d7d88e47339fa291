// Package archive mirrors generated outputs to durable storage.
//
// The engine keeps outputs on its own disk and serves them over the view
// endpoint; anything not mirrored disappears when the engine prunes its
// output directory. An Archiver fetches each output ref and writes it to
// a Store under {prefix}/{workflow}/{job_id}/{subfolder}/{filename}.
package archive

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/runner"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is a destination for archived outputs.
type Store interface {
	// Put writes one object. Size may be -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Head returns metadata for a stored object, or ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Close releases any resources held by the store.
	Close() error
}

// Engine is the subset of the engine client the archiver needs.
type Engine interface {
	FetchOutput(ctx context.Context, ref engine.OutputRef) (io.ReadCloser, int64, error)
}

// Config configures an Archiver.
type Config struct {
	// Engine fetches output bytes. Required.
	Engine Engine

	// Store receives the archived objects. Required.
	Store Store

	// Filter selects refs to archive. Optional; nil archives everything.
	Filter *Filter

	// KeyPrefix is prepended to every archive key. Optional.
	KeyPrefix string

	// Logger receives per-ref progress. Optional.
	Logger *zap.Logger
}

// ConfigError represents an archiver configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "archive config: " + e.Field + ": " + e.Message
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Engine == nil {
		return &ConfigError{Field: "Engine", Message: "engine client is required"}
	}
	if c.Store == nil {
		return &ConfigError{Field: "Store", Message: "destination store is required"}
	}
	return nil
}

// RefResult is the per-ref outcome of an ArchiveJob call.
type RefResult struct {
	Ref  engine.OutputRef
	Key  string
	Size int64
	Err  error
}

// Archiver copies a job's outputs from the engine to a Store.
type Archiver struct {
	engine Engine
	store  Store
	filter *Filter
	prefix string
	logger *zap.Logger
}

// New builds an Archiver from the config.
func New(cfg Config) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		engine: cfg.Engine,
		store:  cfg.Store,
		filter: cfg.Filter,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// ArchiveJob fetches every output ref that passes the filter and writes
// it to the store. Failures on one ref do not stop the remaining refs;
// each result carries its own error. The returned error is non-nil only
// for an unusable job or a cancelled context.
func (a *Archiver) ArchiveJob(ctx context.Context, job *runner.Job) ([]RefResult, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	jobID := job.LocalID
	if jobID == "" {
		jobID = job.PromptID
	}
	if jobID == "" {
		return nil, errors.New("job has no id to key archives by")
	}

	var results []RefResult
	for _, ref := range job.OutputRefs {
		rel := RefPath(ref.Subfolder, ref.Filename)
		if !a.filter.Match(rel) {
			a.logger.Debug("archive skip", zap.String("ref", rel))
			continue
		}
		if err := ctx.Err(); err != nil {
			results = append(results, RefResult{Ref: ref, Err: err})
			continue
		}

		res := a.archiveRef(ctx, jobID, job.Workflow, ref, rel)
		if res.Err != nil {
			a.logger.Warn("archive ref failed",
				zap.String("ref", rel),
				zap.String("key", res.Key),
				zap.Error(res.Err))
		} else {
			a.logger.Debug("archived ref",
				zap.String("ref", rel),
				zap.String("key", res.Key),
				zap.Int64("size", res.Size))
		}
		results = append(results, res)
	}

	return results, ctx.Err()
}

func (a *Archiver) archiveRef(ctx context.Context, jobID, workflowName string, ref engine.OutputRef, rel string) RefResult {
	res := RefResult{Ref: ref, Key: path.Join(a.prefix, workflowName, jobID, rel)}

	body, size, err := a.engine.FetchOutput(ctx, ref)
	if err != nil {
		res.Err = err
		return res
	}
	defer func() { _ = body.Close() }()

	if err := a.store.Put(ctx, res.Key, body, size, contentTypeFor(ref.Filename)); err != nil {
		res.Err = err
		return res
	}
	res.Size = size
	return res
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

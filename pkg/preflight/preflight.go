// Package preflight checks that the environment can support a run before
// any jobs are submitted: the workflow engine answers, the tracking backend
// answers, and (when archiving) the archive store accepts writes.
package preflight

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/gostudio/pkg/archive"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/output"
	"github.com/3leaps/gostudio/pkg/tracker"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModePlanOnly   Mode = "plan-only"
	ModeReadSafe   Mode = "read-safe"
	ModeWriteProbe Mode = "write-probe"
)

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode        Mode
	ProbePrefix string
}

// Capability names are stable strings used in JSONL output.
const (
	CapEngineReachable  = "engine.reachable"
	CapTrackerReachable = "tracker.reachable"
	CapArchiveWritable  = "archive.writable"
)

// DefaultProbePrefix is where write probes land when Spec.ProbePrefix is empty.
const DefaultProbePrefix = "_gostudio/probe/"

// EngineClient is the subset of the engine client preflight needs.
type EngineClient interface {
	SystemStats(ctx context.Context) (*engine.SystemStats, error)
}

// TrackerClient is the subset of the tracking backend client preflight needs.
type TrackerClient interface {
	ListJobs(ctx context.Context, q tracker.Query) (*tracker.Page, error)
}

// Deps holds the clients to check. Nil entries are skipped, so callers
// check exactly the dependencies their run will touch.
type Deps struct {
	Engine  EngineClient
	Tracker TrackerClient
	Store   archive.Store
}

// Check runs preflight checks in dependency order: engine, then tracker,
// then archive write probe. It fails fast, returning the accumulated record
// alongside the first error so partial results stay reportable.
//
// The archive probe only runs in write-probe mode; read-safe covers the two
// read-only checks. Plan-only performs no calls at all.
func Check(ctx context.Context, deps Deps, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:        string(spec.Mode),
		ProbePrefix: spec.ProbePrefix,
		Results:     []output.PreflightCheckResult{},
	}

	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	if deps.Engine != nil {
		_, err := deps.Engine.SystemStats(ctx)
		if err != nil {
			rec.Results = append(rec.Results, output.PreflightCheckResult{
				Capability: CapEngineReachable,
				Allowed:    false,
				Method:     "SystemStats",
				ErrorCode:  normalizeErrorCode(err),
				Detail:     err.Error(),
			})
			return rec, err
		}
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapEngineReachable,
			Allowed:    true,
			Method:     "SystemStats",
		})
	}

	if deps.Tracker != nil {
		_, err := deps.Tracker.ListJobs(ctx, tracker.Query{Limit: 1})
		if err != nil {
			rec.Results = append(rec.Results, output.PreflightCheckResult{
				Capability: CapTrackerReachable,
				Allowed:    false,
				Method:     "ListJobs(limit=1)",
				ErrorCode:  normalizeErrorCode(err),
				Detail:     err.Error(),
			})
			return rec, err
		}
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: CapTrackerReachable,
			Allowed:    true,
			Method:     "ListJobs(limit=1)",
		})
	}

	if deps.Store != nil && spec.Mode == ModeWriteProbe {
		probeRec, err := writeProbe(ctx, deps.Store, spec)
		rec.Results = append(rec.Results, probeRec...)
		if err != nil {
			return rec, err
		}
	}

	return rec, nil
}

// writeProbe puts a small marker object under the probe prefix and heads it
// back. The store interface has no delete, so markers stay behind; keeping
// them under a dedicated prefix makes them easy to expire out of band.
func writeProbe(ctx context.Context, store archive.Store, spec Spec) ([]output.PreflightCheckResult, error) {
	probePrefix := spec.ProbePrefix
	if probePrefix == "" {
		probePrefix = DefaultProbePrefix
	}
	probeKey := joinPrefix(probePrefix, "probe-"+uuid.NewString())

	body := "gostudio preflight probe\n"
	if err := store.Put(ctx, probeKey, strings.NewReader(body), int64(len(body)), "text/plain"); err != nil {
		return []output.PreflightCheckResult{{
			Capability: CapArchiveWritable,
			Allowed:    false,
			Method:     "Put(probe)",
			ErrorCode:  normalizeErrorCode(err),
			Detail:     err.Error(),
		}}, err
	}

	if _, err := store.Head(ctx, probeKey); err != nil {
		return []output.PreflightCheckResult{{
			Capability: CapArchiveWritable,
			Allowed:    false,
			Method:     "Put+Head(probe)",
			ErrorCode:  normalizeErrorCode(err),
			Detail:     err.Error(),
		}}, err
	}

	return []output.PreflightCheckResult{{
		Capability: CapArchiveWritable,
		Allowed:    true,
		Method:     "Put+Head(probe)",
	}}, nil
}

func normalizeErrorCode(err error) string {
	switch {
	case engine.IsUnavailable(err):
		return output.ErrCodeEngineUnavailable
	case tracker.IsUnavailable(err), tracker.IsRejected(err), tracker.IsMalformed(err):
		return output.ErrCodeTrackerUnavailable
	case archive.IsAccessDenied(err), archive.IsInvalidCredentials(err),
		archive.IsBucketNotFound(err), archive.IsNotFound(err),
		archive.IsThrottled(err), archive.IsStoreUnavailable(err):
		return output.ErrCodeArchiveFailed
	default:
		return output.ErrCodeInternal
	}
}

func joinPrefix(prefix, suffix string) string {
	if prefix == "" {
		return strings.TrimPrefix(suffix, "/")
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + strings.TrimPrefix(suffix, "/")
	}
	return prefix + "/" + strings.TrimPrefix(suffix, "/")
}

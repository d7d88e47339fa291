package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultBatchWorkers is the worker pool size when none is configured.
// Generation jobs are GPU-bound on the engine side; a small pool keeps the
// engine queue shallow.
const DefaultBatchWorkers = 3

// BatchResult is the outcome of one request in a batch, in request order.
type BatchResult struct {
	// Index is the request's position in the submitted slice.
	Index int

	// Job is the resulting job, possibly terminal with an error recorded.
	// Nil when the request never started.
	Job *Job

	// Err is the run error, nil on success.
	Err error
}

// BatchSummary contains aggregate statistics from a completed batch.
type BatchSummary struct {
	// Submitted is the number of jobs the engine accepted.
	Submitted int64

	// Completed is the number of jobs that reached StatusCompleted.
	Completed int64

	// Failed is the number of requests that returned an error, including
	// requests skipped by cancellation.
	Failed int64

	// Duration is the total batch wall-clock time.
	Duration time.Duration

	// Results holds one entry per request, in request order.
	Results []BatchResult
}

// Batch fans generation requests over a bounded worker pool, each worker
// driving the full submit-and-poll lifecycle.
//
// Batch is safe for single use only. Create a new Batch for each run.
type Batch struct {
	runner  *Runner
	workers int
	logger  *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewBatch creates a batch executor over the given runner. workers <= 0
// means DefaultBatchWorkers.
func NewBatch(r *Runner, workers int, logger *zap.Logger) *Batch {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{runner: r, workers: workers, logger: logger}
}

// Run executes all requests and blocks until every started job reaches a
// terminal outcome or ctx is cancelled. Cancellation is graceful:
// in-flight jobs return via their own poll loops, unstarted requests are
// marked with ctx's error, and the partial summary is returned alongside
// ctx.Err().
func (b *Batch) Run(ctx context.Context, reqs []SubmitRequest) (*BatchSummary, error) {
	startTime := time.Now()
	results := make([]BatchResult, len(reqs))

	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup

	next := 0
	for ; next < len(reqs); next++ {
		// Acquire a worker slot or stop launching on cancellation.
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, req SubmitRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			job, err := b.runner.Run(ctx, req)
			if job != nil && job.PromptID != "" {
				b.submitted.Add(1)
			}
			if err != nil {
				b.failed.Add(1)
				b.logger.Warn("batch job failed",
					zap.Int("index", i), zap.Error(err))
			} else {
				b.completed.Add(1)
			}
			// Each goroutine owns its own slot; no locking needed.
			results[i] = BatchResult{Index: i, Job: job, Err: err}
		}(next, reqs[next])
	}

	wg.Wait()

	for i := next; i < len(reqs); i++ {
		results[i] = BatchResult{Index: i, Err: ctx.Err()}
		b.failed.Add(1)
	}

	summary := &BatchSummary{
		Submitted: b.submitted.Load(),
		Completed: b.completed.Load(),
		Failed:    b.failed.Load(),
		Duration:  time.Since(startTime),
		Results:   results,
	}
	return summary, ctx.Err()
}

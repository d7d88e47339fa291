package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits typed JSONL records. Implementations must be safe for
// concurrent use and must emit each record as one complete line.
type Writer interface {
	WriteJob(ctx context.Context, job *JobRecord) error
	WriteOutput(ctx context.Context, out *OutputRecord) error
	WriteError(ctx context.Context, errRec *ErrorRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	WriteFeedItem(ctx context.Context, item *FeedItemRecord) error
	WritePreflight(ctx context.Context, rec *PreflightRecord) error

	// Close stops the writer. The underlying io.Writer stays open and
	// belongs to the caller.
	Close() error
}

// JSONLWriter writes record envelopes as newline-delimited JSON.
//
// A mutex serializes writes so concurrent emitters never interleave
// within a line.
type JSONLWriter struct {
	w        io.Writer
	runID    string
	workflow string

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter wraps w with the run correlation ID and, when one
// workflow drives the whole run, its name.
func NewJSONLWriter(w io.Writer, runID, workflow string) *JSONLWriter {
	return &JSONLWriter{w: w, runID: runID, workflow: workflow}
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.writeRecord(ctx, TypeJob, job)
}

func (jw *JSONLWriter) WriteOutput(ctx context.Context, out *OutputRecord) error {
	return jw.writeRecord(ctx, TypeOutput, out)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, errRec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, errRec)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WriteFeedItem(ctx context.Context, item *FeedItemRecord) error {
	return jw.writeRecord(ctx, TypeFeedItem, item)
}

func (jw *JSONLWriter) WritePreflight(ctx context.Context, rec *PreflightRecord) error {
	return jw.writeRecord(ctx, TypePreflight, rec)
}

func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Marshal the payload outside the lock; only the envelope stamp and
	// the write itself need serializing.
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.emitLocked(ctx, recordType, payload)
}

// emitLocked stamps the record envelope and writes one full line.
// Callers hold jw.mu.
func (jw *JSONLWriter) emitLocked(ctx context.Context, recordType string, payload json.RawMessage) error {
	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(Record{
		Type:     recordType,
		TS:       time.Now().UTC(),
		RunID:    jw.runID,
		Workflow: jw.workflow,
		Data:     payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeFull(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeFull writes all of p, retrying short writes. A Write that makes
// no progress is reported as io.ErrShortWrite rather than looping.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)

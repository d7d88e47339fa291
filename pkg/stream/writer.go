package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/3leaps/gostudio/pkg/output"
)

// Writer emits a mixed-framing stream: JSONL control records terminated by
// '\n', and for chunk records exactly NBytes of raw payload immediately after
// the header line.
//
// Writer is safe for concurrent use; the mutex keeps each header line and its
// payload contiguous on the wire.
type Writer struct {
	w        io.Writer
	runID    string
	workflow string

	mu     sync.Mutex
	closed bool
}

func NewWriter(w io.Writer, runID, workflow string) *Writer {
	return &Writer{w: w, runID: runID, workflow: workflow}
}

func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
	return nil
}

func (sw *Writer) WriteOpen(ctx context.Context, open *Open) error {
	return sw.writeRecord(ctx, TypeStreamOpen, open)
}

func (sw *Writer) WriteClose(ctx context.Context, closeRec *Close) error {
	return sw.writeRecord(ctx, TypeStreamClose, closeRec)
}

// WriteChunk writes a chunk header record followed by exactly hdr.NBytes
// bytes copied from body. A body that runs out early surfaces as
// io.ErrUnexpectedEOF, with the header already on the wire.
func (sw *Writer) WriteChunk(ctx context.Context, hdr *Chunk, body io.Reader) error {
	if hdr == nil {
		return errors.New("stream: nil chunk header")
	}
	if hdr.NBytes < 0 {
		return errors.New("stream: nbytes must be >= 0")
	}

	payload, err := json.Marshal(hdr)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.emitLocked(ctx, TypeStreamChunk, payload); err != nil {
		return err
	}
	if hdr.NBytes == 0 {
		return nil
	}
	if _, err := io.CopyN(sw.w, body, hdr.NBytes); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (sw *Writer) writeRecord(ctx context.Context, recordType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.emitLocked(ctx, recordType, payload)
}

// emitLocked stamps the record envelope and writes a single JSONL line.
// Callers hold sw.mu.
func (sw *Writer) emitLocked(ctx context.Context, recordType string, payload json.RawMessage) error {
	if sw.closed {
		return output.ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(output.Record{
		Type:     recordType,
		TS:       time.Now().UTC(),
		RunID:    sw.runID,
		Workflow: sw.workflow,
		Data:     payload,
	})
	if err != nil {
		return err
	}
	_, err = sw.w.Write(append(line, '\n'))
	return err
}

package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/3leaps/gostudio/pkg/output"
)

// DefaultMaxLineBytes caps a single JSONL header line at 1 MiB.
const DefaultMaxLineBytes = 1 << 20

type EventKind int

const (
	EventRecord EventKind = iota
	EventChunk
)

// Event is one decoded element of a mixed-framing stream: either a plain
// JSONL record (open, close, or any gostudio.*.v1 record) or a chunk whose
// Body reads the raw payload that followed the header line.
type Event struct {
	Kind   EventKind
	Record output.Record
	Chunk  *ChunkEvent
}

type ChunkEvent struct {
	Header Chunk
	Body   io.ReadCloser
}

// Decoder reads a mixed-framing stream produced by Writer. Calling Next
// invalidates the previous event's chunk body; unread payload bytes are
// discarded so the decoder stays aligned on the next header line.
type Decoder struct {
	r       *bufio.Reader
	maxLine int
	pending *payloadReader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxLine: DefaultMaxLineBytes}
}

// SetMaxLineBytes overrides the header line cap. Values <= 0 restore the
// default.
func (d *Decoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		n = DefaultMaxLineBytes
	}
	d.maxLine = n
}

func (d *Decoder) Next() (Event, error) {
	if d.pending != nil {
		_ = d.pending.Close()
		d.pending = nil
	}

	line, err := d.readHeader()
	if err != nil {
		return Event{}, err
	}
	if len(bytes.TrimSpace(line)) == 0 {
		return Event{}, io.EOF
	}

	var rec output.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Event{}, err
	}
	if rec.Type != TypeStreamChunk {
		return Event{Kind: EventRecord, Record: rec}, nil
	}
	return d.beginChunk(rec)
}

// beginChunk parses a chunk header and hands out a reader over the NBytes
// of payload that follow it on the wire.
func (d *Decoder) beginChunk(rec output.Record) (Event, error) {
	var hdr Chunk
	if err := json.Unmarshal(rec.Data, &hdr); err != nil {
		return Event{}, err
	}
	if hdr.NBytes < 0 {
		return Event{}, errors.New("chunk header nbytes must be >= 0")
	}

	body := &payloadReader{lr: io.LimitedReader{R: d.r, N: hdr.NBytes}}
	d.pending = body

	return Event{
		Kind:   EventChunk,
		Record: rec,
		Chunk:  &ChunkEvent{Header: hdr, Body: body},
	}, nil
}

// readHeader reads one newline-terminated JSONL line without buffering
// past it, since the bytes after a chunk header are raw payload.
func (d *Decoder) readHeader() ([]byte, error) {
	var line []byte
	for {
		frag, err := d.r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > d.maxLine {
			return nil, fmt.Errorf("jsonl line exceeds max bytes (%d)", d.maxLine)
		}
		switch {
		case err == nil:
			return bytes.TrimSuffix(line, []byte{'\n'}), nil
		case errors.Is(err, bufio.ErrBufferFull):
			// Keep accumulating fragments until the newline shows up.
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

// payloadReader exposes exactly the declared chunk length from the shared
// buffered reader. Close drains whatever the caller left unread.
type payloadReader struct {
	lr     io.LimitedReader
	closed bool
}

func (p *payloadReader) Read(b []byte) (int, error) {
	n, err := p.lr.Read(b)
	if errors.Is(err, io.EOF) && p.lr.N > 0 {
		// The source ended before delivering the declared byte count.
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (p *payloadReader) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if _, err := io.Copy(io.Discard, &p.lr); err != nil {
		return err
	}
	if p.lr.N > 0 {
		return io.ErrUnexpectedEOF
	}
	return nil
}

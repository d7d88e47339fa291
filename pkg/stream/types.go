// Package stream implements the mixed-framing output stream: JSONL header
// records interleaved with raw payload bytes. A stream is opened with a
// gostudio.stream.open.v1 record, carries zero or more chunk records each
// followed by exactly NBytes of raw payload, and ends with a close record.
//
// The format lets `gostudio outputs fetch --framed` pipe engine outputs to
// stdout alongside the regular JSONL records without base64 overhead.
package stream

// Stream record types. These envelope types mark the JSONL header lines of a
// mixed-framing stream; everything between a chunk header and the next header
// line is raw payload.
const (
	TypeStreamOpen  = "gostudio.stream.open.v1"
	TypeStreamChunk = "gostudio.stream.chunk.v1"
	TypeStreamClose = "gostudio.stream.close.v1"
)

// Open announces a new payload stream. URI is the engine view URL the payload
// was fetched from; Filename and Subfolder identify the output within the
// job. Size is nil when the engine did not report a content length.
type Open struct {
	StreamID string `json:"stream_id"`
	URI      string `json:"uri"`

	Filename    string `json:"filename"`
	Subfolder   string `json:"subfolder,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Chunk is the header for one raw payload segment. Exactly NBytes of payload
// follow the header's newline. Seq starts at 0 and increments per chunk.
type Chunk struct {
	StreamID string `json:"stream_id"`
	Seq      int64  `json:"seq"`
	NBytes   int64  `json:"nbytes"`
	Offset   *int64 `json:"offset,omitempty"`
}

// Close terminates a stream. Status is "success" or "error"; Chunks and Bytes
// report what was actually written before the close, so a consumer can detect
// truncation after an error mid-stream.
type Close struct {
	StreamID string `json:"stream_id"`
	Status   string `json:"status"`
	Chunks   int64  `json:"chunks"`
	Bytes    int64  `json:"bytes"`

	DurationNS *int64 `json:"duration_ns,omitempty"`
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/journal"
	"github.com/3leaps/gostudio/pkg/output"
	"github.com/3leaps/gostudio/pkg/stream"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "Inspect and fetch job outputs",
	Long: `Inspect and fetch the outputs of a journaled job.

The job's prompt id is resolved from the journal, and the engine's
history endpoint supplies the authoritative output list, so outputs
remain fetchable as long as the engine retains the run.`,
}

var outputsListCmd = &cobra.Command{
	Use:   "list <job_id>",
	Short: "List a job's outputs",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutputsList,
}

var outputsFetchCmd = &cobra.Command{
	Use:   "fetch <job_id>",
	Short: "Fetch one output's bytes",
	Long: `Fetch one output from the engine.

By default the output is written to a local file named after the
engine-side filename. With --framed the bytes are emitted on stdout as
a mixed-framing stream: JSONL open/close records around raw chunks, so
agents can consume content without a second connection.

Examples:
  # Save the first output next to the current directory
  gostudio outputs fetch 3f2a

  # Pipe raw bytes
  gostudio outputs fetch 3f2a --out - > result.png

  # Framed streaming for machine consumption
  gostudio outputs fetch 3f2a --index 1 --framed`,
	Args: cobra.ExactArgs(1),
	RunE: runOutputsFetch,
}

var (
	outputsFetchIndex int
	outputsFetchOut   string
	outputsFetchFrame bool
	outputsFetchChunk int
)

func init() {
	rootCmd.AddCommand(outputsCmd)
	outputsCmd.AddCommand(outputsListCmd)
	outputsCmd.AddCommand(outputsFetchCmd)

	outputsCmd.PersistentFlags().String("journal-dir", "", "Journal directory (default is the app data dir)")
	outputsListCmd.Flags().Bool("json", false, "Output as JSON")
	outputsFetchCmd.Flags().IntVar(&outputsFetchIndex, "index", 0, "Output index from 'outputs list'")
	outputsFetchCmd.Flags().StringVarP(&outputsFetchOut, "out", "o", "", "Destination path ('-' for stdout; default is the output filename)")
	outputsFetchCmd.Flags().BoolVar(&outputsFetchFrame, "framed", false, "Emit a mixed-framing stream on stdout")
	outputsFetchCmd.Flags().IntVar(&outputsFetchChunk, "chunk-bytes", 64*1024, "Chunk size in bytes with --framed")
}

// resolveJobOutputs resolves a journal id to its engine output refs.
func resolveJobOutputs(cmd *cobra.Command, idOrPrefix string) (*journal.Record, []engine.OutputRef, *engine.Client, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	dir, _ := cmd.Flags().GetString("journal-dir")
	root, err := resolveJournalDir(firstNonEmpty(dir, cfg.Journal.Dir))
	if err != nil {
		return nil, nil, nil, exitError(foundry.ExitInvalidArgument, "Cannot resolve journal directory", err)
	}
	store := journal.NewStore(root)

	jobID, err := store.Resolve(idOrPrefix)
	if err != nil {
		return nil, nil, nil, err
	}
	rec, err := store.Get(jobID)
	if err != nil {
		return nil, nil, nil, err
	}
	if rec.PromptID == "" {
		return nil, nil, nil, exitError(foundry.ExitInvalidArgument, "Job has no outputs", fmt.Errorf("journal record %s was never queued", shortJobID(jobID)))
	}

	engineURL := rec.EngineURL
	if engineURL == "" {
		engineURL = cfg.Engine.URL
	}
	engineClient, err := engine.New(engine.Config{
		BaseURL:           engineURL,
		ClientID:          cfg.Engine.ClientID,
		HTTPTimeout:       cfg.Engine.HTTPTimeout,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Logger:            observability.CLILogger,
	})
	if err != nil {
		return nil, nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid engine configuration", err)
	}

	entry, err := engineClient.History(ctx, rec.PromptID)
	if err != nil {
		observability.CLILogger.Error("History request failed",
			zap.String("prompt_id", rec.PromptID),
			zap.Error(err))
		return nil, nil, nil, exitError(foundry.ExitExternalServiceUnavailable, "Engine history not available", err)
	}

	return rec, entry.OutputRefs(), engineClient, nil
}

func runOutputsList(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rec, refs, engineClient, err := resolveJobOutputs(cmd, args[0])
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No outputs found")
		return nil
	}

	if jsonOutput {
		type jsonRef struct {
			Index     int    `json:"index"`
			Filename  string `json:"filename"`
			Subfolder string `json:"subfolder,omitempty"`
			Type      string `json:"type,omitempty"`
			URL       string `json:"url"`
		}
		out := make([]jsonRef, len(refs))
		for i, ref := range refs {
			out[i] = jsonRef{
				Index:     i,
				Filename:  ref.Filename,
				Subfolder: ref.Subfolder,
				Type:      ref.Type,
				URL:       engineClient.ViewURL(ref),
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s prompt_id=%s\n", shortJobID(rec.JobID), rec.PromptID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "INDEX\tFILENAME\tSUBFOLDER\tTYPE")
	for i, ref := range refs {
		subfolder := ref.Subfolder
		if subfolder == "" {
			subfolder = "-"
		}
		refType := ref.Type
		if refType == "" {
			refType = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, ref.Filename, subfolder, refType)
	}

	return nil
}

func runOutputsFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rec, refs, engineClient, err := resolveJobOutputs(cmd, args[0])
	if err != nil {
		return err
	}
	if outputsFetchIndex < 0 || outputsFetchIndex >= len(refs) {
		return exitError(foundry.ExitInvalidArgument, "Output index out of range", fmt.Errorf("index %d, job has %d outputs", outputsFetchIndex, len(refs)))
	}
	ref := refs[outputsFetchIndex]

	if outputsFetchFrame {
		return fetchFramed(ctx, engineClient, rec, ref)
	}

	body, size, err := engineClient.FetchOutput(ctx, ref)
	if err != nil {
		observability.CLILogger.Error("Fetch failed",
			zap.String("filename", ref.Filename),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Fetch failed", err)
	}
	defer func() { _ = body.Close() }()

	dst := os.Stdout
	if outputsFetchOut != "-" {
		path := outputsFetchOut
		if path == "" {
			path = ref.Filename
		}
		f, err := os.Create(path)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot create output file", err)
		}
		defer func() { _ = f.Close() }()
		dst = f
	}

	written, err := io.Copy(dst, body)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Write failed", err)
	}
	if size >= 0 && written != size {
		return exitError(foundry.ExitFileWriteError, "Short read", fmt.Errorf("expected %d bytes, wrote %d", size, written))
	}

	if outputsFetchOut != "-" {
		observability.CLILogger.Info("Fetched output",
			zap.String("filename", ref.Filename),
			zap.Int64("bytes", written))
	}
	return nil
}

// fetchFramed streams one output as JSONL open/close records around raw
// chunks, per the streaming contract: errors also go to stdout as
// records so a consumer never needs a second channel.
func fetchFramed(ctx context.Context, engineClient *engine.Client, rec *journal.Record, ref engine.OutputRef) error {
	runID := uuid.New().String()
	recordWriter := output.NewJSONLWriter(os.Stdout, runID, rec.Workflow)
	defer func() { _ = recordWriter.Close() }()

	body, size, err := engineClient.FetchOutput(ctx, ref)
	if err != nil {
		_ = emitFetchError(ctx, recordWriter, rec, err)
		return exitError(foundry.ExitExternalServiceUnavailable, "Fetch failed", err)
	}
	defer func() { _ = body.Close() }()

	streamID := uuid.New().String()
	open := &stream.Open{
		StreamID:  streamID,
		URI:       engineClient.ViewURL(ref),
		Filename:  ref.Filename,
		Subfolder: ref.Subfolder,
	}
	if size >= 0 {
		open.Size = &size
	}

	streamWriter := stream.NewWriter(os.Stdout, runID, rec.Workflow)
	defer func() { _ = streamWriter.Close() }()

	if err := streamWriter.WriteOpen(ctx, open); err != nil {
		_ = emitFetchError(ctx, recordWriter, rec, err)
		return exitError(foundry.ExitFileWriteError, "Stream open record not written", err)
	}

	chunkBytes := outputsFetchChunk
	if chunkBytes <= 0 {
		chunkBytes = 64 * 1024
	}
	buf := make([]byte, chunkBytes)

	var seq, total int64
	// Close with error status before bailing so the consumer sees a
	// terminated stream instead of a truncated one.
	abort := func() {
		_ = streamWriter.WriteClose(ctx, &stream.Close{StreamID: streamID, Status: "error", Chunks: seq, Bytes: total})
	}
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			hdr := &stream.Chunk{StreamID: streamID, Seq: seq, NBytes: int64(n)}
			if err := streamWriter.WriteChunk(ctx, hdr, bytes.NewReader(buf[:n])); err != nil {
				_ = emitFetchError(ctx, recordWriter, rec, err)
				abort()
				return exitError(foundry.ExitFileWriteError, "Stream chunk not written", err)
			}
			seq++
			total += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			_ = emitFetchError(ctx, recordWriter, rec, rerr)
			abort()
			return exitError(foundry.ExitExternalServiceUnavailable, "Engine read failed mid-stream", rerr)
		}
	}

	if err := streamWriter.WriteClose(ctx, &stream.Close{StreamID: streamID, Status: "success", Chunks: seq, Bytes: total}); err != nil {
		_ = emitFetchError(ctx, recordWriter, rec, err)
		return exitError(foundry.ExitFileWriteError, "Stream close record not written", err)
	}

	return nil
}

func emitFetchError(ctx context.Context, w output.Writer, rec *journal.Record, err error) error {
	code := output.ErrCodeInternal
	if engine.IsUnavailable(err) || engine.IsHistoryUnavailable(err) {
		code = output.ErrCodeEngineUnavailable
	}

	details := map[string]any{
		"mode": "streaming",
	}
	record := &output.ErrorRecord{
		Code:     code,
		Message:  err.Error(),
		JobID:    rec.JobID,
		PromptID: rec.PromptID,
		Details:  details,
	}
	if err := w.WriteError(ctx, record); err != nil {
		observability.CLILogger.Debug("Streaming error record not emitted", zap.Error(err))
	}
	return nil
}

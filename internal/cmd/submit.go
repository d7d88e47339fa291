package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	workflowassets "github.com/3leaps/gostudio/internal/assets/workflows"
	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
	"github.com/3leaps/gostudio/pkg/archive"
	archivefs "github.com/3leaps/gostudio/pkg/archive/fs"
	archives3 "github.com/3leaps/gostudio/pkg/archive/s3"
	"github.com/3leaps/gostudio/pkg/engine"
	"github.com/3leaps/gostudio/pkg/journal"
	"github.com/3leaps/gostudio/pkg/manifest"
	"github.com/3leaps/gostudio/pkg/output"
	"github.com/3leaps/gostudio/pkg/runner"
	"github.com/3leaps/gostudio/pkg/tracker"
	"github.com/3leaps/gostudio/pkg/workflow"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit generation jobs and poll until they finish",
	Long: `Submit one generation job, or a batch from a manifest, to the workflow
engine and poll until every job reaches a terminal state.

A submission uploads the listed inputs, renders the workflow template with
the given parameters, queues the graph, and creates a tracking record. Each
run is journaled locally under the journal directory so interrupted jobs
stay inspectable with 'gostudio jobs'.

Examples:
  # Single job from a builtin template
  gostudio submit --workflow image_edit --input IMAGE_1=photo.png --param PROMPT="make it snow"

  # Batch from a manifest, JSONL events on stdout
  gostudio submit --manifest batch.yaml --events

  # Submit without waiting for completion
  gostudio submit --workflow multitalk --input IMAGE_1=a.png --input AUDIO_1=a.wav --no-poll

  # Archive outputs to S3 after completion
  gostudio submit --workflow image_edit --input IMAGE_1=photo.png --param PROMPT="dusk" --archive-to s3://media-archive/renders`,
	RunE: runSubmit,
}

var (
	submitWorkflow     string
	submitManifestPath string
	submitInputs       []string
	submitParams       []string
	submitWidth        int
	submitHeight       int
	submitGraphPath    string
	submitArchiveTo    string
	submitNoPoll       bool
	submitEvents       bool
	submitJournalDir   string
	submitWorkflowsDir string
	submitWorkers      int
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitWorkflow, "workflow", "w", "", "Workflow template name")
	submitCmd.Flags().StringVarP(&submitManifestPath, "manifest", "m", "", "Submit manifest for batch runs (YAML or JSON)")
	submitCmd.Flags().StringArrayVarP(&submitInputs, "input", "i", nil, "Input upload as PARAM=path (repeatable)")
	submitCmd.Flags().StringArrayVarP(&submitParams, "param", "p", nil, "Template parameter as KEY=value (repeatable; values parse as JSON scalars when possible)")
	submitCmd.Flags().IntVar(&submitWidth, "width", 0, "Output width recorded on the tracking record")
	submitCmd.Flags().IntVar(&submitHeight, "height", 0, "Output height recorded on the tracking record")
	submitCmd.Flags().StringVar(&submitGraphPath, "graph", "", "Raw graph JSON file used instead of the named template body")
	submitCmd.Flags().StringVar(&submitArchiveTo, "archive-to", "", "Archive outputs to a directory or s3://bucket/prefix after completion")
	submitCmd.Flags().BoolVar(&submitNoPoll, "no-poll", false, "Queue the job and return without polling")
	submitCmd.Flags().BoolVar(&submitEvents, "events", false, "Emit JSONL event records on stdout")
	submitCmd.Flags().StringVar(&submitJournalDir, "journal-dir", "", "Journal directory (default is the app data dir)")
	submitCmd.Flags().StringVar(&submitWorkflowsDir, "workflows-dir", "", "User template directory layered over builtins")
	submitCmd.Flags().IntVar(&submitWorkers, "workers", 0, "Concurrent jobs for manifest batches (default from config)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if IsReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing job submission", fmt.Errorf("disable --readonly or unset GOSTUDIO_READONLY"))
	}
	if submitWorkflow == "" && submitManifestPath == "" {
		return exitError(foundry.ExitInvalidArgument, "Nothing to submit", fmt.Errorf("provide --workflow or --manifest"))
	}
	if submitWorkflow != "" && submitManifestPath != "" {
		return exitError(foundry.ExitInvalidArgument, "Conflicting flags", fmt.Errorf("--workflow and --manifest are mutually exclusive"))
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	registry := newTemplateRegistry(submitWorkflowsDir)

	reqs, labels, err := buildSubmitRequests(registry)
	if err != nil {
		return err
	}
	defer closeRequestInputs(reqs)

	journalDir, err := resolveJournalDir(firstNonEmpty(submitJournalDir, cfg.Journal.Dir))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot resolve journal directory", err)
	}
	journalStore := journal.NewStore(journalDir)

	engineClient, err := engine.New(engine.Config{
		BaseURL:           cfg.Engine.URL,
		ClientID:          cfg.Engine.ClientID,
		HTTPTimeout:       cfg.Engine.HTTPTimeout,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Logger:            observability.CLILogger,
	})
	if err != nil {
		observability.CLILogger.Error("Failed to create engine client", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid engine configuration", err)
	}
	trackerClient, err := tracker.New(tracker.Config{
		BaseURL:     cfg.Tracker.URL,
		HTTPTimeout: cfg.Tracker.HTTPTimeout,
		Logger:      observability.CLILogger,
	})
	if err != nil {
		observability.CLILogger.Error("Failed to create tracker client", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid tracker configuration", err)
	}

	runID := uuid.New().String()
	var events output.Writer
	if submitEvents {
		w := output.NewJSONLWriter(os.Stdout, runID, submitWorkflow)
		defer func() { _ = w.Close() }()
		events = w
	}

	jsync := newJournalSync(journalStore, engineClient.BaseURL(), events)

	r, err := runner.New(runner.Config{
		Engine:       engineClient,
		Tracker:      trackerClient,
		PollInterval: cfg.Runner.PollInterval,
		PollTimeout:  cfg.Runner.PollTimeout,
		OnStatus:     jsync.onStatus,
		Logger:       observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid runner configuration", err)
	}

	archiver, closeStore, err := buildArchiver(ctx, engineClient, cfg)
	if err != nil {
		observability.CLILogger.Error("Failed to configure archive store", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to archive store", err)
	}
	defer closeStore()

	if submitNoPoll {
		return submitWithoutPoll(ctx, r, jsync, reqs, labels)
	}

	stopHeartbeat := startRunHeartbeat(ctx, engineClient, events)
	defer stopHeartbeat()

	start := time.Now()
	workers := submitWorkers
	if workers == 0 {
		workers = cfg.Workers
	}
	batch := runner.NewBatch(r, workers, observability.CLILogger)
	summary, runErr := batch.Run(ctx, reqs)
	stopHeartbeat()

	archived := archiveResults(ctx, archiver, engineClient, jsync, events, summary)

	outputs := int64(0)
	for _, res := range summary.Results {
		if res.Job != nil {
			outputs += int64(len(res.Job.OutputRefs))
		}
	}
	if events != nil {
		_ = events.WriteSummary(ctx, &output.SummaryRecord{
			Jobs:          int64(len(reqs)),
			Completed:     summary.Completed,
			Failed:        summary.Failed,
			Outputs:       outputs,
			Archived:      archived,
			Duration:      time.Since(start),
			DurationHuman: time.Since(start).Round(time.Millisecond).String(),
		})
	}

	observability.CLILogger.Info("Run finished",
		zap.Int("jobs", len(reqs)),
		zap.Int64("completed", summary.Completed),
		zap.Int64("failed", summary.Failed),
		zap.Int64("outputs", outputs),
		zap.Duration("duration", summary.Duration))

	if runErr != nil && ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Run cancelled", runErr)
	}
	if summary.Failed > 0 {
		err := firstRunError(summary, labels)
		if events != nil {
			writeRunError(ctx, events, err)
		}
		observability.CLILogger.Error("Run finished with failures", zap.Error(err))
		return exitError(submitExitCode(err), "Run failed", err)
	}
	if archiver != nil && archived < outputs {
		return exitError(foundry.ExitFileWriteError, "Archive incomplete", fmt.Errorf("archived %d of %d outputs", archived, outputs))
	}
	return nil
}

// submitWithoutPoll queues every request and returns once the engine has
// accepted them. Journals stay in the submitted state.
func submitWithoutPoll(ctx context.Context, r *runner.Runner, jsync *journalSync, reqs []runner.SubmitRequest, labels []string) error {
	for i, req := range reqs {
		job, err := r.Submit(ctx, req)
		if err != nil {
			observability.CLILogger.Error("Submission failed",
				zap.String("job", labels[i]),
				zap.Error(err))
			return exitError(submitExitCode(err), "Submission failed", err)
		}
		observability.CLILogger.Info("Job queued",
			zap.String("job", labels[i]),
			zap.String("prompt_id", job.PromptID),
			zap.String("job_id", shortJobID(jsync.journalID(job))))
	}
	return nil
}

// buildSubmitRequests translates the flag surface or the manifest into
// runner requests. The returned labels parallel the requests for logs.
func buildSubmitRequests(registry *workflow.Registry) ([]runner.SubmitRequest, []string, error) {
	if submitManifestPath != "" {
		return manifestRequests(registry)
	}

	tmpl, err := resolveTemplate(registry, submitWorkflow, submitGraphPath)
	if err != nil {
		return nil, nil, err
	}

	params, err := parseParamFlags(submitParams)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid --param value", err)
	}
	inputs, err := openInputFlags(submitInputs)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid --input value", err)
	}

	req := runner.SubmitRequest{
		Template:   tmpl,
		Inputs:     inputs,
		Parameters: params,
		Width:      submitWidth,
		Height:     submitHeight,
	}
	return []runner.SubmitRequest{req}, []string{tmpl.Name}, nil
}

// manifestRequests loads, validates, and expands a submit manifest.
func manifestRequests(registry *workflow.Registry) ([]runner.SubmitRequest, []string, error) {
	m, err := manifest.Load(submitManifestPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", submitManifestPath),
			zap.Error(err))
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	if err := manifest.Validate(m); err != nil {
		observability.CLILogger.Error("Manifest validation failed",
			zap.String("path", submitManifestPath),
			zap.Error(err))
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	m.ApplyDefaults()

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", submitManifestPath),
		zap.Int("jobs", len(m.Jobs)))

	baseDir := filepath.Dir(submitManifestPath)
	reqs := make([]runner.SubmitRequest, 0, len(m.Jobs))
	labels := make([]string, 0, len(m.Jobs))
	for i := range m.Jobs {
		job := &m.Jobs[i]
		tmpl, err := registry.Get(job.Workflow)
		if err != nil {
			closeRequestInputs(reqs)
			return nil, nil, exitError(foundry.ExitInvalidArgument, "Unknown workflow in manifest", fmt.Errorf("%s: %w", job.Label(i), err))
		}

		var inputs []runner.Input
		for _, in := range job.Inputs {
			path := in.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			f, err := os.Open(path)
			if err != nil {
				closeRequestInputs(reqs)
				closeInputs(inputs)
				return nil, nil, exitError(foundry.ExitInvalidArgument, "Cannot open manifest input", fmt.Errorf("%s: %w", job.Label(i), err))
			}
			inputs = append(inputs, runner.Input{
				ParamKey: in.Param,
				Name:     filepath.Base(path),
				Data:     f,
			})
		}

		reqs = append(reqs, runner.SubmitRequest{
			Template:   tmpl,
			Inputs:     inputs,
			Parameters: job.Params,
			Width:      job.Width,
			Height:     job.Height,
		})
		labels = append(labels, job.Label(i))
	}
	return reqs, labels, nil
}

// resolveTemplate returns the named template, optionally replacing its
// body with a raw graph file.
func resolveTemplate(registry *workflow.Registry, name, graphPath string) (*workflow.Template, error) {
	if graphPath != "" {
		raw, err := os.ReadFile(graphPath)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Cannot read graph file", err)
		}
		tmplName := name
		if tmplName == "" {
			tmplName = strings.TrimSuffix(filepath.Base(graphPath), filepath.Ext(graphPath))
		}
		return &workflow.Template{Name: tmplName, Source: graphPath, Raw: raw}, nil
	}

	tmpl, err := registry.Get(name)
	if err != nil {
		observability.CLILogger.Error("Unknown workflow", zap.String("workflow", name), zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Unknown workflow", err)
	}
	return tmpl, nil
}

// newTemplateRegistry builds the template registry, layering the user
// directory over the embedded builtins when one is configured.
func newTemplateRegistry(userDir string) *workflow.Registry {
	registry := workflow.NewRegistry(workflowassets.Builtin)
	if userDir != "" {
		registry = registry.WithUserFS(os.DirFS(userDir), userDir)
	}
	return registry
}

// parseParamFlags parses repeated KEY=value flags. Values that read as
// JSON scalars keep their type so numeric placeholders render unquoted.
func parseParamFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, err := splitKeyValue(pair)
		if err != nil {
			return nil, err
		}
		params[key] = parseParamValue(value)
	}
	return params, nil
}

func parseParamValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// openInputFlags opens each PARAM=path input for upload.
func openInputFlags(pairs []string) ([]runner.Input, error) {
	var inputs []runner.Input
	for _, pair := range pairs {
		key, path, err := splitKeyValue(pair)
		if err != nil {
			closeInputs(inputs)
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			closeInputs(inputs)
			return nil, fmt.Errorf("open input %s: %w", path, err)
		}
		inputs = append(inputs, runner.Input{
			ParamKey: key,
			Name:     filepath.Base(path),
			Data:     f,
		})
	}
	return inputs, nil
}

func splitKeyValue(pair string) (string, string, error) {
	idx := strings.Index(pair, "=")
	if idx <= 0 {
		return "", "", fmt.Errorf("expected KEY=value, got %q", pair)
	}
	return pair[:idx], pair[idx+1:], nil
}

func closeRequestInputs(reqs []runner.SubmitRequest) {
	for _, req := range reqs {
		closeInputs(req.Inputs)
	}
}

func closeInputs(inputs []runner.Input) {
	for _, in := range inputs {
		if closer, ok := in.Data.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}

// buildArchiver constructs the output archiver when --archive-to or the
// configured archive target is set. Returns a nil archiver with a no-op
// cleanup when archiving is off.
func buildArchiver(ctx context.Context, engineClient *engine.Client, cfg *config.Config) (*archive.Archiver, func(), error) {
	target := firstNonEmpty(submitArchiveTo, cfg.Archive.Target)
	if target == "" {
		return nil, func() {}, nil
	}

	store, keyPrefix, err := openArchiveStore(ctx, target, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() { _ = store.Close() }

	var filter *archive.Filter
	if len(cfg.Archive.Include) > 0 || len(cfg.Archive.Exclude) > 0 {
		filter, err = archive.NewFilter(cfg.Archive.Include, cfg.Archive.Exclude)
		if err != nil {
			closeStore()
			return nil, nil, err
		}
	}

	archiver, err := archive.New(archive.Config{
		Engine:    engineClient,
		Store:     store,
		Filter:    filter,
		KeyPrefix: keyPrefix,
		Logger:    observability.CLILogger,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return archiver, closeStore, nil
}

// openArchiveStore opens an s3:// target or a local directory target.
func openArchiveStore(ctx context.Context, target string, cfg *config.Config) (archive.Store, string, error) {
	if strings.HasPrefix(target, "s3://") {
		rest := strings.TrimPrefix(target, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, "", fmt.Errorf("archive target %q has no bucket", target)
		}
		store, err := archives3.New(ctx, archives3.Config{
			Bucket:         bucket,
			Region:         cfg.Archive.Region,
			Endpoint:       cfg.Archive.Endpoint,
			ForcePathStyle: cfg.Archive.PathStyle || cfg.Archive.Endpoint != "",
		})
		if err != nil {
			return nil, "", err
		}
		return store, strings.Trim(prefix, "/"), nil
	}

	store, err := archivefs.New(archivefs.Config{BaseDir: target})
	if err != nil {
		return nil, "", err
	}
	return store, "", nil
}

// archiveResults mirrors completed outputs to the archive store and
// records the keys on each journal entry. Returns the archived count.
func archiveResults(ctx context.Context, archiver *archive.Archiver, engineClient *engine.Client, jsync *journalSync, events output.Writer, summary *runner.BatchSummary) int64 {
	if archiver == nil || summary == nil {
		return 0
	}

	var archived int64
	for _, res := range summary.Results {
		job := res.Job
		if job == nil || job.Status != runner.StatusCompleted {
			continue
		}
		refResults, err := archiver.ArchiveJob(ctx, job)
		if err != nil {
			observability.CLILogger.Error("Archive failed",
				zap.String("prompt_id", job.PromptID),
				zap.Error(err))
			continue
		}

		var keys []string
		for _, rr := range refResults {
			if rr.Err != nil {
				observability.CLILogger.Warn("Output not archived",
					zap.String("prompt_id", job.PromptID),
					zap.String("filename", rr.Ref.Filename),
					zap.Error(rr.Err))
				if events != nil {
					_ = events.WriteError(ctx, &output.ErrorRecord{
						Code:     output.ErrCodeArchiveFailed,
						Message:  rr.Err.Error(),
						JobID:    jsync.journalID(job),
						PromptID: job.PromptID,
					})
				}
				continue
			}
			archived++
			keys = append(keys, rr.Key)
			if events != nil {
				_ = events.WriteOutput(ctx, &output.OutputRecord{
					JobID:      jsync.journalID(job),
					PromptID:   job.PromptID,
					Filename:   rr.Ref.Filename,
					Subfolder:  rr.Ref.Subfolder,
					URL:        engineClient.ViewURL(rr.Ref),
					ArchiveKey: rr.Key,
				})
			}
		}
		if len(keys) > 0 {
			jsync.recordArchiveKeys(job, keys)
		}
	}
	return archived
}

// firstRunError picks the first failed result for the exit message.
func firstRunError(summary *runner.BatchSummary, labels []string) error {
	for _, res := range summary.Results {
		if res.Err != nil {
			label := fmt.Sprintf("request %d", res.Index+1)
			if res.Index < len(labels) {
				label = labels[res.Index]
			}
			return fmt.Errorf("%s: %w", label, res.Err)
		}
	}
	return fmt.Errorf("run failed")
}

// writeRunError emits the terminal error as a JSONL record.
func writeRunError(ctx context.Context, events output.Writer, err error) {
	code := output.ErrCodeInternal
	switch {
	case runner.IsUpload(err):
		code = output.ErrCodeUploadFailed
	case runner.IsSubmission(err):
		code = output.ErrCodeEngineUnavailable
	case runner.IsTracking(err):
		code = output.ErrCodeTrackerUnavailable
	case runner.IsEngineReported(err):
		code = output.ErrCodeExecutionFailed
	case runner.IsTimeout(err):
		code = output.ErrCodeTimeout
	}
	if werr := events.WriteError(ctx, &output.ErrorRecord{Code: code, Message: err.Error()}); werr != nil {
		observability.CLILogger.Debug("Failed to emit error record", zap.Error(werr))
	}
}

// submitExitCode maps run errors onto process exit codes.
func submitExitCode(err error) int {
	switch {
	case runner.IsSubmission(err), runner.IsUpload(err), runner.IsTracking(err):
		return foundry.ExitExternalServiceUnavailable
	case runner.IsTimeout(err), runner.IsEngineReported(err):
		return foundry.ExitExternalServiceUnavailable
	case runner.IsPersistence(err):
		return foundry.ExitFileWriteError
	default:
		return foundry.ExitInvalidArgument
	}
}

// heartbeatInterval is how often a progress record is emitted while jobs
// are still running.
const heartbeatInterval = 30 * time.Second

// startRunHeartbeat emits a progress record every heartbeatInterval until
// the returned stop function is called. Queue depth is sampled
// best-effort; a failed sample skips those fields.
func startRunHeartbeat(ctx context.Context, engineClient *engine.Client, events output.Writer) func() {
	t := time.NewTicker(heartbeatInterval)
	quit := make(chan struct{})
	stopped := make(chan struct{})
	start := time.Now()
	var once sync.Once

	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case <-t.C:
				emitHeartbeat(ctx, engineClient, events, time.Since(start))
			}
		}
	}()

	return func() {
		once.Do(func() {
			t.Stop()
			close(quit)
			<-stopped
		})
	}
}

func emitHeartbeat(ctx context.Context, engineClient *engine.Client, events output.Writer, elapsed time.Duration) {
	var running, pending int
	if state, err := engineClient.Queue(ctx); err == nil {
		running = state.Running
		pending = state.Pending
	} else {
		observability.CLILogger.Debug("Queue sample failed", zap.Error(err))
	}

	if events != nil {
		_ = events.WriteProgress(ctx, &output.ProgressRecord{
			Phase:        output.PhaseProcessing,
			Elapsed:      elapsed,
			ElapsedHuman: elapsed.Round(time.Second).String(),
			QueueRunning: running,
			QueuePending: pending,
		})
		return
	}
	observability.CLILogger.Info("Run in progress",
		zap.Duration("elapsed", elapsed.Round(time.Second)),
		zap.Int("queue_running", running),
		zap.Int("queue_pending", pending))
}

// journalSync mirrors runner status transitions into the local journal
// and the JSONL event stream. Transitions arrive from the goroutine
// driving each job; the pointer map associates jobs with their journal
// records.
type journalSync struct {
	store     *journal.Store
	engineURL string
	events    output.Writer

	mu  sync.Mutex
	ids map[*runner.Job]string
}

func newJournalSync(store *journal.Store, engineURL string, events output.Writer) *journalSync {
	return &journalSync{
		store:     store,
		engineURL: engineURL,
		events:    events,
	}
}

// journalID returns the journal id assigned to the job, or "" before its
// first transition.
func (s *journalSync) journalID(job *runner.Job) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		return ""
	}
	return s.ids[job]
}

// onStatus implements runner.Config.OnStatus.
func (s *journalSync) onStatus(job *runner.Job) {
	s.mu.Lock()
	if s.ids == nil {
		s.ids = make(map[*runner.Job]string)
	}
	jobID, ok := s.ids[job]
	if !ok {
		jobID = uuid.New().String()
		s.ids[job] = jobID
	}
	s.mu.Unlock()

	rec := recordFromJob(jobID, s.engineURL, job)
	if err := s.store.Write(rec); err != nil {
		observability.CLILogger.Warn("Journal write failed",
			zap.String("job_id", shortJobID(jobID)),
			zap.Error(err))
	}

	if s.events != nil {
		_ = s.events.WriteJob(context.Background(), &output.JobRecord{
			JobID:      jobID,
			PromptID:   job.PromptID,
			TrackerID:  job.LocalID,
			Workflow:   job.Workflow,
			State:      string(job.Status),
			OutputURLs: job.OutputURLs,
			Error:      job.ErrorMessage,
		})
	}
}

// recordArchiveKeys appends archive keys to the job's journal record.
func (s *journalSync) recordArchiveKeys(job *runner.Job, keys []string) {
	jobID := s.journalID(job)
	if jobID == "" {
		return
	}
	_, err := s.store.Update(jobID, func(rec *journal.Record) error {
		rec.ArchiveKeys = append(rec.ArchiveKeys, keys...)
		return nil
	})
	if err != nil {
		observability.CLILogger.Warn("Journal update failed",
			zap.String("job_id", shortJobID(jobID)),
			zap.Error(err))
	}
}

// recordFromJob maps runner job state onto the journal schema.
func recordFromJob(jobID, engineURL string, job *runner.Job) *journal.Record {
	rec := &journal.Record{
		JobID:     jobID,
		Workflow:  job.Workflow,
		State:     journal.State(job.Status),
		PromptID:  job.PromptID,
		TrackerID: job.LocalID,
		EngineURL: engineURL,
		PID:       os.Getpid(),

		InputRefs:  job.InputRefs,
		OutputURLs: job.OutputURLs,
		Error:      job.ErrorMessage,

		CreatedAt: job.CreatedAt,
	}
	for _, ref := range job.OutputRefs {
		rec.OutputRefs = append(rec.OutputRefs, ref.Filename)
	}
	if !job.SubmittedAt.IsZero() {
		started := job.SubmittedAt
		rec.StartedAt = &started
	}
	if !job.FinishedAt.IsZero() {
		ended := job.FinishedAt
		rec.EndedAt = &ended
	}
	return rec
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// resolveJournalDir resolves the journal directory, deriving the default
// from the app data dir when nothing is configured.
func resolveJournalDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	identity := GetAppIdentity()
	if identity == nil || strings.TrimSpace(identity.ConfigName) == "" {
		return "", fmt.Errorf("app identity is not available to derive default journal path")
	}

	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	return filepath.Join(dataDir, "journal"), nil
}

// exitError tags err with the process exit code ExitCode later recovers.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// ExitCode extracts the exit code embedded by exitError, defaulting to 1
// for plain errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	msg := err.Error()
	idx := strings.LastIndex(msg, "(exit code ")
	if idx < 0 {
		return 1
	}
	rest := msg[idx+len("(exit code "):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return 1
	}
	code, convErr := strconv.Atoi(rest[:end])
	if convErr != nil || code <= 0 {
		return 1
	}
	return code
}

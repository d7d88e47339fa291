package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gostudio/internal/config"
	"github.com/3leaps/gostudio/internal/observability"
	"github.com/3leaps/gostudio/pkg/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine queue and system status",
	Long: `Show a point-in-time snapshot of the workflow engine: queue depth
and reported system devices.

Examples:
  # Text snapshot
  gostudio status

  # Machine-readable snapshot
  gostudio status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	engineClient, err := engine.New(engine.Config{
		BaseURL:           cfg.Engine.URL,
		ClientID:          cfg.Engine.ClientID,
		HTTPTimeout:       cfg.Engine.HTTPTimeout,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Logger:            observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid engine configuration", err)
	}

	queue, err := engineClient.Queue(ctx)
	if err != nil {
		observability.CLILogger.Error("Queue request failed",
			zap.String("engine_url", engineClient.BaseURL()),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Engine not reachable", err)
	}

	stats, err := engineClient.SystemStats(ctx)
	if err != nil {
		observability.CLILogger.Debug("System stats unavailable", zap.Error(err))
		stats = &engine.SystemStats{}
	}

	if jsonOutput {
		return printStatusJSON(engineClient.BaseURL(), queue, stats)
	}

	_, _ = fmt.Fprintf(os.Stdout, "Engine: %s\n", engineClient.BaseURL())
	_, _ = fmt.Fprintln(os.Stdout)
	_, _ = fmt.Fprintln(os.Stdout, "Queue:")
	_, _ = fmt.Fprintf(os.Stdout, "  Running:  %d\n", queue.Running)
	_, _ = fmt.Fprintf(os.Stdout, "  Pending:  %d\n", queue.Pending)

	if stats.System != nil {
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = fmt.Fprintln(os.Stdout, "System:")
		if stats.System.PythonVersion != "" {
			_, _ = fmt.Fprintf(os.Stdout, "  Python:   %s\n", stats.System.PythonVersion)
		}
		if stats.System.TorchVersion != "" {
			_, _ = fmt.Fprintf(os.Stdout, "  Torch:    %s\n", stats.System.TorchVersion)
		}
	}

	if len(stats.Devices) > 0 {
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = fmt.Fprintln(os.Stdout, "Devices:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  NAME\tTYPE\tVRAM FREE\tVRAM TOTAL")
		for _, d := range stats.Devices {
			devType := d.Type
			if devType == "" {
				devType = "-"
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
				d.Name,
				devType,
				formatBytes(d.VRAMFree),
				formatBytes(d.VRAMTotal),
			)
		}
		_ = w.Flush()
	}

	return nil
}

func printStatusJSON(engineURL string, queue *engine.QueueState, stats *engine.SystemStats) error {
	type jsonDevice struct {
		Name      string `json:"name"`
		Type      string `json:"type,omitempty"`
		VRAMFree  int64  `json:"vram_free"`
		VRAMTotal int64  `json:"vram_total"`
	}

	type jsonOutput struct {
		EngineURL string `json:"engine_url"`

		Queue struct {
			Running int `json:"running"`
			Pending int `json:"pending"`
		} `json:"queue"`

		PythonVersion string       `json:"python_version,omitempty"`
		TorchVersion  string       `json:"torch_version,omitempty"`
		Devices       []jsonDevice `json:"devices,omitempty"`
	}

	out := jsonOutput{EngineURL: engineURL}
	out.Queue.Running = queue.Running
	out.Queue.Pending = queue.Pending

	if stats.System != nil {
		out.PythonVersion = stats.System.PythonVersion
		out.TorchVersion = stats.System.TorchVersion
	}
	if len(stats.Devices) > 0 {
		out.Devices = make([]jsonDevice, len(stats.Devices))
		for i, d := range stats.Devices {
			out.Devices[i] = jsonDevice{
				Name:      d.Name,
				Type:      d.Type,
				VRAMFree:  d.VRAMFree,
				VRAMTotal: d.VRAMTotal,
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

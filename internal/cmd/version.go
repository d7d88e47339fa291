package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output as JSON")
}

func runVersion(cmd *cobra.Command, args []string) error {
	deps := crucible.GetVersion()

	if versionJSON {
		out := struct {
			Version   string `json:"version"`
			Commit    string `json:"commit"`
			BuildDate string `json:"build_date"`
			GoVersion string `json:"go_version"`
			Crucible  string `json:"crucible,omitempty"`
		}{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
			GoVersion: runtime.Version(),
			Crucible:  deps.Crucible,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	_, _ = fmt.Fprintf(os.Stdout, "gostudio %s\n", versionInfo.Version)
	_, _ = fmt.Fprintf(os.Stdout, "  commit:    %s\n", versionInfo.Commit)
	_, _ = fmt.Fprintf(os.Stdout, "  built:     %s\n", versionInfo.BuildDate)
	_, _ = fmt.Fprintf(os.Stdout, "  go:        %s\n", runtime.Version())
	if deps.Crucible != "" {
		_, _ = fmt.Fprintf(os.Stdout, "  crucible:  v%s\n", deps.Crucible)
	}
	return nil
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List and inspect workflow templates",
	Long: `List and inspect the workflow templates available for submission.

Builtin templates ship with the binary; a user directory given with
--workflows-dir layers additional templates over them, shadowing
builtins with the same name.`,
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available templates",
	RunE:  runWorkflowsList,
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a template and its parameters",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowsShow,
}

func init() {
	rootCmd.AddCommand(workflowsCmd)
	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsShowCmd)

	workflowsCmd.PersistentFlags().String("workflows-dir", "", "User template directory layered over builtins")
	workflowsListCmd.Flags().Bool("json", false, "Output as JSON")
	workflowsShowCmd.Flags().Bool("json", false, "Output as JSON")
	workflowsShowCmd.Flags().Bool("raw", false, "Print the raw template body")
}

func runWorkflowsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	dir, _ := cmd.Flags().GetString("workflows-dir")
	registry := newTemplateRegistry(dir)

	infos, err := registry.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No templates found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "NAME\tSOURCE\tPARAMS")
	for _, info := range infos {
		params := "-"
		if len(info.Params) > 0 {
			params = strings.Join(info.Params, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.Source, params)
	}

	return nil
}

func runWorkflowsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	rawOutput, _ := cmd.Flags().GetBool("raw")
	dir, _ := cmd.Flags().GetString("workflows-dir")
	registry := newTemplateRegistry(dir)

	tmpl, err := registry.Get(args[0])
	if err != nil {
		return err
	}

	if rawOutput {
		_, _ = os.Stdout.Write(tmpl.Raw)
		if len(tmpl.Raw) > 0 && tmpl.Raw[len(tmpl.Raw)-1] != '\n' {
			_, _ = fmt.Fprintln(os.Stdout)
		}
		return nil
	}

	if jsonOutput {
		out := struct {
			Name   string   `json:"name"`
			Source string   `json:"source"`
			Params []string `json:"params"`
		}{
			Name:   tmpl.Name,
			Source: tmpl.Source,
			Params: tmpl.Params(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	_, _ = fmt.Fprintf(os.Stdout, "name=%s\n", tmpl.Name)
	_, _ = fmt.Fprintf(os.Stdout, "source=%s\n", tmpl.Source)
	for _, p := range tmpl.Params() {
		_, _ = fmt.Fprintf(os.Stdout, "param=%s\n", p)
	}

	return nil
}

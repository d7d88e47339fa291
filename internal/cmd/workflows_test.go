package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/pkg/workflow"
)

func resetWorkflowsFlags(t *testing.T) {
	t.Helper()
	rootCmd.SetArgs(nil)
	require.NoError(t, workflowsCmd.PersistentFlags().Set("workflows-dir", ""))
	require.NoError(t, workflowsListCmd.Flags().Set("json", "false"))
	require.NoError(t, workflowsShowCmd.Flags().Set("json", "false"))
	require.NoError(t, workflowsShowCmd.Flags().Set("raw", "false"))
}

func TestWorkflowsList_Builtins(t *testing.T) {
	out := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"workflows", "list"})
		rootCmd.SetContext(context.Background())

		err := rootCmd.Execute()
		resetWorkflowsFlags(t)
		require.NoError(t, err)
	})

	require.Contains(t, out, "image_edit")
	require.Contains(t, out, "multitalk")
	require.Contains(t, out, "builtin")
}

func TestWorkflowsShow_BuiltinParams(t *testing.T) {
	out := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"workflows", "show", "image_edit"})
		rootCmd.SetContext(context.Background())

		err := rootCmd.Execute()
		resetWorkflowsFlags(t)
		require.NoError(t, err)
	})

	require.Contains(t, out, "name=image_edit")
	require.Contains(t, out, "source=builtin")
	require.Contains(t, out, "param=PROMPT")
	require.Contains(t, out, "param=SEED")
	require.Contains(t, out, "param=WIDTH")
	require.Contains(t, out, "param=HEIGHT")
}

func TestWorkflowsShow_UserDirShadowsBuiltin(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`{"1": {"class_type": "LoadImage", "inputs": {"image": "{{CUSTOM}}"}}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image_edit.json"), body, 0o644))

	out := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"workflows", "show", "image_edit", "--workflows-dir", dir})
		rootCmd.SetContext(context.Background())

		err := rootCmd.Execute()
		resetWorkflowsFlags(t)
		require.NoError(t, err)
	})

	require.Contains(t, out, "source="+dir)
	require.Contains(t, out, "param=CUSTOM")
	require.NotContains(t, out, "param=PROMPT")
}

func TestWorkflowsShow_Raw(t *testing.T) {
	out := captureStdout(t, func() {
		rootCmd.SetArgs([]string{"workflows", "show", "image_edit", "--raw"})
		rootCmd.SetContext(context.Background())

		err := rootCmd.Execute()
		resetWorkflowsFlags(t)
		require.NoError(t, err)
	})

	require.Contains(t, out, `"class_type": "KSampler"`)
	require.Contains(t, out, "{{PROMPT}}")
}

func TestWorkflowsShow_Unknown(t *testing.T) {
	rootCmd.SetArgs([]string{"workflows", "show", "no-such-template"})
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	resetWorkflowsFlags(t)

	require.Error(t, err)
	require.ErrorIs(t, err, workflow.ErrTemplateNotFound)
}

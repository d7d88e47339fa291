package cmd

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func clearReadOnly(t *testing.T) {
	t.Helper()
	readOnly = false
	viper.Set("readonly", false)
	require.NoError(t, rootCmd.PersistentFlags().Set("readonly", "false"))
}

func TestReadOnly_BlocksMutatingCommands(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		cleanup func()
	}{
		{
			name:    "submit",
			args:    []string{"--readonly", "submit", "--workflow", "image_edit"},
			cleanup: func() { submitWorkflow = "" },
		},
		{
			name:    "preflight write-probe",
			args:    []string{"--readonly", "preflight", "--mode", "write-probe"},
			cleanup: func() { preflightMode = "read-safe" },
		},
		{
			name: "jobs gc",
			args: []string{"--readonly", "jobs", "gc"},
		},
		{
			name:    "feed cache refresh",
			args:    []string{"--readonly", "feed", "--cache"},
			cleanup: func() { feedCache = false },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearReadOnly(t)
			t.Cleanup(func() { clearReadOnly(t) })
			if tc.cleanup != nil {
				t.Cleanup(tc.cleanup)
			}

			rootCmd.SetArgs(tc.args)
			rootCmd.SetContext(context.Background())
			err := rootCmd.Execute()
			rootCmd.SetArgs(nil)

			require.Error(t, err)
			require.Contains(t, err.Error(), "readonly")
		})
	}
}

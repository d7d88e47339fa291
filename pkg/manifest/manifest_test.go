package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `version: "1.0"
jobs:
  - workflow: image_edit
    params:
      PROMPT: "make it snow"
`

const minimalJSON = `{
  "version": "1.0",
  "jobs": [
    {"workflow": "image_edit", "params": {"PROMPT": "make it snow"}}
  ]
}`

// writeManifest drops content into a temp file and returns its path.
func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	for _, name := range []string{"manifest.yaml", "manifest.yml"} {
		m, err := Load(writeManifest(t, name, minimalYAML))
		require.NoError(t, err, name)
		assert.Equal(t, "1.0", m.Version)
		require.Len(t, m.Jobs, 1)
		assert.Equal(t, "image_edit", m.Jobs[0].Workflow)
		assert.Equal(t, "make it snow", m.Jobs[0].Params["PROMPT"])
	}
}

func TestLoad_JSON(t *testing.T) {
	m, err := Load(writeManifest(t, "manifest.json", minimalJSON))
	require.NoError(t, err)
	require.Len(t, m.Jobs, 1)
	assert.Equal(t, "image_edit", m.Jobs[0].Workflow)
}

func TestLoad_SchemaFieldAccepted(t *testing.T) {
	const withSchema = `$schema: https://schemas.3leaps.dev/gostudio/v1.0.0/submit-manifest.schema.json
version: "1.0"
jobs:
  - workflow: image_edit
`
	m, err := Load(writeManifest(t, "with-schema.yaml", withSchema))
	require.NoError(t, err)
	assert.Equal(t, "https://schemas.3leaps.dev/gostudio/v1.0.0/submit-manifest.schema.json", m.Schema)
	assert.Equal(t, "1.0", m.Version)
}

func TestLoad_MergesDefaults(t *testing.T) {
	const full = `version: "1.0"
defaults:
  workflow: image_edit
  width: 1024
  height: 1024
  params:
    STEPS: 20
    CFG: 3.5
jobs:
  - name: snow
    inputs:
      - param: IMAGE_1
        path: ./photo.png
    params:
      PROMPT: "make it snow"
  - name: talk
    workflow: multitalk
    width: 512
    height: 512
    inputs:
      - param: IMAGE_1
        path: ./face.png
      - param: AUDIO_1
        path: ./voice.wav
    params:
      STEPS: 8
`
	m, err := Load(writeManifest(t, "full.yaml", full))
	require.NoError(t, err)
	require.Len(t, m.Jobs, 2)

	snow, talk := m.Jobs[0], m.Jobs[1]

	assert.Equal(t, "snow", snow.Name)
	assert.Equal(t, "image_edit", snow.Workflow)
	assert.Equal(t, 1024, snow.Width)
	assert.Equal(t, 1024, snow.Height)
	require.Len(t, snow.Inputs, 1)
	assert.Equal(t, "IMAGE_1", snow.Inputs[0].Param)
	assert.Equal(t, "./photo.png", snow.Inputs[0].Path)
	assert.Equal(t, "make it snow", snow.Params["PROMPT"])
	assert.Equal(t, 20, snow.Params["STEPS"])
	assert.Equal(t, 3.5, snow.Params["CFG"])

	// The second job overrides workflow, dimensions, and one param.
	assert.Equal(t, "multitalk", talk.Workflow)
	assert.Equal(t, 512, talk.Width)
	assert.Equal(t, 512, talk.Height)
	require.Len(t, talk.Inputs, 2)
	assert.Equal(t, 8, talk.Params["STEPS"])
	assert.Equal(t, 3.5, talk.Params["CFG"])
}

func TestLoad_WorkflowFromDefaults(t *testing.T) {
	const content = `version: "1.0"
defaults:
  workflow: image_edit
jobs:
  - params:
      PROMPT: "hello"
`
	m, err := Load(writeManifest(t, "default-workflow.yaml", content))
	require.NoError(t, err)
	require.Len(t, m.Jobs, 1)
	assert.Equal(t, "image_edit", m.Jobs[0].Workflow)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"empty file":              {"", "empty"},
		"broken yaml":             {"version: [invalid yaml", "invalid YAML"},
		"broken json":             {`{"version": "1.0"`, "invalid JSON"},
		"missing version":         {"jobs:\n  - workflow: image_edit\n", "version"},
		"wrong version":           {"version: \"2.0\"\njobs:\n  - workflow: image_edit\n", "version"},
		"missing jobs":            {"version: \"1.0\"\n", "jobs"},
		"empty jobs":              {"version: \"1.0\"\njobs: []\n", "jobs"},
		"no workflow anywhere":    {"version: \"1.0\"\njobs:\n  - params:\n      PROMPT: \"hello\"\n", "workflow"},
		"width out of range":      {"version: \"1.0\"\njobs:\n  - workflow: image_edit\n    width: 10000\n", "width"},
		"input without path":      {"version: \"1.0\"\njobs:\n  - workflow: image_edit\n    inputs:\n      - param: IMAGE_1\n", "path"},
		"unknown top-level field": {"version: \"1.0\"\nengine_url: http://localhost:8188\njobs:\n  - workflow: image_edit\n", "additional"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ext := ".yaml"
			if strings.HasPrefix(strings.TrimSpace(tc.content), "{") {
				ext = ".json"
			}
			_, err := Load(writeManifest(t, "m"+ext, tc.content))
			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tc.want))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_PermissionDenied(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root bypasses file modes")
	}

	path := writeManifest(t, "noperm.yaml", minimalYAML)
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission")
}

func TestLoadFromBytes(t *testing.T) {
	cases := map[string]struct {
		content  string
		filename string
	}{
		"yaml by extension": {minimalYAML, "test.yaml"},
		"json by extension": {minimalJSON, "test.json"},
		"yaml sniffed":      {minimalYAML, ""},
		"json sniffed":      {minimalJSON, ""},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := LoadFromBytes([]byte(in.content), in.filename)
			require.NoError(t, err)
			assert.Equal(t, "image_edit", m.Jobs[0].Workflow)
		})
	}
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(minimalYAML), "stdin.yaml")
	require.NoError(t, err)
	assert.Equal(t, "image_edit", m.Jobs[0].Workflow)
}

func TestApplyDefaults(t *testing.T) {
	m := &Manifest{
		Version: DefaultVersion,
		Defaults: DefaultsConfig{
			Workflow: "image_edit",
			Width:    1024,
			Height:   768,
			Params:   map[string]any{"STEPS": 20, "CFG": 3.5},
		},
		Jobs: []JobConfig{
			{Params: map[string]any{"PROMPT": "a"}},
			{Workflow: "multitalk", Width: 512, Params: map[string]any{"STEPS": 8}},
		},
	}

	m.ApplyDefaults()

	assert.Equal(t, "image_edit", m.Jobs[0].Workflow)
	assert.Equal(t, 1024, m.Jobs[0].Width)
	assert.Equal(t, 768, m.Jobs[0].Height)
	assert.Equal(t, "a", m.Jobs[0].Params["PROMPT"])
	assert.Equal(t, 20, m.Jobs[0].Params["STEPS"])

	assert.Equal(t, "multitalk", m.Jobs[1].Workflow)
	assert.Equal(t, 512, m.Jobs[1].Width)
	assert.Equal(t, 768, m.Jobs[1].Height)
	// Job param wins over the default for the same key.
	assert.Equal(t, 8, m.Jobs[1].Params["STEPS"])
	assert.Equal(t, 3.5, m.Jobs[1].Params["CFG"])
}

func TestJobConfig_Label(t *testing.T) {
	named := JobConfig{Name: "snow"}
	assert.Equal(t, "snow", named.Label(0))

	anonymous := JobConfig{}
	assert.Equal(t, "job 3", anonymous.Label(2))
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var errs ValidationErrors
		assert.Equal(t, "manifest failed validation", errs.Error())
	})

	t.Run("single", func(t *testing.T) {
		errs := ValidationErrors{{Path: "/jobs", Message: "at least one job is required"}}
		assert.Equal(t, "/jobs: at least one job is required", errs.Error())
	})

	t.Run("multiple", func(t *testing.T) {
		errs := ValidationErrors{
			{Path: "/version", Message: "required"},
			{Path: "/jobs", Message: "required"},
		}
		msg := errs.Error()
		assert.Contains(t, msg, "2 errors")
		assert.Contains(t, msg, "/version")
		assert.Contains(t, msg, "/jobs")
	})

	t.Run("unwraps to sentinel", func(t *testing.T) {
		var errs error = ValidationErrors{{Message: "boom"}}
		assert.True(t, errors.Is(errs, ErrValidationFailed))
	})
}

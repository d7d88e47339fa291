// Package manifest provides loading and validation of gostudio submit manifests.
//
// A submit manifest is a YAML or JSON file that declares a batch of generation
// jobs: the workflow template each job renders, the local files to upload as
// inputs, and the parameter values bound into the template.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	defaults:
//	  workflow: image_edit
//	  width: 1024
//	  height: 1024
//	jobs:
//	  - name: snow
//	    inputs:
//	      - param: IMAGE_1
//	        path: ./photo.png
//	    params:
//	      PROMPT: "make it snow"
//	  - name: night
//	    inputs:
//	      - param: IMAGE_1
//	        path: ./photo.png
//	    params:
//	      PROMPT: "turn day into night"
package manifest

import "fmt"

// Manifest represents a validated submit manifest.
//
// Required fields are Version and Jobs. Defaults is optional; its values are
// folded into each job by ApplyDefaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.3leaps.dev/gostudio/v1.0.0/submit-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Defaults supplies values for jobs that do not set the field themselves.
	Defaults DefaultsConfig `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Jobs is the ordered list of generation jobs to submit.
	Jobs []JobConfig `json:"jobs" yaml:"jobs"`
}

// DefaultsConfig supplies per-job fallbacks shared across the batch.
type DefaultsConfig struct {
	// Workflow is the template name used by jobs that do not name one.
	Workflow string `json:"workflow,omitempty" yaml:"workflow,omitempty"`

	// Width is the output width in pixels. Optional.
	Width int `json:"width,omitempty" yaml:"width,omitempty"`

	// Height is the output height in pixels. Optional.
	Height int `json:"height,omitempty" yaml:"height,omitempty"`

	// Params are template parameter values merged into every job.
	// Job-level params override these per key.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// JobConfig declares a single generation job.
type JobConfig struct {
	// Name is an optional label used in logs and events.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Workflow is the template name to render. Falls back to Defaults.Workflow.
	Workflow string `json:"workflow,omitempty" yaml:"workflow,omitempty"`

	// Inputs are local files uploaded to the engine before submission.
	Inputs []InputConfig `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Params are template parameter values for this job.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Width is the output width in pixels. Falls back to Defaults.Width.
	Width int `json:"width,omitempty" yaml:"width,omitempty"`

	// Height is the output height in pixels. Falls back to Defaults.Height.
	Height int `json:"height,omitempty" yaml:"height,omitempty"`
}

// InputConfig binds a local file to a template parameter.
type InputConfig struct {
	// Param is the template parameter that receives the uploaded reference.
	Param string `json:"param" yaml:"param"`

	// Path is the local file path to upload.
	Path string `json:"path" yaml:"path"`
}

// DefaultVersion is the current manifest schema version.
const DefaultVersion = "1.0"

// ApplyDefaults folds the Defaults block into each job.
//
// This should be called after loading and validating the manifest so callers
// can read each job as self-contained.
func (m *Manifest) ApplyDefaults() {
	for i := range m.Jobs {
		job := &m.Jobs[i]
		if job.Workflow == "" {
			job.Workflow = m.Defaults.Workflow
		}
		if job.Width == 0 {
			job.Width = m.Defaults.Width
		}
		if job.Height == 0 {
			job.Height = m.Defaults.Height
		}
		if len(m.Defaults.Params) > 0 {
			merged := make(map[string]any, len(m.Defaults.Params)+len(job.Params))
			for k, v := range m.Defaults.Params {
				merged[k] = v
			}
			for k, v := range job.Params {
				merged[k] = v
			}
			job.Params = merged
		}
	}
}

// Label returns the job's name, or a positional fallback like "job 3".
func (j *JobConfig) Label(index int) string {
	if j.Name != "" {
		return j.Name
	}
	return fmt.Sprintf("job %d", index+1)
}

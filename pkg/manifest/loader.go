package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// format is the manifest encoding implied by a file extension.
type format int

const (
	formatAuto format = iota
	formatYAML
	formatJSON
)

func detectFormat(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	default:
		return formatAuto
	}
}

// Load reads, schema-validates, and defaults a manifest file.
//
// .yaml/.yml parse as YAML and .json as JSON; any other extension is
// auto-detected, YAML first. Validation runs against the embedded JSON
// schema before the typed decode, so unknown fields fail loudly instead
// of being dropped by struct unmarshaling.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("manifest not found: %s", path)
		case os.IsPermission(err):
			return nil, fmt.Errorf("read manifest %s: permission denied", path)
		default:
			return nil, fmt.Errorf("read manifest file: %w", err)
		}
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader loads a manifest from r. The path is used only for
// format detection and error text; empty falls back to auto-detection.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses, schema-validates, and defaults a raw manifest
// document.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest is empty")
	}
	f := detectFormat(path)

	// Schema validation sees the document as generic JSON so
	// additionalProperties violations are caught; the typed decode then
	// runs on the original bytes, which keeps YAML's integer params as
	// ints instead of JSON round-trip floats.
	jsonDoc, err := asJSON(f, data)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonDoc); err != nil {
		return nil, err
	}

	m, err := decode(f, data)
	if err != nil {
		return nil, err
	}
	m.ApplyDefaults()

	// The schema cannot express "job workflow OR defaults.workflow", so
	// the cross-field check runs after defaults are folded in.
	for i := range m.Jobs {
		if m.Jobs[i].Workflow == "" {
			return nil, fmt.Errorf("job %d has no workflow and the manifest sets no defaults.workflow", i+1)
		}
	}
	return m, nil
}

// decode unmarshals the document into the typed struct.
func decode(f format, data []byte) (*Manifest, error) {
	var m Manifest
	switch f {
	case formatJSON:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode manifest: invalid JSON: %w", err)
		}
	default:
		// YAML is a superset of JSON, so the YAML decoder also covers
		// auto-detected JSON documents.
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode manifest: invalid YAML: %w", err)
		}
	}
	return &m, nil
}

// asJSON renders the document as JSON for schema validation.
func asJSON(f format, data []byte) ([]byte, error) {
	if f == formatJSON {
		var probe any
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("parse manifest: invalid JSON: %w", err)
		}
		return data, nil
	}

	var doc any
	if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
		if f == formatYAML {
			return nil, fmt.Errorf("parse manifest: invalid YAML: %w", yamlErr)
		}
		// Auto-detection: fall back to raw JSON before giving up.
		var probe any
		if err := json.Unmarshal(data, &probe); err == nil {
			return data, nil
		}
		return nil, fmt.Errorf("manifest is neither valid YAML nor JSON: %w", yamlErr)
	}

	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert manifest to JSON: %w", err)
	}
	return jsonDoc, nil
}

// Package schemasassets embeds the JSON schemas the manifest validator
// compiles, so installed binaries and library consumers need no schema
// files on disk.
package schemasassets

import _ "embed"

// SubmitManifestSchema is the submit-manifest JSON schema.
//
//go:embed submit-manifest.schema.json
var SubmitManifestSchema []byte

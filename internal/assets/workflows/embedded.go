// Package workflowassets provides embedded builtin workflow templates.
//
// Templates are embedded at compile time so the CLI and library resolve
// the builtin graph set regardless of the working directory or
// installation location. User template directories layer on top and may
// shadow these by name.
package workflowassets

import "embed"

// Builtin holds the builtin workflow template set. Template names are the
// file stems (image_edit.json is the template "image_edit").
//
//go:embed *.json
var Builtin embed.FS

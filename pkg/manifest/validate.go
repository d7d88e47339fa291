package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/gostudio/internal/assets/schemas"
	"github.com/fulmenhq/gofulmen/schema"
)

// SchemaID identifies the submit-manifest schema version.
const SchemaID = "gostudio/v1.0.0/submit-manifest"

var (
	// ErrSchemaNotFound indicates the embedded schema asset is missing.
	ErrSchemaNotFound = errors.New("submit-manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest failed validation")
)

// ValidationError is a single schema violation.
type ValidationError struct {
	// Path is a JSON pointer to the offending field, e.g. "/jobs/0/width".
	Path string

	// Message describes what the field violated.
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors aggregates every violation found in one pass, so a
// caller can report them all rather than fixing the manifest one field
// at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "manifest failed validation"
	case 1:
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:", len(e))
	for _, ve := range e {
		b.WriteString("\n  - ")
		b.WriteString(ve.Error())
	}
	return b.String()
}

// Unwrap lets errors.Is match the ErrValidationFailed sentinel.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a decoded manifest against the submit-manifest schema.
//
// The struct round-trips through JSON first, which drops any unknown
// fields the original input carried. Use ValidateRaw on the raw bytes
// when additionalProperties enforcement matters.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks raw JSON against the submit-manifest schema,
// including rejection of unknown fields. The schema is embedded at
// build time, so nothing needs to exist on disk.
//
// Returns nil on success, or a ValidationErrors listing every failure.
func ValidateRaw(jsonData []byte) error {
	v, err := compiledValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("run schema validator: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

var (
	compileOnce sync.Once
	compiled    *schema.Validator
	compileErr  error
)

// compiledValidator compiles the embedded schema on first use and caches
// the result for the life of the process.
func compiledValidator() (*schema.Validator, error) {
	compileOnce.Do(func() {
		if len(schemasassets.SubmitManifestSchema) == 0 {
			compileErr = fmt.Errorf("%w: embedded submit-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		compiled, compileErr = schema.NewValidator(schemasassets.SubmitManifestSchema)
		if compileErr != nil {
			compileErr = fmt.Errorf("failed to compile manifest schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

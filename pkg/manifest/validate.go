package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/lagsearch/internal/assets/schemas"
)

// SchemaID is the schema identifier for search-job manifests.
const SchemaID = "lagsearch/v1.0.0/search-job"

// Validation errors
var (
	// ErrSchemaNotFound indicates the schema file could not be located.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

// Cached validator instance (compiled once from embedded schema)
var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/regressors/0/name").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface. Multiple issues are listed one
// per line under a count header.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest has %d problems:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap lets errors.Is match ErrValidationFailed.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks an in-memory manifest against the schema.
//
// Returns nil if validation succeeds, or a ValidationErrors with details
// about all validation failures.
//
// File-backed series are checked by reference, not by their loaded data.
// The struct form loses unknown fields; use ValidateRaw on the original
// input for additionalProperties checks.
func Validate(m *Manifest) error {
	c := *m
	c.Dependent = c.Dependent.reference()
	c.Regressors = make([]SeriesSource, len(m.Regressors))
	for i, r := range m.Regressors {
		c.Regressors[i] = r.reference()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks raw JSON against the embedded search-job schema.
//
// The schema is embedded at compile time, so installed binaries validate
// without schema files on disk. Only error-severity diagnostics are
// reported; warnings are dropped.
//
// Returns nil if validation succeeds, or a ValidationErrors with details
// about all validation failures.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// getValidator returns a cached validator compiled from the embedded schema.
//
// The validator is compiled once on first use and cached for subsequent
// calls via sync.Once.
func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.SearchJobSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded search-job schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.SearchJobSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}

// reference returns s with inline data dropped when the series is loaded
// from a file, matching the shape the schema expects on input.
func (s SeriesSource) reference() SeriesSource {
	if s.File != "" {
		s.Data = nil
	}
	return s
}

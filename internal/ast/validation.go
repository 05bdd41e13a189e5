package ast

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind tags a validation error so callers can branch without parsing
// message text.
type ErrorKind string

const (
	ErrMissingField       ErrorKind = "missing_field"
	ErrInvalidReference   ErrorKind = "invalid_reference"
	ErrCircularDependency ErrorKind = "circular_dependency"
	ErrInvalidType        ErrorKind = "invalid_type"
	ErrInvalidValue       ErrorKind = "invalid_value"
)

// WarningKind tags a validation warning.
type WarningKind string

const (
	WarnUnusedStep          WarningKind = "unused_step"
	WarnMissingErrorHandler WarningKind = "missing_error_handler"
	WarnLongWorkflow        WarningKind = "long_workflow"
)

// ValidationError represents a validation error
type ValidationError struct {
	Kind    ErrorKind `json:"kind"`
	Path    string    `json:"path"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	if ve.Path != "" {
		return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	}
	return ve.Message
}

// ValidationWarning represents a non-fatal validation finding
type ValidationWarning struct {
	Kind    WarningKind `json:"kind"`
	Path    string      `json:"path"`
	Message string      `json:"message"`
}

// ValidationResult contains the results of workflow validation
type ValidationResult struct {
	Valid    bool                 `json:"valid"`
	Errors   []*ValidationError   `json:"errors,omitempty"`
	Warnings []*ValidationWarning `json:"warnings,omitempty"`
}

// NewValidationResult returns an empty, passing result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddError adds a validation error
func (vr *ValidationResult) AddError(kind ErrorKind, path, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, &ValidationError{
		Kind:    kind,
		Path:    path,
		Message: message,
	})
}

// AddFieldError adds a validation error for a specific field
func (vr *ValidationResult) AddFieldError(kind ErrorKind, path, field, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, &ValidationError{
		Kind:    kind,
		Path:    path,
		Field:   field,
		Message: message,
	})
}

// AddWarning adds a non-fatal finding
func (vr *ValidationResult) AddWarning(kind WarningKind, path, message string) {
	vr.Warnings = append(vr.Warnings, &ValidationWarning{
		Kind:    kind,
		Path:    path,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// ToError returns a combined error if there are validation errors
func (vr *ValidationResult) ToError() error {
	if !vr.HasErrors() {
		return nil
	}

	var messages []string
	for _, err := range vr.Errors {
		messages = append(messages, err.Error())
	}

	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// Validator performs the structural checks the engine requires before it will
// dispatch anything: top-level fields present, steps non-empty, every step
// carrying an id and a known kind. The full semantic pass lives in the parser
// package.
type Validator struct{}

// NewValidator creates a new structural validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateStructure checks the minimal invariants of a workflow definition.
func (v *Validator) ValidateStructure(w *Workflow) *ValidationResult {
	result := NewValidationResult()

	if w.ID == "" {
		result.AddFieldError(ErrMissingField, "", "id", "workflow id is required")
	}

	if len(w.Steps) == 0 {
		result.AddFieldError(ErrMissingField, "", "steps", "workflow must define at least one step")
		return result
	}

	for i, step := range w.Steps {
		v.validateStepShape(step, fmt.Sprintf("steps[%d]", i), result)
		for j, child := range step.Steps {
			v.validateStepShape(child, fmt.Sprintf("steps[%d].steps[%d]", i, j), result)
		}
	}

	return result
}

func (v *Validator) validateStepShape(step *Step, path string, result *ValidationResult) {
	if step.ID == "" {
		result.AddFieldError(ErrMissingField, path, "id", "step id is required")
	} else if !isValidIdentifier(step.ID) {
		result.AddFieldError(ErrInvalidValue, path, "id",
			fmt.Sprintf("step id %q must start with a letter and contain only letters, digits or _", step.ID))
	}

	if step.Type == "" {
		result.AddFieldError(ErrMissingField, path, "type", "step type is required")
	} else if !step.Type.Valid() {
		known := make([]string, 0, len(KnownStepTypes()))
		for _, t := range KnownStepTypes() {
			known = append(known, string(t))
		}
		result.AddFieldError(ErrInvalidType, path, "type",
			fmt.Sprintf("unknown step type %q (known types: %s)", step.Type, strings.Join(known, ", ")))
	}
}

// Step ids double as expression scope identifiers, so hyphens are out.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// isValidIdentifier reports whether the name is usable as a step id and as an
// expression scope identifier.
func isValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

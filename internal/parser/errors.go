package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weftai/weft/internal/ast"
)

// ParseError is a single loading failure with enough position information to
// point at the offending spot in the source document.
type ParseError struct {
	Message    string       `json:"message"`
	Position   ast.Position `json:"position"`
	Context    string       `json:"context,omitempty"`
	Suggestion string       `json:"suggestion,omitempty"`
	Kind       string       `json:"kind,omitempty"`
}

// Error implements the error interface
func (e *ParseError) Error() string {
	var result strings.Builder

	result.WriteString(fmt.Sprintf("parse error at %s: %s", e.Position.String(), e.Message))

	if e.Suggestion != "" {
		result.WriteString(fmt.Sprintf("\nsuggestion: %s", e.Suggestion))
	}

	if e.Context != "" {
		result.WriteString(fmt.Sprintf("\n\n%s", e.Context))
	}

	return result.String()
}

// MultiError aggregates every finding from a single parse so callers see the
// whole picture instead of fixing one error per run.
type MultiError struct {
	Errors []error `json:"errors"`
}

// Error implements the error interface for MultiError
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%d errors:\n", len(e.Errors)))

	for i, err := range e.Errors {
		result.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}

	return result.String()
}

// Add appends an error, ignoring nil.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns the MultiError as an error if there are errors, nil otherwise
func (e *MultiError) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// wrapJSONError converts an encoding/json failure into a positioned
// ParseError.
func wrapJSONError(err error, source []byte) error {
	switch jsonErr := err.(type) {
	case *json.SyntaxError:
		pos := ast.ExtractPosition(source, int(jsonErr.Offset))
		return &ParseError{
			Message:  jsonErr.Error(),
			Position: pos,
			Context:  ast.ExtractContext(source, pos, 2),
			Kind:     "syntax",
		}
	case *json.UnmarshalTypeError:
		pos := ast.ExtractPosition(source, int(jsonErr.Offset))
		msg := fmt.Sprintf("cannot decode %s into field %q (expected %s)",
			jsonErr.Value, jsonErr.Field, jsonErr.Type)
		return &ParseError{
			Message:  msg,
			Position: pos,
			Context:  ast.ExtractContext(source, pos, 2),
			Kind:     "type",
		}
	default:
		return &ParseError{
			Message:  err.Error(),
			Position: ast.Position{Line: 1, Column: 1},
			Kind:     "decode",
		}
	}
}

// wrapYAMLError converts a yaml.v3 failure into one positioned ParseError
// per finding.
func wrapYAMLError(err error, source []byte) error {
	if typeErr, ok := err.(*yaml.TypeError); ok {
		multi := &MultiError{}
		for _, msg := range typeErr.Errors {
			pos := extractPositionFromMessage(msg, source)
			multi.Add(&ParseError{
				Message:  msg,
				Position: pos,
				Context:  ast.ExtractContext(source, pos, 2),
				Kind:     "type",
			})
		}
		return multi.ToError()
	}

	pos := extractPositionFromMessage(err.Error(), source)
	return &ParseError{
		Message:  err.Error(),
		Position: pos,
		Context:  ast.ExtractContext(source, pos, 2),
		Kind:     "syntax",
	}
}

// extractPositionFromMessage pulls the "line N" yaml.v3 embeds in its error
// text. Messages without one land on the first line.
func extractPositionFromMessage(message string, source []byte) ast.Position {
	words := strings.Fields(message)
	for i, word := range words {
		if word != "line" || i+1 >= len(words) {
			continue
		}
		var line int
		if _, err := fmt.Sscanf(strings.TrimSuffix(words[i+1], ":"), "%d", &line); err == nil {
			return ast.Position{Line: line, Column: 1}
		}
	}
	return ast.Position{Line: 1, Column: 1}
}

// validationToError converts semantic findings to positioned parse errors.
// The position heuristic scans the source for the offending field name; a
// miss lands on the first line, which is still better than no position.
func validationToError(result *ast.ValidationResult, source []byte) error {
	multi := &MultiError{}
	for _, ve := range result.Errors {
		pos := locateField(source, ve.Field)
		multi.Add(&ParseError{
			Message:  ve.Error(),
			Position: pos,
			Context:  ast.ExtractContext(source, pos, 1),
			Kind:     string(ve.Kind),
		})
	}
	return multi.ToError()
}

// locateField finds the first occurrence of a field key in the document.
// Good enough for pointing a human at the right region; exact per-step
// positions would need a position-tracking decode.
func locateField(source []byte, field string) ast.Position {
	if field == "" {
		return ast.Position{Line: 1, Column: 1}
	}

	lines := strings.Split(string(source), "\n")
	for i, line := range lines {
		for _, token := range []string{`"` + field + `"`, field + ":"} {
			if col := strings.Index(line, token); col >= 0 {
				return ast.Position{Line: i + 1, Column: col + 1}
			}
		}
	}
	return ast.Position{Line: 1, Column: 1}
}

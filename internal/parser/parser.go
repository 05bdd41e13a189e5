// Package parser loads workflow definitions from JSON or YAML documents and
// runs the semantic checks the engine expects to have passed before it
// dispatches a single step.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/weftai/weft/internal/ast"
)

// maxWorkflowFileSize caps how much of a workflow file the parser will read.
const maxWorkflowFileSize = 10 * 1024 * 1024

// Parser is the contract for loading workflow definitions.
type Parser interface {
	ParseFile(filename string) (*ast.Workflow, error)
	ParseBytes(data []byte) (*ast.Workflow, error)
	ParseReader(r io.Reader) (*ast.Workflow, error)

	// ValidateFile and ValidateBytes parse the document and return the full
	// validation result, warnings included, instead of failing on the first
	// semantic error. Decode failures still return an error.
	ValidateFile(filename string) (*ast.ValidationResult, error)
	ValidateBytes(data []byte) (*ast.ValidationResult, error)
}

// WorkflowParser loads workflow definitions. JSON is the canonical encoding;
// YAML documents are accepted for hand-written files.
type WorkflowParser struct {
	semantic     *SemanticValidator
	strictFields bool
}

// ParserOption configures a WorkflowParser.
type ParserOption func(*WorkflowParser)

// WithStrictFields controls whether unknown document fields are rejected.
// Strict decoding is the default; loose decoding is useful for documents
// produced by newer tool versions.
func WithStrictFields(strict bool) ParserOption {
	return func(p *WorkflowParser) {
		p.strictFields = strict
	}
}

// New creates a workflow parser with strict field checking enabled.
func New(opts ...ParserOption) *WorkflowParser {
	p := &WorkflowParser{
		semantic:     NewSemanticValidator(),
		strictFields: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile loads and validates a workflow file. The extension picks the
// decoder: .json is parsed as JSON, .yaml and .yml as YAML.
func (p *WorkflowParser) ParseFile(filename string) (*ast.Workflow, error) {
	data, err := p.readFile(filename)
	if err != nil {
		return nil, err
	}

	workflow, err := p.parse(data, formatForFile(filename))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}

	workflow.SourceFile = filename
	workflow.Position.File = filename
	return workflow, nil
}

// ParseBytes parses and validates a workflow document, sniffing the format
// from the content.
func (p *WorkflowParser) ParseBytes(data []byte) (*ast.Workflow, error) {
	return p.parse(data, sniffFormat(data))
}

// ParseReader parses and validates a workflow document from a reader.
func (p *WorkflowParser) ParseReader(r io.Reader) (*ast.Workflow, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxWorkflowFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	if len(data) > maxWorkflowFileSize {
		return nil, fmt.Errorf("workflow too large: exceeds %d bytes", maxWorkflowFileSize)
	}
	return p.ParseBytes(data)
}

// ValidateFile parses the file and reports every semantic finding.
func (p *WorkflowParser) ValidateFile(filename string) (*ast.ValidationResult, error) {
	data, err := p.readFile(filename)
	if err != nil {
		return nil, err
	}

	workflow, err := p.decode(data, formatForFile(filename))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}
	workflow.SourceFile = filename

	return p.semantic.ValidateWorkflow(workflow), nil
}

// ValidateBytes parses the document and reports every semantic finding.
func (p *WorkflowParser) ValidateBytes(data []byte) (*ast.ValidationResult, error) {
	workflow, err := p.decode(data, sniffFormat(data))
	if err != nil {
		return nil, err
	}
	return p.semantic.ValidateWorkflow(workflow), nil
}

// parse decodes the document and fails on any semantic error. Warnings are
// advisory and do not block loading.
func (p *WorkflowParser) parse(data []byte, format documentFormat) (*ast.Workflow, error) {
	workflow, err := p.decode(data, format)
	if err != nil {
		return nil, err
	}

	if result := p.semantic.ValidateWorkflow(workflow); result.HasErrors() {
		return nil, validationToError(result, data)
	}
	return workflow, nil
}

func (p *WorkflowParser) decode(data []byte, format documentFormat) (*ast.Workflow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{
			Message:    "empty workflow document",
			Position:   ast.Position{Line: 1, Column: 1},
			Suggestion: `a workflow needs at least {"id": ..., "steps": [...]}`,
		}
	}

	switch format {
	case formatJSON:
		return p.decodeJSON(data)
	default:
		return p.decodeYAML(data)
	}
}

func (p *WorkflowParser) decodeJSON(data []byte) (*ast.Workflow, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	if p.strictFields {
		decoder.DisallowUnknownFields()
	}

	var workflow ast.Workflow
	if err := decoder.Decode(&workflow); err != nil {
		return nil, wrapJSONError(err, data)
	}
	workflow.Position = ast.Position{Line: 1, Column: 1}
	return &workflow, nil
}

func (p *WorkflowParser) decodeYAML(data []byte) (*ast.Workflow, error) {
	// A first decode into a node recovers the document position; the struct
	// decode carries the strictness setting.
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, wrapYAMLError(err, data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(p.strictFields)

	var workflow ast.Workflow
	if err := decoder.Decode(&workflow); err != nil {
		// A comment-only document decodes to nothing at all.
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{
				Message:    "empty workflow document",
				Position:   ast.Position{Line: 1, Column: 1},
				Suggestion: `a workflow needs at least {"id": ..., "steps": [...]}`,
			}
		}
		return nil, wrapYAMLError(err, data)
	}

	if node.Line > 0 {
		workflow.Position = ast.Position{Line: node.Line, Column: node.Column}
	}
	return &workflow, nil
}

func (p *WorkflowParser) readFile(filename string) ([]byte, error) {
	if !IsWorkflowFile(filename) {
		return nil, fmt.Errorf("unsupported workflow file %s: expected one of %v",
			filename, SupportedExtensions())
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if len(data) > maxWorkflowFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", len(data), maxWorkflowFileSize)
	}
	return data, nil
}

type documentFormat int

const (
	formatJSON documentFormat = iota
	formatYAML
)

// formatForFile picks the decoder from the file extension.
func formatForFile(filename string) documentFormat {
	if filepath.Ext(filename) == ".json" {
		return formatJSON
	}
	return formatYAML
}

// sniffFormat guesses the encoding of a raw document. JSON workflows always
// open with an object brace; everything else is treated as YAML, which is a
// superset anyway.
func sniffFormat(data []byte) documentFormat {
	for _, b := range data {
		if unicode.IsSpace(rune(b)) {
			continue
		}
		if b == '{' {
			return formatJSON
		}
		return formatYAML
	}
	return formatYAML
}

// IsWorkflowFile reports whether the filename carries a supported workflow
// extension. The canonical name ends in .weft.json but any JSON or YAML file
// is accepted.
func IsWorkflowFile(filename string) bool {
	switch filepath.Ext(filename) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// SupportedExtensions returns the file extensions the parser accepts.
func SupportedExtensions() []string {
	return []string{".weft.json", ".weft.yaml", ".json", ".yaml", ".yml"}
}

// CanonicalExtension is the preferred workflow file suffix.
const CanonicalExtension = ".weft.json"

// Package schema exposes the weft workflow definition format to other tools:
// the JSON Schema that workflow documents must satisfy and the catalog of
// expression forms accepted by transform and condition steps.
//
// Editors use the JSON Schema for validation and autocompletion; the
// expression catalog feeds documentation generators and linters that need to
// know which syntax the restricted expression language accepts.
//
// Typical use:
//
//	out, err := schema.GetSchema()
//	if err != nil {
//		return err
//	}
//	os.WriteFile("weft.schema.json", out.Schema, 0o644)
//	for _, form := range out.Expressions {
//		fmt.Println(form.Name, "-", form.Description)
//	}
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/expression"
)

// Output bundles everything a tool needs to understand weft workflow files.
type Output struct {
	// Schema is the JSON Schema for workflow documents, generated from the
	// same types the parser decodes into, so it cannot drift from what the
	// parser accepts.
	Schema json.RawMessage `json:"schema"`

	// Expressions catalogs every form of the expression language, each with
	// a description and examples. Transform expressions and condition steps
	// accept exactly these forms.
	Expressions []expression.ExpressionDef `json:"expressions"`
}

// GetSchema generates the workflow JSON Schema and pairs it with the
// expression form catalog. Generation reflects over the definition types at
// call time, so the output always matches the running binary.
func GetSchema() (*Output, error) {
	schemaBytes, err := ast.NewSchema()
	if err != nil {
		return nil, fmt.Errorf("error creating base schema: %w", err)
	}

	return &Output{
		Schema:      json.RawMessage(schemaBytes),
		Expressions: expression.ExpressionDefs,
	}, nil
}

package ast

import (
	"embed"
	"encoding/json"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/stoewer/go-strcase"
)

//go:embed types.go
var typesSource embed.FS

// NewSchema renders the JSON schema for workflow definition files. Doc
// comments on the exported types in this package become the schema's
// description strings, so editors surface them as hover help.
func NewSchema() ([]byte, error) {
	comments, err := typeComments(reflect.TypeOf(Workflow{}).PkgPath())
	if err != nil {
		return nil, err
	}

	r := &jsonschema.Reflector{
		KeyNamer: strcase.SnakeCase,
		Namer: func(t reflect.Type) string {
			return strcase.SnakeCase(t.Name())
		},
		ExpandedStruct: true,
		CommentMap:     comments,
	}

	return json.MarshalIndent(r.Reflect(&Workflow{}), "", "  ")
}

// typeComments parses the embedded types.go source and collects doc comments
// keyed the way the reflector expects: "pkg.Type" and "pkg.Type.Field".
// Embedding the source keeps schema generation working in built binaries,
// where the .go files are no longer on disk.
func typeComments(pkg string) (map[string]string, error) {
	src, err := typesSource.ReadFile("types.go")
	if err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "types.go", src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	comments := make(map[string]string)
	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}

		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok || !ast.IsExported(ts.Name.Name) {
				continue
			}

			doc := ts.Doc.Text()
			if doc == "" {
				// Single-type declarations hang the doc off the GenDecl.
				doc = gen.Doc.Text()
			}
			comments[pkg+"."+ts.Name.Name] = strings.TrimSpace(doc)

			st, ok := ts.Type.(*ast.StructType)
			if !ok {
				continue
			}
			for _, field := range st.Fields.List {
				txt := field.Doc.Text()
				if txt == "" {
					txt = field.Comment.Text()
				}
				if txt == "" {
					continue
				}
				for _, name := range field.Names {
					if ast.IsExported(name.Name) {
						comments[pkg+"."+ts.Name.Name+"."+name.Name] = strings.TrimSpace(txt)
					}
				}
			}
		}
	}

	return comments, nil
}

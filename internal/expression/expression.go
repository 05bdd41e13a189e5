// Package expression implements the restricted pure expression language used
// by transform and condition steps. Expressions are evaluated by a small
// AST-walking interpreter over a fixed scope; there is no host access and no
// function call mechanism, so a workflow definition can never reach the
// process environment.
package expression

import (
	"fmt"
	"sort"
	"strings"
)

// ExpressionDefs catalogs every expression form the language supports, for
// documentation surfaces.
var ExpressionDefs []ExpressionDef

type ExpressionDef struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
}

func init() {
	expressions := []Expression{
		&LiteralExpr{},
		&VariableExpr{},
		&BinaryOpExpr{},
		&UnaryOpExpr{},
		&ConditionalExpr{},
		&IndexExpr{},
		&DotExpr{},
		&ObjectExpr{},
		&ArrayExpr{},
	}

	ExpressionDefs = make([]ExpressionDef, len(expressions))
	for i, expr := range expressions {
		ExpressionDefs[i] = expr.Definition()
	}
}

// forbiddenIdentifiers are rejected at parse time wherever an identifier or
// property name may appear. They exist so a definition written against a
// JavaScript-hosted runtime can never smuggle prototype-chain access here or
// anywhere else.
var forbiddenIdentifiers = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// ForbiddenTokens returns the identifier tokens the language rejects, in a
// stable order.
func ForbiddenTokens() []string {
	tokens := make([]string, 0, len(forbiddenIdentifiers))
	for tok := range forbiddenIdentifiers {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// Evaluator parses and evaluates expressions against a flat scope. The zero
// value is ready to use.
type Evaluator struct{}

// NewEvaluator creates a new expression evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate runs an expression and returns the result as a plain Go value.
func (ee *Evaluator) Evaluate(expression string, vars map[string]interface{}) (interface{}, error) {
	val, err := eval(expression, vars)
	if err != nil {
		return nil, err
	}
	return val.GoValue(), nil
}

// EvaluateBool runs an expression and coerces the result to a boolean using
// the language's truthiness rules.
func (ee *Evaluator) EvaluateBool(expression string, vars map[string]interface{}) (bool, error) {
	val, err := eval(expression, vars)
	if err != nil {
		return false, err
	}
	return ToBool(val), nil
}

func eval(expression string, vars map[string]interface{}) (Value, error) {
	expr, err := Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	val, err := expr.Eval(NewScope(vars))
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}
	return val, nil
}

// Validate parses an expression without evaluating it, surfacing syntax
// errors and forbidden identifiers. The workflow validator runs this before
// execution ever starts.
func Validate(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("expression is empty")
	}
	_, err := Parse(expression)
	return err
}

// Scope resolves identifiers during evaluation. It holds the workflow input
// plus the published data of every successful step, keyed by step id.
type Scope struct {
	vars map[string]interface{}
}

func NewScope(vars map[string]interface{}) *Scope {
	return &Scope{vars: vars}
}

// Get resolves an identifier. Unknown names fail with the list of names that
// are in scope, so workflow authors can see what is available.
func (s *Scope) Get(name string) (Value, error) {
	if v, ok := s.vars[name]; ok {
		return GoToValue(v), nil
	}
	return nil, fmt.Errorf("undefined variable %q (in scope: %s)", name, strings.Join(s.Names(), ", "))
}

// Names lists the identifiers in scope, sorted.
func (s *Scope) Names() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expression is a parsed node. Eval walks it against a scope; Definition
// describes the form for documentation surfaces.
type Expression interface {
	Eval(scope *Scope) (Value, error)
	Definition() ExpressionDef
}

// LiteralExpr represents a literal value
type LiteralExpr struct {
	Value Value
}

func (e *LiteralExpr) Eval(scope *Scope) (Value, error) {
	return e.Value, nil
}

func (e *LiteralExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "Literal",
		Description: "A literal number (42, 3.14), string ('hello', \"world\"), boolean (true, false), or null.",
		Examples: []string{
			"42",
			"\"hello\"",
			"true",
			"null",
		},
	}
}

// VariableExpr represents a scope identifier reference
type VariableExpr struct {
	Name string
}

func (e *VariableExpr) Eval(scope *Scope) (Value, error) {
	return scope.Get(e.Name)
}

func (e *VariableExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "Variable",
		Description: "References a name in scope: the workflow input under 'input', plus the data of every successful step under its step id.",
		Examples: []string{
			"input",
			"plan",
			"test.passed",
		},
	}
}

// BinaryOp is a binary operator, spelled the way it appears in source.
type BinaryOp string

const (
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
	OpMod BinaryOp = "%"
	OpEq  BinaryOp = "=="
	OpNe  BinaryOp = "!="
	OpLt  BinaryOp = "<"
	OpGt  BinaryOp = ">"
	OpLe  BinaryOp = "<="
	OpGe  BinaryOp = ">="
	OpAnd BinaryOp = "&&"
	OpOr  BinaryOp = "||"
)

// BinaryOpExpr represents a binary operation
type BinaryOpExpr struct {
	Left  Expression
	Op    BinaryOp
	Right Expression
}

func (e *BinaryOpExpr) Eval(scope *Scope) (Value, error) {
	left, err := e.Left.Eval(scope)
	if err != nil {
		return nil, err
	}

	// && and || decide on the left side alone when they can; the right side
	// must not be evaluated at all in that case.
	if e.Op == OpAnd || e.Op == OpOr {
		if e.Op == OpAnd && !ToBool(left) {
			return BoolValue{Val: false}, nil
		}
		if e.Op == OpOr && ToBool(left) {
			return BoolValue{Val: true}, nil
		}
		right, err := e.Right.Eval(scope)
		if err != nil {
			return nil, err
		}
		return BoolValue{Val: ToBool(right)}, nil
	}

	right, err := e.Right.Eval(scope)
	if err != nil {
		return nil, err
	}
	return applyBinary(e.Op, left, right)
}

// applyBinary combines two evaluated operands. Ordering comparisons coerce
// both sides to numbers; + concatenates as soon as either side is a string.
func applyBinary(op BinaryOp, left, right Value) (Value, error) {
	switch op {
	case OpEq:
		return BoolValue{Val: left.Equals(right)}, nil
	case OpNe:
		return BoolValue{Val: !left.Equals(right)}, nil
	case OpAdd:
		if left.Type() == TypeString || right.Type() == TypeString {
			return StringValue{Val: left.String() + right.String()}, nil
		}
		return NumberValue{Val: ToNumber(left) + ToNumber(right)}, nil
	}

	l, r := ToNumber(left), ToNumber(right)
	switch op {
	case OpLt:
		return BoolValue{Val: l < r}, nil
	case OpGt:
		return BoolValue{Val: l > r}, nil
	case OpLe:
		return BoolValue{Val: l <= r}, nil
	case OpGe:
		return BoolValue{Val: l >= r}, nil
	case OpSub:
		return NumberValue{Val: l - r}, nil
	case OpMul:
		return NumberValue{Val: l * r}, nil
	case OpDiv:
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return NumberValue{Val: l / r}, nil
	case OpMod:
		if r == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return NumberValue{Val: float64(int64(l) % int64(r))}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func (e *BinaryOpExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "BinaryOperation",
		Description: "Combines two expressions with an arithmetic (+, -, *, /, %), comparison (==, !=, <, >, <=, >=), or logical (&&, ||) operator.",
		Examples: []string{
			"42 + 10",
			"\"hello \" + input.name",
			"test.passed == true && build.score >= 0.8",
		},
	}
}

// UnaryOp is a unary operator.
type UnaryOp string

const (
	OpNot UnaryOp = "!"
	OpNeg UnaryOp = "-"
)

// UnaryOpExpr represents a unary operation
type UnaryOpExpr struct {
	Op   UnaryOp
	Expr Expression
}

func (e *UnaryOpExpr) Eval(scope *Scope) (Value, error) {
	val, err := e.Expr.Eval(scope)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case OpNot:
		return BoolValue{Val: !ToBool(val)}, nil
	case OpNeg:
		return NumberValue{Val: -ToNumber(val)}, nil
	default:
		return nil, fmt.Errorf("unknown unary operator %q", e.Op)
	}
}

func (e *UnaryOpExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "UnaryOperation",
		Description: "Applies ! (logical not) or - (numeric negation) to a single expression.",
		Examples: []string{
			"!input.active",
			"-input.count",
		},
	}
}

// ConditionalExpr represents a ternary conditional expression
type ConditionalExpr struct {
	Condition Expression
	TrueExpr  Expression
	FalseExpr Expression
}

func (e *ConditionalExpr) Eval(scope *Scope) (Value, error) {
	cond, err := e.Condition.Eval(scope)
	if err != nil {
		return nil, err
	}

	if ToBool(cond) {
		return e.TrueExpr.Eval(scope)
	}
	return e.FalseExpr.Eval(scope)
}

func (e *ConditionalExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "Conditional",
		Description: "Selects one of two values: 'condition ? whenTrue : whenFalse'.",
		Examples: []string{
			"review.score >= 18 ? \"approve\" : \"reject\"",
			"input.count > 0 ? input.count : \"none\"",
		},
	}
}

// IndexExpr represents array/map indexing
type IndexExpr struct {
	Object Expression
	Index  Expression
}

func (e *IndexExpr) Eval(scope *Scope) (Value, error) {
	obj, err := e.Object.Eval(scope)
	if err != nil {
		return nil, err
	}
	idx, err := e.Index.Eval(scope)
	if err != nil {
		return nil, err
	}

	switch o := obj.(type) {
	case ListValue:
		i := int(ToNumber(idx))
		if i < 0 || i >= len(o.Items) {
			return nil, fmt.Errorf("index %d out of bounds (length %d)", i, len(o.Items))
		}
		return o.Items[i], nil
	case MapValue:
		key := idx.String()
		if forbiddenIdentifiers[key] {
			return nil, fmt.Errorf("forbidden token %q", key)
		}
		if val, ok := o.Entries[key]; ok {
			return val, nil
		}
		return NilValue{}, nil
	}
	return nil, fmt.Errorf("cannot index a %s value", obj.Type())
}

func (e *IndexExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "IndexAccess",
		Description: "Accesses a list element by number or an object entry by string key: 'object[index]'.",
		Examples: []string{
			"input.items[0]",
			"report[\"summary\"]",
		},
	}
}

// DotExpr represents object property access
type DotExpr struct {
	Object Expression
	Field  string
}

// Eval looks the field up on a map. Missing keys and fields of null resolve
// to null rather than failing, so optional data can be probed with a
// condition instead of crashing the step.
func (e *DotExpr) Eval(scope *Scope) (Value, error) {
	obj, err := e.Object.Eval(scope)
	if err != nil {
		return nil, err
	}

	switch o := obj.(type) {
	case MapValue:
		if val, ok := o.Entries[e.Field]; ok {
			return val, nil
		}
		return NilValue{}, nil
	case NilValue:
		return NilValue{}, nil
	}
	return nil, fmt.Errorf("cannot access field %q on %s", e.Field, obj.Type())
}

func (e *DotExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "PropertyAccess",
		Description: "Accesses an object field by name: 'object.field'. Missing fields resolve to null.",
		Examples: []string{
			"input.name",
			"plan.tasks",
			"test.passed",
		},
	}
}

// ObjectExpr represents an object literal
type ObjectExpr struct {
	Keys   []string
	Values []Expression
}

func (e *ObjectExpr) Eval(scope *Scope) (Value, error) {
	entries := make(map[string]Value, len(e.Keys))
	for i, key := range e.Keys {
		val, err := e.Values[i].Eval(scope)
		if err != nil {
			return nil, err
		}
		entries[key] = val
	}
	return MapValue{Entries: entries}, nil
}

func (e *ObjectExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "ObjectLiteral",
		Description: "Builds an object from key/value pairs: '{key: value, ...}'. Keys are identifiers or quoted strings.",
		Examples: []string{
			"{status: \"done\", count: input.count}",
			"{summary: review.summary}",
		},
	}
}

// ArrayExpr represents an array literal
type ArrayExpr struct {
	Elements []Expression
}

func (e *ArrayExpr) Eval(scope *Scope) (Value, error) {
	items := make([]Value, len(e.Elements))
	for i, element := range e.Elements {
		val, err := element.Eval(scope)
		if err != nil {
			return nil, err
		}
		items[i] = val
	}
	return ListValue{Items: items}, nil
}

func (e *ArrayExpr) Definition() ExpressionDef {
	return ExpressionDef{
		Name:        "ArrayLiteral",
		Description: "Builds a list from element expressions: '[a, b, ...]'.",
		Examples: []string{
			"[1, 2, 3]",
			"[plan.summary, review.summary]",
		},
	}
}

package expression

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type TokenType string

const (
	TokenNumber   TokenType = "number"
	TokenString   TokenType = "string"
	TokenIdent    TokenType = "identifier"
	TokenPlus     TokenType = "+"
	TokenMinus    TokenType = "-"
	TokenStar     TokenType = "*"
	TokenSlash    TokenType = "/"
	TokenPercent  TokenType = "%"
	TokenEq       TokenType = "=="
	TokenNe       TokenType = "!="
	TokenLt       TokenType = "<"
	TokenGt       TokenType = ">"
	TokenLe       TokenType = "<="
	TokenGe       TokenType = ">="
	TokenAnd      TokenType = "&&"
	TokenOr       TokenType = "||"
	TokenNot      TokenType = "!"
	TokenQuestion TokenType = "?"
	TokenColon    TokenType = ":"
	TokenComma    TokenType = ","
	TokenDot      TokenType = "."
	TokenLParen   TokenType = "("
	TokenRParen   TokenType = ")"
	TokenLBracket TokenType = "["
	TokenRBracket TokenType = "]"
	TokenLBrace   TokenType = "{"
	TokenRBrace   TokenType = "}"
)

type Token struct {
	Type  TokenType
	Value string
}

var twoRuneOps = map[string]TokenType{
	"==": TokenEq,
	"!=": TokenNe,
	"<=": TokenLe,
	">=": TokenGe,
	"&&": TokenAnd,
	"||": TokenOr,
}

var oneRuneOps = map[rune]TokenType{
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'<': TokenLt,
	'>': TokenGt,
	'!': TokenNot,
	'?': TokenQuestion,
	':': TokenColon,
	',': TokenComma,
	'.': TokenDot,
	'(': TokenLParen,
	')': TokenRParen,
	'[': TokenLBracket,
	']': TokenRBracket,
	'{': TokenLBrace,
	'}': TokenRBrace,
}

// Tokenize splits an expression into tokens. JavaScript-style strict
// operators (===, !==) are accepted as aliases for == and !=.
func Tokenize(input string) ([]Token, error) {
	runes := []rune(input)
	var tokens []Token

	for i := 0; i < len(runes); {
		ch := runes[i]

		switch {
		case unicode.IsSpace(ch):
			i++

		case ch == '"' || ch == '\'':
			tok, width, err := scanString(runes[i:])
			if err != nil {
				return nil, fmt.Errorf("%w starting at position %d", err, i)
			}
			tokens = append(tokens, tok)
			i += width

		case unicode.IsDigit(ch):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, Token{Type: TokenNumber, Value: string(runes[start:i])})

		case unicode.IsLetter(ch) || ch == '_':
			// A leading underscore is tokenized so names like __proto__
			// surface as forbidden-token errors instead of syntax noise.
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, Token{Type: TokenIdent, Value: string(runes[start:i])})

		default:
			tok, width := matchOperator(runes[i:])
			if width == 0 {
				return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
			}
			tokens = append(tokens, tok)
			i += width
		}
	}

	return tokens, nil
}

// matchOperator matches the longest operator at the start of rest, returning
// the number of runes consumed, zero if nothing matched.
func matchOperator(rest []rune) (Token, int) {
	if len(rest) >= 3 {
		switch string(rest[:3]) {
		case "===":
			return Token{Type: TokenEq, Value: "=="}, 3
		case "!==":
			return Token{Type: TokenNe, Value: "!="}, 3
		}
	}
	if len(rest) >= 2 {
		if typ, ok := twoRuneOps[string(rest[:2])]; ok {
			return Token{Type: typ, Value: string(rest[:2])}, 2
		}
	}
	if typ, ok := oneRuneOps[rest[0]]; ok {
		return Token{Type: typ, Value: string(rest[0])}, 1
	}
	return Token{}, 0
}

// scanString reads a quoted string starting at runes[0]. Both quote styles
// are accepted; \n, \t, \r and escaped quotes and backslashes are decoded.
// Width counts both quotes.
func scanString(runes []rune) (Token, int, error) {
	quote := runes[0]
	var sb strings.Builder

	for i := 1; i < len(runes); i++ {
		switch runes[i] {
		case quote:
			return Token{Type: TokenString, Value: sb.String()}, i + 1, nil
		case '\\':
			if i+1 >= len(runes) {
				sb.WriteRune('\\')
				continue
			}
			i++
			switch runes[i] {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '\\', '"', '\'':
				sb.WriteRune(runes[i])
			default:
				sb.WriteRune('\\')
				sb.WriteRune(runes[i])
			}
		default:
			sb.WriteRune(runes[i])
		}
	}

	return Token{}, 0, fmt.Errorf("unterminated string")
}

// Parse parses an expression into its AST without evaluating it.
func Parse(input string) (Expression, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok != nil {
		return nil, fmt.Errorf("unexpected trailing token %q", tok.Value)
	}
	return expr, nil
}

type parser struct {
	tokens []Token
	pos    int
}

// peek returns the next token without consuming it, nil at the end.
func (p *parser) peek() *Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parser) next() *Token {
	tok := p.peek()
	if tok != nil {
		p.pos++
	}
	return tok
}

func (p *parser) expect(typ TokenType) (*Token, error) {
	tok := p.peek()
	if tok == nil {
		return nil, fmt.Errorf("unexpected end of expression, expected %s", typ)
	}
	if tok.Type != typ {
		return nil, fmt.Errorf("expected %s, got %s", typ, tok.Type)
	}
	return p.next(), nil
}

func (p *parser) parseExpression() (Expression, error) {
	return p.parseTernary()
}

// parseTernary handles ?:, the loosest construct. Both arms parse as full
// expressions, so chained ternaries nest to the right.
func (p *parser) parseTernary() (Expression, error) {
	condition, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok == nil || tok.Type != TokenQuestion {
		return condition, nil
	}
	p.next()

	trueExpr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	falseExpr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	return &ConditionalExpr{
		Condition: condition,
		TrueExpr:  trueExpr,
		FalseExpr: falseExpr,
	}, nil
}

// binaryPrec orders the binary operators from loosest to tightest. Every
// level folds left to right.
var binaryPrec = map[TokenType]struct {
	op   BinaryOp
	prec int
}{
	TokenOr:      {OpOr, 1},
	TokenAnd:     {OpAnd, 2},
	TokenEq:      {OpEq, 3},
	TokenNe:      {OpNe, 3},
	TokenLt:      {OpLt, 4},
	TokenGt:      {OpGt, 4},
	TokenLe:      {OpLe, 4},
	TokenGe:      {OpGe, 4},
	TokenPlus:    {OpAdd, 5},
	TokenMinus:   {OpSub, 5},
	TokenStar:    {OpMul, 6},
	TokenSlash:   {OpDiv, 6},
	TokenPercent: {OpMod, 6},
}

// parseBinary climbs the precedence table, folding operators at or above
// minPrec around their operands.
func (p *parser) parseBinary(minPrec int) (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok == nil {
			return left, nil
		}
		entry, ok := binaryPrec[tok.Type]
		if !ok || entry.prec < minPrec {
			return left, nil
		}
		p.next()

		right, err := p.parseBinary(entry.prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryOpExpr{Left: left, Op: entry.op, Right: right}
	}
}

func (p *parser) parseUnary() (Expression, error) {
	tok := p.peek()
	if tok == nil || (tok.Type != TokenNot && tok.Type != TokenMinus) {
		return p.parsePostfix()
	}
	p.next()

	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	op := OpNot
	if tok.Type == TokenMinus {
		op = OpNeg
	}
	return &UnaryOpExpr{Op: op, Expr: expr}, nil
}

// parsePostfix folds any chain of .field and [index] accesses onto a primary
// expression. Forbidden names are rejected here when they are spelled out;
// computed index keys are checked again at evaluation time.
func (p *parser) parsePostfix() (Expression, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok == nil {
			return expr, nil
		}

		switch tok.Type {
		case TokenDot:
			p.next()
			field, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			if forbiddenIdentifiers[field.Value] {
				return nil, fmt.Errorf("forbidden token %q", field.Value)
			}
			expr = &DotExpr{Object: expr, Field: field.Value}

		case TokenLBracket:
			p.next()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			if lit, ok := index.(*LiteralExpr); ok {
				if s, ok := lit.Value.(StringValue); ok && forbiddenIdentifiers[s.Val] {
					return nil, fmt.Errorf("forbidden token %q", s.Val)
				}
			}
			expr = &IndexExpr{Object: expr, Index: index}

		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (Expression, error) {
	tok := p.peek()
	if tok == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch tok.Type {
	case TokenNumber:
		p.next()
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number: %s", tok.Value)
		}
		return &LiteralExpr{Value: NumberValue{Val: f}}, nil

	case TokenString:
		p.next()
		return &LiteralExpr{Value: StringValue{Val: tok.Value}}, nil

	case TokenIdent:
		p.next()
		switch tok.Value {
		case "true":
			return &LiteralExpr{Value: BoolValue{Val: true}}, nil
		case "false":
			return &LiteralExpr{Value: BoolValue{Val: false}}, nil
		case "null":
			return &LiteralExpr{Value: NilValue{}}, nil
		}
		if forbiddenIdentifiers[tok.Value] {
			return nil, fmt.Errorf("forbidden token %q", tok.Value)
		}
		return &VariableExpr{Name: tok.Value}, nil

	case TokenLParen:
		p.next()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	case TokenLBracket:
		return p.parseArrayLiteral()

	case TokenLBrace:
		return p.parseObjectLiteral()

	default:
		return nil, fmt.Errorf("unexpected token: %s", tok.Value)
	}
}

func (p *parser) parseArrayLiteral() (Expression, error) {
	if _, err := p.expect(TokenLBracket); err != nil {
		return nil, err
	}

	var elements []Expression
	for {
		tok := p.peek()
		if tok == nil {
			return nil, fmt.Errorf("unterminated array literal")
		}
		if tok.Type == TokenRBracket {
			p.next()
			return &ArrayExpr{Elements: elements}, nil
		}

		element, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)

		tok = p.peek()
		if tok != nil && tok.Type == TokenComma {
			p.next()
			continue
		}
		if tok != nil && tok.Type == TokenRBracket {
			continue
		}
		return nil, fmt.Errorf("expected , or ] in array literal")
	}
}

func (p *parser) parseObjectLiteral() (Expression, error) {
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}

	var keys []string
	var values []Expression
	for {
		tok := p.peek()
		if tok == nil {
			return nil, fmt.Errorf("unterminated object literal")
		}
		if tok.Type == TokenRBrace {
			p.next()
			return &ObjectExpr{Keys: keys, Values: values}, nil
		}

		if tok.Type != TokenIdent && tok.Type != TokenString {
			return nil, fmt.Errorf("expected object key, got %s", tok.Type)
		}
		p.next()
		if forbiddenIdentifiers[tok.Value] {
			return nil, fmt.Errorf("forbidden token %q", tok.Value)
		}
		keys = append(keys, tok.Value)

		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}

		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		values = append(values, value)

		tok = p.peek()
		if tok != nil && tok.Type == TokenComma {
			p.next()
			continue
		}
		if tok != nil && tok.Type == TokenRBrace {
			continue
		}
		return nil, fmt.Errorf("expected , or } in object literal")
	}
}

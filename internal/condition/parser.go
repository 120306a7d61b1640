// Package condition parses the rule condition language into an AST.
//
// The grammar is parsed with a Pratt parser. Binding strength, tightest
// first:
//
//	not, !                 prefix
//	*  /
//	+  -
//	>= <= <  >
//	== !=
//	is, is not             defined | match() | search() | regex() | select() | selectattr()
//	in, not in, contains, not contains
//	and
//	or
//	<<                     assignment to an events./facts. alias
//
// Rulebooks depend on this exact ordering.
package condition

import (
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

const (
	_ int = iota
	LOWEST
	ASSIGNMENT // <<
	LOGICALOR  // or
	LOGICALAND // and
	MEMBERSHIP // in, contains
	IDENTITY   // is, is not
	EQUALS     // == !=
	RELATIONAL // >= <= < >
	SUM        // + -
	PRODUCT    // * /
	PREFIX     // not X
)

var precedences = map[TokenType]int{
	SHL:          ASSIGNMENT,
	OR:           LOGICALOR,
	AND:          LOGICALAND,
	IN:           MEMBERSHIP,
	NOT_IN:       MEMBERSHIP,
	CONTAINS:     MEMBERSHIP,
	NOT_CONTAINS: MEMBERSHIP,
	IS:           IDENTITY,
	IS_NOT:       IDENTITY,
	EQ:           EQUALS,
	NOT_EQ:       EQUALS,
	GTE:          RELATIONAL,
	LTE:          RELATIONAL,
	LT:           RELATIONAL,
	GT:           RELATIONAL,
	PLUS:         SUM,
	MINUS:        SUM,
	STAR:         PRODUCT,
	SLASH:        PRODUCT,
}

// SearchKinds are the tests accepted after `is` that take a pattern.
var SearchKinds = map[string]bool{"match": true, "search": true, "regex": true}

type (
	prefixParseFn func() Expr
	infixParseFn  func(Expr) Expr
)

// Parser is a single-use Pratt parser over one condition.
type Parser struct {
	l     *Lexer
	input string

	curToken  Token
	peekToken Token

	err *ParseError

	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

// Parse parses one condition. The input is NFC-normalized first so that
// visually identical rulebooks produce identical documents.
func Parse(text string) (Expr, error) {
	text = norm.NFC.String(text)
	p := newParser(text)
	expr := p.parseExpression(LOWEST)
	if p.err == nil && !p.peekTokenIs(EOF) {
		p.fail(p.peekToken, fmt.Sprintf("unexpected %s", describe(p.peekToken)))
	}
	if p.err != nil {
		return nil, p.err
	}
	return expr, nil
}

func newParser(input string) *Parser {
	p := &Parser{l: NewLexer(input), input: input}

	p.prefixParseFns = map[TokenType]prefixParseFn{
		IDENT:    p.parseIdentifier,
		INT:      p.parseInteger,
		FLOAT:    p.parseFloat,
		STRING:   p.parseString,
		TRUE:     p.parseBoolean,
		FALSE:    p.parseBoolean,
		NULL:     p.parseNull,
		NOT:      p.parseNegate,
		BANG:     p.parseNegate,
		LPAREN:   p.parseGrouped,
		LBRACKET: p.parseList,
	}

	p.infixParseFns = make(map[TokenType]infixParseFn)
	for _, t := range []TokenType{EQ, NOT_EQ, LT, GT, LTE, GTE, PLUS, MINUS, STAR, SLASH,
		AND, OR, SHL, IN, NOT_IN, CONTAINS, NOT_CONTAINS} {
		p.infixParseFns[t] = p.parseInfix
	}
	p.infixParseFns[IS] = p.parseIs
	p.infixParseFns[IS_NOT] = p.parseIs

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.fail(p.peekToken, fmt.Sprintf("expected %s, got %s", t, describe(p.peekToken)))
	return false
}

// fail records the first error only; later errors are usually cascades.
func (p *Parser) fail(tok Token, msg string) {
	if p.err == nil {
		p.err = &ParseError{Condition: p.input, Message: msg, Pos: tok.Pos}
	}
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.curToken.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) parseExpression(precedence int) Expr {
	if p.curToken.Type == ILLEGAL {
		p.fail(p.curToken, "illegal token "+strconv.Quote(p.curToken.Literal))
		return nil
	}
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.fail(p.curToken, "unexpected "+describe(p.curToken))
		return nil
	}
	left := prefix()

	for p.err == nil && !p.peekTokenIs(EOF) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifier() Expr {
	return Identifier{Path: p.curToken.Literal}
}

func (p *Parser) parseInteger() Expr {
	v, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil {
		p.fail(p.curToken, "invalid integer "+p.curToken.Literal)
		return nil
	}
	return Integer{Value: v}
}

func (p *Parser) parseFloat() Expr {
	v, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.fail(p.curToken, "invalid float "+p.curToken.Literal)
		return nil
	}
	return Float{Value: v}
}

func (p *Parser) parseString() Expr {
	return String{Value: p.curToken.Literal}
}

func (p *Parser) parseBoolean() Expr {
	return Boolean{Value: p.curTokenIs(TRUE)}
}

func (p *Parser) parseNull() Expr {
	return Null{}
}

func (p *Parser) parseNegate() Expr {
	p.nextToken()
	operand := p.parseExpression(PREFIX)
	if operand == nil {
		return nil
	}
	return NegateExpression{Operand: operand}
}

func (p *Parser) parseGrouped() Expr {
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) parseList() Expr {
	list := List{Elements: []Expr{}}
	if p.peekTokenIs(RBRACKET) {
		p.nextToken()
		return list
	}
	p.nextToken()
	for {
		el := p.parseExpression(LOWEST)
		if el == nil {
			return nil
		}
		list.Elements = append(list.Elements, el)
		if !p.peekTokenIs(COMMA) {
			break
		}
		p.nextToken()
		p.nextToken()
	}
	if !p.expectPeek(RBRACKET) {
		return nil
	}
	return list
}

func (p *Parser) parseInfix(left Expr) Expr {
	op := p.curToken
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	if left == nil || right == nil {
		return nil
	}
	return OperatorExpression{Left: left, Operator: op.Literal, Right: right}
}

// parseIs handles `is` / `is not` whose right operand is a test, not a
// general expression.
func (p *Parser) parseIs(left Expr) Expr {
	op := p.curToken.Literal
	if !p.expectPeek(IDENT) {
		return nil
	}
	name := p.curToken

	var right Expr
	switch {
	case name.Literal == "defined":
		right = Identifier{Path: "defined"}
	case SearchKinds[name.Literal]:
		right = p.parseSearch(name.Literal)
	case name.Literal == "select":
		right = p.parseSelect()
	case name.Literal == "selectattr":
		right = p.parseSelectattr()
	default:
		p.fail(name, fmt.Sprintf("unknown test %q after %s", name.Literal, op))
		return nil
	}
	if left == nil || right == nil {
		return nil
	}
	return OperatorExpression{Left: left, Operator: op, Right: right}
}

// parseSearch parses match("pattern", ignorecase=true, ...).
func (p *Parser) parseSearch(kind string) Expr {
	if !p.expectPeek(LPAREN) || !p.expectPeek(STRING) {
		return nil
	}
	st := SearchType{Kind: kind, Pattern: String{Value: p.curToken.Literal}}
	for p.peekTokenIs(COMMA) {
		p.nextToken()
		if !p.expectPeek(IDENT) {
			return nil
		}
		name := p.curToken.Literal
		if !p.expectPeek(ASSIGN) {
			return nil
		}
		p.nextToken()
		value := p.parseExpression(LOWEST)
		if value == nil {
			return nil
		}
		st.Options = append(st.Options, KeywordValue{Name: name, Value: value})
	}
	if !p.expectPeek(RPAREN) {
		return nil
	}
	return st
}

// parseSelect parses select('>=', 10).
func (p *Parser) parseSelect() Expr {
	if !p.expectPeek(LPAREN) || !p.expectPeek(STRING) {
		return nil
	}
	st := SelectType{Operator: String{Value: p.curToken.Literal}}
	if !p.expectPeek(COMMA) {
		return nil
	}
	p.nextToken()
	st.Value = p.parseExpression(LOWEST)
	if st.Value == nil || !p.expectPeek(RPAREN) {
		return nil
	}
	return st
}

// parseSelectattr parses selectattr('person.age', '>', 30).
func (p *Parser) parseSelectattr() Expr {
	if !p.expectPeek(LPAREN) || !p.expectPeek(STRING) {
		return nil
	}
	st := SelectattrType{Key: String{Value: p.curToken.Literal}}
	if !p.expectPeek(COMMA) || !p.expectPeek(STRING) {
		return nil
	}
	st.Operator = String{Value: p.curToken.Literal}
	if !p.expectPeek(COMMA) {
		return nil
	}
	p.nextToken()
	st.Value = p.parseExpression(LOWEST)
	if st.Value == nil || !p.expectPeek(RPAREN) {
		return nil
	}
	return st
}

func describe(tok Token) string {
	switch tok.Type {
	case EOF:
		return "end of condition"
	case IDENT, INT, FLOAT:
		return strconv.Quote(tok.Literal)
	case STRING:
		return "string " + strconv.Quote(tok.Literal)
	case ILLEGAL:
		return "illegal token " + strconv.Quote(tok.Literal)
	}
	return strconv.Quote(tok.Type.String())
}

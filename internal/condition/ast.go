package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a node of the condition AST.
//
// The set of implementations is closed: only the types in this file satisfy
// Expr, so a type switch over them in the compiler is exhaustive.
type Expr interface {
	String() string
	exprNode()
}

// Integer is a signed decimal literal.
type Integer struct{ Value int64 }

// Float is a decimal literal with a fractional part.
type Float struct{ Value float64 }

// String is a quoted literal. It is template-rendered at lowering time.
type String struct{ Value string }

// Boolean is a case-insensitive true/false literal.
type Boolean struct{ Value bool }

// Null is the null literal.
type Null struct{}

// Identifier is a dotted path such as event.payload.host.
type Identifier struct{ Path string }

// List is a bracketed list literal used with in / contains.
type List struct{ Elements []Expr }

// OperatorExpression is a binary expression. Operator is the source text
// of the operator ("==", "and", "not in", "is not", ...).
type OperatorExpression struct {
	Left     Expr
	Operator string
	Right    Expr
}

// NegateExpression is a logical not.
type NegateExpression struct{ Operand Expr }

// KeywordValue is a name=value option of a search test.
type KeywordValue struct {
	Name  string
	Value Expr
}

// SearchType is the right operand of `is match(...)`, `is search(...)`
// and `is regex(...)`.
type SearchType struct {
	Kind    string
	Pattern String
	Options []KeywordValue
}

// SelectType is the right operand of `is select(operator, value)`.
type SelectType struct {
	Operator String
	Value    Expr
}

// SelectattrType is the right operand of
// `is selectattr(key, operator, value)`.
type SelectattrType struct {
	Key      String
	Operator String
	Value    Expr
}

func (Integer) exprNode()            {}
func (Float) exprNode()              {}
func (String) exprNode()             {}
func (Boolean) exprNode()            {}
func (Null) exprNode()               {}
func (Identifier) exprNode()         {}
func (List) exprNode()               {}
func (OperatorExpression) exprNode() {}
func (NegateExpression) exprNode()   {}
func (KeywordValue) exprNode()       {}
func (SearchType) exprNode()         {}
func (SelectType) exprNode()         {}
func (SelectattrType) exprNode()     {}

func (e Integer) String() string { return strconv.FormatInt(e.Value, 10) }
func (e Float) String() string   { return strconv.FormatFloat(e.Value, 'g', -1, 64) }
func (e String) String() string  { return strconv.Quote(e.Value) }
func (e Boolean) String() string { return strconv.FormatBool(e.Value) }
func (Null) String() string      { return "null" }

func (e Identifier) String() string { return e.Path }

func (e List) String() string {
	parts := make([]string, len(e.Elements))
	for i, el := range e.Elements {
		parts[i] = el.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// String renders the expression fully parenthesized, which makes the parsed
// associativity visible in tests.
func (e OperatorExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Operator, e.Right)
}

func (e NegateExpression) String() string { return "(not " + e.Operand.String() + ")" }

func (e KeywordValue) String() string { return e.Name + "=" + e.Value.String() }

func (e SearchType) String() string {
	args := []string{e.Pattern.String()}
	for _, o := range e.Options {
		args = append(args, o.String())
	}
	return e.Kind + "(" + strings.Join(args, ", ") + ")"
}

func (e SelectType) String() string {
	return fmt.Sprintf("select(%s, %s)", e.Operator, e.Value)
}

func (e SelectattrType) String() string {
	return fmt.Sprintf("selectattr(%s, %s, %s)", e.Key, e.Operator, e.Value)
}

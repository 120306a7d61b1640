package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a and b or c", "((a and b) or c)"},
		{"a or b and c", "(a or (b and c))"},
		{"event.a == 1 and event.b == 2", "((event.a == 1) and (event.b == 2))"},
		{"event.a + 1 * 2 == 3", "((event.a + (1 * 2)) == 3)"},
		{"event.a > 1 == true", "((event.a > 1) == true)"},
		{"event.a >= 1 != event.b <= 2", "((event.a >= 1) != (event.b <= 2))"},
		{"event.a - 1 - 2 > 0", "(((event.a - 1) - 2) > 0)"},
		{"not event.a and event.b", "((not event.a) and event.b)"},
		{"event.a is defined and event.b is not defined", "((event.a is defined) and (event.b is not defined))"},
		{"event.x in [1, 2] and event.y == 1", "((event.x in [1, 2]) and (event.y == 1))"},
		{"events.first << event.i == 1", "(events.first << (event.i == 1))"},
		{"(a or b) and c", "((a or b) and c)"},
		{"event.i == -5", "(event.i == -5)"},
		{"event.i-5 > 0", "((event.i - 5) > 0)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expr, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.String())
		})
	}
}

func TestParse_Literals(t *testing.T) {
	tests := []struct {
		input string
		want  Expr
	}{
		{"42", Integer{Value: 42}},
		{"-7", Integer{Value: -7}},
		{"3.5", Float{Value: 3.5}},
		{`"hello"`, String{Value: "hello"}},
		{`'single'`, String{Value: "single"}},
		{`"esc\"aped"`, String{Value: `esc"aped`}},
		{"True", Boolean{Value: true}},
		{"FALSE", Boolean{Value: false}},
		{"null", Null{}},
		{"fact.host_name", Identifier{Path: "fact.host_name"}},
		{"[]", List{Elements: []Expr{}}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expr, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr)
		})
	}
}

func TestParse_MultiWordOperators(t *testing.T) {
	tests := []struct {
		input string
		op    string
	}{
		{"event.x not in [1]", "not in"},
		{"event.x not contains 1", "not contains"},
		{"event.x contains 1", "contains"},
		{"event.x in [1]", "in"},
		{"event.x is not defined", "is not"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expr, err := Parse(tt.input)
			require.NoError(t, err)
			op, ok := expr.(OperatorExpression)
			require.True(t, ok, "expected OperatorExpression, got %T", expr)
			assert.Equal(t, tt.op, op.Operator)
		})
	}
}

func TestParse_SearchTest(t *testing.T) {
	expr, err := Parse(`event.url is match("https://example.com/*", ignorecase=true)`)
	require.NoError(t, err)

	op := expr.(OperatorExpression)
	assert.Equal(t, "is", op.Operator)
	assert.Equal(t, Identifier{Path: "event.url"}, op.Left)
	assert.Equal(t, SearchType{
		Kind:    "match",
		Pattern: String{Value: "https://example.com/*"},
		Options: []KeywordValue{{Name: "ignorecase", Value: Boolean{Value: true}}},
	}, op.Right)
}

func TestParse_SelectTests(t *testing.T) {
	expr, err := Parse(`event.levels is not select('>=', 10)`)
	require.NoError(t, err)
	op := expr.(OperatorExpression)
	assert.Equal(t, "is not", op.Operator)
	assert.Equal(t, SelectType{Operator: String{Value: ">="}, Value: Integer{Value: 10}}, op.Right)

	expr, err = Parse(`event.people is selectattr('person.age', '>', 30)`)
	require.NoError(t, err)
	op = expr.(OperatorExpression)
	assert.Equal(t, SelectattrType{
		Key:      String{Value: "person.age"},
		Operator: String{Value: ">"},
		Value:    Integer{Value: 30},
	}, op.Right)
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"",
		"(event.a == 1",
		"event.a == 1)",
		"event.a === 1",
		"event.a ~ 1",
		`event.a == "unterminated`,
		"event.a is frobbed",
		"event.a is match(1)",
		"event.a and",
		"[1, 2",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.True(t, IsParseError(err), "expected ParseError, got %T", err)
		})
	}
}

func TestParse_NormalizesUnicode(t *testing.T) {
	decomposed, err := Parse("event.name == \"e\u0301\"")
	require.NoError(t, err)
	composed, err := Parse("event.name == \"\u00e9\"")
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

package condition

// TokenType identifies a lexical token of the condition language.
type TokenType int

// Token types.
const (
	ILLEGAL TokenType = iota
	EOF

	IDENT  // event.payload.x, defined, match
	INT    // 42, -7
	FLOAT  // 3.14
	STRING // "x" or 'x'

	EQ     // ==
	NOT_EQ // !=
	LT     // <
	GT     // >
	LTE    // <=
	GTE    // >=
	PLUS   // +
	MINUS  // -
	STAR   // *
	SLASH  // /
	SHL    // <<
	BANG   // !
	ASSIGN // = (keyword arguments only)

	COMMA
	LPAREN
	RPAREN
	LBRACKET
	RBRACKET

	AND
	OR
	NOT
	IN
	NOT_IN
	CONTAINS
	NOT_CONTAINS
	IS
	IS_NOT
	TRUE
	FALSE
	NULL
)

// Token is a single lexical token with its byte offset in the input.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

var tokenNames = map[TokenType]string{
	ILLEGAL:      "ILLEGAL",
	EOF:          "EOF",
	IDENT:        "IDENT",
	INT:          "INT",
	FLOAT:        "FLOAT",
	STRING:       "STRING",
	EQ:           "==",
	NOT_EQ:       "!=",
	LT:           "<",
	GT:           ">",
	LTE:          "<=",
	GTE:          ">=",
	PLUS:         "+",
	MINUS:        "-",
	STAR:         "*",
	SLASH:        "/",
	SHL:          "<<",
	BANG:         "!",
	ASSIGN:       "=",
	COMMA:        ",",
	LPAREN:       "(",
	RPAREN:       ")",
	LBRACKET:     "[",
	RBRACKET:     "]",
	AND:          "and",
	OR:           "or",
	NOT:          "not",
	IN:           "in",
	NOT_IN:       "not in",
	CONTAINS:     "contains",
	NOT_CONTAINS: "not contains",
	IS:           "is",
	IS_NOT:       "is not",
	TRUE:         "true",
	FALSE:        "false",
	NULL:         "null",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// keywords are matched exactly, except booleans which are case-insensitive.
var keywords = map[string]TokenType{
	"and":      AND,
	"or":       OR,
	"not":      NOT,
	"in":       IN,
	"contains": CONTAINS,
	"is":       IS,
	"null":     NULL,
	"None":     NULL,
}

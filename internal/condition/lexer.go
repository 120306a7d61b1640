package condition

import (
	"strings"
)

// Lexer splits condition text into tokens.
//
// Multi-word operators ("not in", "not contains", "is not") are folded into
// a single token here so the parser only needs one token of lookahead.
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	last         TokenType
}

// NewLexer creates a lexer over input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, last: ILLEGAL}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// NextToken returns the next token, or EOF at end of input.
func (l *Lexer) NextToken() Token {
	tok := l.nextToken()
	l.last = tok.Type
	return tok
}

func (l *Lexer) nextToken() Token {
	l.skipWhitespace()
	pos := l.position

	switch l.ch {
	case 0:
		return Token{Type: EOF, Pos: pos}
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return Token{Type: EQ, Literal: "==", Pos: pos}
		}
		l.readChar()
		return Token{Type: ASSIGN, Literal: "=", Pos: pos}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return Token{Type: NOT_EQ, Literal: "!=", Pos: pos}
		}
		l.readChar()
		return Token{Type: BANG, Literal: "!", Pos: pos}
	case '<':
		switch l.peekChar() {
		case '=':
			l.readChar()
			l.readChar()
			return Token{Type: LTE, Literal: "<=", Pos: pos}
		case '<':
			l.readChar()
			l.readChar()
			return Token{Type: SHL, Literal: "<<", Pos: pos}
		}
		l.readChar()
		return Token{Type: LT, Literal: "<", Pos: pos}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return Token{Type: GTE, Literal: ">=", Pos: pos}
		}
		l.readChar()
		return Token{Type: GT, Literal: ">", Pos: pos}
	case '-':
		if isDigit(l.peekChar()) && !l.afterOperand() {
			l.readChar()
			typ, lit := l.readNumber()
			return Token{Type: typ, Literal: "-" + lit, Pos: pos}
		}
		l.readChar()
		return Token{Type: MINUS, Literal: "-", Pos: pos}
	case '+':
		l.readChar()
		return Token{Type: PLUS, Literal: "+", Pos: pos}
	case '*':
		l.readChar()
		return Token{Type: STAR, Literal: "*", Pos: pos}
	case '/':
		l.readChar()
		return Token{Type: SLASH, Literal: "/", Pos: pos}
	case ',':
		l.readChar()
		return Token{Type: COMMA, Literal: ",", Pos: pos}
	case '(':
		l.readChar()
		return Token{Type: LPAREN, Literal: "(", Pos: pos}
	case ')':
		l.readChar()
		return Token{Type: RPAREN, Literal: ")", Pos: pos}
	case '[':
		l.readChar()
		return Token{Type: LBRACKET, Literal: "[", Pos: pos}
	case ']':
		l.readChar()
		return Token{Type: RBRACKET, Literal: "]", Pos: pos}
	case '"', '\'':
		lit, ok := l.readString(l.ch)
		if !ok {
			return Token{Type: ILLEGAL, Literal: "unterminated string", Pos: pos}
		}
		return Token{Type: STRING, Literal: lit, Pos: pos}
	}

	if isLetter(l.ch) {
		word := l.readIdentifier()
		return l.classifyWord(word, pos)
	}
	if isDigit(l.ch) {
		typ, lit := l.readNumber()
		return Token{Type: typ, Literal: lit, Pos: pos}
	}

	ch := l.ch
	l.readChar()
	return Token{Type: ILLEGAL, Literal: string(ch), Pos: pos}
}

// afterOperand reports whether the previous token ends an operand, in which
// case a following '-' is subtraction rather than a sign.
func (l *Lexer) afterOperand() bool {
	switch l.last {
	case IDENT, INT, FLOAT, STRING, RPAREN, RBRACKET, TRUE, FALSE, NULL:
		return true
	}
	return false
}

func (l *Lexer) classifyWord(word string, pos int) Token {
	switch strings.ToLower(word) {
	case "true":
		return Token{Type: TRUE, Literal: word, Pos: pos}
	case "false":
		return Token{Type: FALSE, Literal: word, Pos: pos}
	}

	typ, ok := keywords[word]
	if !ok {
		return Token{Type: IDENT, Literal: word, Pos: pos}
	}

	switch typ {
	case NOT:
		if l.acceptWord("in") {
			return Token{Type: NOT_IN, Literal: "not in", Pos: pos}
		}
		if l.acceptWord("contains") {
			return Token{Type: NOT_CONTAINS, Literal: "not contains", Pos: pos}
		}
	case IS:
		if l.acceptWord("not") {
			return Token{Type: IS_NOT, Literal: "is not", Pos: pos}
		}
	}
	return Token{Type: typ, Literal: word, Pos: pos}
}

// acceptWord consumes the next whitespace-separated word if it equals want.
func (l *Lexer) acceptWord(want string) bool {
	i := l.position
	for i < len(l.input) && isSpace(l.input[i]) {
		i++
	}
	if i == l.position {
		return false
	}
	end := i + len(want)
	if end > len(l.input) || l.input[i:end] != want {
		return false
	}
	if end < len(l.input) && isIdentChar(l.input[end]) {
		return false
	}
	for l.position < end {
		l.readChar()
	}
	return true
}

// readIdentifier reads a dotted path: segments of [A-Za-z_][A-Za-z0-9_]*.
func (l *Lexer) readIdentifier() string {
	start := l.position
	for {
		for isIdentChar(l.ch) {
			l.readChar()
		}
		if l.ch == '.' && isLetter(l.peekChar()) {
			l.readChar()
			continue
		}
		break
	}
	return l.input[start:l.position]
}

func (l *Lexer) readNumber() (TokenType, string) {
	start := l.position
	typ := INT
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		typ = FLOAT
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return typ, l.input[start:l.position]
}

func (l *Lexer) readString(quote byte) (string, bool) {
	var sb strings.Builder
	l.readChar() // opening quote
	for {
		switch l.ch {
		case 0:
			return "", false
		case quote:
			l.readChar()
			return sb.String(), true
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 0:
				return "", false
			default:
				sb.WriteByte(l.ch)
			}
		default:
			sb.WriteByte(l.ch)
		}
		l.readChar()
	}
}

func (l *Lexer) skipWhitespace() {
	for isSpace(l.ch) {
		l.readChar()
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isIdentChar(ch byte) bool {
	return isLetter(ch) || isDigit(ch)
}

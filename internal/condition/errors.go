package condition

import (
	"errors"
	"fmt"
)

// ParseError reports malformed condition text.
type ParseError struct {
	// Condition is the text that failed to parse.
	Condition string
	// Message describes the first problem found.
	Message string
	// Pos is the byte offset of the offending token.
	Pos int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition parsing error at offset %d in %q: %s", e.Pos, e.Condition, e.Message)
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

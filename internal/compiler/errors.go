package compiler

import (
	"errors"
	"fmt"
)

// Compile error codes.
const (
	ErrCodeVarsKeyMissing      = "VARS_KEY_MISSING"
	ErrCodeInvalidAssignment   = "INVALID_ASSIGNMENT"
	ErrCodeInvalidIdentifier   = "INVALID_IDENTIFIER"
	ErrCodeSelectOperator      = "SELECT_OPERATOR"
	ErrCodeSelectattrOperator  = "SELECTATTR_OPERATOR"
	ErrCodeUnsupportedOperator = "UNSUPPORTED_OPERATOR"
	ErrCodeUnsupportedValue    = "UNSUPPORTED_VALUE"
	ErrCodeTemplate            = "TEMPLATE"
	ErrCodeInvalidPattern      = "INVALID_PATTERN"
)

// CompileError represents an error lowering a condition or ruleset.
type CompileError struct {
	Code    string
	Field   string // offending identifier, operator or rule
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is (or wraps) a CompileError with code.
func HasCode(err error, code string) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

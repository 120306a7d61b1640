package rulebook

import (
	"errors"
	"fmt"
)

// AssemblyErrorCode categorizes rulebook errors.
type AssemblyErrorCode string

const (
	ErrCodeRulesetNameEmpty     AssemblyErrorCode = "RULESET_NAME_EMPTY"
	ErrCodeRulesetNameDuplicate AssemblyErrorCode = "RULESET_NAME_DUPLICATE"
	ErrCodeRuleNameEmpty        AssemblyErrorCode = "RULE_NAME_EMPTY"
	ErrCodeRuleNameDuplicate    AssemblyErrorCode = "RULE_NAME_DUPLICATE"
	ErrCodeInvalidCondition     AssemblyErrorCode = "INVALID_CONDITION"
	ErrCodeInvalidAction        AssemblyErrorCode = "INVALID_ACTION"
	ErrCodeInvalidThrottle      AssemblyErrorCode = "INVALID_THROTTLE"
	ErrCodeInvalidSource        AssemblyErrorCode = "INVALID_SOURCE"
	ErrCodeInvalidRuleset       AssemblyErrorCode = "INVALID_RULESET"
	ErrCodeSchema               AssemblyErrorCode = "SCHEMA"
	ErrCodeTemplate             AssemblyErrorCode = "TEMPLATE"
)

// AssemblyError reports an invalid rulebook.
type AssemblyError struct {
	Code    AssemblyErrorCode
	Ruleset string
	Rule    string
	Message string
	Err     error
}

func (e *AssemblyError) Error() string {
	where := ""
	switch {
	case e.Ruleset != "" && e.Rule != "":
		where = fmt.Sprintf(" (ruleset=%s, rule=%s)", e.Ruleset, e.Rule)
	case e.Ruleset != "":
		where = fmt.Sprintf(" (ruleset=%s)", e.Ruleset)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s%s: %v", e.Code, e.Message, where, e.Err)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, e.Message, where)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is (or wraps) an AssemblyError with code.
func HasCode(err error, code AssemblyErrorCode) bool {
	var ae *AssemblyError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/rulebook/internal/condition"
	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/template"
)

// OperatorMnemonic maps binary operators to document node kinds.
var OperatorMnemonic = map[string]string{
	"!=":           "NotEqualsExpression",
	"==":           "EqualsExpression",
	"and":          "AndExpression",
	"or":           "OrExpression",
	">":            "GreaterThanExpression",
	"<":            "LessThanExpression",
	">=":           "GreaterThanOrEqualToExpression",
	"<=":           "LessThanOrEqualToExpression",
	"+":            "AdditionExpression",
	"-":            "SubtractionExpression",
	"*":            "MultiplicationExpression",
	"/":            "DivisionExpression",
	"<<":           "AssignmentExpression",
	"in":           "ItemInListExpression",
	"not in":       "ItemNotInListExpression",
	"contains":     "ListContainsItemExpression",
	"not contains": "ListNotContainsItemExpression",
}

// SelectOperators are the operators accepted by select and selectattr.
var SelectOperators = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"regex": true, "search": true, "match": true,
	"in": true, "not in": true, "contains": true, "not contains": true,
}

// identifierPrefixes maps the first path segment to its node kind.
var identifierPrefixes = map[string]string{
	"fact":   "Fact",
	"facts":  "Facts",
	"event":  "Event",
	"events": "Events",
}

// Lower converts one condition expression into its document node.
func Lower(e condition.Expr, vars map[string]any) (any, error) {
	switch n := e.(type) {
	case condition.Integer:
		return ir.Tag("Integer", n.Value), nil
	case condition.Float:
		return ir.Tag("Float", n.Value), nil
	case condition.String:
		s, err := template.RenderString(n.Value, vars)
		if err != nil {
			return nil, &CompileError{Code: ErrCodeTemplate, Field: n.Value, Message: "cannot render string", Err: err}
		}
		return ir.Tag("String", s), nil
	case condition.Boolean:
		return ir.Tag("Boolean", n.Value), nil
	case condition.Null:
		return ir.Tag("NullType", nil), nil
	case condition.Identifier:
		return lowerIdentifier(n, vars)
	case condition.List:
		items := make([]any, len(n.Elements))
		for i, el := range n.Elements {
			v, err := Lower(el, vars)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case condition.NegateExpression:
		v, err := Lower(n.Operand, vars)
		if err != nil {
			return nil, err
		}
		return ir.Tag("NegateExpression", v), nil
	case condition.OperatorExpression:
		return lowerOperator(n, vars)
	case condition.KeywordValue:
		v, err := Lower(n.Value, vars)
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": ir.Tag("String", n.Name), "value": v}, nil
	case condition.SearchType, condition.SelectType, condition.SelectattrType:
		return nil, &CompileError{Code: ErrCodeUnsupportedOperator, Field: e.String(), Message: "test is only valid after is / is not"}
	default:
		return nil, &CompileError{Code: ErrCodeUnsupportedOperator, Field: fmt.Sprintf("%T", e), Message: "unknown expression"}
	}
}

func lowerIdentifier(n condition.Identifier, vars map[string]any) (any, error) {
	head, rest, _ := strings.Cut(n.Path, ".")
	if head == "vars" {
		if rest == "" {
			return nil, &CompileError{Code: ErrCodeInvalidIdentifier, Field: n.Path, Message: "vars needs a key"}
		}
		v, ok := ir.Lookup(vars, rest)
		if !ok {
			return nil, &CompileError{Code: ErrCodeVarsKeyMissing, Field: n.Path, Message: fmt.Sprintf("variable %q is not defined", rest)}
		}
		return LowerValue(v, vars)
	}

	kind, ok := identifierPrefixes[head]
	if !ok || rest == "" {
		return nil, &CompileError{Code: ErrCodeInvalidIdentifier, Field: n.Path,
			Message: "identifier must start with fact., facts., event., events. or vars."}
	}
	return ir.Tag(kind, rest), nil
}

// LowerValue converts a resolved variable into literal nodes. Strings are
// rendered against vars like string literals.
func LowerValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case nil:
		return ir.Tag("NullType", nil), nil
	case bool:
		return ir.Tag("Boolean", val), nil
	case string:
		rendered, err := template.RenderString(val, vars)
		if err != nil {
			return nil, &CompileError{Code: ErrCodeTemplate, Field: val, Message: "cannot render variable", Err: err}
		}
		return ir.Tag("String", rendered), nil
	case int:
		return ir.Tag("Integer", int64(val)), nil
	case int64:
		return ir.Tag("Integer", val), nil
	case float64:
		return ir.Tag("Float", val), nil
	case []any:
		items := make([]any, len(val))
		for i, el := range val {
			lv, err := LowerValue(el, vars)
			if err != nil {
				return nil, err
			}
			items[i] = lv
		}
		return items, nil
	default:
		return nil, &CompileError{Code: ErrCodeUnsupportedValue, Field: fmt.Sprintf("%v", v),
			Message: fmt.Sprintf("variables of type %T cannot be used in conditions", v)}
	}
}

func lowerOperator(n condition.OperatorExpression, vars map[string]any) (any, error) {
	switch n.Operator {
	case "is", "is not":
		return lowerIs(n, vars)
	case "<<":
		return lowerAssignment(n, vars)
	}

	kind, ok := OperatorMnemonic[n.Operator]
	if !ok {
		return nil, &CompileError{Code: ErrCodeUnsupportedOperator, Field: n.Operator, Message: "unsupported operator"}
	}
	lhs, err := Lower(n.Left, vars)
	if err != nil {
		return nil, err
	}
	rhs, err := Lower(n.Right, vars)
	if err != nil {
		return nil, err
	}
	return ir.Binary(kind, lhs, rhs), nil
}

// lowerAssignment checks statically that the target is events.<alias> or
// facts.<alias>.
func lowerAssignment(n condition.OperatorExpression, vars map[string]any) (any, error) {
	target, ok := n.Left.(condition.Identifier)
	if !ok {
		return nil, &CompileError{Code: ErrCodeInvalidAssignment, Field: n.Left.String(),
			Message: "assignment target must be events.<alias> or facts.<alias>"}
	}
	parts := strings.Split(target.Path, ".")
	if len(parts) != 2 || (parts[0] != "events" && parts[0] != "facts") {
		return nil, &CompileError{Code: ErrCodeInvalidAssignment, Field: target.Path,
			Message: "assignment target must be events.<alias> or facts.<alias>"}
	}

	rhs, err := Lower(n.Right, vars)
	if err != nil {
		return nil, err
	}
	return ir.Binary("AssignmentExpression", ir.Tag(identifierPrefixes[parts[0]], parts[1]), rhs), nil
}

func lowerIs(n condition.OperatorExpression, vars map[string]any) (any, error) {
	negated := n.Operator == "is not"
	lhs, err := Lower(n.Left, vars)
	if err != nil {
		return nil, err
	}

	switch right := n.Right.(type) {
	case condition.Identifier:
		if right.Path != "defined" {
			break
		}
		if negated {
			return ir.Tag("IsNotDefinedExpression", lhs), nil
		}
		return ir.Tag("IsDefinedExpression", lhs), nil

	case condition.SearchType:
		pattern, err := Lower(right.Pattern, vars)
		if err != nil {
			return nil, err
		}
		options := make([]any, 0, len(right.Options))
		flags := ""
		for _, o := range right.Options {
			lo, err := Lower(o, vars)
			if err != nil {
				return nil, err
			}
			options = append(options, lo)
			if b, ok := o.Value.(condition.Boolean); ok && b.Value {
				switch o.Name {
				case "ignorecase":
					flags += "i"
				case "multiline":
					flags += "m"
				}
			}
		}
		if err := checkPattern(right.Kind, pattern, flags); err != nil {
			return nil, err
		}
		search := ir.Tag("SearchType", map[string]any{
			"kind":    ir.Tag("String", right.Kind),
			"pattern": pattern,
			"options": options,
		})
		kind := "SearchMatchesExpression"
		if negated {
			kind = "SearchNotMatchesExpression"
		}
		return ir.Binary(kind, lhs, search), nil

	case condition.SelectType:
		if !SelectOperators[right.Operator.Value] {
			return nil, &CompileError{Code: ErrCodeSelectOperator, Field: right.Operator.Value, Message: "invalid select operator"}
		}
		value, err := Lower(right.Value, vars)
		if err != nil {
			return nil, err
		}
		if err := checkPattern(right.Operator.Value, value, ""); err != nil {
			return nil, err
		}
		kind := "SelectExpression"
		if negated {
			kind = "SelectNotExpression"
		}
		return ir.Binary(kind, lhs, map[string]any{
			"operator": ir.Tag("String", right.Operator.Value),
			"value":    value,
		}), nil

	case condition.SelectattrType:
		if !SelectOperators[right.Operator.Value] {
			return nil, &CompileError{Code: ErrCodeSelectattrOperator, Field: right.Operator.Value, Message: "invalid selectattr operator"}
		}
		value, err := Lower(right.Value, vars)
		if err != nil {
			return nil, err
		}
		if err := checkPattern(right.Operator.Value, value, ""); err != nil {
			return nil, err
		}
		kind := "SelectAttrExpression"
		if negated {
			kind = "SelectAttrNotExpression"
		}
		return ir.Binary(kind, lhs, map[string]any{
			"key":      ir.Tag("String", right.Key.Value),
			"operator": ir.Tag("String", right.Operator.Value),
			"value":    value,
		}), nil
	}

	return nil, &CompileError{Code: ErrCodeUnsupportedOperator, Field: n.String(), Message: "unsupported test after " + n.Operator}
}

// checkPattern compiles a literal pattern of a regex, search or match test
// so a malformed expression fails before any event is posted. Other
// operators and non-string values are left alone.
func checkPattern(mode string, node any, flags string) error {
	switch mode {
	case "regex", "search", "match":
	default:
		return nil
	}
	kind, payload, ok := ir.Kind(node)
	if !ok || kind != "String" {
		return nil
	}
	pattern, _ := payload.(string)
	if _, err := regexp.Compile(ir.PatternExpr(mode, pattern, flags)); err != nil {
		return &CompileError{Code: ErrCodeInvalidPattern, Field: pattern, Message: "invalid " + mode + " pattern", Err: err}
	}
	return nil
}

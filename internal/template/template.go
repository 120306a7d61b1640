// Package template renders `{{ path }}` references in rulebook strings
// against a variable context.
//
// Only variable references are supported, which is all rulebooks use in
// names, source arguments and action arguments. A reference that cannot be
// resolved is an error, never an empty string. A string consisting of a
// single reference renders to the referenced value itself, so
// "{{ event.payload }}" yields a map rather than its text form.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/rulebook/internal/ir"
)

// UndefinedError reports a reference to a variable that does not exist.
type UndefinedError struct {
	Name string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("'%s' is undefined", e.Name)
}

// IsUndefined reports whether err is (or wraps) an UndefinedError.
func IsUndefined(err error) bool {
	var ue *UndefinedError
	return errors.As(err, &ue)
}

// SyntaxError reports a malformed template.
type SyntaxError struct {
	Template string
	Message  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template %q: %s", e.Template, e.Message)
}

// Render substitutes references in value. Maps and lists are rendered
// recursively; other values are returned unchanged.
func Render(value any, vars map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return renderString(v, vars, true)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			r, err := Render(elem, vars)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			r, err := Render(elem, vars)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderString renders s and always returns text.
func RenderString(s string, vars map[string]any) (string, error) {
	v, err := renderString(s, vars, false)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RenderMap renders every value of m.
func RenderMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	v, err := Render(m, vars)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func renderString(s string, vars map[string]any, native bool) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var sb strings.Builder
	rest := s
	segments := 0
	var only any
	literal := false

	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if strings.TrimSpace(rest) != "" {
				literal = true
			}
			sb.WriteString(rest)
			break
		}
		if strings.TrimSpace(rest[:open]) != "" {
			literal = true
		}
		sb.WriteString(rest[:open])

		end := strings.Index(rest[open:], "}}")
		if end < 0 {
			return nil, &SyntaxError{Template: s, Message: "unclosed '{{'"}
		}
		expr := strings.TrimSpace(rest[open+2 : open+end])
		if expr == "" {
			return nil, &SyntaxError{Template: s, Message: "empty expression"}
		}

		val, err := Eval(expr, vars)
		if err != nil {
			return nil, err
		}
		segments++
		only = val
		sb.WriteString(toText(val))
		rest = rest[open+end+2:]
	}

	if native && segments == 1 && !literal {
		return only, nil
	}
	return sb.String(), nil
}

// Eval evaluates one expression: a dotted variable path, optionally with
// [n] or ['key'] subscripts, or a quoted/numeric literal.
func Eval(expr string, vars map[string]any) (any, error) {
	if lit, ok := parseLiteral(expr); ok {
		return lit, nil
	}
	v, ok := Lookup(vars, expr)
	if !ok {
		return nil, &UndefinedError{Name: expr}
	}
	return v, nil
}

func parseLiteral(expr string) (any, bool) {
	if len(expr) >= 2 && (expr[0] == '"' || expr[0] == '\'') && expr[len(expr)-1] == expr[0] {
		return expr[1 : len(expr)-1], true
	}
	if i, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return f, true
	}
	switch expr {
	case "true", "True":
		return true, true
	case "false", "False":
		return false, true
	}
	return nil, false
}

// Lookup resolves a dotted path against vars.
func Lookup(vars map[string]any, path string) (any, bool) {
	return ir.Lookup(vars, path)
}

func toText(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

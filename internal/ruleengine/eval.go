package ruleengine

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/roach88/rulebook/internal/ir"
)

// undefined is the value of a path that does not resolve. Every comparison
// with it is false; only the is-defined tests observe it.
type undefined struct{}

// scope is what identifiers resolve against while evaluating one
// condition: the candidate item and the aliases bound so far by the rule.
type scope struct {
	current  map[string]any
	bindings map[string]map[string]any
}

// evaluator caches compiled search patterns for one session.
type evaluator struct {
	patterns map[string]*regexp.Regexp
}

func newEvaluator() *evaluator {
	return &evaluator{patterns: make(map[string]*regexp.Regexp)}
}

func (ev *evaluator) truthy(node any, sc scope) (bool, error) {
	v, err := ev.eval(node, sc)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (ev *evaluator) eval(node any, sc scope) (any, error) {
	if list, ok := node.([]any); ok {
		out := make([]any, len(list))
		for i, el := range list {
			v, err := ev.eval(el, sc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	kind, payload, ok := ir.Kind(node)
	if !ok {
		return nil, fmt.Errorf("malformed node %v", node)
	}

	switch kind {
	case "Integer", "Float", "String", "Boolean":
		return payload, nil
	case "NullType":
		return nil, nil
	case "Event", "Fact":
		return resolve(sc.current, payload), nil
	case "Events", "Facts":
		path, _ := payload.(string)
		alias, rest, _ := strings.Cut(path, ".")
		bound, ok := sc.bindings[alias]
		if !ok {
			return undefined{}, nil
		}
		if rest == "" {
			return bound, nil
		}
		return resolve(bound, rest), nil
	case "IsDefinedExpression", "IsNotDefinedExpression":
		v, err := ev.eval(payload, sc)
		if err != nil {
			return nil, err
		}
		_, missing := v.(undefined)
		return missing == (kind == "IsNotDefinedExpression"), nil
	case "NegateExpression":
		v, err := ev.eval(payload, sc)
		if err != nil {
			return nil, err
		}
		if _, missing := v.(undefined); missing {
			return false, nil
		}
		return !truthy(v), nil
	case "AssignmentExpression":
		_, rhs, err := ir.Operands(payload)
		if err != nil {
			return nil, err
		}
		return ev.eval(rhs, sc)
	}

	lhsNode, rhsNode, err := ir.Operands(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	switch kind {
	case "AndExpression":
		l, err := ev.truthy(lhsNode, sc)
		if err != nil || !l {
			return false, err
		}
		return ev.truthy(rhsNode, sc)
	case "OrExpression":
		l, err := ev.truthy(lhsNode, sc)
		if err != nil || l {
			return l, err
		}
		return ev.truthy(rhsNode, sc)
	}

	lhs, err := ev.eval(lhsNode, sc)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "SearchMatchesExpression", "SearchNotMatchesExpression":
		matched, err := ev.search(lhs, rhsNode)
		if err != nil {
			return nil, err
		}
		return matched == (kind == "SearchMatchesExpression"), nil
	case "SelectExpression", "SelectNotExpression":
		return ev.selectItems(lhs, rhsNode, sc, kind == "SelectNotExpression", false)
	case "SelectAttrExpression", "SelectAttrNotExpression":
		return ev.selectItems(lhs, rhsNode, sc, kind == "SelectAttrNotExpression", true)
	}

	rhs, err := ev.eval(rhsNode, sc)
	if err != nil {
		return nil, err
	}
	return apply(kind, lhs, rhs)
}

// apply evaluates a binary operator on resolved operands.
func apply(kind string, lhs, rhs any) (any, error) {
	_, lu := lhs.(undefined)
	_, ru := rhs.(undefined)
	if lu || ru {
		switch kind {
		case "AdditionExpression", "SubtractionExpression", "MultiplicationExpression", "DivisionExpression":
			return undefined{}, nil
		}
		return false, nil
	}

	switch kind {
	case "EqualsExpression":
		return equal(lhs, rhs), nil
	case "NotEqualsExpression":
		return !equal(lhs, rhs), nil
	case "GreaterThanExpression", "LessThanExpression", "GreaterThanOrEqualToExpression", "LessThanOrEqualToExpression":
		c, ok := compare(lhs, rhs)
		if !ok {
			return false, nil
		}
		switch kind {
		case "GreaterThanExpression":
			return c > 0, nil
		case "LessThanExpression":
			return c < 0, nil
		case "GreaterThanOrEqualToExpression":
			return c >= 0, nil
		default:
			return c <= 0, nil
		}
	case "ItemInListExpression":
		return contains(rhs, lhs), nil
	case "ItemNotInListExpression":
		return !contains(rhs, lhs), nil
	case "ListContainsItemExpression":
		return contains(lhs, rhs), nil
	case "ListNotContainsItemExpression":
		return !contains(lhs, rhs), nil
	case "AdditionExpression":
		if ls, ok := lhs.(string); ok {
			if rs, ok := rhs.(string); ok {
				return ls + rs, nil
			}
		}
		return arithmetic(lhs, rhs, func(a, b float64) float64 { return a + b })
	case "SubtractionExpression":
		return arithmetic(lhs, rhs, func(a, b float64) float64 { return a - b })
	case "MultiplicationExpression":
		return arithmetic(lhs, rhs, func(a, b float64) float64 { return a * b })
	case "DivisionExpression":
		if b, ok := ir.ToFloat(rhs); ok && b == 0 {
			return undefined{}, nil
		}
		return arithmetic(lhs, rhs, func(a, b float64) float64 { return a / b })
	}
	return nil, fmt.Errorf("unsupported node kind %s", kind)
}

func (ev *evaluator) search(lhs any, rhsNode any) (bool, error) {
	s, ok := lhs.(string)
	if !ok {
		return false, nil
	}
	kind, payload, ok := ir.Kind(rhsNode)
	if !ok || kind != "SearchType" {
		return false, fmt.Errorf("search test needs a SearchType, got %v", rhsNode)
	}
	st, _ := payload.(map[string]any)
	_, searchKind, _ := ir.Kind(st["kind"])
	_, pattern, _ := ir.Kind(st["pattern"])
	mode, _ := searchKind.(string)
	pat, _ := pattern.(string)

	flags := ""
	if opts, ok := st["options"].([]any); ok {
		for _, o := range opts {
			om, _ := o.(map[string]any)
			_, name, _ := ir.Kind(om["name"])
			_, value, _ := ir.Kind(om["value"])
			if value != true {
				continue
			}
			switch name {
			case "ignorecase":
				flags += "i"
			case "multiline":
				flags += "m"
			}
		}
	}

	return ev.matchPattern(mode, pat, flags, s)
}

func (ev *evaluator) matchPattern(mode, pat, flags, s string) (bool, error) {
	expr := ir.PatternExpr(mode, pat, flags)
	re, ok := ev.patterns[expr]
	if !ok {
		var err error
		re, err = regexp.Compile(expr)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pat, err)
		}
		ev.patterns[expr] = re
	}
	return re.MatchString(s), nil
}

// selectItems implements select and selectattr: true when any element
// (or its attribute at key) satisfies the operator. The Not variants are
// true when no element does.
func (ev *evaluator) selectItems(lhs any, rhsNode any, sc scope, negate, attr bool) (any, error) {
	spec, ok := rhsNode.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("select needs an operator and value")
	}
	_, op, _ := ir.Kind(spec["operator"])
	operator, _ := op.(string)
	value, err := ev.eval(spec["value"], sc)
	if err != nil {
		return nil, err
	}
	var key string
	if attr {
		_, k, _ := ir.Kind(spec["key"])
		key, _ = k.(string)
	}

	var items []any
	switch l := lhs.(type) {
	case []any:
		items = l
	case map[string]any:
		if attr {
			items = []any{l}
		}
	}

	found := false
	for _, item := range items {
		candidate := item
		if attr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			candidate = resolve(m, key)
		}
		ok, err := ev.selectMatch(operator, candidate, value)
		if err != nil {
			return nil, err
		}
		if ok {
			found = true
			break
		}
	}
	if negate {
		return !found, nil
	}
	return found, nil
}

func (ev *evaluator) selectMatch(operator string, item, value any) (bool, error) {
	if _, missing := item.(undefined); missing {
		return false, nil
	}
	switch operator {
	case "regex", "search", "match":
		s, ok := item.(string)
		pat, pok := value.(string)
		if !ok || !pok {
			return false, nil
		}
		return ev.matchPattern(operator, pat, "", s)
	}

	kinds := map[string]string{
		"==": "EqualsExpression", "!=": "NotEqualsExpression",
		">": "GreaterThanExpression", ">=": "GreaterThanOrEqualToExpression",
		"<": "LessThanExpression", "<=": "LessThanOrEqualToExpression",
		"in": "ItemInListExpression", "not in": "ItemNotInListExpression",
		"contains": "ListContainsItemExpression", "not contains": "ListNotContainsItemExpression",
	}
	kind, ok := kinds[operator]
	if !ok {
		return false, fmt.Errorf("unsupported select operator %q", operator)
	}
	v, err := apply(kind, item, value)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func resolve(m map[string]any, path any) any {
	p, _ := path.(string)
	if m == nil || p == "" {
		return undefined{}
	}
	v, ok := ir.Lookup(m, p)
	if !ok {
		return undefined{}
	}
	return v
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil, undefined:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	if f, ok := ir.ToFloat(v); ok {
		return f != 0
	}
	return true
}

func equal(a, b any) bool {
	if fa, ok := ir.ToFloat(a); ok {
		if fb, ok := ir.ToFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if la, ok := a.([]any); ok {
		lb, ok := b.([]any)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	if ma, ok := a.(map[string]any); ok {
		mb, ok := b.(map[string]any)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !equal(va, vb) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	if fa, ok := ir.ToFloat(a); ok {
		fb, ok := ir.ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func contains(list, item any) bool {
	l, ok := list.([]any)
	if !ok {
		return false
	}
	for _, el := range l {
		if equal(el, item) {
			return true
		}
	}
	return false
}

// arithmetic keeps integers integral when both operands are integers.
func arithmetic(lhs, rhs any, op func(a, b float64) float64) (any, error) {
	a, ok := ir.ToFloat(lhs)
	if !ok {
		return undefined{}, nil
	}
	b, ok := ir.ToFloat(rhs)
	if !ok {
		return undefined{}, nil
	}
	r := op(a, b)
	if isInt(lhs) && isInt(rhs) && r == float64(int64(r)) {
		return int64(r), nil
	}
	return r, nil
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int64, int32:
		return true
	}
	return false
}

package rulebook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/rulebook/internal/condition"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/template"
)

// AssembleOption configures Assemble.
type AssembleOption func(*assembler)

// WithIDGenerator sets the generator for ruleset and rule ids.
func WithIDGenerator(gen ident.Generator) AssembleOption {
	return func(a *assembler) {
		a.ids = gen
	}
}

// WithDefaultExecutionStrategy sets the strategy for rulesets that do not
// name one.
func WithDefaultExecutionStrategy(s ExecutionStrategy) AssembleOption {
	return func(a *assembler) {
		a.strategy = s
	}
}

type assembler struct {
	vars     map[string]any
	ids      ident.Generator
	strategy ExecutionStrategy
}

// Assemble builds the rulesets of a loaded rulebook document. Names are
// rendered against vars before the emptiness and uniqueness checks.
func Assemble(doc []any, vars map[string]any, opts ...AssembleOption) ([]RuleSet, error) {
	a := &assembler{vars: vars, ids: ident.UUIDv7Generator{}, strategy: Sequential}
	for _, opt := range opts {
		opt(a)
	}
	if a.vars == nil {
		a.vars = map[string]any{}
	}

	rulesets := make([]RuleSet, 0, len(doc))
	seen := make(map[string]bool)

	for i, item := range doc {
		data, ok := item.(map[string]any)
		if !ok {
			return nil, &AssemblyError{Code: ErrCodeInvalidRuleset, Message: fmt.Sprintf("ruleset %d is %T, want mapping", i, item)}
		}

		name, err := a.renderName(data["name"])
		if err != nil {
			return nil, &AssemblyError{Code: ErrCodeTemplate, Message: "cannot render ruleset name", Err: err}
		}
		if name == "" {
			return nil, &AssemblyError{Code: ErrCodeRulesetNameEmpty, Message: fmt.Sprintf("ruleset %d has an empty name", i)}
		}
		if seen[name] {
			return nil, &AssemblyError{Code: ErrCodeRulesetNameDuplicate, Ruleset: name, Message: "ruleset name is not unique"}
		}
		seen[name] = true

		rs, err := a.ruleset(name, data)
		if err != nil {
			return nil, err
		}
		rulesets = append(rulesets, rs)
	}

	return rulesets, nil
}

func (a *assembler) renderName(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	rendered, err := template.RenderString(s, a.vars)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(rendered), nil
}

func (a *assembler) ruleset(name string, data map[string]any) (RuleSet, error) {
	rs := RuleSet{
		Name:               name,
		UUID:               a.ids.Generate(),
		Hosts:              normalizeHosts(data["hosts"]),
		ExecutionStrategy:  a.strategy,
		GatherFacts:        boolValue(data["gather_facts"], false),
		MatchMultipleRules: boolValue(data["match_multiple_rules"], false),
	}
	if ttl, ok := data["default_events_ttl"].(string); ok {
		rs.DefaultEventsTTL = ttl
	}
	if s, ok := data["execution_strategy"].(string); ok && s != "" {
		rs.ExecutionStrategy = ExecutionStrategy(s)
	}
	if rs.ExecutionStrategy != Sequential && rs.ExecutionStrategy != Parallel {
		return RuleSet{}, &AssemblyError{Code: ErrCodeInvalidRuleset, Ruleset: name,
			Message: fmt.Sprintf("unknown execution_strategy %q", rs.ExecutionStrategy)}
	}

	sources, _ := data["sources"].([]any)
	for i, s := range sources {
		src, err := a.source(name, i, s)
		if err != nil {
			return RuleSet{}, err
		}
		rs.Sources = append(rs.Sources, src)
	}

	rules, _ := data["rules"].([]any)
	seen := make(map[string]bool)
	for i, r := range rules {
		rd, ok := r.(map[string]any)
		if !ok {
			return RuleSet{}, &AssemblyError{Code: ErrCodeInvalidRuleset, Ruleset: name, Message: fmt.Sprintf("rule %d is not a mapping", i)}
		}
		rule, err := a.rule(name, rd, seen)
		if err != nil {
			return RuleSet{}, err
		}
		if !rule.Enabled {
			rs.DisabledRules = append(rs.DisabledRules, rule.Name)
			continue
		}
		rs.Rules = append(rs.Rules, rule)
	}

	return rs, nil
}

// source splits a source block into its reserved keys and the single
// plugin key whose value is the argument mapping.
func (a *assembler) source(ruleset string, idx int, v any) (EventSource, error) {
	data, ok := v.(map[string]any)
	if !ok {
		return EventSource{}, &AssemblyError{Code: ErrCodeInvalidSource, Ruleset: ruleset, Message: fmt.Sprintf("source %d is not a mapping", idx)}
	}

	var src EventSource
	for _, key := range sortedKeys(data) {
		switch key {
		case "name":
			src.Name = fmt.Sprint(data[key])
		case "filters":
			filters, ok := data[key].([]any)
			if !ok && data[key] != nil {
				return EventSource{}, &AssemblyError{Code: ErrCodeInvalidSource, Ruleset: ruleset, Message: "filters must be a list"}
			}
			for _, f := range filters {
				name, args, err := singleKey(f)
				if err != nil {
					return EventSource{}, &AssemblyError{Code: ErrCodeInvalidSource, Ruleset: ruleset, Message: "invalid filter", Err: err}
				}
				src.Filters = append(src.Filters, EventSourceFilter{FilterName: name, FilterArgs: args})
			}
		default:
			if src.SourceName != "" {
				return EventSource{}, &AssemblyError{Code: ErrCodeInvalidSource, Ruleset: ruleset,
					Message: fmt.Sprintf("source %d names two plugins: %s and %s", idx, src.SourceName, key)}
			}
			src.SourceName = key
			args, ok := data[key].(map[string]any)
			if !ok && data[key] != nil {
				return EventSource{}, &AssemblyError{Code: ErrCodeInvalidSource, Ruleset: ruleset,
					Message: fmt.Sprintf("arguments of source %s must be a mapping", key)}
			}
			rendered, err := template.RenderMap(args, a.vars)
			if err != nil {
				return EventSource{}, &AssemblyError{Code: ErrCodeTemplate, Ruleset: ruleset,
					Message: fmt.Sprintf("cannot render arguments of source %s", key), Err: err}
			}
			if rendered == nil {
				rendered = map[string]any{}
			}
			src.SourceArgs = rendered
		}
	}

	if src.SourceName == "" {
		return EventSource{}, &AssemblyError{Code: ErrCodeInvalidSource, Ruleset: ruleset, Message: fmt.Sprintf("source %d names no plugin", idx)}
	}
	if src.Name == "" {
		src.Name = src.SourceName
	}
	return src, nil
}

func (a *assembler) rule(ruleset string, data map[string]any, seen map[string]bool) (Rule, error) {
	name, err := a.renderName(data["name"])
	if err != nil {
		return Rule{}, &AssemblyError{Code: ErrCodeTemplate, Ruleset: ruleset, Message: "cannot render rule name", Err: err}
	}
	if name == "" {
		return Rule{}, &AssemblyError{Code: ErrCodeRuleNameEmpty, Ruleset: ruleset, Message: "rule has an empty name"}
	}
	if seen[name] {
		return Rule{}, &AssemblyError{Code: ErrCodeRuleNameDuplicate, Ruleset: ruleset, Rule: name, Message: "rule name is not unique"}
	}
	seen[name] = true

	rule := Rule{
		Name:    name,
		UUID:    a.ids.Generate(),
		Enabled: boolValue(data["enabled"], true),
	}

	rule.Condition, err = parseCondition(data["condition"])
	if err != nil {
		return Rule{}, &AssemblyError{Code: ErrCodeInvalidCondition, Ruleset: ruleset, Rule: name, Message: "invalid condition", Err: err}
	}

	rule.Actions, err = parseActions(data)
	if err != nil {
		return Rule{}, &AssemblyError{Code: ErrCodeInvalidAction, Ruleset: ruleset, Rule: name, Message: "invalid action", Err: err}
	}

	if t, ok := data["throttle"].(map[string]any); ok {
		rule.Throttle, err = parseThrottle(t)
		if err != nil {
			return Rule{}, &AssemblyError{Code: ErrCodeInvalidThrottle, Ruleset: ruleset, Rule: name, Message: "invalid throttle", Err: err}
		}
	}

	return rule, nil
}

func parseCondition(v any) (Condition, error) {
	switch c := v.(type) {
	case string:
		expr, err := condition.Parse(c)
		if err != nil {
			return Condition{}, err
		}
		return Condition{When: All, Exprs: []condition.Expr{expr}}, nil
	case bool:
		return Condition{When: All, Exprs: []condition.Expr{condition.Boolean{Value: c}}}, nil
	case map[string]any:
		var cond Condition
		for _, when := range []When{All, Any, NotAll} {
			list, ok := c[string(when)]
			if !ok {
				continue
			}
			if cond.When != "" {
				return Condition{}, fmt.Errorf("condition combines %s and %s", cond.When, when)
			}
			cond.When = when
			items, ok := list.([]any)
			if !ok || len(items) == 0 {
				return Condition{}, fmt.Errorf("%s needs a non-empty list of conditions", when)
			}
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return Condition{}, fmt.Errorf("%s entries must be strings, got %T", when, item)
				}
				expr, err := condition.Parse(s)
				if err != nil {
					return Condition{}, err
				}
				cond.Exprs = append(cond.Exprs, expr)
			}
		}
		if cond.When == "" {
			return Condition{}, fmt.Errorf("condition must contain all, any or not_all")
		}
		if t, ok := c["timeout"]; ok {
			cond.Timeout = fmt.Sprint(t)
		}
		if cond.When == NotAll && cond.Timeout == "" {
			return Condition{}, fmt.Errorf("not_all requires a timeout")
		}
		return cond, nil
	case nil:
		return Condition{}, fmt.Errorf("condition is required")
	default:
		return Condition{}, fmt.Errorf("unsupported condition type %T", v)
	}
}

func parseActions(data map[string]any) ([]Action, error) {
	var raw []any
	if a, ok := data["action"]; ok && a != nil {
		raw = append(raw, a)
	}
	if list, ok := data["actions"].([]any); ok {
		raw = append(raw, list...)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("rule has no action")
	}

	actions := make([]Action, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			actions = append(actions, Action{Action: s, Args: map[string]any{}})
			continue
		}
		name, args, err := singleKey(r)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{Action: name, Args: args})
	}
	return actions, nil
}

func parseThrottle(t map[string]any) (*Throttle, error) {
	th := &Throttle{}
	attrs, _ := t["group_by_attributes"].([]any)
	for _, a := range attrs {
		th.GroupByAttributes = append(th.GroupByAttributes, fmt.Sprint(a))
	}
	if len(th.GroupByAttributes) == 0 {
		return nil, fmt.Errorf("group_by_attributes is required")
	}
	th.OnceWithin = durationText(t["once_within"])
	th.OnceAfter = durationText(t["once_after"])
	switch {
	case th.OnceWithin != "" && th.OnceAfter != "":
		return nil, fmt.Errorf("once_within and once_after are mutually exclusive")
	case th.OnceWithin == "" && th.OnceAfter == "":
		return nil, fmt.Errorf("one of once_within or once_after is required")
	}
	return th, nil
}

// durationText accepts "5 seconds" style strings and bare numbers of
// seconds.
func durationText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// singleKey unpacks {name: args}. Null args become an empty mapping.
func singleKey(v any) (string, map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", nil, fmt.Errorf("expected a mapping with exactly one key, got %v", v)
	}
	for name, raw := range m {
		if raw == nil {
			return name, map[string]any{}, nil
		}
		args, ok := raw.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("arguments of %s must be a mapping, got %T", name, raw)
		}
		return name, args, nil
	}
	return "", nil, nil
}

func normalizeHosts(v any) []string {
	switch h := v.(type) {
	case string:
		return []string{h}
	case []any:
		hosts := make([]string, 0, len(h))
		for _, x := range h {
			hosts = append(hosts, fmt.Sprint(x))
		}
		return hosts
	}
	return []string{}
}

func boolValue(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

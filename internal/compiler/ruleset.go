package compiler

import (
	"fmt"

	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/rulebook"
)

var conditionKinds = map[rulebook.When]string{
	rulebook.All:    "AllCondition",
	rulebook.Any:    "AnyCondition",
	rulebook.NotAll: "NotAllCondition",
}

// LowerCondition wraps the lowered expressions of a rule by its when kind.
func LowerCondition(c rulebook.Condition, vars map[string]any) (map[string]any, error) {
	kind, ok := conditionKinds[c.When]
	if !ok {
		return nil, &CompileError{Code: ErrCodeUnsupportedOperator, Field: string(c.When), Message: "unknown condition kind"}
	}
	exprs := make([]any, 0, len(c.Exprs))
	for _, e := range c.Exprs {
		v, err := Lower(e, vars)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, v)
	}
	doc := map[string]any{kind: exprs}
	if c.Timeout != "" {
		doc["timeout"] = c.Timeout
	}
	return doc, nil
}

// VisitRuleset assembles the full ruleset document.
func VisitRuleset(rs rulebook.RuleSet, vars map[string]any) (map[string]any, error) {
	hosts := make([]any, len(rs.Hosts))
	for i, h := range rs.Hosts {
		hosts[i] = h
	}

	sources := make([]any, 0, len(rs.Sources))
	for _, src := range rs.Sources {
		sources = append(sources, visitSource(src.WithMetaInfoFilter()))
	}

	rules := make([]any, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		doc, err := visitRule(r, vars)
		if err != nil {
			return nil, fmt.Errorf("ruleset %s: rule %s: %w", rs.Name, r.Name, err)
		}
		rules = append(rules, doc)
	}

	body := map[string]any{
		"name":                 rs.Name,
		"hosts":                hosts,
		"sources":              sources,
		"rules":                rules,
		"match_multiple_rules": rs.MatchMultipleRules,
	}
	if rs.DefaultEventsTTL != "" {
		body["default_events_ttl"] = rs.DefaultEventsTTL
	}
	return ir.Tag("RuleSet", body), nil
}

func visitSource(src rulebook.EventSource) any {
	filters := make([]any, 0, len(src.Filters))
	for _, f := range src.Filters {
		filters = append(filters, ir.Tag("EventSourceFilter", map[string]any{
			"filter_name": f.FilterName,
			"filter_args": argsOrEmpty(f.FilterArgs),
		}))
	}
	return ir.Tag("EventSource", map[string]any{
		"name":           src.Name,
		"source_name":    src.SourceName,
		"source_args":    argsOrEmpty(src.SourceArgs),
		"source_filters": filters,
	})
}

func visitRule(r rulebook.Rule, vars map[string]any) (any, error) {
	cond, err := LowerCondition(r.Condition, vars)
	if err != nil {
		return nil, err
	}

	actions := make([]any, 0, len(r.Actions))
	for _, a := range r.Actions {
		actions = append(actions, ir.Tag("Action", map[string]any{
			"action":      a.Action,
			"action_args": argsOrEmpty(a.Args),
		}))
	}

	body := map[string]any{
		"name":      r.Name,
		"condition": cond,
		"actions":   actions,
		"enabled":   r.Enabled,
	}
	if r.Throttle != nil {
		groupBy := make([]any, len(r.Throttle.GroupByAttributes))
		for i, g := range r.Throttle.GroupByAttributes {
			groupBy[i] = g
		}
		throttle := map[string]any{"group_by_attributes": groupBy}
		if r.Throttle.OnceWithin != "" {
			throttle["once_within"] = r.Throttle.OnceWithin
		}
		if r.Throttle.OnceAfter != "" {
			throttle["once_after"] = r.Throttle.OnceAfter
		}
		body["throttle"] = throttle
	}
	return ir.Tag("Rule", body), nil
}

func argsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

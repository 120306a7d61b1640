package rulebook

import (
	"github.com/roach88/rulebook/internal/condition"
)

// ExecutionStrategy controls whether matched actions for different events
// may run concurrently.
type ExecutionStrategy string

const (
	Sequential ExecutionStrategy = "sequential"
	Parallel   ExecutionStrategy = "parallel"
)

// When selects how the expressions of a condition combine.
type When string

const (
	All    When = "all"
	Any    When = "any"
	NotAll When = "not_all"
)

// RuleSet is a named group of sources and rules sharing one engine session.
// Immutable after assembly.
type RuleSet struct {
	Name               string
	UUID               string
	Hosts              []string
	Sources            []EventSource
	Rules              []Rule
	ExecutionStrategy  ExecutionStrategy
	GatherFacts        bool
	DefaultEventsTTL   string
	MatchMultipleRules bool

	// DisabledRules names rules that were validated but dropped.
	DisabledRules []string
}

// EventSource is one source plugin feeding a ruleset.
type EventSource struct {
	Name       string
	SourceName string
	SourceArgs map[string]any
	Filters    []EventSourceFilter
}

// EventSourceFilter post-processes every event of a source.
type EventSourceFilter struct {
	FilterName string
	FilterArgs map[string]any
}

// Rule is one enabled rule.
type Rule struct {
	Name      string
	UUID      string
	Condition Condition
	Actions   []Action
	Enabled   bool
	Throttle  *Throttle
}

// Condition is the parsed condition of a rule.
type Condition struct {
	When  When
	Exprs []condition.Expr
	// Timeout is passed to the engine verbatim, e.g. "10 seconds".
	Timeout string
}

// Action names a registered action and its unrendered arguments.
type Action struct {
	Action string
	Args   map[string]any
}

// Throttle rate-limits a rule. Exactly one of OnceWithin and OnceAfter is
// set.
type Throttle struct {
	GroupByAttributes []string
	OnceWithin        string
	OnceAfter         string
}

// Package ruleengine defines the contract of the pattern-matching engine
// the runners post events to, and provides Memory, an in-process engine
// that interprets the compiled ruleset document directly.
package ruleengine

import (
	"errors"
	"time"
)

// Sentinel outcomes of Post and AssertFact. Neither is a failure: the
// runner swallows both.
var (
	// ErrObserved means the item partially matched a rule and is held
	// while the engine waits for correlated items.
	ErrObserved = errors.New("item observed, waiting for correlated items")

	// ErrNotHandled means no rule matched the item.
	ErrNotHandled = errors.New("item not handled by any rule")

	// ErrNoSession is returned for an unknown ruleset name.
	ErrNoSession = errors.New("no such session")
)

// IsExpected reports whether err is one of the non-fatal match outcomes.
func IsExpected(err error) bool {
	return errors.Is(err, ErrObserved) || errors.Is(err, ErrNotHandled)
}

// Match is the result handed to a rule callback. Data maps an alias to the
// matched item: "m" for a single-condition rule, m_0..m_n or the assigned
// alias for multi-condition rules. Data is empty for time-only triggers.
type Match struct {
	Ruleset string
	Rule    string
	Data    map[string]map[string]any
}

// Callback is invoked synchronously by the engine when a rule fires, or
// from a timer goroutine for timed conditions.
type Callback func(Match)

// Stats summarizes a session.
type Stats struct {
	Start                 time.Time `json:"start"`
	End                   time.Time `json:"end,omitempty"`
	NumberOfRules         int       `json:"number_of_rules"`
	NumberOfDisabledRules int       `json:"number_of_disabled_rules"`
	RulesTriggered        int       `json:"rules_triggered"`
	EventsProcessed       int       `json:"events_processed"`
	EventsMatched         int       `json:"events_matched"`
	EventsSuppressed      int       `json:"events_suppressed"`
	PermanentStorageCount int       `json:"permanent_storage_count"`
	LastRuleFired         string    `json:"last_rule_fired,omitempty"`
	LastRuleFiredAt       time.Time `json:"last_rule_fired_at,omitempty"`
}

// Engine is the pattern-matching engine, keyed by ruleset name.
type Engine interface {
	// CreateSession registers a compiled ruleset document. callbacks maps
	// rule names to the function invoked when the rule fires.
	CreateSession(name string, document map[string]any, callbacks map[string]Callback) error

	// Post matches a transient event.
	Post(name string, event map[string]any) error

	// AssertFact adds a fact to working memory and matches it.
	AssertFact(name string, fact map[string]any) error

	// RetractFact removes a fact equal to fact.
	RetractFact(name string, fact map[string]any) error

	// RetractMatchingFacts removes every fact equal to fact, or containing
	// it when partial is set. Keys in excludeKeys are ignored.
	RetractMatchingFacts(name string, fact map[string]any, partial bool, excludeKeys []string) error

	// GetFacts returns a copy of working memory.
	GetFacts(name string) ([]map[string]any, error)

	// SessionStats returns current statistics without ending the session.
	SessionStats(name string) (Stats, error)

	// EndSession stops timers, discards the session and returns final
	// statistics.
	EndSession(name string) (Stats, error)
}

package harness

import (
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ruleengine"
)

// TraceEvent is the deterministic projection of one event log record.
type TraceEvent struct {
	Ruleset        string         `json:"ruleset"`
	Type           string         `json:"type"`
	Rule           string         `json:"rule,omitempty"`
	Action         string         `json:"action,omitempty"`
	Status         string         `json:"status,omitempty"`
	Message        string         `json:"message,omitempty"`
	PlaybookName   string         `json:"playbook_name,omitempty"`
	Kind           string         `json:"kind,omitempty"`
	SourcePlugin   string         `json:"source_plugin,omitempty"`
	Delay          float64        `json:"delay,omitempty"`
	MatchingEvents map[string]any `json:"matching_events,omitempty"`
	Event          map[string]any `json:"event,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace is the ordered projection of Records. See the package doc.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Stats holds the final session statistics per ruleset.
	Stats map[string]ruleengine.Stats `json:"stats,omitempty"`

	// Records is the raw event log in sequence order.
	Records []eventlog.Record `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Stats:  make(map[string]ruleengine.Stats),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

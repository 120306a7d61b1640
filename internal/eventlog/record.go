package eventlog

import (
	"time"
)

// Type tags a telemetry record.
type Type string

const (
	// TypeAction reports the outcome of one action dispatch.
	TypeAction Type = "Action"

	// TypeJob reports a command or job started by an action.
	TypeJob Type = "Job"

	// TypeJobEvent carries output produced by a running job.
	TypeJobEvent Type = "AnsibleEvent"

	// TypeProcessedEvent is emitted after an event was posted to the engine.
	TypeProcessedEvent Type = "ProcessedEvent"

	// TypeEmptyEvent is emitted for an empty item on a source queue.
	TypeEmptyEvent Type = "EmptyEvent"

	// TypeShutdown is emitted once by a runner that terminated because of
	// a shutdown.
	TypeShutdown Type = "Shutdown"

	// TypeSessionStats carries engine statistics for a ruleset.
	TypeSessionStats Type = "SessionStats"
)

// Action statuses.
const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

// Record is one telemetry entry. Only the fields relevant to its Type are
// set; the rest are omitted from the JSON form.
type Record struct {
	Seq  int64 `json:"seq"`
	Type Type  `json:"type"`

	ActivationID string `json:"activation_id,omitempty"`
	Ruleset      string `json:"ruleset,omitempty"`
	RulesetUUID  string `json:"ruleset_uuid,omitempty"`
	Rule         string `json:"rule,omitempty"`
	RuleUUID     string `json:"rule_uuid,omitempty"`

	Action         string         `json:"action,omitempty"`
	ActionUUID     string         `json:"action_uuid,omitempty"`
	Status         string         `json:"status,omitempty"`
	RunAt          string         `json:"run_at,omitempty"`
	RuleRunAt      string         `json:"rule_run_at,omitempty"`
	Message        string         `json:"message,omitempty"`
	MatchingEvents map[string]any `json:"matching_events,omitempty"`
	PlaybookName   string         `json:"playbook_name,omitempty"`
	JobID          string         `json:"job_id,omitempty"`
	RC             *int           `json:"rc,omitempty"`

	// Shutdown fields.
	Kind         string  `json:"kind,omitempty"`
	Delay        float64 `json:"delay,omitempty"`
	SourcePlugin string  `json:"source_plugin,omitempty"`

	Stats map[string]any `json:"stats,omitempty"`
	Event map[string]any `json:"event,omitempty"`

	ReportedAt time.Time `json:"reported_at"`
}

// IsAudit reports whether r is an audit record: the per-action and
// per-event trail that skip_audit_events suppresses on remote consumers.
func (r Record) IsAudit() bool {
	switch r.Type {
	case TypeAction, TypeJob, TypeJobEvent, TypeProcessedEvent:
		return true
	}
	return false
}

// RunAt formats t the way records carry timestamps.
func RunAt(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

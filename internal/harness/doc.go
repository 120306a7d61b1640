// Package harness runs rulebook scenarios end to end.
//
// A scenario names a rulebook, the events each ruleset receives, and the
// assertions that must hold over the resulting event log. The harness runs
// the real orchestrator and runners against the in-memory engine, so a
// passing scenario exercises compilation, matching, dispatch and shutdown
// exactly as an activation would.
//
// # Scenario Format
//
//	name: hello
//	description: "What this scenario validates"
//	rulebook: rulebooks/hello.yml    # path, relative to the scenario file
//	vars:
//	  threshold: 3
//	events:
//	  Hello Events:                  # ruleset name
//	    - {i: 0}
//	    - {i: 1}
//	assertions:
//	  - type: action
//	    rule: Say Hello
//	    action: debug
//	    status: successful
//	  - type: record_count
//	    record_type: ProcessedEvent
//	    count: 2
//	  - type: shutdown
//	    kind: graceful
//
// The rulebook may also be given inline as a list of rulesets. With
// use_sources set, the rulebook's own sources run instead of the scripted
// events and their completion ends the run.
//
// # Assertion Types
//
//   - action: at least one Action record matches the given fields
//   - action_count: exactly count Action records match
//   - action_order: the listed rules fired in this order
//   - record_count: exactly count records of record_type
//   - shutdown: every selected ruleset recorded exactly one Shutdown
//   - stats: a final session statistic equals count
//
// # Deterministic Traces
//
// After the scripted events every ruleset receives a graceful shutdown with
// no deadline, so all queued actions run before the ruleset ends. Set
// shutdown_after_events to false when the rulebook ends itself through a
// shutdown action.
//
// Runners work concurrently, and within a runner the source and plan loops
// interleave. The trace therefore orders records by ruleset, then by kind
// (processed events, actions, shutdown), keeping each kind in sequence
// order. Ids and timestamps are dropped. For sequential rulesets the result
// is stable across runs and is compared against golden files.
package harness

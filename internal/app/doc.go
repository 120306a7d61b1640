// Package app wires an activation together: it loads a rulebook and its
// variables, compiles every ruleset, starts the sources, the event log
// consumers and the orchestrator, and tears everything down in order when
// the rulesets end.
//
// # Lifecycle
//
//	Prepare     load + assemble + compile (no goroutines yet)
//	Run         open store, start consumers, start sources, run rulesets
//	teardown    stop sources, drain the event log, stamp the run end
//
// The event log is drained on a context detached from the caller's, so
// the records produced while the rulesets shut down still reach the store
// and the forwarder after ctx is cancelled.
package app

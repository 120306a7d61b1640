// Package action implements the action registry and the builtin actions a
// rule can trigger.
//
// An Action receives a Control describing the match that triggered it: the
// rule metadata, the rendered arguments and the variable context with the
// matched event bound as "event" (single match) or "events" (multiple).
// Every builtin reports its outcome as one Action record on the event log.
//
// The shutdown action returns a *ShutdownError. It is a control signal, not
// a failure: the runner hands its payload to the orchestrator broadcast.
package action

// Package engine runs rulesets: one Runner per ruleset, coordinated by an
// Orchestrator.
//
// ARCHITECTURE:
//
// Each Runner owns two loops:
//   - source drain: reads the ruleset's source queue in arrival order and
//     posts every event to the pattern-matching engine. Rule callbacks
//     fired by the engine enqueue a Plan on the runner's plan queue.
//   - plan drain: reads Plans and dispatches their actions. Actions of one
//     Plan run in list order. With the sequential strategy a Plan runs to
//     completion before the next one starts; with parallel, Plans run as
//     tracked tasks.
//
// Shutdown state machine:
//
//	Running --(Shutdown item, or shutdown action)--> Draining --> Terminated
//
//   - now: the plan drain is cancelled at once; queued Plans are dropped.
//   - graceful: the plan drain delivers every queued Plan, then exits.
//     A positive delay bounds the drain: when it expires the plan drain is
//     cancelled. A delay of zero drains without a deadline.
//
// Only the first Shutdown is honored; later ones are logged and ignored.
//
// Termination contract:
// Whatever ends the plan drain (shutdown, parent cancellation, fatal
// error), cleanup runs exactly once, in this order:
//  1. cancel the source drain and wait for it
//  2. give in-flight tasks up to the shutdown delay (graceful only), then
//     cancel and await them
//  3. emit one Shutdown record if a shutdown was recorded
//  4. end the engine session and report its statistics
//
// Cross-ruleset coordination:
// A shutdown action in one ruleset is broadcast by the Orchestrator onto
// every other runner's source queue, so the whole process drains without a
// central cancel-all. The Orchestrator never cancels runners itself; it
// waits for all of them.
package engine

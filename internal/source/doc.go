// Package source runs event-source plugins for a ruleset and feeds their
// events, passed through the source filters, onto the ruleset queue.
//
// A plugin only produces raw events. The Harness owns everything around
// it: plugin and filter lookup, the meta-info stamp, and the Shutdown that
// is broadcast to every ruleset once a plugin returns, fails or is
// cancelled.
package source

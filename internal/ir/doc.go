// Package ir holds the engine-facing document representation shared by the
// compiler, the rule engine and the store.
//
// A document node is a JSON-compatible map with exactly one key naming the
// node kind, e.g. {"EqualsExpression": {"lhs": ..., "rhs": ...}}. Values are
// restricted to the JSON data model: map[string]any, []any, string, bool,
// int64, float64 and nil.
//
// ir imports nothing internal.
package ir

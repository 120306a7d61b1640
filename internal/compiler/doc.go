// Package compiler lowers parsed rulesets into the tagged document consumed
// by the rule engine.
//
// Every node of the document is a mapping with exactly one key naming the
// node kind. Binary operators become {Kind: {"lhs": ..., "rhs": ...}}.
// Identifiers stay symbolic ({"Event": "payload.x"}) except vars.*, which is
// resolved here so the engine never sees global variables.
package compiler

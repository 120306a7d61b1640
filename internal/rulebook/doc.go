// Package rulebook loads rulebook YAML into the RuleSet domain model.
//
// Loading happens in three steps:
//  1. Load decodes YAML and normalizes values (int64, float64, string keys).
//  2. Validate checks the document against the embedded CUE schema, which
//     catches structural mistakes such as misspelled keys.
//  3. Assemble renders names against the global variables, enforces name
//     uniqueness, parses every condition and builds []RuleSet.
//
// Conditions are parsed here but lowered to the engine document later, by
// the compiler, when a runner is created.
package rulebook

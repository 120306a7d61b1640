package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case string(eventlog.TypeAction):
				fmt.Fprintf(&buf, "  [%d] %s %s/%s %s %s\n", i+1, event.Type, event.Ruleset, event.Rule, event.Action, event.Status)
			case string(eventlog.TypeShutdown):
				fmt.Fprintf(&buf, "  [%d] %s %s %s %q\n", i+1, event.Type, event.Ruleset, event.Kind, event.Message)
			default:
				fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, event.Type, event.Ruleset)
			}
		}
	}
	return buf.String()
}

// matchesAction reports whether an Action record satisfies the filters of
// a.
func matchesAction(r eventlog.Record, a Assertion) bool {
	if r.Type != eventlog.TypeAction {
		return false
	}
	if a.Ruleset != "" && r.Ruleset != a.Ruleset {
		return false
	}
	if a.Rule != "" && r.Rule != a.Rule {
		return false
	}
	if a.Action != "" && r.Action != a.Action {
		return false
	}
	if a.Status != "" && r.Status != a.Status {
		return false
	}
	if a.Message != "" && !strings.Contains(r.Message, a.Message) {
		return false
	}
	return matchArgs(stripMeta(r.MatchingEvents), a.Events)
}

func describeAction(a Assertion) string {
	var parts []string
	for _, kv := range [][2]string{
		{"ruleset", a.Ruleset},
		{"rule", a.Rule},
		{"action", a.Action},
		{"status", a.Status},
		{"message", a.Message},
	} {
		if kv[1] != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", kv[0], kv[1]))
		}
	}
	if len(a.Events) > 0 {
		parts = append(parts, fmt.Sprintf("events=%v", a.Events))
	}
	return strings.Join(parts, " ")
}

// assertAction checks that some Action record matches.
func assertAction(result *Result, a Assertion) error {
	for _, r := range result.Records {
		if matchesAction(r, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertAction,
		Expected: "action record with " + describeAction(a),
		Actual:   "not found in event log",
		Trace:    result.Trace,
	}
}

// assertActionCount checks the number of matching Action records.
func assertActionCount(result *Result, a Assertion) error {
	count := 0
	for _, r := range result.Records {
		if matchesAction(r, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("%d action records with %s", a.Count, describeAction(a)),
			Actual:   fmt.Sprintf("%d records", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertActionOrder checks that the rules first fired in the given order.
// Other rules may fire in between.
func assertActionOrder(result *Result, a Assertion) error {
	positions := make(map[string]int)
	pos := 0
	for _, r := range result.Records {
		if r.Type != eventlog.TypeAction || (a.Ruleset != "" && r.Ruleset != a.Ruleset) {
			continue
		}
		pos++
		if positions[r.Rule] == 0 {
			positions[r.Rule] = pos
		}
	}

	for _, rule := range a.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertActionOrder,
				Expected: fmt.Sprintf("all rules fired: %v", a.Rules),
				Actual:   fmt.Sprintf("rule %q never fired", rule),
				Trace:    result.Trace,
			}
		}
	}
	for i := 1; i < len(a.Rules); i++ {
		prev, curr := a.Rules[i-1], a.Rules[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertActionOrder,
				Expected: fmt.Sprintf("rules in order: %v", a.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

// assertRecordCount checks the number of records of one type.
func assertRecordCount(result *Result, a Assertion) error {
	count := 0
	for _, r := range result.Records {
		if string(r.Type) != a.RecordType {
			continue
		}
		if a.Ruleset != "" && r.Ruleset != a.Ruleset {
			continue
		}
		count++
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d %s records", a.Count, a.RecordType),
			Actual:   fmt.Sprintf("%d records", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertShutdown checks that each selected ruleset recorded exactly one
// Shutdown with the expected fields.
func assertShutdown(result *Result, a Assertion, rulesets []string) error {
	targets := rulesets
	if a.Ruleset != "" {
		targets = []string{a.Ruleset}
	}

	for _, name := range targets {
		var found []eventlog.Record
		for _, r := range result.Records {
			if r.Type == eventlog.TypeShutdown && r.Ruleset == name {
				found = append(found, r)
			}
		}
		if len(found) != 1 {
			return &AssertionError{
				Type:     AssertShutdown,
				Expected: fmt.Sprintf("exactly one Shutdown record for %s", name),
				Actual:   fmt.Sprintf("%d records", len(found)),
				Trace:    result.Trace,
			}
		}

		sd := found[0]
		var mismatch []string
		if a.Kind != "" && sd.Kind != a.Kind {
			mismatch = append(mismatch, fmt.Sprintf("kind=%q", sd.Kind))
		}
		if a.SourcePlugin != "" && sd.SourcePlugin != a.SourcePlugin {
			mismatch = append(mismatch, fmt.Sprintf("source_plugin=%q", sd.SourcePlugin))
		}
		if a.Message != "" && !strings.Contains(sd.Message, a.Message) {
			mismatch = append(mismatch, fmt.Sprintf("message=%q", sd.Message))
		}
		if len(mismatch) > 0 {
			return &AssertionError{
				Type:     AssertShutdown,
				Expected: fmt.Sprintf("Shutdown for %s with kind=%q source_plugin=%q message~%q", name, a.Kind, a.SourcePlugin, a.Message),
				Actual:   strings.Join(mismatch, " "),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertStats checks one final session statistic.
func assertStats(result *Result, a Assertion) error {
	stats, ok := result.Stats[a.Ruleset]
	if !ok {
		return &AssertionError{
			Type:     AssertStats,
			Expected: fmt.Sprintf("session stats for %s", a.Ruleset),
			Actual:   "ruleset has no stats",
		}
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("unmarshal stats: %w", err)
	}

	value, exists := fields[a.Stat]
	if !exists {
		return &AssertionError{
			Type:     AssertStats,
			Expected: fmt.Sprintf("stat %q", a.Stat),
			Actual:   "unknown stat",
		}
	}
	if f, ok := ir.ToFloat(value); !ok || f != float64(a.Count) {
		return &AssertionError{
			Type:     AssertStats,
			Expected: fmt.Sprintf("%s.%s = %d", a.Ruleset, a.Stat, a.Count),
			Actual:   fmt.Sprintf("%v", value),
		}
	}
	return nil
}

// matchArgs checks if actual contains all expected keys with equal values
// (subset match). Nested maps are matched as subsets too.
func matchArgs(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for key, expectedVal := range expected {
		actualVal, exists := actualMap[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares a recorded value with a scenario value. Numbers
// compare by value; maps use subset semantics.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if em, ok := expected.(map[string]any); ok {
		return matchArgs(actual, em)
	}
	if ef, ok := ir.ToFloat(expected); ok {
		af, ok := ir.ToFloat(actual)
		return ok && af == ef
	}
	if el, ok := expected.([]any); ok {
		al, ok := actual.([]any)
		if !ok || len(al) != len(el) {
			return false
		}
		for i := range el {
			if !valuesEqual(al[i], el[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(actual, expected)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions. rulesets lists
// every ruleset of the rulebook, for shutdown assertions without a
// ruleset.
func EvaluateAssertions(result *Result, assertions []Assertion, rulesets []string) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertAction:
			err = assertAction(result, assertion)
		case AssertActionCount:
			err = assertActionCount(result, assertion)
		case AssertActionOrder:
			err = assertActionOrder(result, assertion)
		case AssertRecordCount:
			err = assertRecordCount(result, assertion)
		case AssertShutdown:
			err = assertShutdown(result, assertion, rulesets)
		case AssertStats:
			err = assertStats(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
)

// DefaultShutdownMessage is the message of a shutdown action without one.
const DefaultShutdownMessage = "Default shutdown message"

// builtins is the init-time action table.
var builtins = map[string]Action{
	"none":         Func(noop),
	"noop":         Func(noop),
	"debug":        Func(debug),
	"print_event":  Func(printEvent),
	"set_fact":     Func(setFact),
	"retract_fact": Func(retractFact),
	"post_event":   Func(postEvent),
	"shutdown":     Func(shutdown),
	"run_command":  Func(runCommand),
	"publish_nats": Func(publishNATS),
}

func noop(_ context.Context, c *Control) error {
	c.ReportSuccess()
	return nil
}

// debug prints msg (a string or list), the variable named by var, or the
// whole dispatch context and the ruleset facts.
func debug(_ context.Context, c *Control) error {
	w := c.stdout()
	switch {
	case c.Args["msg"] != nil:
		msgs, ok := c.Args["msg"].([]any)
		if !ok {
			msgs = []any{c.Args["msg"]}
		}
		for _, m := range msgs {
			banner(w, "debug", fmt.Sprint(m))
		}
	case c.Args["var"] != nil:
		key := fmt.Sprint(c.Args["var"])
		v, ok := ir.Lookup(c.Variables, key)
		if !ok {
			return fmt.Errorf("key %s not found in variable pool", key)
		}
		banner(w, "debug", fmt.Sprintf("%s: %s", key, text(v)))
	default:
		banner(w, "debug: kwargs", pretty(map[string]any{
			"rule":          c.Rule,
			"rule_uuid":     c.RuleUUID,
			"rule_set":      c.Ruleset,
			"rule_set_uuid": c.RulesetUUID,
			"rule_run_at":   c.RuleRunAt,
			"inventory":     c.Inventory,
			"hosts":         c.Hosts,
			"variables":     c.Variables,
		}))
		if c.Engine != nil {
			facts, err := c.Engine.GetFacts(c.Ruleset)
			if err != nil {
				return fmt.Errorf("get facts: %w", err)
			}
			banner(w, "debug: facts", pretty(facts))
		}
	}
	c.ReportSuccess()
	return nil
}

func printEvent(_ context.Context, c *Control) error {
	key := "event"
	if _, ok := c.Variables["events"]; ok {
		key = "events"
	}
	v := c.Variables[key]
	if p, _ := c.Args["pretty"].(bool); p {
		banner(c.stdout(), "event", pretty(v))
	} else {
		banner(c.stdout(), "event", text(v))
	}
	c.ReportSuccess()
	return nil
}

func setFact(_ context.Context, c *Control) error {
	fact, err := mapArg(c.Args, "fact")
	if err != nil {
		return err
	}
	fact = rulebook.InsertMeta(ir.CloneMap(fact), c.Name, "internal", c.ids(), c.now())
	if err := c.Engine.AssertFact(c.TargetRuleset(), fact); err != nil && !ruleengine.IsExpected(err) {
		return fmt.Errorf("assert fact: %w", err)
	}
	c.ReportSuccess()
	return nil
}

// retractFact removes matching facts. partial defaults to true; a full
// match ignores the meta stamp.
func retractFact(_ context.Context, c *Control) error {
	fact, err := mapArg(c.Args, "fact")
	if err != nil {
		return err
	}
	partial := true
	if p, ok := c.Args["partial"].(bool); ok {
		partial = p
	}
	var exclude []string
	if !partial {
		exclude = []string{"meta"}
	}
	if err := c.Engine.RetractMatchingFacts(c.TargetRuleset(), fact, partial, exclude); err != nil {
		return fmt.Errorf("retract fact: %w", err)
	}
	c.ReportSuccess()
	return nil
}

func postEvent(_ context.Context, c *Control) error {
	event, err := mapArg(c.Args, "event")
	if err != nil {
		return err
	}
	event = rulebook.InsertMeta(ir.CloneMap(event), c.Name, "internal", c.ids(), c.now())
	if err := c.Engine.Post(c.TargetRuleset(), event); err != nil && !ruleengine.IsExpected(err) {
		return fmt.Errorf("post event: %w", err)
	}
	c.ReportSuccess()
	return nil
}

// shutdown reports itself, then raises the shutdown signal.
func shutdown(_ context.Context, c *Control) error {
	sd := rulebook.Shutdown{
		Message: DefaultShutdownMessage,
		Delay:   rulebook.DefaultShutdownDelay,
		Kind:    rulebook.ShutdownGraceful,
	}
	if m, ok := c.Args["message"].(string); ok {
		sd.Message = m
	}
	if d, ok := ir.ToFloat(c.Args["delay"]); ok {
		sd.Delay = d
	}
	if k, ok := c.Args["kind"].(string); ok {
		sd.Kind = k
	}
	if sd.Kind != rulebook.ShutdownGraceful && sd.Kind != rulebook.ShutdownNow {
		return fmt.Errorf("shutdown kind must be %s or %s, got %q", rulebook.ShutdownGraceful, rulebook.ShutdownNow, sd.Kind)
	}

	r := c.Record(eventlog.StatusSuccessful)
	r.Message = sd.Message
	r.Delay = sd.Delay
	r.Kind = sd.Kind
	if c.Sink != nil {
		c.Sink.Append(r)
	}
	banner(c.stdout(), "ruleset", fmt.Sprintf(
		"%s rule: %s has initiated shutdown of type: %s. Delay: %.3f seconds, Message: %s",
		c.Ruleset, c.Rule, sd.Kind, sd.Delay, sd.Message))
	return &ShutdownError{Shutdown: sd}
}

func mapArg(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a mapping, got %T", key, v)
	}
	return m, nil
}

func banner(w io.Writer, title, body string) {
	head := fmt.Sprintf("** %s ", title)
	fmt.Fprintln(w, head+strings.Repeat("*", max(0, 40-len(head))))
	fmt.Fprintln(w, body)
	fmt.Fprintln(w, strings.Repeat("*", 40))
}

func text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any, []any, []map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}

func pretty(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/rulebook/internal/action"
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
	"github.com/roach88/rulebook/internal/template"
)

// singleMatchAlias is the alias the engine binds a one-condition match to.
const singleMatchAlias = "m"

// limitActions take their host list from job_args.limit when given.
var limitActions = map[string]bool{
	"run_job_template":      true,
	"run_workflow_template": true,
}

// dispatch runs one action of p. It returns a non-nil error only for a
// shutdown raised by the action or for cancellation; both end the plan.
// Every other failure becomes a failed Action record.
func (r *Runner) dispatch(ctx context.Context, p Plan, a rulebook.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := &action.Control{
		Name:         a.Action,
		UUID:         r.ids.Generate(),
		ActivationID: r.config.ID,
		Ruleset:      p.Ruleset,
		RulesetUUID:  p.RulesetUUID,
		Rule:         p.Rule,
		RuleUUID:     p.RuleUUID,
		RuleRunAt:    eventlog.RunAt(p.RunAt),
		Inventory:    p.Inventory,
		Sink:         r.sink,
		Engine:       r.engine,
		IDs:          r.ids,
		Stdout:       r.stdout,
		Logger:       r.logger.With("rule", p.Rule, "action", a.Action),
		Now:          r.now,
	}
	logger := c.Logger

	variables := ir.CloneMap(p.Variables)
	if variables == nil {
		variables = map[string]any{}
	}
	c.Hosts = bindMatch(variables, p.Match, p.Hosts)
	c.Variables = variables

	handler, err := r.actions.Lookup(a.Action)
	if err != nil {
		logger.Error("action lookup failed", "error", err)
		r.reportFailure(c, nil, err)
		return nil
	}

	args := ir.CloneMap(a.Args)
	if args == nil {
		args = map[string]any{}
	}
	if rulebook.FilterBaseName(a.Action) == "shutdown" {
		if _, ok := args["delay"]; !ok {
			args["delay"] = r.config.ShutdownDelay
		}
	}
	if root, ok := args["var_root"]; ok {
		reroot(variables, root)
	}

	rendered, err := template.RenderMap(args, variables)
	if err != nil {
		logger.Error("render action arguments failed", "error", err)
		r.reportFailure(c, args, err)
		return nil
	}
	if _, ok := rendered["ruleset"]; !ok {
		rendered["ruleset"] = p.Ruleset
	}
	if limitActions[rulebook.FilterBaseName(a.Action)] {
		if hosts, ok := limitHosts(rendered); ok {
			c.Hosts = hosts
		}
	}
	c.Args = rendered

	logger.Debug("dispatching action", "action_uuid", c.UUID, "hosts", c.Hosts)
	err = handler.Execute(ctx, c)
	if err == nil {
		return nil
	}

	if se, ok := action.AsShutdown(err); ok {
		r.requestShutdown(se.Shutdown)
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		logger.Info("action cancelled")
		return err
	}

	switch {
	case template.IsUndefined(err):
		logger.Error("action references an undefined variable", "error", err)
	case ruleengine.IsExpected(err):
		logger.Error("action was not handled by the engine", "error", err)
	default:
		logger.Error("action failed", "error", err)
	}
	r.reportFailure(c, rendered, err)
	return nil
}

// reportFailure appends a failed Action record for c.
func (r *Runner) reportFailure(c *action.Control, args map[string]any, err error) {
	rec := c.Record(eventlog.StatusFailed)
	rec.Message = err.Error()
	if name, ok := args["name"].(string); ok {
		rec.PlaybookName = name
	}
	r.sink.Append(rec)
}

// bindMatch binds the matched items into variables as "event" or
// "events" and returns the host list the action targets.
func bindMatch(variables map[string]any, m ruleengine.Match, hosts []string) []string {
	switch {
	case len(m.Data) == 0:
		variables["event"] = map[string]any{}
		return hosts
	case len(m.Data) == 1 && m.Data[singleMatchAlias] != nil:
		event := ir.CloneMap(m.Data[singleMatchAlias])
		variables["event"] = event
		if eventHosts := metaHosts(event); len(eventHosts) > 0 {
			return eventHosts
		}
		return hosts
	}

	aliases := make([]string, 0, len(m.Data))
	for alias := range m.Data {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	events := make(map[string]any, len(m.Data))
	seen := make(map[string]bool)
	var union []string
	for _, alias := range aliases {
		event := ir.CloneMap(m.Data[alias])
		events[alias] = event
		for _, h := range metaHosts(event) {
			if !seen[h] {
				seen[h] = true
				union = append(union, h)
			}
		}
	}
	variables["events"] = events
	if len(union) > 0 {
		return union
	}
	return hosts
}

// metaHosts reads meta.hosts, a list or a comma separated string.
func metaHosts(event map[string]any) []string {
	v, ok := ir.Lookup(event, "meta.hosts")
	if !ok {
		return nil
	}
	return hostList(v)
}

func limitHosts(args map[string]any) ([]string, bool) {
	v, ok := ir.Lookup(args, "job_args.limit")
	if !ok {
		return nil, false
	}
	hosts := hostList(v)
	return hosts, len(hosts) > 0
}

func hostList(v any) []string {
	switch h := v.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(h))
		for _, elem := range h {
			out = append(out, fmt.Sprint(elem))
		}
		return out
	case []string:
		return h
	}
	return nil
}

// reroot replaces the bound event, or each bound event, with the value at
// a var_root path. root is a path, or a mapping of path to new alias for
// multi-event matches. The first path that resolves wins.
func reroot(variables map[string]any, root any) {
	roots := map[string]string{}
	var order []string
	switch v := root.(type) {
	case string:
		roots[v] = v
		order = []string{v}
	case map[string]any:
		for path, alias := range v {
			roots[path] = fmt.Sprint(alias)
			order = append(order, path)
		}
		sort.Strings(order)
	default:
		return
	}

	if event, ok := variables["event"].(map[string]any); ok {
		for _, path := range order {
			if value, ok := ir.Lookup(event, path); ok && truthy(value) {
				variables["event"] = value
				return
			}
		}
		return
	}

	events, ok := variables["events"].(map[string]any)
	if !ok {
		return
	}
	for _, alias := range ir.SortedKeys(events) {
		event, ok := events[alias].(map[string]any)
		if !ok {
			continue
		}
		for _, path := range order {
			if value, ok := ir.Lookup(event, path); ok && truthy(value) {
				events[roots[path]] = value
				break
			}
		}
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	}
	if f, ok := ir.ToFloat(v); ok {
		return f != 0
	}
	return true
}

func describeEvent(event map[string]any) string {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Sprint(event)
	}
	return string(data)
}

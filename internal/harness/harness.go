package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/rulebook/internal/action"
	"github.com/roach88/rulebook/internal/config"
	"github.com/roach88/rulebook/internal/engine"
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/queue"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
	"github.com/roach88/rulebook/internal/source"
)

// ActivationID is the activation id every scenario runs under.
const ActivationID = "scenario"

// EndOfEventsMessage is the message of the shutdown queued after the
// scripted events.
const EndOfEventsMessage = "scenario events exhausted"

// epoch is the fixed wall clock of every scenario.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution environment.
type Harness struct {
	actions *action.Registry
	logger  *slog.Logger
	stdout  io.Writer
}

// Option configures a Harness.
type Option func(*Harness)

// WithActions replaces the action registry, e.g. to stub run_command.
func WithActions(reg *action.Registry) Option {
	return func(h *Harness) {
		h.actions = reg
	}
}

// WithLogger sets the logger. Scenarios are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithStdout receives what actions print.
func WithStdout(w io.Writer) Option {
	return func(h *Harness) {
		h.stdout = w
	}
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		actions: action.NewRegistry(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout:  io.Discard,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with the default Harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(context.Background(), scenario)
}

// Run executes a scenario and evaluates its assertions.
//
// Execution flow:
//  1. Load and assemble the rulebook with fixed ids
//  2. Queue the scripted events (or start the rulebook's sources)
//  3. Run the orchestrator until every ruleset has ended
//  4. Project the event log into a trace and evaluate the assertions
//
// A returned error means the scenario could not run; assertion failures
// are reported in the Result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	doc, err := scenario.loadRulebook()
	if err != nil {
		return nil, err
	}
	vars, err := ir.NormalizeMap(scenario.Vars)
	if err != nil {
		return nil, fmt.Errorf("invalid vars: %w", err)
	}
	if vars == nil {
		vars = map[string]any{}
	}

	ids := ident.NewFixedGenerator()
	now := func() time.Time { return epoch }

	rulesets, err := rulebook.Assemble(doc, vars, rulebook.WithIDGenerator(ids))
	if err != nil {
		return nil, err
	}

	bindings := make([]engine.Binding, len(rulesets))
	known := make(map[string]bool, len(rulesets))
	for i, rs := range rulesets {
		bindings[i] = engine.Binding{RuleSet: rs, Source: queue.New[rulebook.Item]()}
		known[rs.Name] = true
	}
	for name := range scenario.Events {
		if !known[name] {
			return nil, fmt.Errorf("events given for unknown ruleset %q", name)
		}
	}

	cfg := config.Default()
	cfg.ID = ActivationID
	cfg.ShutdownDelay = 0

	log := &eventlog.Collector{}
	orch, err := engine.NewOrchestrator(log,
		ruleengine.NewMemory(ruleengine.WithClock(now), ruleengine.WithLogger(h.logger)),
		bindings, vars,
		engine.WithActions(h.actions),
		engine.WithConfig(cfg),
		engine.WithIDGenerator(ids),
		engine.WithNow(now),
		engine.WithLogger(h.logger),
		engine.WithStdout(h.stdout),
	)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, scenario.timeout())
	defer cancel()

	var sources *source.Harness
	if scenario.UseSources {
		sources = source.NewHarness(orch.BroadcastAll,
			source.WithShutdownDelay(0),
			source.WithIDGenerator(ids),
			source.WithNow(now),
			source.WithLogger(h.logger),
		)
		for _, b := range bindings {
			if err := sources.Start(runCtx, b.RuleSet, b.Source); err != nil {
				return nil, err
			}
		}
	} else if err := h.queueEvents(scenario, bindings); err != nil {
		return nil, err
	}

	runErr := orch.Run(runCtx)
	timedOut := runCtx.Err() != nil && ctx.Err() == nil
	cancel()
	if sources != nil {
		sources.Wait()
	}
	if timedOut {
		return nil, fmt.Errorf("scenario %s did not finish within %s", scenario.Name, scenario.timeout())
	}
	if runErr != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, runErr)
	}

	result := NewResult()
	result.Records = log.Records()
	result.Trace = buildTrace(result.Records)
	result.Stats = orch.Stats()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, rulesetNames(rulesets)) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) queueEvents(scenario *Scenario, bindings []engine.Binding) error {
	for _, b := range bindings {
		for i, event := range scenario.Events[b.RuleSet.Name] {
			normalized, err := ir.NormalizeMap(event)
			if err != nil {
				return fmt.Errorf("events[%s][%d]: %w", b.RuleSet.Name, i, err)
			}
			b.Source.Put(rulebook.EventItem(normalized))
		}
		if scenario.shutdownAfterEvents() {
			b.Source.Put(rulebook.ShutdownItem(rulebook.Shutdown{
				Kind:         rulebook.ShutdownGraceful,
				SourcePlugin: ActivationID,
				Message:      EndOfEventsMessage,
			}))
		}
	}
	return nil
}

func rulesetNames(rulesets []rulebook.RuleSet) []string {
	names := make([]string, len(rulesets))
	for i, rs := range rulesets {
		names[i] = rs.Name
	}
	return names
}

// traceRank orders record kinds within a ruleset.
var traceRank = map[eventlog.Type]int{
	eventlog.TypeEmptyEvent:     0,
	eventlog.TypeProcessedEvent: 0,
	eventlog.TypeAction:         1,
	eventlog.TypeJob:            1,
	eventlog.TypeJobEvent:       1,
	eventlog.TypeShutdown:       2,
}

// buildTrace projects records into the deterministic trace. SessionStats
// records carry timestamps and are left out.
func buildTrace(records []eventlog.Record) []TraceEvent {
	kept := make([]eventlog.Record, 0, len(records))
	for _, r := range records {
		if _, ok := traceRank[r.Type]; ok {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Ruleset != b.Ruleset {
			return a.Ruleset < b.Ruleset
		}
		if traceRank[a.Type] != traceRank[b.Type] {
			return traceRank[a.Type] < traceRank[b.Type]
		}
		return a.Seq < b.Seq
	})

	trace := make([]TraceEvent, len(kept))
	for i, r := range kept {
		trace[i] = TraceEvent{
			Ruleset:        r.Ruleset,
			Type:           string(r.Type),
			Rule:           r.Rule,
			Action:         r.Action,
			Status:         r.Status,
			Message:        r.Message,
			PlaybookName:   r.PlaybookName,
			Kind:           r.Kind,
			SourcePlugin:   r.SourcePlugin,
			Delay:          r.Delay,
			MatchingEvents: stripMeta(r.MatchingEvents),
			Event:          stripMetaEvent(r.Event),
		}
	}
	return trace
}

// stripMeta drops the meta key of every matched event; it carries ids and
// receive times.
func stripMeta(events map[string]any) map[string]any {
	if events == nil {
		return nil
	}
	out := make(map[string]any, len(events))
	for alias, e := range events {
		if m, ok := e.(map[string]any); ok {
			out[alias] = stripMetaEvent(m)
			continue
		}
		out[alias] = e
	}
	return out
}

func stripMetaEvent(event map[string]any) map[string]any {
	if event == nil {
		return nil
	}
	out := ir.CloneMap(event)
	delete(out, "meta")
	return out
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/rulebook/internal/compiler"
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/queue"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
)

// Orchestrator runs one Runner per ruleset and owns the source queues used
// for shutdown broadcast.
type Orchestrator struct {
	runners []*Runner
	logger  *slog.Logger
}

// Binding pairs a ruleset with the source queue its sources feed.
type Binding struct {
	RuleSet rulebook.RuleSet
	Source  *queue.Queue[rulebook.Item]
}

// NewOrchestrator lowers every ruleset and builds its runner. Compile
// errors are returned before any runner exists. opts apply to every
// runner; the broadcast callback is always the orchestrator's.
func NewOrchestrator(
	sink eventlog.Sink,
	eng ruleengine.Engine,
	bindings []Binding,
	variables map[string]any,
	opts ...RunnerOption,
) (*Orchestrator, error) {
	// The orchestrator logs through the logger given to the runners.
	probe := &Runner{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}
	o := &Orchestrator{logger: probe.logger}

	seen := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.RuleSet.Name] {
			return nil, fmt.Errorf("ruleset %s is bound twice", b.RuleSet.Name)
		}
		seen[b.RuleSet.Name] = true

		document, err := compiler.VisitRuleset(b.RuleSet, variables)
		if err != nil {
			return nil, fmt.Errorf("ruleset %s: %w", b.RuleSet.Name, err)
		}

		source := b.Source
		if source == nil {
			source = queue.New[rulebook.Item]()
		}

		runnerOpts := make([]RunnerOption, 0, len(opts)+2)
		runnerOpts = append(runnerOpts, WithVariables(variables))
		runnerOpts = append(runnerOpts, opts...)
		runnerOpts = append(runnerOpts, WithBroadcast(o.Broadcast))
		r := NewRunner(b.RuleSet, document, source, sink, eng, runnerOpts...)
		o.runners = append(o.runners, r)
	}
	return o, nil
}

// Runners returns the runners in ruleset order.
func (o *Orchestrator) Runners() []*Runner {
	return o.runners
}

// Source returns the source queue of the named ruleset.
func (o *Orchestrator) Source(ruleset string) (*queue.Queue[rulebook.Item], bool) {
	for _, r := range o.runners {
		if r.Name() == ruleset {
			return r.Source(), true
		}
	}
	return nil, false
}

// Broadcast puts sd on the source queue of every runner except from. It
// never blocks.
func (o *Orchestrator) Broadcast(from string, sd rulebook.Shutdown) {
	for _, r := range o.runners {
		if r.Name() == from {
			continue
		}
		if !r.Source().Put(rulebook.ShutdownItem(sd)) {
			o.logger.Warn("shutdown not delivered, source queue closed", "target", r.Name())
		}
	}
}

// BroadcastAll puts sd on every runner's source queue. Used when a source
// plugin ends.
func (o *Orchestrator) BroadcastAll(sd rulebook.Shutdown) {
	o.Broadcast("", sd)
}

// Run starts every runner and waits for all of them. A runner finishing
// does not cancel the others. The returned error joins every runner error
// other than cancellation of ctx.
func (o *Orchestrator) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range o.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()
	o.logger.Info("all rulesets ended", "rulesets", len(o.runners))
	return errors.Join(errs...)
}

// Stats returns the final session statistics of every runner, keyed by
// ruleset name. Valid after Run returns.
func (o *Orchestrator) Stats() map[string]ruleengine.Stats {
	out := make(map[string]ruleengine.Stats, len(o.runners))
	for _, r := range o.runners {
		out[r.Name()] = r.Stats()
	}
	return out
}

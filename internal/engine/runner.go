package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/roach88/rulebook/internal/action"
	"github.com/roach88/rulebook/internal/config"
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/queue"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
)

// Plan is the unit of work produced when a rule fires. It is created by
// the engine callback, consumed once by the plan drain, then discarded.
type Plan struct {
	Ruleset     string
	RulesetUUID string
	Rule        string
	RuleUUID    string
	Actions     []rulebook.Action

	// Variables is a snapshot of the global variables at match time.
	Variables map[string]any
	Inventory map[string]any
	Hosts     []string

	Match ruleengine.Match
	RunAt time.Time
}

// Broadcast hands a Shutdown raised by one runner to the others.
type Broadcast func(from string, sd rulebook.Shutdown)

// Runner drives one ruleset.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine, once
//   - Source(): safe from any goroutine; producers Put on the queue
//   - Shutdown(), Stats(): safe from any goroutine
type Runner struct {
	ruleset  rulebook.RuleSet
	document map[string]any

	source *queue.Queue[rulebook.Item]
	plans  *queue.Queue[Plan]

	sink      eventlog.Sink
	engine    ruleengine.Engine
	actions   *action.Registry
	config    *config.Config
	broadcast Broadcast

	variables map[string]any
	inventory map[string]any

	ids    ident.Generator
	now    func() time.Time
	logger *slog.Logger
	stdout io.Writer

	mu       sync.Mutex
	shutdown *rulebook.Shutdown
	tasks    map[*task]struct{}
	fatal    error
	stats    ruleengine.Stats

	// stop wakes the plan drain so it exits once the plan queue is empty.
	stop context.CancelFunc
	// cancel ends the plan drain immediately.
	cancel context.CancelFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithActions sets the action registry. Defaults to the builtins.
func WithActions(reg *action.Registry) RunnerOption {
	return func(r *Runner) {
		r.actions = reg
	}
}

// WithConfig sets the process configuration.
func WithConfig(c *config.Config) RunnerOption {
	return func(r *Runner) {
		r.config = c
	}
}

// WithBroadcast sets the callback used to propagate a shutdown raised by an
// action of this runner.
func WithBroadcast(b Broadcast) RunnerOption {
	return func(r *Runner) {
		r.broadcast = b
	}
}

// WithVariables sets the global variables.
func WithVariables(vars map[string]any) RunnerOption {
	return func(r *Runner) {
		r.variables = vars
	}
}

// WithInventory sets the inventory handed to actions and used for host
// facts.
func WithInventory(inv map[string]any) RunnerOption {
	return func(r *Runner) {
		r.inventory = inv
	}
}

// WithIDGenerator sets the generator for action dispatch ids.
func WithIDGenerator(gen ident.Generator) RunnerOption {
	return func(r *Runner) {
		r.ids = gen
	}
}

// WithNow overrides the wall clock used for record timestamps.
func WithNow(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithStdout sets the writer actions and print_events write to.
func WithStdout(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.stdout = w
	}
}

// NewRunner creates a runner for rs. document is the compiled ruleset
// document registered with eng; source is the queue the ruleset's sources
// feed.
func NewRunner(
	rs rulebook.RuleSet,
	document map[string]any,
	source *queue.Queue[rulebook.Item],
	sink eventlog.Sink,
	eng ruleengine.Engine,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		ruleset:  rs,
		document: document,
		source:   source,
		plans:    queue.New[Plan](),
		sink:     sink,
		engine:   eng,
		tasks:    make(map[*task]struct{}),
		ids:      ident.UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
		stdout:   os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.actions == nil {
		r.actions = action.NewRegistry()
	}
	if r.config == nil {
		r.config = config.Default()
	}
	r.logger = r.logger.With("ruleset", rs.Name)
	return r
}

// Name returns the ruleset name.
func (r *Runner) Name() string {
	return r.ruleset.Name
}

// Source returns the ruleset's source queue.
func (r *Runner) Source() *queue.Queue[rulebook.Item] {
	return r.source
}

// Shutdown returns the recorded shutdown, if any.
func (r *Runner) Shutdown() (rulebook.Shutdown, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown == nil {
		return rulebook.Shutdown{}, false
	}
	return *r.shutdown, true
}

// Stats returns the final session statistics. Valid after Run returns.
func (r *Runner) Stats() ruleengine.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run executes the ruleset until it terminates. It returns nil after a
// shutdown, the parent context's error if ctx was cancelled, or the error
// that stopped a loop.
func (r *Runner) Run(ctx context.Context) error {
	callbacks := make(map[string]ruleengine.Callback, len(r.ruleset.Rules))
	for _, rule := range r.ruleset.Rules {
		callbacks[rule.Name] = func(m ruleengine.Match) {
			r.enqueue(rule, m)
		}
	}
	if err := r.engine.CreateSession(r.ruleset.Name, r.document, callbacks); err != nil {
		return fmt.Errorf("ruleset %s: create session: %w", r.ruleset.Name, err)
	}

	planCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopCtx, stop := context.WithCancel(planCtx)
	defer stop()
	r.mu.Lock()
	r.cancel = cancel
	r.stop = stop
	r.mu.Unlock()

	if err := r.seedFacts(); err != nil {
		r.mu.Lock()
		r.fatal = err
		r.mu.Unlock()
		cancel()
	}

	sourceCtx, cancelSource := context.WithCancel(ctx)
	sourceDone := make(chan struct{})
	go func() {
		defer close(sourceDone)
		r.drainSource(sourceCtx)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		r.heartbeat(sourceCtx)
	}()

	r.logger.Info("ruleset started", "rules", len(r.ruleset.Rules), "strategy", r.strategy())
	r.drainPlans(planCtx, stopCtx, ctx)
	r.cleanup(ctx, cancelSource, sourceDone, heartbeatDone)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.fatal != nil:
		return r.fatal
	case r.shutdown != nil:
		return nil
	default:
		return ctx.Err()
	}
}

func (r *Runner) strategy() rulebook.ExecutionStrategy {
	if r.ruleset.ExecutionStrategy != "" {
		return r.ruleset.ExecutionStrategy
	}
	return r.config.DefaultExecutionStrategy
}

// enqueue is the engine callback. It may run on the source drain goroutine
// or on an engine timer.
func (r *Runner) enqueue(rule rulebook.Rule, m ruleengine.Match) {
	p := Plan{
		Ruleset:     r.ruleset.Name,
		RulesetUUID: r.ruleset.UUID,
		Rule:        rule.Name,
		RuleUUID:    rule.UUID,
		Actions:     rule.Actions,
		Variables:   ir.CloneMap(r.variables),
		Inventory:   r.inventory,
		Hosts:       r.ruleset.Hosts,
		Match:       m,
		RunAt:       r.now(),
	}
	if !r.plans.Put(p) {
		r.logger.Warn("plan dropped, runner stopped", "rule", rule.Name)
	}
}

// seedFacts asserts host facts, when gathering is on, and the global
// variables. A fact no rule matches is expected.
func (r *Runner) seedFacts() error {
	var facts []map[string]any
	if r.ruleset.GatherFacts {
		facts = append(facts, hostFacts(r.inventory)...)
	}
	if len(r.variables) > 0 {
		facts = append(facts, ir.CloneMap(r.variables))
	}
	for _, fact := range facts {
		err := r.engine.AssertFact(r.ruleset.Name, fact)
		if err != nil && !ruleengine.IsExpected(err) {
			return fmt.Errorf("ruleset %s: seed facts: %w", r.ruleset.Name, err)
		}
	}
	return nil
}

// hostFacts returns one fact per inventory host, its vars plus
// meta.hosts, in host name order.
func hostFacts(inventory map[string]any) []map[string]any {
	hosts := rulebook.InventoryHosts(inventory)
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	facts := make([]map[string]any, 0, len(names))
	for _, name := range names {
		fact := ir.CloneMap(hosts[name])
		fact["meta"] = map[string]any{"hosts": name}
		facts = append(facts, fact)
	}
	return facts
}

func (r *Runner) drainSource(ctx context.Context) {
	for {
		item, err := r.source.Get(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				r.logger.Info("source queue closed")
				r.stopPlans()
			}
			return
		}

		if item.Shutdown != nil {
			r.handleShutdown(ctx, *item.Shutdown)
			return
		}

		if len(item.Event) == 0 {
			r.emit(eventlog.Record{Type: eventlog.TypeEmptyEvent})
			continue
		}

		if r.config.PrintEvents {
			fmt.Fprintln(r.stdout, describeEvent(item.Event))
		}

		err = r.engine.Post(r.ruleset.Name, item.Event)
		switch {
		case err == nil:
		case ruleengine.IsExpected(err):
			r.logger.Debug("event outcome", "outcome", err)
		default:
			r.logger.Error("post event failed", "error", err)
			r.fail(fmt.Errorf("ruleset %s: post event: %w", r.ruleset.Name, err))
			return
		}
		r.emit(eventlog.Record{Type: eventlog.TypeProcessedEvent, Event: item.Event})
	}
}

// handleShutdown runs on the source drain goroutine, which returns right
// after.
func (r *Runner) handleShutdown(ctx context.Context, sd rulebook.Shutdown) {
	if !r.recordShutdown(sd) {
		r.logger.Info("shutdown already in progress, ignoring", "shutdown", sd.String())
		return
	}
	r.logger.Info("shutdown requested", "kind", sd.Kind, "delay", sd.Delay, "message", sd.Message)

	if sd.Now() {
		r.cancelPlans()
		return
	}

	r.stopPlans()
	if sd.Delay <= 0 {
		return
	}

	timer := time.NewTimer(seconds(sd.Delay))
	defer timer.Stop()
	select {
	case <-timer.C:
		r.logger.Info("shutdown delay expired, cancelling pending actions", "queued", r.plans.Len())
		r.cancelPlans()
	case <-ctx.Done():
	}
}

// recordShutdown stores sd unless a shutdown is already recorded.
func (r *Runner) recordShutdown(sd rulebook.Shutdown) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown != nil {
		return false
	}
	r.shutdown = &sd
	return true
}

// requestShutdown propagates a shutdown raised by an action: to the other
// runners through the broadcast, and to this runner through its own source
// queue so events queued before it are still posted.
func (r *Runner) requestShutdown(sd rulebook.Shutdown) {
	if _, ok := r.Shutdown(); ok {
		r.logger.Info("shutdown already in progress, ignoring", "shutdown", sd.String())
		return
	}
	if r.broadcast != nil {
		r.broadcast(r.ruleset.Name, sd)
	}
	if !r.source.Put(rulebook.ShutdownItem(sd)) {
		r.logger.Warn("source queue closed, shutdown not delivered")
	}
}

func (r *Runner) stopPlans() {
	r.mu.Lock()
	stop := r.stop
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (r *Runner) cancelPlans() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// fail records a fatal loop error and ends the plan drain.
func (r *Runner) fail(err error) {
	r.mu.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	r.mu.Unlock()
	r.cancelPlans()
}

// drainPlans dispatches Plans until ctx is cancelled, or until stopCtx is
// done and the plan queue is empty. Action tasks derive from taskCtx so
// that cancelling the drain does not cancel them; cleanup does.
func (r *Runner) drainPlans(ctx, stopCtx, taskCtx context.Context) {
	sequential := r.strategy() != rulebook.Parallel
	for {
		if ctx.Err() != nil {
			return
		}
		if stopCtx.Err() != nil && r.plans.Len() == 0 {
			return
		}

		// Get drains queued items before reporting stopCtx as done.
		p, err := r.plans.Get(stopCtx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			continue
		}

		t := r.spawn(taskCtx, func(tctx context.Context) {
			r.runPlan(tctx, p)
		})
		if !sequential {
			continue
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			return
		}
	}
}

// runPlan dispatches the actions of p in order. A shutdown or cancellation
// ends the remaining actions.
func (r *Runner) runPlan(ctx context.Context, p Plan) {
	for _, a := range p.Actions {
		if err := r.dispatch(ctx, p, a); err != nil {
			return
		}
	}
}

func (r *Runner) heartbeat(ctx context.Context) {
	if r.config.Heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(r.config.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.engine.SessionStats(r.ruleset.Name)
			if err != nil {
				r.logger.Warn("session stats unavailable", "error", err)
				continue
			}
			r.emit(eventlog.Record{Type: eventlog.TypeSessionStats, Stats: statsMap(stats)})
		}
	}
}

// cleanup runs once, after the plan drain has returned.
func (r *Runner) cleanup(ctx context.Context, cancelSource context.CancelFunc, sourceDone, heartbeatDone <-chan struct{}) {
	cancelSource()
	<-sourceDone
	<-heartbeatDone

	sd, hasShutdown := r.Shutdown()
	if hasShutdown && !sd.Now() && r.activeTasks() > 0 {
		r.logger.Info("waiting for active actions", "active", r.activeTasks(), "delay", sd.Delay)
		r.waitTasks(ctx, sd.Delay)
	}
	r.cancelTasks()

	if dropped := r.plans.Len(); dropped > 0 {
		r.logger.Info("pending actions discarded", "count", dropped)
	}
	r.plans.Close()

	if hasShutdown {
		r.emit(eventlog.Record{
			Type:         eventlog.TypeShutdown,
			Message:      sd.Message,
			Delay:        sd.Delay,
			SourcePlugin: sd.SourcePlugin,
			Kind:         sd.Kind,
		})
	}

	stats, err := r.engine.EndSession(r.ruleset.Name)
	if err != nil {
		r.logger.Error("end session failed", "error", err)
	} else {
		r.mu.Lock()
		r.stats = stats
		r.mu.Unlock()
		if r.config.Heartbeat > 0 {
			r.emit(eventlog.Record{Type: eventlog.TypeSessionStats, Stats: statsMap(stats)})
		}
		r.logger.Info("ruleset ended",
			"rules_triggered", stats.RulesTriggered,
			"events_processed", stats.EventsProcessed,
			"events_matched", stats.EventsMatched,
			"number_of_rules", stats.NumberOfRules,
			"number_of_disabled_rules", stats.NumberOfDisabledRules)
	}
}

// emit stamps ruleset metadata on rec and appends it.
func (r *Runner) emit(rec eventlog.Record) {
	rec.ActivationID = r.config.ID
	if rec.Ruleset == "" {
		rec.Ruleset = r.ruleset.Name
		rec.RulesetUUID = r.ruleset.UUID
	}
	if rec.RunAt == "" {
		rec.RunAt = eventlog.RunAt(r.now())
	}
	r.sink.Append(rec)
}

func statsMap(s ruleengine.Stats) map[string]any {
	m := map[string]any{
		"start":                    eventlog.RunAt(s.Start),
		"number_of_rules":          s.NumberOfRules,
		"number_of_disabled_rules": s.NumberOfDisabledRules,
		"rules_triggered":          s.RulesTriggered,
		"events_processed":         s.EventsProcessed,
		"events_matched":           s.EventsMatched,
		"events_suppressed":        s.EventsSuppressed,
		"permanent_storage_count":  s.PermanentStorageCount,
	}
	if !s.End.IsZero() {
		m["end"] = eventlog.RunAt(s.End)
	}
	if s.LastRuleFired != "" {
		m["last_rule_fired"] = s.LastRuleFired
		m["last_rule_fired_at"] = eventlog.RunAt(s.LastRuleFiredAt)
	}
	return m
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/queue"
	"github.com/roach88/rulebook/internal/rulebook"
)

// Broadcast delivers a Shutdown to every ruleset in the process.
type Broadcast func(rulebook.Shutdown)

// Harness runs the sources of rulesets.
//
// Thread-safety model:
//   - Start(): safe from any goroutine
//   - Wait(): blocks until every started source has ended
type Harness struct {
	registry      *Registry
	broadcast     Broadcast
	shutdownDelay float64
	printEvents   func(ruleset string, event map[string]any)
	env           Env
	wg            sync.WaitGroup
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithRegistry sets the plugin and filter registry.
func WithRegistry(r *Registry) HarnessOption {
	return func(h *Harness) {
		h.registry = r
	}
}

// WithShutdownDelay sets the delay carried by source-end shutdowns.
func WithShutdownDelay(seconds float64) HarnessOption {
	return func(h *Harness) {
		h.shutdownDelay = seconds
	}
}

// WithIDGenerator sets the generator for meta.uuid.
func WithIDGenerator(gen ident.Generator) HarnessOption {
	return func(h *Harness) {
		h.env.IDs = gen
	}
}

// WithNow overrides the clock for meta.received_at.
func WithNow(now func() time.Time) HarnessOption {
	return func(h *Harness) {
		h.env.Now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HarnessOption {
	return func(h *Harness) {
		h.env.Logger = l
	}
}

// WithEventPrinter is called with every filtered event before it is
// queued.
func WithEventPrinter(fn func(ruleset string, event map[string]any)) HarnessOption {
	return func(h *Harness) {
		h.printEvents = fn
	}
}

// NewHarness creates a Harness that reports source ends through broadcast.
func NewHarness(broadcast Broadcast, opts ...HarnessOption) *Harness {
	h := &Harness{
		registry:      NewRegistry(),
		broadcast:     broadcast,
		shutdownDelay: rulebook.DefaultShutdownDelay,
		env: Env{
			IDs:    ident.UUIDv7Generator{},
			Now:    time.Now,
			Logger: slog.Default(),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type boundFilter struct {
	name   string
	filter Filter
	args   map[string]any
}

type boundSource struct {
	src     rulebook.EventSource
	plugin  Plugin
	filters []boundFilter
}

// Start resolves every source of rs and runs each in its own goroutine,
// putting filtered events on q. Lookup failures are reported before any
// source starts.
func (h *Harness) Start(ctx context.Context, rs rulebook.RuleSet, q *queue.Queue[rulebook.Item]) error {
	bound := make([]boundSource, 0, len(rs.Sources))
	for _, src := range rs.Sources {
		src = src.WithMetaInfoFilter()
		plugin, err := h.registry.Plugin(src.SourceName)
		if err != nil {
			return fmt.Errorf("ruleset %s: %w", rs.Name, err)
		}
		b := boundSource{src: src, plugin: plugin}
		for _, f := range src.Filters {
			filter, err := h.registry.Filter(f.FilterName)
			if err != nil {
				return fmt.Errorf("ruleset %s: source %s: %w", rs.Name, src.Name, err)
			}
			b.filters = append(b.filters, boundFilter{name: f.FilterName, filter: filter, args: f.FilterArgs})
		}
		bound = append(bound, b)
	}

	for _, b := range bound {
		h.wg.Add(1)
		go func(b boundSource) {
			defer h.wg.Done()
			h.run(ctx, rs.Name, b, q)
		}(b)
	}
	return nil
}

// Wait blocks until all started sources have ended.
func (h *Harness) Wait() {
	h.wg.Wait()
}

func (h *Harness) run(ctx context.Context, ruleset string, b boundSource, q *queue.Queue[rulebook.Item]) {
	logger := h.env.Logger.With("ruleset", ruleset, "source", b.src.SourceName)
	logger.Info("source starting")

	emit := func(ctx context.Context, event map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := ir.CloneMap(event)
		if out == nil {
			out = map[string]any{}
		}
		for _, f := range b.filters {
			var err error
			out, err = f.filter.Apply(h.env, out, f.args)
			if err != nil {
				return fmt.Errorf("filter %s: %w", f.name, err)
			}
		}
		if h.printEvents != nil {
			h.printEvents(ruleset, out)
		}
		if !q.Put(rulebook.EventItem(out)) {
			return ErrQueueClosed
		}
		return nil
	}

	err := b.plugin.Run(ctx, b.src.SourceArgs, emit)

	now := h.env.Now().Format(time.RFC3339Nano)
	sd := rulebook.Shutdown{
		Kind:         rulebook.ShutdownGraceful,
		SourcePlugin: b.src.SourceName,
		Delay:        h.shutdownDelay,
	}
	switch {
	case err == nil:
		sd.Message = fmt.Sprintf("Source %s initiated shutdown at %s", b.src.SourceName, now)
		logger.Info("source finished")
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed):
		sd.Message = fmt.Sprintf("Source %s task cancelled, initiated shutdown at %s", b.src.SourceName, now)
		logger.Info("source cancelled")
	default:
		sd.Message = fmt.Sprintf("Shutting down source: %s error : %v", b.src.SourceName, err)
		logger.Error("source failed", "error", err)
	}
	if h.broadcast != nil {
		h.broadcast(sd)
	}
}

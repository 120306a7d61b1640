package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/rulebook/internal/action"
	"github.com/roach88/rulebook/internal/config"
	"github.com/roach88/rulebook/internal/engine"
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/metrics"
	"github.com/roach88/rulebook/internal/queue"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
	"github.com/roach88/rulebook/internal/source"
	"github.com/roach88/rulebook/internal/store"
)

// Options configures Run. Zero values select the production defaults.
type Options struct {
	Config  *config.Config
	Verbose bool

	Stdout io.Writer
	Logger *slog.Logger
	IDs    ident.Generator
	Now    func() time.Time

	Engine  ruleengine.Engine
	Actions *action.Registry
	Sources *source.Registry

	// Handlers receive every record in addition to the configured
	// consumers.
	Handlers []eventlog.Handler
}

// Result summarizes a finished activation.
type Result struct {
	RunID string
	Stats map[string]ruleengine.Stats
}

func (o *Options) defaults() {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.IDs == nil {
		o.IDs = ident.UUIDv7Generator{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Engine == nil {
		o.Engine = ruleengine.NewMemory(
			ruleengine.WithClock(o.Now),
			ruleengine.WithLogger(o.Logger),
		)
	}
	if o.Actions == nil {
		o.Actions = action.NewRegistry()
	}
	if o.Sources == nil {
		o.Sources = source.NewRegistry()
	}
	if o.Config.ID == "" {
		o.Config.ID = o.IDs.Generate()
	}
}

// Run executes act until every ruleset has ended or ctx is cancelled.
func Run(ctx context.Context, act *Activation, opts Options) (Result, error) {
	opts.defaults()
	cfg := opts.Config
	logger := opts.Logger.With("activation_id", cfg.ID)
	result := Result{RunID: cfg.ID}

	clock := ident.NewClock()
	handlers := []eventlog.Handler{eventlog.NewConsole(opts.Stdout, opts.Verbose)}
	handlers = append(handlers, opts.Handlers...)

	var st *store.Store
	if cfg.Database != "" {
		var err error
		st, err = store.Open(cfg.Database)
		if err != nil {
			return result, fmt.Errorf("open database: %w", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}()

		run := store.Run{
			ID:           cfg.ID,
			Rulebook:     act.Path,
			DocumentHash: act.Hash,
			Rulesets:     act.Names(),
			StartedAt:    opts.Now(),
		}
		if err := st.WriteRun(ctx, run); err != nil {
			return result, err
		}
		// A rerun under the same id continues the stored numbering.
		last, err := st.LastSeq(ctx, cfg.ID)
		if err != nil {
			return result, err
		}
		if last > 0 {
			logger.Info("resuming activation", "seq", last)
			clock = ident.NewClockAt(last)
		}
		handlers = append(handlers, st.Handler(cfg.ID))
	}
	log := eventlog.New(eventlog.WithClock(clock), eventlog.WithNow(opts.Now), eventlog.WithLogger(logger))

	if cfg.WebsocketURL != "" {
		fwd := eventlog.NewForwarder(cfg.WebsocketURL, eventlog.WithForwarderLogger(logger))
		defer fwd.Close()
		var h eventlog.Handler = fwd
		if cfg.SkipAuditEvents {
			h = eventlog.Filter(h, eventlog.SkipAudit)
		}
		handlers = append(handlers, h)
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serveDone := make(chan error, 1)
	if cfg.MetricsAddress != "" {
		obs := metrics.NewObserver()
		handlers = append(handlers, obs)
		go func() {
			serveDone <- obs.Serve(serveCtx, cfg.MetricsAddress, logger)
		}()
	} else {
		serveDone <- nil
	}

	bindings := make([]engine.Binding, len(act.Rulesets))
	for i, rs := range act.Rulesets {
		bindings[i] = engine.Binding{RuleSet: rs, Source: queue.New[rulebook.Item]()}
	}

	orch, err := engine.NewOrchestrator(log, opts.Engine, bindings, act.Variables,
		engine.WithActions(opts.Actions),
		engine.WithConfig(cfg),
		engine.WithInventory(act.Inventory),
		engine.WithIDGenerator(opts.IDs),
		engine.WithNow(opts.Now),
		engine.WithLogger(logger),
		engine.WithStdout(opts.Stdout),
	)
	if err != nil {
		return result, err
	}

	// Drained on a detached context: records emitted during shutdown must
	// still be delivered.
	logDone := make(chan error, 1)
	go func() {
		logDone <- log.Run(context.WithoutCancel(ctx), handlers...)
	}()

	srcCtx, stopSources := context.WithCancel(ctx)
	harness := source.NewHarness(orch.BroadcastAll,
		source.WithRegistry(opts.Sources),
		source.WithShutdownDelay(cfg.ShutdownDelay),
		source.WithIDGenerator(opts.IDs),
		source.WithNow(opts.Now),
		source.WithLogger(logger),
	)

	var runErr error
	for _, b := range bindings {
		if err := harness.Start(srcCtx, b.RuleSet, b.Source); err != nil {
			runErr = err
			break
		}
	}

	if runErr != nil {
		// Rulesets whose sources already started are stopped right away.
		orch.BroadcastAll(rulebook.Shutdown{Kind: rulebook.ShutdownNow, Message: runErr.Error()})
	}
	logger.Info("activation starting", "rulesets", len(bindings))
	if err := orch.Run(ctx); err != nil && runErr == nil {
		runErr = err
	}
	result.Stats = orch.Stats()

	stopSources()
	harness.Wait()
	log.Close()
	if err := <-logDone; err != nil {
		logger.Error("event log delivery stopped", "error", err)
	}

	if st != nil {
		if err := st.EndRun(context.WithoutCancel(ctx), cfg.ID, opts.Now()); err != nil {
			logger.Error("failed to record run end", "error", err)
		}
	}

	stopServe()
	if err := <-serveDone; err != nil {
		logger.Error("metrics server failed", "error", err)
	}

	logger.Info("activation ended")
	return result, runErr
}

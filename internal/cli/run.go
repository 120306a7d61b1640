package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rulebook/internal/app"
	"github.com/roach88/rulebook/internal/config"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/rulebook"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	RulebookOptions

	// ConfigFile is an explicit configuration file.
	ConfigFile string

	// IDs overrides the activation id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs ident.Generator
}

// RunResult is the JSON payload of a finished activation.
type RunResult struct {
	ActivationID string                    `json:"activation_id"`
	Stats        map[string]map[string]any `json:"stats"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <rulebook>",
		Short: "Run a rulebook until every ruleset ends",
		Long: `Activate a rulebook: start the sources of every ruleset, match their
events and run the triggered actions.

The activation ends when every ruleset has shut down, either because its
sources ended, a shutdown action ran, or the process was interrupted.

Configuration is read, in increasing priority, from rulebook.yaml,
RULEBOOK_* environment variables and the flags below.

Example:
  rulebook run rulebooks/hello.yml --vars vars.yml
  rulebook run rulebooks/hello.yml --database ./rulebook.db --heartbeat 5
  rulebook run rulebooks/hello.yml -E HOSTNAME --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivation(opts, args[0], cmd)
		},
	}

	flags := cmd.Flags()
	opts.addFlags(cmd)
	flags.StringVar(&opts.ConfigFile, "config", "", "configuration file")
	flags.String("id", "", "activation id (generated when empty)")
	flags.Float64("shutdown-delay", rulebook.DefaultShutdownDelay, "default graceful shutdown delay in seconds")
	flags.String("default-execution-strategy", string(rulebook.Sequential), "execution strategy of rulesets that set none (sequential|parallel)")
	flags.Bool("print-events", false, "print every received event")
	flags.Float64("heartbeat", 0, "seconds between session stats records (0 disables)")
	flags.Bool("skip-audit-events", false, "do not forward per-action and per-event records")
	flags.String("websocket-url", "", "forward records to this websocket endpoint")
	flags.String("metrics-address", "", "serve Prometheus metrics on this address")
	flags.String("database", "", "path to SQLite database for the event log")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")

	return cmd
}

func runActivation(opts *RunOptions, path string, cmd *cobra.Command) error {
	ids := opts.IDs
	if ids == nil {
		ids = ident.UUIDv7Generator{}
	}

	cfg, err := config.Load(config.Options{
		File:  opts.ConfigFile,
		Flags: cmd.Flags(),
		IDs:   ids,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logLevel := cfg.LogLevel
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("loading rulebook", "path", path)
	act, err := app.Prepare(opts.inputs(path), cfg, ids)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rulebook", err)
	}
	logger.Info("rulebook compiled", "rulesets", len(act.Rulesets), "hash", act.Hash)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	formatter := newFormatter(opts.RootOptions, cmd)
	// Action output would corrupt the JSON result.
	stdout := cmd.OutOrStdout()
	if formatter.IsJSON() {
		stdout = cmd.ErrOrStderr()
	}

	result, err := app.Run(ctx, act, app.Options{
		Config:  cfg,
		Verbose: opts.Verbose,
		Stdout:  stdout,
		Logger:  logger,
		IDs:     ids,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "activation failed", err)
	}

	stats := statsMaps(result)
	if formatter.IsJSON() {
		return formatter.Success(RunResult{ActivationID: result.RunID, Stats: stats})
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		formatter.VerboseLog("%s", describeStats(name, stats[name]))
	}
	logger.Info("activation stopped", "activation_id", result.RunID)
	return nil
}

func statsMaps(result app.Result) map[string]map[string]any {
	out := make(map[string]map[string]any, len(result.Stats))
	for name, s := range result.Stats {
		out[name] = map[string]any{
			"rules_triggered":  s.RulesTriggered,
			"events_processed": s.EventsProcessed,
			"events_matched":   s.EventsMatched,
			"last_rule_fired":  s.LastRuleFired,
		}
	}
	return out
}

// describeStats formats one ruleset's statistics for text output.
func describeStats(name string, values map[string]any) string {
	return fmt.Sprintf("%s: %v rule(s) triggered, %v event(s) processed",
		name, values["rules_triggered"], values["events_processed"])
}

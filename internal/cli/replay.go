package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/harness"
	"github.com/roach88/rulebook/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	RulebookOptions
	Database string
	RunID    string
	Rulebook string // optional - overrides the stored rulebook path
}

// ReplayRulesetResult compares the firings of one ruleset.
type ReplayRulesetResult struct {
	Ruleset       string   `json:"ruleset"`
	Events        int      `json:"events"`
	Recorded      []string `json:"recorded"`
	Replayed      []string `json:"replayed"`
	Deterministic bool     `json:"deterministic"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	RunID            string                `json:"run_id"`
	Rulebook         string                `json:"rulebook"`
	HashMatches      bool                  `json:"hash_matches"`
	Rulesets         []ReplayRulesetResult `json:"rulesets"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a stored run and verify determinism",
		Long: `Feed the processed events of a stored run back through its rulebook and
compare the actions that fire with the ones recorded.

Events are replayed per ruleset in their recorded order against a fixed
clock, so rules that depend on wall-clock time may legitimately differ.

Exit codes:
  0 - Every ruleset fired the same actions in the same order
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, unknown run, etc.)

Examples:
  rulebook replay --database ./rulebook.db --run 0192...
  rulebook replay --database ./rulebook.db --run 0192... --rulebook ./hello.yml --vars vars.yml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "database", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("database")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "activation id to replay (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.Rulebook, "rulebook", "", "rulebook path (defaults to the stored path)")
	opts.addFlags(cmd)

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := st.GetRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", opts.RunID), nil)
		return WrapExitError(ExitCommandError, "unknown run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	path := opts.Rulebook
	if path == "" {
		path = run.Rulebook
	}
	act, err := opts.prepare(path, nil)
	if err != nil {
		_ = formatter.Error(classifyError(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load rulebook", err)
	}

	records, err := st.ReadRecords(ctx, run.ID, store.RecordFilter{
		Types: []eventlog.Type{eventlog.TypeProcessedEvent, eventlog.TypeAction},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	events := make(map[string][]map[string]any)
	recorded := make(map[string][]string)
	for _, r := range records {
		switch r.Type {
		case eventlog.TypeProcessedEvent:
			events[r.Ruleset] = append(events[r.Ruleset], r.Event)
		case eventlog.TypeAction:
			recorded[r.Ruleset] = append(recorded[r.Ruleset], firing(r))
		}
	}
	formatter.VerboseLog("Replaying %d record(s) of run %s", len(records), run.ID)

	scenario := &harness.Scenario{
		Name:     "replay " + run.ID,
		Rulebook: path,
		Vars:     act.Variables,
		Events:   events,
	}
	replay, err := harness.New().Run(ctx, scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	replayed := make(map[string][]string)
	for _, r := range replay.Records {
		if r.Type == eventlog.TypeAction {
			replayed[r.Ruleset] = append(replayed[r.Ruleset], firing(r))
		}
	}

	result := ReplayResult{
		RunID:            run.ID,
		Rulebook:         path,
		HashMatches:      act.Hash == run.DocumentHash,
		AllDeterministic: true,
	}
	for _, name := range act.Names() {
		rs := ReplayRulesetResult{
			Ruleset:  name,
			Events:   len(events[name]),
			Recorded: nonNil(recorded[name]),
			Replayed: nonNil(replayed[name]),
		}
		rs.Deterministic = slices.Equal(rs.Recorded, rs.Replayed)
		if !rs.Deterministic {
			result.AllDeterministic = false
		}
		result.Rulesets = append(result.Rulesets, rs)
	}

	if formatter.IsJSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter.Writer, result, opts.Verbose)
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "replay differs from the recorded run")
	}
	return nil
}

// firing identifies an Action record independently of ids and timestamps.
func firing(r eventlog.Record) string {
	return fmt.Sprintf("%s/%s:%s", r.Rule, r.Action, r.Status)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func outputReplayText(w io.Writer, result ReplayResult, verbose bool) {
	fmt.Fprintf(w, "Replay of Run: %s\n", result.RunID)
	if !result.HashMatches {
		fmt.Fprintf(w, "! %s changed since the run was recorded\n", result.Rulebook)
	}
	fmt.Fprintln(w)

	for _, rs := range result.Rulesets {
		mark := "✓"
		if !rs.Deterministic {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d event(s), %d action(s)\n", mark, rs.Ruleset, rs.Events, len(rs.Replayed))
		if verbose || !rs.Deterministic {
			fmt.Fprintf(w, "    recorded: %v\n", rs.Recorded)
			fmt.Fprintf(w, "    replayed: %v\n", rs.Replayed)
		}
	}
	fmt.Fprintln(w)

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ Replay matches the recorded run")
	} else {
		fmt.Fprintln(w, "✗ Replay differs from the recorded run")
	}
}

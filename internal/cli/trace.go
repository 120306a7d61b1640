package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string   // optional - lists runs when empty
	Types    []string // optional - filter to record types
	Ruleset  string   // optional - filter to one ruleset
	AfterSeq int64
}

// RunSummary describes one stored activation.
type RunSummary struct {
	ID           string   `json:"id"`
	Rulebook     string   `json:"rulebook"`
	DocumentHash string   `json:"document_hash"`
	Rulesets     []string `json:"rulesets"`
	StartedAt    string   `json:"started_at"`
	EndedAt      string   `json:"ended_at,omitempty"`
}

// TraceResult holds the complete trace output of one run.
type TraceResult struct {
	Run      RunSummary                `json:"run"`
	Timeline []eventlog.Record         `json:"timeline"`
	Stats    map[string]map[string]any `json:"stats"`
	Counts   map[string]int            `json:"counts"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the stored event log",
		Long: `Query the event log persisted by run --database.

Without --run, lists the stored activations. With --run, shows the
records of that activation in the order they were emitted, followed by
the last session statistics of each ruleset.

Examples:
  rulebook trace --database ./rulebook.db
  rulebook trace --database ./rulebook.db --run 0192...
  rulebook trace --database ./rulebook.db --run 0192... --type Action --ruleset hello
  rulebook trace --database ./rulebook.db --run 0192... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "database", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("database")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "activation id to trace")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "filter to record types (Action, Shutdown, ...)")
	cmd.Flags().StringVar(&opts.Ruleset, "ruleset", "", "filter to one ruleset")
	cmd.Flags().Int64Var(&opts.AfterSeq, "after", 0, "only records after this sequence number")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
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

	if opts.RunID == "" {
		return listRuns(ctx, st, formatter)
	}

	run, err := st.GetRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", opts.RunID), nil)
		return WrapExitError(ExitCommandError, "unknown run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	filter := store.RecordFilter{Ruleset: opts.Ruleset, AfterSeq: opts.AfterSeq}
	for _, t := range opts.Types {
		filter.Types = append(filter.Types, eventlog.Type(t))
	}
	records, err := st.ReadRecords(ctx, run.ID, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	stats, err := st.ReadSessionStats(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session stats", err)
	}

	result := TraceResult{
		Run:      summarizeRun(run),
		Timeline: records,
		Stats:    stats,
		Counts:   countTypes(records),
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	return outputTraceText(formatter.Writer, result, opts.Verbose)
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	summaries := make([]RunSummary, len(runs))
	for i, run := range runs {
		summaries[i] = summarizeRun(run)
	}

	if formatter.IsJSON() {
		return formatter.Success(summaries)
	}

	w := formatter.Writer
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, s := range summaries {
		status := "running"
		if s.EndedAt != "" {
			status = "ended " + s.EndedAt
		}
		fmt.Fprintf(w, "%s  %s  %s  [%s]\n", s.ID, s.StartedAt, s.Rulebook, status)
		fmt.Fprintf(w, "  rulesets: %s\n", strings.Join(s.Rulesets, ", "))
	}
	return nil
}

func summarizeRun(run store.Run) RunSummary {
	s := RunSummary{
		ID:           run.ID,
		Rulebook:     run.Rulebook,
		DocumentHash: run.DocumentHash,
		Rulesets:     run.Rulesets,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
	}
	if !run.EndedAt.IsZero() {
		s.EndedAt = run.EndedAt.UTC().Format(time.RFC3339)
	}
	return s
}

func countTypes(records []eventlog.Record) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[string(r.Type)]++
	}
	return counts
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Run: %s\n", result.Run.ID)
	fmt.Fprintf(w, "Rulebook: %s (%s)\n", result.Run.Rulebook, truncateID(result.Run.DocumentHash))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no records)")
	}
	for _, r := range result.Timeline {
		formatRecord(w, r, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	if len(result.Stats) == 0 {
		fmt.Fprintln(w, "  (no session stats)")
	}
	for _, name := range sortedKeys(result.Stats) {
		fmt.Fprintf(w, "  %s: %s\n", name, formatArgs(result.Stats[name]))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Counts ===")
	for _, t := range sortedKeys(result.Counts) {
		fmt.Fprintf(w, "  %-15s %d\n", t+":", result.Counts[t])
	}

	return nil
}

// formatRecord formats a single record for text output.
func formatRecord(w io.Writer, r eventlog.Record, verbose bool) {
	switch r.Type {
	case eventlog.TypeAction:
		fmt.Fprintf(w, "  [%d] %s ACTION %s/%s %s %s\n", r.Seq, r.Ruleset, r.Rule, r.Action, r.Status, r.Message)
		if verbose && len(r.MatchingEvents) > 0 {
			fmt.Fprintf(w, "       Matched: %s\n", formatArgs(r.MatchingEvents))
		}
	case eventlog.TypeShutdown:
		fmt.Fprintf(w, "  [%d] %s SHUTDOWN %s delay=%g %s\n", r.Seq, r.Ruleset, r.Kind, r.Delay, r.Message)
	case eventlog.TypeProcessedEvent:
		fmt.Fprintf(w, "  [%d] %s EVENT\n", r.Seq, r.Ruleset)
		if verbose {
			fmt.Fprintf(w, "       Event: %s\n", formatArgs(r.Event))
		}
	default:
		fmt.Fprintf(w, "  [%d] %s %s\n", r.Seq, r.Ruleset, r.Type)
	}
	if verbose && r.ActionUUID != "" {
		fmt.Fprintf(w, "       ID: %s\n", truncateID(r.ActionUUID))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatArgs formats a map for display with sorted keys.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	parts := make([]string, 0, len(args))
	for _, k := range sortedKeys(args) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

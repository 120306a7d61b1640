package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	RulebookOptions
	Output string // output file path
}

// CompilationResult holds the engine documents of every ruleset.
type CompilationResult struct {
	Rulebook string           `json:"rulebook"`
	Hash     string           `json:"hash"`
	Rulesets []map[string]any `json:"rulesets"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rulebook>",
		Short: "Compile a rulebook to engine documents",
		Long: `Compile every ruleset of a rulebook to the document the rule engine
loads, and print the hash identifying the compiled rulebook.

The hash is stable for a given rulebook and set of variables, so it can be
used to tell whether two activations ran the same rules.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	opts.addFlags(cmd)

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	act, err := opts.prepare(path, nil)
	if err != nil {
		code := classifyError(err)
		_ = formatter.Error(code, err.Error(), nil)
		// Compilation errors are command-level errors (exit code 2)
		return WrapExitError(ExitCommandError, code, err)
	}
	formatter.VerboseLog("Compiled %d ruleset(s) from %s", len(act.Rulesets), path)

	result := CompilationResult{
		Rulebook: path,
		Hash:     act.Hash,
		Rulesets: act.Documents,
	}

	if opts.Output != "" {
		if err := writeDocuments(result, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d ruleset(s)\n", len(result.Rulesets))
	fmt.Fprintf(formatter.Writer, "  hash: %s\n", result.Hash)
	for _, rs := range summarize(act) {
		fmt.Fprintf(formatter.Writer, "  %s: %d rule(s)\n", rs.Name, rs.Rules)
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote engine documents to %s\n", opts.Output)
	}
	return nil
}

// writeDocuments writes the compilation result as indented JSON.
func writeDocuments(result CompilationResult, filename string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("marshaling documents: %w", err)
	}

	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

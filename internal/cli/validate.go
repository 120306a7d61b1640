package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rulebook/internal/app"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool             `json:"valid"`
	Rulesets []RulesetSummary `json:"rulesets,omitempty"`
	Errors   []CLIError       `json:"errors,omitempty"`
}

// RulesetSummary describes one assembled ruleset.
type RulesetSummary struct {
	Name          string   `json:"name"`
	Sources       []string `json:"sources"`
	Rules         int      `json:"rules"`
	DisabledRules []string `json:"disabled_rules,omitempty"`
	Strategy      string   `json:"execution_strategy"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	rbOpts := &RulebookOptions{}

	cmd := &cobra.Command{
		Use:   "validate <rulebook>",
		Short: "Validate a rulebook without running it",
		Long: `Validate a rulebook file without starting any source.

Checks the rulebook structure, parses every condition, renders templated
values with the given variables and lowers each ruleset the way run would.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, rbOpts, args[0], cmd)
		},
	}
	rbOpts.addFlags(cmd)

	return cmd
}

func runValidate(opts *RootOptions, rbOpts *RulebookOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating %s", path)

	act, err := rbOpts.prepare(path, nil)
	if err != nil {
		return outputValidationError(formatter, err)
	}
	return outputValidateSuccess(formatter, act)
}

func summarize(act *app.Activation) []RulesetSummary {
	out := make([]RulesetSummary, len(act.Rulesets))
	for i, rs := range act.Rulesets {
		sources := make([]string, len(rs.Sources))
		for j, src := range rs.Sources {
			sources[j] = src.SourceName
		}
		out[i] = RulesetSummary{
			Name:          rs.Name,
			Sources:       sources,
			Rules:         len(rs.Rules),
			DisabledRules: rs.DisabledRules,
			Strategy:      string(rs.ExecutionStrategy),
		}
	}
	return out
}

func outputValidateSuccess(formatter *OutputFormatter, act *app.Activation) error {
	summary := summarize(act)
	if formatter.IsJSON() {
		return formatter.Success(ValidationResult{Valid: true, Rulesets: summary})
	}

	fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", act.Path)
	for _, rs := range summary {
		fmt.Fprintf(formatter.Writer, "  %s: %d rule(s), sources %v\n", rs.Name, rs.Rules, rs.Sources)
		for _, name := range rs.DisabledRules {
			fmt.Fprintf(formatter.Writer, "    disabled: %s\n", name)
		}
	}
	return nil
}

// outputValidationError reports an invalid rulebook. A missing file is a
// command error; anything the rulebook itself got wrong is a validation
// failure.
func outputValidationError(formatter *OutputFormatter, err error) error {
	code := classifyError(err)
	exitCode := ExitFailure
	if code == ErrCodeNotFound {
		exitCode = ExitCommandError
	}

	if formatter.IsJSON() {
		cliErr := CLIError{Code: code, Message: err.Error()}
		if encErr := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: []CLIError{cliErr}},
			Error:  &cliErr,
		}); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", code, err.Error())
	}

	return WrapExitError(exitCode, "validation failed", err)
}

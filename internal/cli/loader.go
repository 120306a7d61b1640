package cli

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/rulebook/internal/app"
	"github.com/roach88/rulebook/internal/compiler"
	"github.com/roach88/rulebook/internal/condition"
	"github.com/roach88/rulebook/internal/config"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/rulebook"
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDatabase    = "E008" // Store open or query failed

	// Rulebook errors
	ErrCodeSchema    = "E101" // Rulebook structure or assembly
	ErrCodeCondition = "E102" // Condition text does not parse
	ErrCodeCompile   = "E103" // Condition does not lower
	ErrCodeVars      = "E104" // Extra vars, env vars or inventory
)

// RulebookOptions are the inputs shared by commands that load a rulebook.
type RulebookOptions struct {
	Vars      string
	EnvVars   []string
	Inventory string

	// LookupEnv resolves EnvVars. Nil uses the process environment.
	LookupEnv func(string) (string, bool)
}

func (o *RulebookOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Vars, "vars", "", "YAML file of extra variables")
	cmd.Flags().StringSliceVarP(&o.EnvVars, "env-vars", "E", nil, "environment variables to copy into the variables (comma separated)")
	cmd.Flags().StringVarP(&o.Inventory, "inventory", "i", "", "inventory YAML file")
}

func (o *RulebookOptions) inputs(path string) app.Inputs {
	return app.Inputs{
		Rulebook:  path,
		Vars:      o.Vars,
		EnvVars:   o.EnvVars,
		Inventory: o.Inventory,
		LookupEnv: o.LookupEnv,
	}
}

// prepare loads and compiles a rulebook without starting it.
func (o *RulebookOptions) prepare(path string, cfg *config.Config) (*app.Activation, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	return app.Prepare(o.inputs(path), cfg, ident.UUIDv7Generator{})
}

// classifyError maps a load, assembly or compile error to a CLI error code.
func classifyError(err error) string {
	var (
		assemblyErr *rulebook.AssemblyError
		parseErr    *condition.ParseError
		compileErr  *compiler.CompileError
	)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	case errors.As(err, &parseErr):
		return ErrCodeCondition
	case errors.As(err, &compileErr):
		return ErrCodeCompile
	case errors.As(err, &assemblyErr):
		return ErrCodeSchema
	case errors.Is(err, rulebook.ErrVars):
		return ErrCodeVars
	}
	return ErrCodeGeneric
}

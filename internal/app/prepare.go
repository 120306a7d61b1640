package app

import (
	"fmt"
	"os"

	"github.com/roach88/rulebook/internal/compiler"
	"github.com/roach88/rulebook/internal/config"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/rulebook"
)

// Inputs names the files an activation is built from.
type Inputs struct {
	Rulebook  string
	Vars      string
	EnvVars   []string
	Inventory string

	// LookupEnv resolves EnvVars. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Activation is a loaded, assembled and compiled rulebook.
type Activation struct {
	Path      string
	Rulesets  []rulebook.RuleSet
	Documents []map[string]any
	Variables map[string]any
	Inventory map[string]any

	// Hash identifies the compiled documents; see ir.DocumentHash.
	Hash string
}

// Names returns the ruleset names in rulebook order.
func (a *Activation) Names() []string {
	names := make([]string, len(a.Rulesets))
	for i, rs := range a.Rulesets {
		names[i] = rs.Name
	}
	return names
}

// Prepare loads in and compiles every ruleset. Nothing is started.
func Prepare(in Inputs, cfg *config.Config, ids ident.Generator) (*Activation, error) {
	if ids == nil {
		ids = ident.UUIDv7Generator{}
	}
	lookup := in.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	doc, err := rulebook.Load(in.Rulebook)
	if err != nil {
		return nil, err
	}
	vars, err := rulebook.LoadVars(in.Vars)
	if err != nil {
		return nil, err
	}
	if err := rulebook.EnvVars(vars, in.EnvVars, lookup); err != nil {
		return nil, err
	}
	inventory, err := rulebook.LoadInventory(in.Inventory)
	if err != nil {
		return nil, err
	}

	strategy := rulebook.Sequential
	if cfg != nil && cfg.DefaultExecutionStrategy != "" {
		strategy = cfg.DefaultExecutionStrategy
	}
	rulesets, err := rulebook.Assemble(doc, vars,
		rulebook.WithIDGenerator(ids),
		rulebook.WithDefaultExecutionStrategy(strategy),
	)
	if err != nil {
		return nil, err
	}

	documents, hash, err := Compile(rulesets, vars)
	if err != nil {
		return nil, err
	}

	return &Activation{
		Path:      in.Rulebook,
		Rulesets:  rulesets,
		Documents: documents,
		Variables: vars,
		Inventory: inventory,
		Hash:      hash,
	}, nil
}

// Compile lowers every ruleset and hashes the resulting documents as one
// list.
func Compile(rulesets []rulebook.RuleSet, vars map[string]any) ([]map[string]any, string, error) {
	documents := make([]map[string]any, 0, len(rulesets))
	all := make([]any, 0, len(rulesets))
	for _, rs := range rulesets {
		doc, err := compiler.VisitRuleset(rs, vars)
		if err != nil {
			return nil, "", err
		}
		documents = append(documents, doc)
		all = append(all, doc)
	}

	hash, err := ir.DocumentHash(map[string]any{"rulesets": all})
	if err != nil {
		return nil, "", fmt.Errorf("hash rulesets: %w", err)
	}
	return documents, hash, nil
}

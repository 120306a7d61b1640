package rulebook

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rulebook/internal/ir"
)

// Load reads a rulebook file and validates its structure.
func Load(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rulebook: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates rulebook YAML.
func Parse(data []byte) ([]any, error) {
	var raw any
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse rulebook YAML: %w", err)
	}

	doc, err := ir.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize rulebook: %w", err)
	}

	list, ok := doc.([]any)
	if !ok {
		return nil, &AssemblyError{Code: ErrCodeSchema, Message: fmt.Sprintf("rulebook must be a list of rulesets, got %T", doc)}
	}

	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}

// ErrVars is wrapped by every error about extra vars, env vars or an
// inventory file whose content is unusable.
var ErrVars = errors.New("invalid variables")

// LoadVars reads a YAML mapping of variables. An empty path returns an
// empty map.
func LoadVars(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vars file: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrVars, path, err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}

	v, err := ir.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize vars: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must contain a mapping, got %T", ErrVars, path, v)
	}
	return m, nil
}

// LoadInventory reads an inventory file. The inventory is opaque to the
// runtime beyond host lookup, so it is kept as a generic mapping.
func LoadInventory(path string) (map[string]any, error) {
	return LoadVars(path)
}

// EnvVars copies the named environment variables into vars. Missing
// variables are an error so a typo does not silently render as empty.
func EnvVars(vars map[string]any, names []string, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		val, ok := lookup(name)
		if !ok {
			return fmt.Errorf("%w: environment variable %s is not set", ErrVars, name)
		}
		vars[name] = val
	}
	return nil
}

// InventoryHosts returns the vars of every host under all.hosts and the
// children groups of an inventory. Used to seed host facts.
func InventoryHosts(inventory map[string]any) map[string]map[string]any {
	hosts := make(map[string]map[string]any)
	var walk func(group map[string]any)
	walk = func(group map[string]any) {
		if hm, ok := group["hosts"].(map[string]any); ok {
			for name, v := range hm {
				vars, _ := v.(map[string]any)
				if vars == nil {
					vars = map[string]any{}
				}
				hosts[name] = vars
			}
		}
		if children, ok := group["children"].(map[string]any); ok {
			for _, child := range children {
				if cm, ok := child.(map[string]any); ok {
					walk(cm)
				}
			}
		}
	}
	if all, ok := inventory["all"].(map[string]any); ok {
		walk(all)
	}
	return hosts
}

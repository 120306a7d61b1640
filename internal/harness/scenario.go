package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rulebook/internal/rulebook"
)

// Scenario defines an end-to-end rulebook test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rulebook is a path to a rulebook file, relative to the scenario
	// file, or the rulebook itself as a list of rulesets.
	Rulebook any `yaml:"rulebook"`

	// Vars are the rulebook variables.
	Vars map[string]any `yaml:"vars,omitempty"`

	// Events maps a ruleset name to the events put on its source queue,
	// in order, before the run starts.
	Events map[string][]map[string]any `yaml:"events,omitempty"`

	// UseSources runs the rulebook's own sources instead of Events.
	UseSources bool `yaml:"use_sources,omitempty"`

	// ShutdownAfterEvents queues a graceful shutdown after the events of
	// every ruleset. Defaults to true.
	ShutdownAfterEvents *bool `yaml:"shutdown_after_events,omitempty"`

	// Timeout bounds the run, e.g. "5s". Defaults to 10s.
	Timeout string `yaml:"timeout,omitempty"`

	// Assertions validate the resulting event log.
	Assertions []Assertion `yaml:"assertions"`

	dir string
}

// Assertion validates the event log or the final statistics. Which fields
// apply depends on Type; empty fields match anything.
type Assertion struct {
	Type string `yaml:"type"`

	Ruleset      string `yaml:"ruleset,omitempty"`
	Rule         string `yaml:"rule,omitempty"`
	Action       string `yaml:"action,omitempty"`
	Status       string `yaml:"status,omitempty"`
	Kind         string `yaml:"kind,omitempty"`
	SourcePlugin string `yaml:"source_plugin,omitempty"`

	// Message matches when the record message contains it.
	Message string `yaml:"message,omitempty"`

	// Events is a subset match against the matching events of an Action.
	Events map[string]any `yaml:"events,omitempty"`

	// Rules is the expected firing order (action_order).
	Rules []string `yaml:"rules,omitempty"`

	// RecordType selects records for record_count.
	RecordType string `yaml:"record_type,omitempty"`

	// Stat names a session statistic, e.g. rules_triggered (stats).
	Stat string `yaml:"stat,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertAction      = "action"
	AssertActionCount = "action_count"
	AssertActionOrder = "action_order"
	AssertRecordCount = "record_count"
	AssertShutdown    = "shutdown"
	AssertStats       = "stats"
)

const defaultTimeout = 10 * time.Second

// LoadScenario reads and parses a scenario YAML file. A rulebook path is
// resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML. dir resolves a relative rulebook
// path.
func ParseScenario(data []byte, dir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.dir = dir

	if path, ok := scenario.Rulebook.(string); ok && !filepath.IsAbs(path) && dir != "" {
		scenario.Rulebook = filepath.Join(dir, path)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// loadRulebook returns the validated rulebook document.
func (s *Scenario) loadRulebook() ([]any, error) {
	if path, ok := s.Rulebook.(string); ok {
		return rulebook.Load(path)
	}
	data, err := yaml.Marshal(s.Rulebook)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inline rulebook: %w", err)
	}
	return rulebook.Parse(data)
}

func (s *Scenario) shutdownAfterEvents() bool {
	return s.ShutdownAfterEvents == nil || *s.ShutdownAfterEvents
}

func (s *Scenario) timeout() time.Duration {
	if d, err := time.ParseDuration(s.Timeout); err == nil && d > 0 {
		return d
	}
	return defaultTimeout
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch rb := s.Rulebook.(type) {
	case nil:
		return fmt.Errorf("rulebook is required")
	case string:
		if _, err := os.Stat(rb); err != nil {
			return fmt.Errorf("rulebook file not found: %s", rb)
		}
	case []any:
		if len(rb) == 0 {
			return fmt.Errorf("inline rulebook must not be empty")
		}
	default:
		return fmt.Errorf("rulebook must be a path or a list of rulesets, got %T", rb)
	}

	if s.UseSources && len(s.Events) > 0 {
		return fmt.Errorf("events and use_sources are mutually exclusive")
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertAction, AssertActionCount:
		if a.Rule == "" && a.Action == "" && a.Status == "" {
			return fmt.Errorf("assertions[%d]: %s requires rule, action or status", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertActionOrder:
		if len(a.Rules) < 2 {
			return fmt.Errorf("assertions[%d]: action_order requires at least 2 rules", index)
		}
	case AssertRecordCount:
		if a.RecordType == "" {
			return fmt.Errorf("assertions[%d]: record_count requires record_type", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertShutdown:
		if a.Kind != "" && a.Kind != rulebook.ShutdownGraceful && a.Kind != rulebook.ShutdownNow {
			return fmt.Errorf("assertions[%d]: unknown shutdown kind %q", index, a.Kind)
		}
	case AssertStats:
		if a.Ruleset == "" || a.Stat == "" {
			return fmt.Errorf("assertions[%d]: stats requires ruleset and stat", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

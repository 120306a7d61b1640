package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
)

// Action executes one kind of action.
type Action interface {
	Execute(ctx context.Context, c *Control) error
}

// Func adapts a function to Action.
type Func func(ctx context.Context, c *Control) error

// Execute calls f.
func (f Func) Execute(ctx context.Context, c *Control) error {
	return f(ctx, c)
}

// Control is everything an action sees about the match that triggered it.
type Control struct {
	// Name is the action name as written in the rule.
	Name string

	// UUID identifies this dispatch in telemetry.
	UUID string

	ActivationID string
	Ruleset      string
	RulesetUUID  string
	Rule         string
	RuleUUID     string
	RuleRunAt    string

	// Args are the rendered action arguments. "ruleset" is always set.
	Args map[string]any

	// Variables is the template context: global variables plus "event" or
	// "events".
	Variables map[string]any

	Inventory map[string]any
	Hosts     []string

	Sink   eventlog.Sink
	Engine ruleengine.Engine
	IDs    ident.Generator
	Stdout io.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Control) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Control) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

func (c *Control) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Control) ids() ident.Generator {
	if c.IDs != nil {
		return c.IDs
	}
	return ident.UUIDv7Generator{}
}

// MatchingEvents returns the matched events keyed by alias: {"m": event}
// for a single match, the events mapping for multiple matches, or an empty
// map for time-only triggers.
func (c *Control) MatchingEvents() map[string]any {
	if e, ok := c.Variables["event"]; ok {
		return map[string]any{"m": e}
	}
	if events, ok := c.Variables["events"].(map[string]any); ok {
		return events
	}
	return map[string]any{}
}

// Record returns an Action record prefilled with the dispatch metadata.
func (c *Control) Record(status string) eventlog.Record {
	return eventlog.Record{
		Type:           eventlog.TypeAction,
		Action:         c.Name,
		ActionUUID:     c.UUID,
		ActivationID:   c.ActivationID,
		Ruleset:        c.Ruleset,
		RulesetUUID:    c.RulesetUUID,
		Rule:           c.Rule,
		RuleUUID:       c.RuleUUID,
		RuleRunAt:      c.RuleRunAt,
		Status:         status,
		RunAt:          eventlog.RunAt(c.now()),
		MatchingEvents: c.MatchingEvents(),
	}
}

// ReportSuccess appends the default successful Action record.
func (c *Control) ReportSuccess() {
	if c.Sink != nil {
		c.Sink.Append(c.Record(eventlog.StatusSuccessful))
	}
}

// ReportFailure appends a failed Action record carrying err.
func (c *Control) ReportFailure(err error) {
	if c.Sink == nil {
		return
	}
	r := c.Record(eventlog.StatusFailed)
	r.Message = err.Error()
	c.Sink.Append(r)
}

// TargetRuleset returns the "ruleset" argument, or the triggering ruleset.
func (c *Control) TargetRuleset() string {
	if name, ok := c.Args["ruleset"].(string); ok && name != "" {
		return name
	}
	return c.Ruleset
}

// ShutdownError is returned by an action that requests process shutdown.
type ShutdownError struct {
	Shutdown rulebook.Shutdown
}

func (e *ShutdownError) Error() string {
	return "shutdown requested: " + e.Shutdown.String()
}

// AsShutdown extracts the shutdown request from err.
func AsShutdown(err error) (*ShutdownError, bool) {
	var se *ShutdownError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// UnsupportedError reports an action name with no registered handler.
type UnsupportedError struct {
	Name string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("action %q is not supported", e.Name)
}

// Registry maps action names to handlers. Names may carry a collection
// prefix: eda.builtin.debug resolves to debug.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry returns a registry holding the builtin actions.
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action, len(builtins))}
	for name, a := range builtins {
		r.actions[name] = a
	}
	return r
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
}

// Lookup finds the handler for name.
func (r *Registry) Lookup(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.actions[name]; ok {
		return a, nil
	}
	if a, ok := r.actions[rulebook.FilterBaseName(name)]; ok {
		return a, nil
	}
	return nil, &UnsupportedError{Name: name}
}

// Names lists the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/rulebook"
)

// ErrQueueClosed is returned by Emit once the ruleset stopped accepting
// events.
var ErrQueueClosed = errors.New("ruleset queue closed")

// Emit hands one raw event to the harness.
type Emit func(ctx context.Context, event map[string]any) error

// Plugin produces events until ctx is cancelled or it decides to end.
type Plugin interface {
	Run(ctx context.Context, args map[string]any, emit Emit) error
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, args map[string]any, emit Emit) error

// Run calls f.
func (f PluginFunc) Run(ctx context.Context, args map[string]any, emit Emit) error {
	return f(ctx, args, emit)
}

// Env is what filters may use besides the event and their arguments.
type Env struct {
	IDs    ident.Generator
	Now    func() time.Time
	Logger *slog.Logger
}

// Filter transforms an event. It may modify event in place; the harness
// hands each filter chain its own copy.
type Filter interface {
	Apply(env Env, event map[string]any, args map[string]any) (map[string]any, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(env Env, event map[string]any, args map[string]any) (map[string]any, error)

// Apply calls f.
func (f FilterFunc) Apply(env Env, event map[string]any, args map[string]any) (map[string]any, error) {
	return f(env, event, args)
}

// NotFoundError reports an unknown plugin or filter.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find %s plugin for %s", e.Kind, e.Name)
}

// Registry maps plugin and filter names to implementations. Collection
// prefixes are ignored on lookup: eda.builtin.range resolves to range.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	filters map[string]Filter
}

// NewRegistry returns a registry holding the builtin plugins and filters.
func NewRegistry() *Registry {
	r := &Registry{
		plugins: make(map[string]Plugin, len(builtinPlugins)),
		filters: make(map[string]Filter, len(builtinFilters)),
	}
	for name, p := range builtinPlugins {
		r.plugins[name] = p
	}
	for name, f := range builtinFilters {
		r.filters[name] = f
	}
	return r
}

// RegisterPlugin adds or replaces a source plugin.
func (r *Registry) RegisterPlugin(name string, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = p
}

// RegisterFilter adds or replaces an event filter.
func (r *Registry) RegisterFilter(name string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = f
}

// Plugin finds a source plugin.
func (r *Registry) Plugin(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.plugins[name]; ok {
		return p, nil
	}
	if p, ok := r.plugins[rulebook.FilterBaseName(name)]; ok {
		return p, nil
	}
	return nil, &NotFoundError{Kind: "source", Name: name}
}

// Filter finds an event filter.
func (r *Registry) Filter(name string) (Filter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.filters[name]; ok {
		return f, nil
	}
	if f, ok := r.filters[rulebook.FilterBaseName(name)]; ok {
		return f, nil
	}
	return nil, &NotFoundError{Kind: "source filter", Name: name}
}

// PluginNames lists registered plugins in sorted order.
func (r *Registry) PluginNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

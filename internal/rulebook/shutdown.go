package rulebook

import "fmt"

// Shutdown kinds.
const (
	ShutdownGraceful = "graceful"
	ShutdownNow      = "now"
)

// Shutdown defaults used when a field is not given.
const (
	DefaultShutdownMessage = "Not specified"
	DefaultShutdownDelay   = 60.0
)

// Shutdown asks runners to stop. It travels on source queues as a sentinel
// and is raised by the shutdown action.
type Shutdown struct {
	Message      string  `json:"message"`
	Delay        float64 `json:"delay"`
	SourcePlugin string  `json:"source_plugin"`
	Kind         string  `json:"kind"`
}

// NewShutdown returns a graceful Shutdown with default message and delay.
func NewShutdown() Shutdown {
	return Shutdown{
		Message: DefaultShutdownMessage,
		Delay:   DefaultShutdownDelay,
		Kind:    ShutdownGraceful,
	}
}

// Now reports whether the shutdown discards queued actions.
func (s Shutdown) Now() bool {
	return s.Kind == ShutdownNow
}

func (s Shutdown) String() string {
	return fmt.Sprintf("%s shutdown (delay=%gs, message=%q, source=%q)", s.Kind, s.Delay, s.Message, s.SourcePlugin)
}

// Item is one entry of a ruleset source queue: an event, or a Shutdown
// sentinel when Shutdown is set. A nil Event without Shutdown is an empty
// item.
type Item struct {
	Event    map[string]any
	Shutdown *Shutdown
}

// EventItem wraps an event.
func EventItem(event map[string]any) Item {
	return Item{Event: event}
}

// ShutdownItem wraps a Shutdown sentinel.
func ShutdownItem(s Shutdown) Item {
	return Item{Shutdown: &s}
}

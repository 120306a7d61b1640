package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Console prints records to a writer: one JSON object per line when
// Verbose is set, otherwise a short human summary of Action, Shutdown and
// SessionStats records.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// NewConsole creates a Console handler.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose}
}

// Handle writes r.
func (c *Console) Handle(_ context.Context, r Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.verbose {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", r.Seq, err)
		}
		_, err = fmt.Fprintln(c.w, string(data))
		return err
	}

	switch r.Type {
	case TypeAction, TypeShutdown, TypeSessionStats:
		_, err := fmt.Fprintln(c.w, describe(r))
		return err
	}
	return nil
}

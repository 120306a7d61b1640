package store

import (
	"context"

	"github.com/roach88/rulebook/internal/eventlog"
)

// Handler returns an event-log handler that persists every record of a
// run. SessionStats records also refresh the run's stats snapshot.
func (s *Store) Handler(runID string) eventlog.Handler {
	return eventlog.HandlerFunc(func(ctx context.Context, r eventlog.Record) error {
		if err := s.WriteRecord(ctx, runID, r); err != nil {
			return err
		}
		if r.Type == eventlog.TypeSessionStats && r.Ruleset != "" {
			return s.WriteSessionStats(ctx, runID, r.Ruleset, r.Stats, r.ReportedAt)
		}
		return nil
	})
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/rulebook/internal/eventlog"
)

// Run is one activation of a rulebook.
type Run struct {
	ID           string
	Rulebook     string
	DocumentHash string
	Rulesets     []string
	StartedAt    time.Time
	EndedAt      time.Time
}

// timeFormat is used for every TEXT timestamp column.
const timeFormat = time.RFC3339Nano

// WriteRun inserts a run. Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	rulesets, err := marshalStrings(run.Rulesets)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, rulebook, document_hash, rulesets, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Rulebook,
		run.DocumentHash,
		rulesets,
		run.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// EndRun stamps the end time of a run.
func (s *Store) EndRun(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET ended_at = ? WHERE id = ?
	`, endedAt.UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("end run: %w: %s", ErrRunNotFound, id)
	}
	return nil
}

// WriteRecord appends a record to a run. A record with a seq already stored
// for the run is silently ignored.
//
// Note: The run must exist (foreign key constraint).
func (s *Store) WriteRecord(ctx context.Context, runID string, r eventlog.Record) error {
	payload, err := marshalRecord(r)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records
		(run_id, seq, type, ruleset, rule, action, action_uuid, status, payload, reported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		runID,
		r.Seq,
		string(r.Type),
		r.Ruleset,
		r.Rule,
		r.Action,
		r.ActionUUID,
		r.Status,
		payload,
		r.ReportedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// WriteSessionStats stores the latest stats of a ruleset, replacing any
// earlier snapshot.
func (s *Store) WriteSessionStats(ctx context.Context, runID, ruleset string, stats map[string]any, at time.Time) error {
	data, err := marshalStats(stats)
	if err != nil {
		return fmt.Errorf("write session stats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_stats (run_id, ruleset, stats, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, ruleset) DO UPDATE SET
			stats = excluded.stats,
			updated_at = excluded.updated_at
	`, runID, ruleset, data, at.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("write session stats: %w", err)
	}
	return nil
}

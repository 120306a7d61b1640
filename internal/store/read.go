package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rulebook/internal/eventlog"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RecordFilter narrows ReadRecords. Zero values match everything.
type RecordFilter struct {
	Types   []eventlog.Type
	Ruleset string

	// AfterSeq skips records with seq <= AfterSeq.
	AfterSeq int64
}

// ReadRecords returns the records of a run ordered by seq.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadRecords(ctx context.Context, runID string, f RecordFilter) ([]eventlog.Record, error) {
	query := `SELECT payload FROM records WHERE run_id = ? AND seq > ?`
	args := []any{runID, f.AfterSeq}

	if f.Ruleset != "" {
		query += ` AND ruleset = ?`
		args = append(args, f.Ruleset)
	}
	if len(f.Types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(`, ?`, len(f.Types)-1) + `)`
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []eventlog.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r, err := unmarshalRecord(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// LastSeq returns the highest seq stored for a run, or 0.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM records WHERE run_id = ?
	`, runID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, rulebook, document_hash, rulesets, started_at, ended_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns every run, oldest first. Ties are broken by id.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rulebook, document_hash, rulesets, started_at, ended_at
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadSessionStats returns the latest stats per ruleset of a run.
func (s *Store) ReadSessionStats(ctx context.Context, runID string) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ruleset, stats FROM session_stats
		WHERE run_id = ?
		ORDER BY ruleset COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query session stats: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]any{}
	for rows.Next() {
		var ruleset, data string
		if err := rows.Scan(&ruleset, &data); err != nil {
			return nil, fmt.Errorf("scan session stats: %w", err)
		}
		stats, err := unmarshalStats(data)
		if err != nil {
			return nil, err
		}
		out[ruleset] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session stats: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run      Run
		rulesets string
		started  string
		ended    sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Rulebook, &run.DocumentHash, &rulesets, &started, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if run.Rulesets, err = unmarshalStrings(rulesets); err != nil {
		return Run{}, err
	}
	if run.StartedAt, err = time.Parse(timeFormat, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if ended.Valid {
		if run.EndedAt, err = time.Parse(timeFormat, ended.String); err != nil {
			return Run{}, fmt.Errorf("parse ended_at: %w", err)
		}
	}
	return run, nil
}

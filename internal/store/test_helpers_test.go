package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/rulebook/internal/eventlog"
)

var testStart = time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun stores a run with minimal required fields.
func createTestRun(t *testing.T, s *Store, id string, started time.Time) Run {
	t.Helper()
	run := Run{
		ID:           id,
		Rulebook:     "rulebooks/hello.yml",
		DocumentHash: "hash-" + id,
		Rulesets:     []string{"hello"},
		StartedAt:    started,
	}
	if err := s.WriteRun(context.Background(), run); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	return run
}

// createTestRecord creates a record with minimal required fields.
func createTestRecord(seq int64, typ eventlog.Type, ruleset string) eventlog.Record {
	return eventlog.Record{
		Seq:        seq,
		Type:       typ,
		Ruleset:    ruleset,
		ReportedAt: testStart.Add(time.Duration(seq) * time.Second),
	}
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/rulebook/internal/eventlog"
)

func TestReadRecords_OrderAndFilters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", testStart)
	createTestRun(t, s, "run-2", testStart)

	// Written out of order on purpose.
	records := []eventlog.Record{
		createTestRecord(3, eventlog.TypeShutdown, "alpha"),
		createTestRecord(1, eventlog.TypeProcessedEvent, "alpha"),
		createTestRecord(2, eventlog.TypeAction, "beta"),
		createTestRecord(4, eventlog.TypeShutdown, "beta"),
	}
	for _, r := range records {
		if err := s.WriteRecord(ctx, "run-1", r); err != nil {
			t.Fatalf("WriteRecord() failed: %v", err)
		}
	}
	if err := s.WriteRecord(ctx, "run-2", createTestRecord(1, eventlog.TypeAction, "alpha")); err != nil {
		t.Fatalf("WriteRecord() failed: %v", err)
	}

	tests := []struct {
		name   string
		filter RecordFilter
		want   []int64
	}{
		{"all", RecordFilter{}, []int64{1, 2, 3, 4}},
		{"by ruleset", RecordFilter{Ruleset: "alpha"}, []int64{1, 3}},
		{"by type", RecordFilter{Types: []eventlog.Type{eventlog.TypeShutdown}}, []int64{3, 4}},
		{"several types", RecordFilter{Types: []eventlog.Type{eventlog.TypeAction, eventlog.TypeProcessedEvent}}, []int64{1, 2}},
		{"after seq", RecordFilter{AfterSeq: 2}, []int64{3, 4}},
		{"combined", RecordFilter{Ruleset: "beta", Types: []eventlog.Type{eventlog.TypeShutdown}}, []int64{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ReadRecords(ctx, "run-1", tt.filter)
			if err != nil {
				t.Fatalf("ReadRecords() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.Seq != tt.want[i] {
					t.Errorf("record %d seq = %d, want %d", i, r.Seq, tt.want[i])
				}
			}
		})
	}
}

func TestReadRecords_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadRecords(context.Background(), "nothing", RecordFilter{})
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if got == nil {
		t.Error("ReadRecords() returned nil, want empty slice")
	}
}

func TestLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", testStart)

	seq, err := s.LastSeq(ctx, "run-1")
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("LastSeq() on empty run = %d, want 0", seq)
	}

	for _, n := range []int64{2, 9, 5} {
		if err := s.WriteRecord(ctx, "run-1", createTestRecord(n, eventlog.TypeAction, "hello")); err != nil {
			t.Fatalf("WriteRecord() failed: %v", err)
		}
	}
	seq, err = s.LastSeq(ctx, "run-1")
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 9 {
		t.Errorf("LastSeq() = %d, want 9", seq)
	}
}

func TestListRuns_Ordered(t *testing.T) {
	s := createTestStore(t)
	createTestRun(t, s, "b", testStart)
	createTestRun(t, s, "late", testStart.Add(time.Hour))
	createTestRun(t, s, "a", testStart)

	runs, err := s.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	want := []string{"a", "b", "late"}
	if len(ids) != len(want) {
		t.Fatalf("ListRuns() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListRuns() = %v, want %v", ids, want)
			break
		}
	}
	if runs[0].Rulesets[0] != "hello" {
		t.Errorf("Rulesets = %v", runs[0].Rulesets)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrRunNotFound", err)
	}
}

func TestHandler_PersistsRecordsAndStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", testStart)

	log := eventlog.New(eventlog.WithNow(func() time.Time { return testStart }))
	log.Append(eventlog.Record{Type: eventlog.TypeProcessedEvent, Ruleset: "hello"})
	log.Append(eventlog.Record{
		Type:    eventlog.TypeSessionStats,
		Ruleset: "hello",
		Stats:   map[string]any{"events_processed": 1},
	})
	log.Close()

	if err := log.Run(ctx, s.Handler("run-1")); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	got, err := s.ReadRecords(ctx, "run-1", RecordFilter{})
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Seq >= got[1].Seq {
		t.Errorf("records not in seq order: %d, %d", got[0].Seq, got[1].Seq)
	}

	stats, err := s.ReadSessionStats(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadSessionStats() failed: %v", err)
	}
	if stats["hello"]["events_processed"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}
}

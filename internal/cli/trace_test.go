package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/store"
)

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "--run", "activation-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceNonExistentDatabase(t *testing.T) {
	_, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}),
		"--database", "/nonexistent/path/test.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")
}

func TestTraceListsRunsOfEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "--database", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestTraceListsRuns(t *testing.T) {
	dbPath, runID := runHello(t)

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), "--database", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   []RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, runID, resp.Data[0].ID)
	assert.Equal(t, []string{"hello"}, resp.Data[0].Rulesets)
	assert.NotEmpty(t, resp.Data[0].EndedAt)
}

func TestTraceUnknownRun(t *testing.T) {
	dbPath, _ := runHello(t)

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}),
		"--database", dbPath, "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "run nope not found")
}

func TestTraceRunJSON(t *testing.T) {
	dbPath, runID := runHello(t)

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "json"}),
		"--database", dbPath, "--run", runID)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, runID, resp.Data.Run.ID)
	assert.Equal(t, 3, resp.Data.Counts[string(eventlog.TypeProcessedEvent)])
	assert.Equal(t, 2, resp.Data.Counts[string(eventlog.TypeAction)])
	assert.Equal(t, 1, resp.Data.Counts[string(eventlog.TypeShutdown)])

	var last int64
	for _, r := range resp.Data.Timeline {
		assert.Greater(t, r.Seq, last, "timeline is ordered by seq")
		last = r.Seq
	}
}

func TestTraceFilters(t *testing.T) {
	dbPath, runID := runHello(t)

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "json"}),
		"--database", dbPath, "--run", runID, "--type", "Action", "--ruleset", "hello")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, "say hello", resp.Data.Timeline[0].Rule)
	assert.Equal(t, "say bye", resp.Data.Timeline[1].Rule)

	out, _, err = execute(NewTraceCommand(&RootOptions{Format: "json"}),
		"--database", dbPath, "--run", runID, "--ruleset", "other")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Timeline)
}

func TestTraceRunText(t *testing.T) {
	dbPath, runID := runHello(t)

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "text", Verbose: true}),
		"--database", dbPath, "--run", runID)
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for Run: "+runID)
	assert.Contains(t, out, "=== Timeline ===")
	assert.Contains(t, out, "hello ACTION say hello/debug successful")
	assert.Contains(t, out, "hello SHUTDOWN graceful")
	assert.Contains(t, out, "Event: {i=1, meta=")
	assert.Contains(t, out, "=== Counts ===")
}

func TestFormatArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"empty", map[string]any{}, "{}"},
		{"sorted keys", map[string]any{"b": "x", "a": float64(1)}, "{a=1, b=x}"},
		{"nested", map[string]any{"m": map[string]any{"i": true}, "l": []any{"x", float64(2)}}, "{l=[x, 2], m={i=true}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatArgs(tt.args))
		})
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "01234567...89abcdef", truncateID("0123456789abcdef0123456789abcdef"))
}

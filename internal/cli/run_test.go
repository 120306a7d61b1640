package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulebook/internal/store"
)

// runHello runs the hello rulebook to completion with a database and
// returns the database path and the activation id.
func runHello(t *testing.T) (dbPath, runID string) {
	t.Helper()
	dir := t.TempDir()
	path, vars := writeHello(t, dir)
	dbPath = filepath.Join(dir, "rulebook.db")
	runID = "activation-1"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetContext(ctx)
	out, _, err := execute(cmd, path,
		"--vars", vars,
		"--id", runID,
		"--shutdown-delay", "0",
		"--database", dbPath,
	)
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "activation did not end on its own")

	assert.Contains(t, out, "hello 1")
	assert.Contains(t, out, "bye")
	return dbPath, runID
}

func TestRunPersistsActivation(t *testing.T) {
	dbPath, runID := runHello(t)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, run.Rulesets)
	assert.Len(t, run.DocumentHash, 64)
	assert.False(t, run.EndedAt.IsZero())
}

func TestRunJSON(t *testing.T) {
	dir := t.TempDir()
	path, vars := writeHello(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := NewRunCommand(&RootOptions{Format: "json"})
	cmd.SetContext(ctx)
	out, errOut, err := execute(cmd, path, "--vars", vars, "--id", "json-run", "--shutdown-delay", "0")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "stdout holds only the JSON result")
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "json-run", resp.Data.ActivationID)
	require.Contains(t, resp.Data.Stats, "hello")
	assert.EqualValues(t, 2, resp.Data.Stats["hello"]["rules_triggered"])
	assert.EqualValues(t, 3, resp.Data.Stats["hello"]["events_processed"])

	assert.Contains(t, errOut, "hello 1", "action output moves to stderr")
}

func TestRunInvalidRulebook(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.yml", brokenConditionRulebook)

	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), path, "--shutdown-delay", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load rulebook")
}

func TestRunInvalidConfiguration(t *testing.T) {
	path, vars := writeHello(t, t.TempDir())

	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), path,
		"--vars", vars,
		"--default-execution-strategy", "sideways",
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunNonExistentRulebook(t *testing.T) {
	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "/nonexistent/rulebook.yml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunMissingArgs(t *testing.T) {
	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

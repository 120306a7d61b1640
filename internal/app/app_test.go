package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulebook/internal/config"
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/store"
)

const countingRulebook = `
- name: counting
  hosts: all
  sources:
    - eda.builtin.range:
        limit: "{{ limit }}"
  rules:
    - name: say hello
      condition: event.i == 1
      action:
        debug:
          msg: "hello {{ WHO_VAR }}"
- name: idle
  hosts: all
  sources:
    - generic:
        payload: []
        shutdown_after: 30
  rules:
    - name: never
      condition: event.never == true
      action: none
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func prepare(t *testing.T) (*Activation, string) {
	t.Helper()
	dir := t.TempDir()
	in := Inputs{
		Rulebook: writeFile(t, dir, "rulebook.yml", countingRulebook),
		Vars:     writeFile(t, dir, "vars.yml", "limit: 3\n"),
		EnvVars:  []string{"WHO_VAR"},
		LookupEnv: func(name string) (string, bool) {
			return "world", name == "WHO_VAR"
		},
	}
	act, err := Prepare(in, config.Default(), ident.NewFixedGenerator())
	require.NoError(t, err)
	return act, dir
}

func TestPrepare(t *testing.T) {
	act, _ := prepare(t)

	assert.Equal(t, []string{"counting", "idle"}, act.Names())
	assert.Len(t, act.Documents, 2)
	assert.EqualValues(t, 3, act.Variables["limit"])
	assert.Equal(t, "world", act.Variables["WHO_VAR"])
	assert.Len(t, act.Hash, 64)

	again, _ := prepare(t)
	assert.Equal(t, act.Hash, again.Hash, "same rulebook and vars hash the same")
}

func TestPrepare_MissingEnvVar(t *testing.T) {
	dir := t.TempDir()
	_, err := Prepare(Inputs{
		Rulebook:  writeFile(t, dir, "rulebook.yml", countingRulebook),
		EnvVars:   []string{"NOPE"},
		LookupEnv: func(string) (string, bool) { return "", false },
	}, nil, nil)
	assert.ErrorContains(t, err, "NOPE")
}

func TestPrepare_InvalidRulebook(t *testing.T) {
	dir := t.TempDir()
	_, err := Prepare(Inputs{
		Rulebook: writeFile(t, dir, "rulebook.yml", "name: not a list\n"),
	}, nil, nil)
	assert.Error(t, err)
}

func TestRun_PersistsActivation(t *testing.T) {
	act, dir := prepare(t)

	cfg := config.Default()
	cfg.ID = "activation-1"
	cfg.ShutdownDelay = 0
	cfg.Database = filepath.Join(dir, "rulebook.db")

	var stdout bytes.Buffer
	collector := &eventlog.Collector{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := Run(ctx, act, Options{
		Config:   cfg,
		Stdout:   &stdout,
		IDs:      ident.NewFixedGenerator(),
		Handlers: []eventlog.Handler{collector},
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "activation did not end on its own")

	assert.Equal(t, "activation-1", result.RunID)
	assert.Equal(t, 1, result.Stats["counting"].RulesTriggered)
	assert.Equal(t, 3, result.Stats["counting"].EventsProcessed)
	assert.Contains(t, stdout.String(), "hello world")

	shutdowns := collector.OfType(eventlog.TypeShutdown)
	assert.Len(t, shutdowns, 2, "one Shutdown record per ruleset")

	st, err := store.Open(cfg.Database)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.GetRun(context.Background(), "activation-1")
	require.NoError(t, err)
	assert.Equal(t, act.Hash, run.DocumentHash)
	assert.Equal(t, []string{"counting", "idle"}, run.Rulesets)
	assert.False(t, run.EndedAt.IsZero(), "run end is recorded")

	stored, err := st.ReadRecords(context.Background(), "activation-1", store.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, len(collector.Records()))

	actions, err := st.ReadRecords(context.Background(), "activation-1", store.RecordFilter{
		Types: []eventlog.Type{eventlog.TypeAction},
	})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "debug", actions[0].Action)
	assert.Equal(t, eventlog.StatusSuccessful, actions[0].Status)
}

func TestRun_RerunContinuesSequence(t *testing.T) {
	act, dir := prepare(t)

	cfg := config.Default()
	cfg.ID = "activation-1"
	cfg.ShutdownDelay = 0
	cfg.Database = filepath.Join(dir, "rulebook.db")

	run := func() *eventlog.Collector {
		collector := &eventlog.Collector{}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := Run(ctx, act, Options{
			Config:   cfg,
			Stdout:   &bytes.Buffer{},
			IDs:      ident.NewFixedGenerator(),
			Handlers: []eventlog.Handler{collector},
		})
		require.NoError(t, err)
		return collector
	}

	first := run().Records()
	second := run().Records()
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	assert.Equal(t, first[len(first)-1].Seq+1, second[0].Seq)

	st, err := store.Open(cfg.Database)
	require.NoError(t, err)
	defer st.Close()

	stored, err := st.ReadRecords(context.Background(), "activation-1", store.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, len(first)+len(second))

	actions, err := st.ReadRecords(context.Background(), "activation-1", store.RecordFilter{
		Types: []eventlog.Type{eventlog.TypeAction},
	})
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestRun_ContextCancelStops(t *testing.T) {
	dir := t.TempDir()
	act, err := Prepare(Inputs{
		Rulebook: writeFile(t, dir, "rulebook.yml", `
- name: forever
  hosts: all
  sources:
    - generic:
        payload: [{x: 1}]
        loop_count: -1
        delay: 0.01
  rules:
    - name: never
      condition: event.x == 2
      action: none
`),
	}, nil, ident.NewFixedGenerator())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Run(ctx, act, Options{Stdout: &bytes.Buffer{}, IDs: ident.NewFixedGenerator()})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after its context ended")
	}
}

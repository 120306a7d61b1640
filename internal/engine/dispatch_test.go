package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulebook/internal/action"
	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
)

func TestBindMatch(t *testing.T) {
	defaults := []string{"all"}

	t.Run("no items", func(t *testing.T) {
		vars := map[string]any{}
		hosts := bindMatch(vars, ruleengine.Match{}, defaults)
		assert.Equal(t, defaults, hosts)
		assert.Equal(t, map[string]any{}, vars["event"])
	})

	t.Run("single event with meta hosts", func(t *testing.T) {
		vars := map[string]any{}
		m := ruleengine.Match{Data: map[string]map[string]any{
			"m": {"i": 1, "meta": map[string]any{"hosts": "web1, web2"}},
		}}
		hosts := bindMatch(vars, m, defaults)
		assert.Equal(t, []string{"web1", "web2"}, hosts)
		assert.Equal(t, 1, vars["event"].(map[string]any)["i"])
		assert.NotContains(t, vars, "events")
	})

	t.Run("multiple events union hosts", func(t *testing.T) {
		vars := map[string]any{}
		m := ruleengine.Match{Data: map[string]map[string]any{
			"m_0": {"meta": map[string]any{"hosts": []any{"a", "b"}}},
			"m_1": {"meta": map[string]any{"hosts": []any{"b", "c"}}},
		}}
		hosts := bindMatch(vars, m, defaults)
		assert.Equal(t, []string{"a", "b", "c"}, hosts)
		events := vars["events"].(map[string]any)
		assert.Len(t, events, 2)
		assert.NotContains(t, vars, "event")
	})

	t.Run("single assignment alias is multi", func(t *testing.T) {
		vars := map[string]any{}
		m := ruleengine.Match{Data: map[string]map[string]any{"first": {"i": 1}}}
		hosts := bindMatch(vars, m, defaults)
		assert.Equal(t, defaults, hosts)
		assert.Contains(t, vars["events"], "first")
	})
}

func TestReroot(t *testing.T) {
	t.Run("single event", func(t *testing.T) {
		vars := map[string]any{"event": map[string]any{
			"payload": map[string]any{"data": map[string]any{"x": 1}},
		}}
		reroot(vars, "payload.data")
		assert.Equal(t, map[string]any{"x": 1}, vars["event"])
	})

	t.Run("unresolved path keeps the event", func(t *testing.T) {
		event := map[string]any{"a": 1}
		vars := map[string]any{"event": event}
		reroot(vars, "missing.path")
		assert.Equal(t, event, vars["event"])
	})

	t.Run("events remapped to new alias", func(t *testing.T) {
		vars := map[string]any{"events": map[string]any{
			"m_0": map[string]any{"body": map[string]any{"k": "v"}},
		}}
		reroot(vars, map[string]any{"body": "payload"})
		events := vars["events"].(map[string]any)
		assert.Equal(t, map[string]any{"k": "v"}, events["payload"])
	})
}

func TestLimitHosts(t *testing.T) {
	hosts, ok := limitHosts(map[string]any{"job_args": map[string]any{"limit": "db1,db2"}})
	require.True(t, ok)
	assert.Equal(t, []string{"db1", "db2"}, hosts)

	_, ok = limitHosts(map[string]any{"name": "x"})
	assert.False(t, ok)
}

func TestDispatch_JobTemplateLimitOverridesHosts(t *testing.T) {
	var seen []string
	reg := action.NewRegistry()
	reg.Register("run_job_template", action.Func(func(_ context.Context, c *action.Control) error {
		seen = c.Hosts
		assert.Equal(t, "limited", c.Args["ruleset"])
		c.ReportSuccess()
		return nil
	}))
	f := newFixture(t, `
- name: limited
  hosts: [all]
  sources:
    - range: {limit: 1}
  rules:
    - name: launch
      condition: event.i == 1
      action:
        run_job_template:
          name: deploy
          job_args:
            limit: "{{ event.target }}"
`, reg)

	p := Plan{
		Ruleset: "limited",
		Rule:    "launch",
		Hosts:   []string{"all"},
		Match: ruleengine.Match{Data: map[string]map[string]any{
			"m": {"i": 1, "target": "app1"},
		}},
		RunAt: fixedNow(),
	}
	err := f.runner.dispatch(context.Background(), p, f.runner.ruleset.Rules[0].Actions[0])
	require.NoError(t, err)

	assert.Equal(t, []string{"app1"}, seen)
	require.Len(t, f.log.OfType(eventlog.TypeAction), 1)
}

func TestDispatch_ShutdownIgnoredWhenAlreadyRecorded(t *testing.T) {
	var broadcasts int
	f := newFixture(t, `
- name: twice
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: stop
      condition: event.i == 1
      action: shutdown
`, nil, WithBroadcast(func(string, rulebook.Shutdown) { broadcasts++ }))

	require.True(t, f.runner.recordShutdown(rulebook.NewShutdown()))

	p := Plan{
		Ruleset: "twice",
		Rule:    "stop",
		Match:   ruleengine.Match{Data: map[string]map[string]any{"m": {"i": 1}}},
		RunAt:   fixedNow(),
	}
	err := f.runner.dispatch(context.Background(), p, rulebook.Action{Action: "shutdown"})

	_, isShutdown := action.AsShutdown(err)
	assert.True(t, isShutdown, "the signal still ends the plan")
	assert.Equal(t, 0, broadcasts)
	assert.Equal(t, 0, f.source.Len())
}

func TestDispatch_Cancelled(t *testing.T) {
	f := newFixture(t, gatedRulebook, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.runner.dispatch(ctx, Plan{}, rulebook.Action{Action: "debug"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.log.Records())
}

package ruleengine_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulebook/internal/compiler"
	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/rulebook"
	"github.com/roach88/rulebook/internal/ruleengine"
)

type recorder struct {
	mu      sync.Mutex
	matches []ruleengine.Match
	fired   chan ruleengine.Match
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan ruleengine.Match, 16)}
}

func (r *recorder) callback(m ruleengine.Match) {
	r.mu.Lock()
	r.matches = append(r.matches, m)
	r.mu.Unlock()
	r.fired <- m
}

func (r *recorder) rules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.matches))
	for i, m := range r.matches {
		out[i] = m.Rule
	}
	return out
}

// setup compiles a single-ruleset rulebook and opens a session named after it.
func setup(t *testing.T, src string) (*ruleengine.Memory, string, *recorder) {
	t.Helper()

	doc, err := rulebook.Parse([]byte(src))
	require.NoError(t, err)
	sets, err := rulebook.Assemble(doc, nil, rulebook.WithIDGenerator(ident.NewFixedGenerator()))
	require.NoError(t, err)
	require.Len(t, sets, 1)

	compiled, err := compiler.VisitRuleset(sets[0], nil)
	require.NoError(t, err)

	rec := newRecorder()
	callbacks := map[string]ruleengine.Callback{}
	for _, r := range sets[0].Rules {
		callbacks[r.Name] = rec.callback
	}

	eng := ruleengine.NewMemory()
	require.NoError(t, eng.CreateSession(sets[0].Name, compiled, callbacks))
	return eng, sets[0].Name, rec
}

func TestMemory_SingleCondition(t *testing.T) {
	eng, name, rec := setup(t, `
- name: single
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: match-i
      condition: event.i == 2
      action: debug
`)

	assert.ErrorIs(t, eng.Post(name, map[string]any{"i": 1}), ruleengine.ErrNotHandled)
	require.NoError(t, eng.Post(name, map[string]any{"i": 2}))

	require.Len(t, rec.matches, 1)
	assert.Equal(t, "match-i", rec.matches[0].Rule)
	assert.Equal(t, "single", rec.matches[0].Ruleset)
	assert.Equal(t, map[string]any{"i": 2}, rec.matches[0].Data["m"])

	stats, err := eng.SessionStats(name)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EventsProcessed)
	assert.Equal(t, 1, stats.EventsMatched)
	assert.Equal(t, 1, stats.RulesTriggered)
	assert.Equal(t, "match-i", stats.LastRuleFired)
}

func TestMemory_UndefinedPathNeverMatches(t *testing.T) {
	eng, name, _ := setup(t, `
- name: undefined
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: neq
      condition: event.missing != 1
      action: debug
    - name: defined
      condition: event.x is not defined
      action: debug
`)

	err := eng.Post(name, map[string]any{"x": 1})
	assert.ErrorIs(t, err, ruleengine.ErrNotHandled)
	require.NoError(t, eng.Post(name, map[string]any{"y": 1}))
}

func TestMemory_AllCorrelatesEvents(t *testing.T) {
	eng, name, rec := setup(t, `
- name: corr
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: pair
      condition:
        all:
          - events.first << event.kind == "open"
          - event.kind == "close" and event.id == events.first.id
      action: debug
`)

	assert.ErrorIs(t, eng.Post(name, map[string]any{"kind": "open", "id": 7}), ruleengine.ErrObserved)
	assert.ErrorIs(t, eng.Post(name, map[string]any{"kind": "close", "id": 8}), ruleengine.ErrNotHandled)
	require.NoError(t, eng.Post(name, map[string]any{"kind": "close", "id": 7}))

	require.Len(t, rec.matches, 1)
	data := rec.matches[0].Data
	assert.Equal(t, "open", data["first"]["kind"])
	assert.Equal(t, 7, data["m_1"]["id"])
}

func TestMemory_AnyBindsM(t *testing.T) {
	eng, name, rec := setup(t, `
- name: anyrs
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: either
      condition:
        any:
          - event.a == 1
          - event.b == 2
      action: debug
`)

	require.NoError(t, eng.Post(name, map[string]any{"b": 2}))
	require.Len(t, rec.matches, 1)
	assert.Equal(t, map[string]any{"b": 2}, rec.matches[0].Data["m"])
}

func TestMemory_MatchMultipleRules(t *testing.T) {
	src := `
- name: multi
  hosts: all
  match_multiple_rules: %v
  sources:
    - range: {limit: 1}
  rules:
    - name: first
      condition: event.i > 0
      action: debug
    - name: second
      condition: event.i > 1
      action: debug
`
	eng, name, rec := setup(t, fmt.Sprintf(src, false))
	require.NoError(t, eng.Post(name, map[string]any{"i": 5}))
	assert.Equal(t, []string{"first"}, rec.rules())

	eng, name, rec = setup(t, fmt.Sprintf(src, true))
	require.NoError(t, eng.Post(name, map[string]any{"i": 5}))
	assert.Equal(t, []string{"first", "second"}, rec.rules())
}

func TestMemory_FactsMatchAndRetract(t *testing.T) {
	eng, name, rec := setup(t, `
- name: facts
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: joined
      condition:
        all:
          - fact.role == "web"
          - event.host == facts.m_0.name
      action: debug
`)

	assert.ErrorIs(t, eng.AssertFact(name, map[string]any{"role": "web", "name": "h1"}), ruleengine.ErrObserved)
	assert.ErrorIs(t, eng.AssertFact(name, map[string]any{"role": "db", "name": "h2", "tag": "x"}), ruleengine.ErrNotHandled)

	facts, err := eng.GetFacts(name)
	require.NoError(t, err)
	assert.Len(t, facts, 2)

	require.NoError(t, eng.Post(name, map[string]any{"host": "h1"}))
	require.Len(t, rec.matches, 1)

	require.NoError(t, eng.RetractMatchingFacts(name, map[string]any{"role": "db"}, true, nil))
	require.NoError(t, eng.RetractFact(name, map[string]any{"role": "web", "name": "h1"}))
	facts, err = eng.GetFacts(name)
	require.NoError(t, err)
	assert.Empty(t, facts)

	stats, err := eng.SessionStats(name)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PermanentStorageCount)
}

func TestMemory_ThrottleOnceWithin(t *testing.T) {
	eng, name, rec := setup(t, `
- name: throttled
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: alert
      condition: event.level == "high"
      throttle:
        group_by_attributes: [event.host]
        once_within: 1 minute
      action: debug
`)

	for _, host := range []string{"a", "a", "b", "a"} {
		require.NoError(t, eng.Post(name, map[string]any{"level": "high", "host": host}))
	}
	assert.Equal(t, []string{"alert", "alert"}, rec.rules())

	stats, err := eng.SessionStats(name)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EventsSuppressed)
}

func TestMemory_ThrottleOnceAfter(t *testing.T) {
	eng, name, rec := setup(t, `
- name: after
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: digest
      condition: event.level == "high"
      throttle:
        group_by_attributes: [event.host]
        once_after: 0.05
      action: debug
`)

	for range 3 {
		require.NoError(t, eng.Post(name, map[string]any{"level": "high", "host": "a"}))
	}
	assert.Empty(t, rec.rules())

	select {
	case m := <-rec.fired:
		assert.Equal(t, "digest", m.Rule)
	case <-time.After(2 * time.Second):
		t.Fatal("once_after never fired")
	}
	assert.Equal(t, []string{"digest"}, rec.rules())
}

func TestMemory_NotAllFiresOnTimeout(t *testing.T) {
	eng, name, rec := setup(t, `
- name: notall
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: missing-ack
      condition:
        not_all:
          - event.msg == "ping"
          - event.msg == "ack"
        timeout: 0.05
      action: debug
`)

	assert.ErrorIs(t, eng.Post(name, map[string]any{"msg": "ping"}), ruleengine.ErrObserved)

	select {
	case m := <-rec.fired:
		assert.Equal(t, "missing-ack", m.Rule)
		assert.Equal(t, "ping", m.Data["m_0"]["msg"])
	case <-time.After(2 * time.Second):
		t.Fatal("not_all never fired")
	}
}

func TestMemory_NotAllCompletedInTime(t *testing.T) {
	eng, name, rec := setup(t, `
- name: notall
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: missing-ack
      condition:
        not_all:
          - event.msg == "ping"
          - event.msg == "ack"
        timeout: 0.1
      action: debug
`)

	assert.ErrorIs(t, eng.Post(name, map[string]any{"msg": "ping"}), ruleengine.ErrObserved)
	assert.ErrorIs(t, eng.Post(name, map[string]any{"msg": "ack"}), ruleengine.ErrObserved)

	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, rec.rules())
}

func TestMemory_EndSessionStopsTimers(t *testing.T) {
	eng, name, rec := setup(t, `
- name: notall
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: missing-ack
      condition:
        not_all:
          - event.msg == "ping"
          - event.msg == "ack"
        timeout: 0.05
      action: debug
`)

	assert.ErrorIs(t, eng.Post(name, map[string]any{"msg": "ping"}), ruleengine.ErrObserved)
	stats, err := eng.EndSession(name)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EventsProcessed)
	assert.False(t, stats.End.IsZero())

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.rules())

	assert.ErrorIs(t, eng.Post(name, map[string]any{}), ruleengine.ErrNoSession)
	_, err = eng.EndSession(name)
	assert.ErrorIs(t, err, ruleengine.ErrNoSession)
}

func TestMemory_SearchAndSelect(t *testing.T) {
	eng, name, rec := setup(t, `
- name: tests
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: search
      condition: event.url is search("example", ignorecase=true)
      action: debug
    - name: select
      condition: event.levels is select('>=', 10)
      action: debug
    - name: selectattr
      condition: event.people is selectattr('age', '>', 30)
      action: debug
`)

	require.NoError(t, eng.Post(name, map[string]any{"url": "https://EXAMPLE.com"}))
	require.NoError(t, eng.Post(name, map[string]any{"levels": []any{1, 12}}))
	assert.ErrorIs(t, eng.Post(name, map[string]any{"levels": []any{1, 2}}), ruleengine.ErrNotHandled)
	require.NoError(t, eng.Post(name, map[string]any{"people": []any{
		map[string]any{"age": 20}, map[string]any{"age": 45},
	}}))

	assert.Equal(t, []string{"search", "select", "selectattr"}, rec.rules())
}

func TestMemory_DisabledRulesCounted(t *testing.T) {
	eng, name, _ := setup(t, `
- name: disabled
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: on
      condition: event.i == 1
      action: debug
    - name: off
      enabled: false
      condition: event.i == 1
      action: debug
`)

	stats, err := eng.SessionStats(name)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NumberOfRules)
}

func TestMemory_UnknownSession(t *testing.T) {
	eng := ruleengine.NewMemory()
	_, err := eng.GetFacts("nope")
	assert.ErrorIs(t, err, ruleengine.ErrNoSession)
	assert.False(t, ruleengine.IsExpected(err))
	assert.True(t, ruleengine.IsExpected(ruleengine.ErrObserved))
}

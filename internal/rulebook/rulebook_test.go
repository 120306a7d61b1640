package rulebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulebook/internal/condition"
	"github.com/roach88/rulebook/internal/ident"
)

func assemble(t *testing.T, yamlText string, vars map[string]any) ([]RuleSet, error) {
	t.Helper()
	doc, err := Parse([]byte(yamlText))
	require.NoError(t, err)
	return Assemble(doc, vars, WithIDGenerator(ident.NewFixedGenerator()))
}

func TestLoad_HelloRulebook(t *testing.T) {
	doc, err := Load("testdata/hello.yml")
	require.NoError(t, err)

	rulesets, err := Assemble(doc, map[string]any{"limit": int64(5)},
		WithIDGenerator(ident.NewFixedGenerator("rs-1", "r-1", "r-2", "r-3")))
	require.NoError(t, err)
	require.Len(t, rulesets, 1)

	rs := rulesets[0]
	assert.Equal(t, "Hello Events", rs.Name)
	assert.Equal(t, "rs-1", rs.UUID)
	assert.Equal(t, []string{"localhost"}, rs.Hosts)
	assert.Equal(t, Sequential, rs.ExecutionStrategy)

	require.Len(t, rs.Sources, 1)
	src := rs.Sources[0]
	assert.Equal(t, "numbers", src.Name)
	assert.Equal(t, "eda.builtin.range", src.SourceName)
	assert.Equal(t, map[string]any{"limit": int64(5)}, src.SourceArgs, "source args are rendered natively")
	require.Len(t, src.Filters, 1)
	assert.Equal(t, "eda.builtin.json_filter", src.Filters[0].FilterName)

	require.Len(t, rs.Rules, 2, "disabled rule is dropped")
	assert.Equal(t, []string{"Never"}, rs.DisabledRules)

	hello := rs.Rules[0]
	assert.Equal(t, "r-1", hello.UUID)
	assert.Equal(t, All, hello.Condition.When)
	assert.Equal(t, "(event.i == 1)", hello.Condition.Exprs[0].String())
	assert.Equal(t, []Action{{Action: "debug", Args: map[string]any{"msg": "Hello {{ event.i }}"}}}, hello.Actions,
		"action args stay unrendered until dispatch")

	corr := rs.Rules[1]
	assert.Equal(t, "10 seconds", corr.Condition.Timeout)
	assert.Len(t, corr.Condition.Exprs, 2)
	assert.Equal(t, "print_event", corr.Actions[0].Action)
	assert.Equal(t, map[string]any{}, corr.Actions[0].Args)
	assert.Equal(t, "set_fact", corr.Actions[1].Action)
}

func TestAssemble_DuplicateRuleName(t *testing.T) {
	_, err := assemble(t, `
- name: rs
  hosts: all
  rules:
    - name: r1
      condition: event.i == 1
      action: {none: {}}
    - name: r1
      condition: event.i == 2
      action: {none: {}}
`, nil)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeRuleNameDuplicate))
}

func TestAssemble_DuplicateAfterTemplating(t *testing.T) {
	_, err := assemble(t, `
- name: rs
  hosts: all
  rules:
    - name: "{{ prefix }}-rule"
      condition: event.i == 1
      action: {none: {}}
    - name: "web-rule"
      condition: event.i == 2
      action: {none: {}}
`, map[string]any{"prefix": "web"})
	assert.True(t, HasCode(err, ErrCodeRuleNameDuplicate))
}

func TestAssemble_EmptyNames(t *testing.T) {
	_, err := assemble(t, `
- hosts: all
  rules: []
`, nil)
	assert.True(t, HasCode(err, ErrCodeRulesetNameEmpty))

	_, err = assemble(t, `
- name: "   "
  hosts: all
`, nil)
	assert.True(t, HasCode(err, ErrCodeRulesetNameEmpty))

	_, err = assemble(t, `
- name: "{{ blank }}"
  hosts: all
`, map[string]any{"blank": ""})
	assert.True(t, HasCode(err, ErrCodeRulesetNameEmpty))

	_, err = assemble(t, `
- name: rs
  hosts: all
  rules:
    - condition: event.i == 1
      action: {none: {}}
`, nil)
	assert.True(t, HasCode(err, ErrCodeRuleNameEmpty))
}

func TestAssemble_DuplicateRulesetName(t *testing.T) {
	_, err := assemble(t, `
- name: rs
  hosts: all
- name: rs
  hosts: [a, b]
`, nil)
	assert.True(t, HasCode(err, ErrCodeRulesetNameDuplicate))
}

func TestAssemble_HostsList(t *testing.T) {
	rulesets, err := assemble(t, `
- name: rs
  hosts: [web1, web2]
  execution_strategy: parallel
  match_multiple_rules: true
  default_events_ttl: 2 hours
`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"web1", "web2"}, rulesets[0].Hosts)
	assert.Equal(t, Parallel, rulesets[0].ExecutionStrategy)
	assert.True(t, rulesets[0].MatchMultipleRules)
	assert.Equal(t, "2 hours", rulesets[0].DefaultEventsTTL)
}

func TestAssemble_DisabledRuleStillValidated(t *testing.T) {
	_, err := assemble(t, `
- name: rs
  hosts: all
  rules:
    - name: broken
      enabled: false
      condition: event.i ==
      action: {none: {}}
`, nil)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidCondition))
	assert.True(t, condition.IsParseError(err))
}

func TestAssemble_ConditionForms(t *testing.T) {
	rulesets, err := assemble(t, `
- name: rs
  hosts: all
  rules:
    - name: any
      condition:
        any:
          - event.a == 1
          - event.b == 2
      action: {none: {}}
    - name: not_all
      condition:
        not_all:
          - event.a == 1
          - event.b == 2
        timeout: 5 seconds
      action: {none: {}}
    - name: literal
      condition: true
      action: {none: {}}
`, nil)
	require.NoError(t, err)
	rules := rulesets[0].Rules
	assert.Equal(t, Any, rules[0].Condition.When)
	assert.Equal(t, NotAll, rules[1].Condition.When)
	assert.Equal(t, "5 seconds", rules[1].Condition.Timeout)
	assert.Equal(t, []condition.Expr{condition.Boolean{Value: true}}, rules[2].Condition.Exprs)
}

func TestAssemble_Throttle(t *testing.T) {
	rulesets, err := assemble(t, `
- name: rs
  hosts: all
  rules:
    - name: throttled
      condition: event.code == 500
      throttle:
        group_by_attributes: [event.host]
        once_within: 5 minutes
      action: {none: {}}
`, nil)
	require.NoError(t, err)
	assert.Equal(t, &Throttle{GroupByAttributes: []string{"event.host"}, OnceWithin: "5 minutes"}, rulesets[0].Rules[0].Throttle)

	_, err = assemble(t, `
- name: rs
  hosts: all
  rules:
    - name: throttled
      condition: event.code == 500
      throttle:
        group_by_attributes: [event.host]
        once_within: 5 minutes
        once_after: 5 minutes
      action: {none: {}}
`, nil)
	assert.True(t, HasCode(err, ErrCodeInvalidThrottle))
}

func TestAssemble_MissingAction(t *testing.T) {
	_, err := assemble(t, `
- name: rs
  hosts: all
  rules:
    - name: r
      condition: event.i == 1
`, nil)
	assert.True(t, HasCode(err, ErrCodeInvalidAction))
}

func TestParse_SchemaRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
- name: rs
  hosts: all
  rulez: []
`))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSchema))

	_, err = Parse([]byte(`name: not-a-list`))
	assert.True(t, HasCode(err, ErrCodeSchema))
}

func TestEnvVars(t *testing.T) {
	env := map[string]string{"HOME_DIR": "/home/x"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	vars := map[string]any{}
	require.NoError(t, EnvVars(vars, []string{"HOME_DIR", " "}, lookup))
	assert.Equal(t, "/home/x", vars["HOME_DIR"])

	err := EnvVars(vars, []string{"MISSING"}, lookup)
	assert.ErrorIs(t, err, ErrVars)
	assert.ErrorContains(t, err, "MISSING is not set")
}

func TestInventoryHosts(t *testing.T) {
	inv := map[string]any{
		"all": map[string]any{
			"hosts": map[string]any{"h1": map[string]any{"ansible_host": "10.0.0.1"}},
			"children": map[string]any{
				"web": map[string]any{"hosts": map[string]any{"h2": nil}},
			},
		},
	}
	hosts := InventoryHosts(inv)
	assert.Equal(t, map[string]map[string]any{
		"h1": {"ansible_host": "10.0.0.1"},
		"h2": {},
	}, hosts)
}

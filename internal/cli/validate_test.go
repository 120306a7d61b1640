package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidRulebook(t *testing.T) {
	path, vars := writeHello(t, t.TempDir())

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), path, "--vars", vars)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ "+path+" is valid")
	assert.Contains(t, out, "hello: 2 rule(s), sources [range]")
}

func TestValidateValidRulebookJSON(t *testing.T) {
	path, vars := writeHello(t, t.TempDir())

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), path, "--vars", vars)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Rulesets, 1)
	assert.Equal(t, "hello", resp.Data.Rulesets[0].Name)
	assert.Equal(t, 2, resp.Data.Rulesets[0].Rules)
	assert.Equal(t, "sequential", resp.Data.Rulesets[0].Strategy)
}

func TestValidateNonExistentFile(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/rulebook.yml")
	require.Error(t, err)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidateBrokenCondition(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.yml", brokenConditionRulebook)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeCondition)
}

func TestValidateBrokenConditionJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.yml", brokenConditionRulebook)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), path)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeCondition, resp.Error.Code)
}

func TestValidateErrorCodes(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		rulebook string
		args     []string
		wantCode string
	}{
		{
			name:     "not a list",
			rulebook: "name: hello\n",
			wantCode: ErrCodeSchema,
		},
		{
			name: "duplicate rule",
			rulebook: `
- name: dup
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: same
      condition: event.i == 1
      action: debug
    - name: same
      condition: event.i == 2
      action: debug
`,
			wantCode: ErrCodeSchema,
		},
		{
			name:     "missing env var",
			rulebook: helloRulebook,
			args:     []string{"-E", "RULEBOOK_TEST_SURELY_UNSET"},
			wantCode: ErrCodeVars,
		},
		{
			name: "unknown vars key",
			rulebook: `
- name: needs
  hosts: all
  sources:
    - range: {limit: 1}
  rules:
    - name: missing
      condition: event.i == vars.missing
      action: debug
`,
			wantCode: ErrCodeCompile,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, filepath.Join("case", string(rune('a'+i))+".yml"), tt.rulebook)
			args := append([]string{path}, tt.args...)

			out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), args...)
			require.Error(t, err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code, resp.Error.Message)
		})
	}
}

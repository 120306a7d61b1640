package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesRulebookPath(t *testing.T) {
	s := loadScenario(t, "correlate")

	path, ok := s.Rulebook.(string)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("testdata", "rulebooks", "correlate.yml"), path)
	assert.Len(t, s.Events["correlate"], 3)
	assert.True(t, s.shutdownAfterEvents())
	assert.Equal(t, defaultTimeout, s.timeout())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Options(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: opts
description: options
rulebook: [{name: x}]
shutdown_after_events: false
timeout: 2s
assertions:
  - type: record_count
    record_type: Action
`), "")
	require.NoError(t, err)
	assert.False(t, s.shutdownAfterEvents())
	assert.Equal(t, 2*time.Second, s.timeout())
}

func TestParseScenario_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rb.yml"), []byte("- name: x\n"), 0o644))

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertion: []\n",
			wantErr: "field assertion not found",
		},
		{
			name:    "missing name",
			yaml:    "description: b\nrulebook: rb.yml\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: a\nrulebook: rb.yml\n",
			wantErr: "description is required",
		},
		{
			name:    "missing rulebook",
			yaml:    "name: a\ndescription: b\n",
			wantErr: "rulebook is required",
		},
		{
			name:    "rulebook file not found",
			yaml:    "name: a\ndescription: b\nrulebook: nope.yml\n",
			wantErr: "rulebook file not found",
		},
		{
			name:    "rulebook mapping",
			yaml:    "name: a\ndescription: b\nrulebook: {name: x}\n",
			wantErr: "rulebook must be a path or a list",
		},
		{
			name:    "events with sources",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nuse_sources: true\nevents: {x: [{i: 1}]}\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad timeout",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\ntimeout: soon\n",
			wantErr: "invalid timeout",
		},
		{
			name:    "no assertions",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "assertion without type",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertions: [{rule: r}]\n",
			wantErr: "type is required",
		},
		{
			name:    "unknown assertion type",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertions: [{type: final_state}]\n",
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name:    "action without filters",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertions: [{type: action}]\n",
			wantErr: "requires rule, action or status",
		},
		{
			name:    "short action order",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertions: [{type: action_order, rules: [a]}]\n",
			wantErr: "at least 2 rules",
		},
		{
			name:    "record count without type",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertions: [{type: record_count}]\n",
			wantErr: "requires record_type",
		},
		{
			name:    "bad shutdown kind",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertions: [{type: shutdown, kind: later}]\n",
			wantErr: `unknown shutdown kind "later"`,
		},
		{
			name:    "stats without stat",
			yaml:    "name: a\ndescription: b\nrulebook: rb.yml\nassertions: [{type: stats, ruleset: x}]\n",
			wantErr: "requires ruleset and stat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

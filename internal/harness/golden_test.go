package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalTrace_Canonical(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Ruleset: "r", Type: "ProcessedEvent", Event: map[string]any{"z": int64(1), "a": "x"}},
		{Ruleset: "r", Type: "Shutdown", Kind: "now", Delay: 1.5},
	}

	data, err := MarshalTrace("demo", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"demo","trace":[{"event":{"a":"x","z":1},"ruleset":"r","type":"ProcessedEvent"},{"delay":1.5,"kind":"now","ruleset":"r","type":"Shutdown"}]}`,
		string(data))
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	first, err := Run(loadScenario(t, "shutdown"))
	require.NoError(t, err)
	second, err := Run(loadScenario(t, "shutdown"))
	require.NoError(t, err)

	a, err := MarshalTrace("shutdown", first)
	require.NoError(t, err)
	b, err := MarshalTrace("shutdown", second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestAssertGolden_Hello(t *testing.T) {
	result, err := Run(loadScenario(t, "hello"))
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "hello", result))
}

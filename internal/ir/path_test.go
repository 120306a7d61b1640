package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	m := map[string]any{
		"payload": map[string]any{
			"hosts": []any{map[string]any{"name": "h1"}},
		},
		"odd key": int64(1),
	}

	v, ok := Lookup(m, "payload.hosts[0]['name']")
	require.True(t, ok)
	assert.Equal(t, "h1", v)

	v, ok = Lookup(m, "payload.hosts.0.name")
	require.True(t, ok)
	assert.Equal(t, "h1", v)

	v, ok = Lookup(m, `["odd key"]`)
	require.True(t, ok)
	assert.Equal(t, int64(1), v)

	_, ok = Lookup(m, "payload.missing")
	assert.False(t, ok)
	_, ok = Lookup(m, "payload.hosts[3]")
	assert.False(t, ok)
	_, ok = Lookup(m, "bad path")
	assert.False(t, ok)
}

func TestSet(t *testing.T) {
	m := map[string]any{}
	require.True(t, Set(m, "meta.source.name", "s1"))
	assert.Equal(t, map[string]any{"meta": map[string]any{"source": map[string]any{"name": "s1"}}}, m)
}

package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulebook/internal/ident"
)

func testEnv() Env {
	return Env{
		IDs: ident.NewFixedGenerator("uuid-1"),
		Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestJSONFilter(t *testing.T) {
	event := map[string]any{
		"key1": map[string]any{"key2": map[string]any{"f_ignore_1": 1, "f_ignore_2": 2}},
		"key3": map[string]any{"key4": map[string]any{"f_use_1": 42, "f_ignore_1": 1}},
	}
	out, err := jsonFilter(testEnv(), event, map[string]any{
		"include_keys": []any{"key3", "key4", "f_use*"},
		"exclude_keys": []any{"key1", "f_ignore_*"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"key3": map[string]any{"key4": map[string]any{"f_use_1": 42}},
	}, out)
}

func TestDashesToUnderscores(t *testing.T) {
	event := map[string]any{
		"x-y":    1,
		"x_y":    2,
		"nested": []any{map[string]any{"a-b": "c"}},
	}
	out, err := dashesToUnderscores(testEnv(), event, map[string]any{"overwrite": false})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"x_y":    2,
		"nested": []any{map[string]any{"a_b": "c"}},
	}, out)

	out, err = dashesToUnderscores(testEnv(), map[string]any{"x-y": 1, "x_y": 2}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x_y": 1}, out)
}

func TestInsertHostsToMeta(t *testing.T) {
	out, err := insertHostsToMeta(testEnv(), map[string]any{
		"app": map[string]any{"target": "h1;h2"},
	}, map[string]any{"host_path": "app.target", "host_separator": ";"})
	require.NoError(t, err)
	assert.Equal(t, []any{"h1", "h2"}, out["meta"].(map[string]any)["hosts"])

	out, err = insertHostsToMeta(testEnv(), map[string]any{
		"app": map[string]any{"hosts": []any{"a", "b"}},
	}, map[string]any{"host_path": "app/hosts", "path_separator": "/"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out["meta"].(map[string]any)["hosts"])

	_, err = insertHostsToMeta(testEnv(), map[string]any{}, map[string]any{"host_path": "missing", "raise_error": true})
	assert.Error(t, err)

	_, err = insertHostsToMeta(testEnv(), map[string]any{"h": []any{1}}, map[string]any{"host_path": "h"})
	assert.ErrorContains(t, err, "not a valid hostname")
}

func TestInsertMetaInfoFilter(t *testing.T) {
	out, err := insertMetaInfo(testEnv(), map[string]any{"i": 1}, map[string]any{
		"source_name": "numbers", "source_type": "range",
	})
	require.NoError(t, err)
	meta := out["meta"].(map[string]any)
	assert.Equal(t, "uuid-1", meta["uuid"])
	assert.Equal(t, "2026-01-01T00:00:00.000000Z", meta["received_at"])
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	_, err := r.Plugin("eda.builtin.range")
	require.NoError(t, err)
	_, err = r.Filter("ansible.eda.json_filter")
	require.NoError(t, err)

	_, err = r.Plugin("webhook")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "could not find source plugin for webhook", err.Error())
	assert.Contains(t, r.PluginNames(), "file_watch")
}

package rulebook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/rulebook/internal/ident"
)

func TestWithMetaInfoFilter_Idempotent(t *testing.T) {
	src := EventSource{
		Name:       "numbers",
		SourceName: "eda.builtin.range",
		Filters:    []EventSourceFilter{{FilterName: "json_filter", FilterArgs: map[string]any{}}},
	}

	once := src.WithMetaInfoFilter()
	twice := once.WithMetaInfoFilter()

	assert.Len(t, src.Filters, 1, "original is not mutated")
	assert.Len(t, once.Filters, 2)
	assert.Equal(t, once, twice)
	assert.Equal(t, EventSourceFilter{
		FilterName: MetaInfoFilter,
		FilterArgs: map[string]any{"source_name": "numbers", "source_type": "eda.builtin.range"},
	}, once.Filters[1])
}

func TestWithMetaInfoFilter_RespectsExistingPosition(t *testing.T) {
	src := EventSource{
		Name:       "s",
		SourceName: "range",
		Filters: []EventSourceFilter{
			{FilterName: "ansible.eda.insert_meta_info"},
			{FilterName: "json_filter"},
		},
	}
	assert.Equal(t, src, src.WithMetaInfoFilter())
}

func TestFilterBaseName(t *testing.T) {
	assert.Equal(t, "range", FilterBaseName("eda.builtin.range"))
	assert.Equal(t, "range", FilterBaseName("range"))
}

func TestInsertMeta_Idempotent(t *testing.T) {
	gen := ident.NewFixedGenerator("u-1", "u-2")
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	event := InsertMeta(map[string]any{"i": 1}, "numbers", "range", gen, first)
	again := InsertMeta(event, "other", "generic", gen, first.Add(time.Hour))

	meta := again["meta"].(map[string]any)
	assert.Equal(t, map[string]any{"name": "numbers", "type": "range"}, meta["source"])
	assert.Equal(t, "2026-03-01T10:00:00.000000Z", meta["received_at"])
	assert.Equal(t, "u-1", meta["uuid"])
}

func TestInsertMeta_KeepsPartialSource(t *testing.T) {
	event := map[string]any{"meta": map[string]any{"source": map[string]any{"name": "upstream"}}}
	InsertMeta(event, "numbers", "range", ident.NewFixedGenerator(), time.Now())

	source := event["meta"].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, "upstream", source["name"])
	assert.Equal(t, "range", source["type"])
}

func TestShutdownItem(t *testing.T) {
	sd := NewShutdown()
	assert.Equal(t, "Not specified", sd.Message)
	assert.Equal(t, 60.0, sd.Delay)
	assert.False(t, sd.Now())

	item := ShutdownItem(Shutdown{Kind: ShutdownNow})
	sd.Kind = "changed"
	assert.True(t, item.Shutdown.Now())
	assert.Nil(t, EventItem(map[string]any{"a": 1}).Shutdown)
}

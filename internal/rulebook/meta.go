package rulebook

import (
	"strings"
	"time"

	"github.com/roach88/rulebook/internal/ident"
)

// MetaInfoFilter is the filter that stamps every event with its source.
const MetaInfoFilter = "eda.builtin.insert_meta_info"

// WithMetaInfoFilter returns a copy of s whose filter list ends with the
// meta-info filter. A source that already carries one is returned with its
// filters unchanged, so the operation is idempotent.
func (s EventSource) WithMetaInfoFilter() EventSource {
	for _, f := range s.Filters {
		if FilterBaseName(f.FilterName) == FilterBaseName(MetaInfoFilter) {
			return s
		}
	}
	out := s
	out.Filters = make([]EventSourceFilter, 0, len(s.Filters)+1)
	out.Filters = append(out.Filters, s.Filters...)
	out.Filters = append(out.Filters, EventSourceFilter{
		FilterName: MetaInfoFilter,
		FilterArgs: map[string]any{
			"source_name": s.Name,
			"source_type": s.SourceName,
		},
	})
	return out
}

// FilterBaseName strips a collection prefix: eda.builtin.json_filter and
// json_filter name the same filter. Source plugin names follow the same
// convention.
func FilterBaseName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// InsertMeta stamps event with meta.source.name, meta.source.type,
// meta.received_at and meta.uuid. Fields already present are kept, so
// applying it twice is the same as applying it once. event is modified in
// place and returned.
func InsertMeta(event map[string]any, sourceName, sourceType string, gen ident.Generator, now time.Time) map[string]any {
	if event == nil {
		event = map[string]any{}
	}
	meta, ok := event["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		event["meta"] = meta
	}
	source, ok := meta["source"].(map[string]any)
	if !ok {
		source = map[string]any{}
		meta["source"] = source
	}
	if _, ok := source["name"]; !ok {
		source["name"] = sourceName
	}
	if _, ok := source["type"]; !ok {
		source["type"] = sourceType
	}
	if _, ok := meta["received_at"]; !ok {
		meta["received_at"] = now.UTC().Format("2006-01-02T15:04:05.000000Z")
	}
	if _, ok := meta["uuid"]; !ok {
		meta["uuid"] = gen.Generate()
	}
	return event
}

package source

import (
	"fmt"
	"path"
	"strings"

	"github.com/roach88/rulebook/internal/ir"
	"github.com/roach88/rulebook/internal/rulebook"
)

var builtinFilters = map[string]Filter{
	"insert_meta_info":      FilterFunc(insertMetaInfo),
	"json_filter":           FilterFunc(jsonFilter),
	"dashes_to_underscores": FilterFunc(dashesToUnderscores),
	"insert_hosts_to_meta":  FilterFunc(insertHostsToMeta),
	"noop":                  FilterFunc(noopFilter),
}

func insertMetaInfo(env Env, event map[string]any, args map[string]any) (map[string]any, error) {
	name, _ := args["source_name"].(string)
	typ, _ := args["source_type"].(string)
	return rulebook.InsertMeta(event, name, typ, env.IDs, env.Now()), nil
}

func noopFilter(_ Env, event map[string]any, _ map[string]any) (map[string]any, error) {
	return event, nil
}

// jsonFilter removes keys matching exclude_keys at any depth, unless they
// also match include_keys. Patterns use shell glob syntax.
func jsonFilter(_ Env, event map[string]any, args map[string]any) (map[string]any, error) {
	exclude := stringList(args["exclude_keys"])
	include := stringList(args["include_keys"])

	pending := []any{event}
	for len(pending) > 0 {
		obj := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		for key, value := range m {
			switch {
			case matchesAny(include, key):
				pending = append(pending, value)
			case matchesAny(exclude, key):
				delete(m, key)
			default:
				pending = append(pending, value)
			}
		}
	}
	return event, nil
}

// dashesToUnderscores renames keys containing "-" at any depth. With
// overwrite (default true) the renamed key replaces an existing one;
// otherwise the existing value wins.
func dashesToUnderscores(_ Env, event map[string]any, args map[string]any) (map[string]any, error) {
	overwrite := true
	if v, ok := args["overwrite"].(bool); ok {
		overwrite = v
	}

	pending := []any{event}
	for len(pending) > 0 {
		obj := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		switch v := obj.(type) {
		case map[string]any:
			for _, key := range ir.SortedKeys(v) {
				value := v[key]
				pending = append(pending, value)
				if !strings.Contains(key, "-") {
					continue
				}
				renamed := strings.ReplaceAll(key, "-", "_")
				delete(v, key)
				if _, exists := v[renamed]; !exists || overwrite {
					v[renamed] = value
				}
			}
		case []any:
			pending = append(pending, v...)
		}
	}
	return event, nil
}

// insertHostsToMeta copies the hosts found at host_path into meta.hosts.
// A string is split on host_separator when one is given.
func insertHostsToMeta(env Env, event map[string]any, args map[string]any) (map[string]any, error) {
	hostPath, _ := args["host_path"].(string)
	if hostPath == "" {
		return event, nil
	}
	sep, _ := args["path_separator"].(string)
	if sep == "" {
		sep = "."
	}
	hostSep, _ := args["host_separator"].(string)
	raiseErr, _ := args["raise_error"].(bool)

	value, ok := lookupSep(event, hostPath, sep)
	if !ok {
		msg := fmt.Sprintf("event does not contain %s", hostPath)
		if raiseErr {
			return nil, fmt.Errorf("%s", msg)
		}
		if logErr, ok := args["log_error"].(bool); !ok || logErr {
			if env.Logger != nil {
				env.Logger.Error(msg)
			}
		}
		return event, nil
	}

	var hosts []any
	switch v := value.(type) {
	case string:
		if hostSep != "" {
			for _, h := range strings.Split(v, hostSep) {
				hosts = append(hosts, h)
			}
		} else {
			hosts = []any{v}
		}
	case []any:
		for _, h := range v {
			if _, ok := h.(string); !ok {
				return nil, fmt.Errorf("%v is not a valid hostname", h)
			}
		}
		hosts = v
	default:
		return nil, fmt.Errorf("%v is not a valid hostname", v)
	}

	meta, ok := event["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		event["meta"] = meta
	}
	meta["hosts"] = hosts
	return event, nil
}

func lookupSep(m map[string]any, p, sep string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(p, sep) {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchesAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if p == key {
			return true
		}
		if ok, err := path.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, s := range val {
			out = append(out, fmt.Sprint(s))
		}
		return out
	}
	return nil
}

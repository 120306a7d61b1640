package ir

import (
	"strconv"
	"strings"
)

// Lookup resolves a dotted path such as payload.hosts[0]['name'] against
// m. List elements are addressed by index.
func Lookup(m map[string]any, path string) (any, bool) {
	keys, ok := SplitPath(path)
	if !ok || len(keys) == 0 {
		return nil, false
	}

	var cur any = m
	for _, key := range keys {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SplitPath turns a.b[0]['c d'] into [a b 0 c d]. Whitespace outside
// brackets makes the path invalid.
func SplitPath(path string) ([]string, bool) {
	var keys []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			keys = append(keys, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, false
			}
			key := strings.TrimSpace(path[i+1 : i+end])
			if len(key) >= 2 && (key[0] == '\'' || key[0] == '"') && key[len(key)-1] == key[0] {
				key = key[1 : len(key)-1]
			}
			keys = append(keys, key)
			i += end
		case ' ', '\t':
			return nil, false
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return keys, true
}

// Set assigns value at a dotted path, creating intermediate objects.
func Set(m map[string]any, path string, value any) bool {
	keys, ok := SplitPath(path)
	if !ok || len(keys) == 0 {
		return false
	}
	cur := m
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
	return true
}

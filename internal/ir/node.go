package ir

import (
	"fmt"
	"sort"
)

// Node is one tagged document node.
type Node = map[string]any

// Tag builds a single-key node.
func Tag(kind string, payload any) Node {
	return Node{kind: payload}
}

// Binary builds {kind: {"lhs": lhs, "rhs": rhs}}.
func Binary(kind string, lhs, rhs any) Node {
	return Node{kind: map[string]any{"lhs": lhs, "rhs": rhs}}
}

// Kind returns the single key of a node and its payload.
func Kind(v any) (string, any, bool) {
	n, ok := v.(map[string]any)
	if !ok || len(n) != 1 {
		return "", nil, false
	}
	for k, payload := range n {
		return k, payload, true
	}
	return "", nil, false
}

// Operands returns the lhs and rhs of a binary node payload.
func Operands(payload any) (lhs, rhs any, err error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("binary node payload is %T, want object", payload)
	}
	lhs, lok := m["lhs"]
	rhs, rok := m["rhs"]
	if !lok || !rok {
		return nil, nil, fmt.Errorf("binary node missing lhs/rhs: keys %v", SortedKeys(m))
	}
	return lhs, rhs, nil
}

// SortedKeys returns the keys of m in byte order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

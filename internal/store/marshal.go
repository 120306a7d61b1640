package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ir"
)

// marshalRecord converts a record to JSON TEXT for the payload column.
// Uses json.Encoder with HTML escaping disabled so stored payloads match
// what the console and forwarder emit.
func marshalRecord(r eventlog.Record) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalRecord parses a payload column back into a record.
func unmarshalRecord(data string) (eventlog.Record, error) {
	var r eventlog.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return eventlog.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

// marshalStats converts session stats to canonical JSON TEXT, so rewriting
// unchanged stats stores identical bytes.
func marshalStats(stats map[string]any) (string, error) {
	if stats == nil {
		return "{}", nil
	}
	normalized, err := ir.NormalizeMap(stats)
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	data, err := ir.MarshalCanonical(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal stats: %w", err)
	}
	return string(data), nil
}

func unmarshalStats(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return m, nil
}

func marshalStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	return list, nil
}

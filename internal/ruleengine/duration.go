package ruleengine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var durationUnits = map[string]time.Duration{
	"millisecond": time.Millisecond,
	"second":      time.Second,
	"minute":      time.Minute,
	"hour":        time.Hour,
	"day":         24 * time.Hour,
}

// ParseDuration reads the durations rulebooks use for timeouts, throttles
// and TTLs: "5 seconds", "1 minute", "2 hours", a bare number of seconds,
// or a Go duration such as "1m30s".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}

	fields := strings.Fields(s)
	if len(fields) == 2 {
		n, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit := strings.TrimSuffix(strings.ToLower(fields[1]), "s")
		base, ok := durationUnits[unit]
		if !ok {
			return 0, fmt.Errorf("invalid duration unit in %q", s)
		}
		return time.Duration(n * float64(base)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

package source

import (
	"context"
	"time"

	"github.com/roach88/rulebook/internal/ir"
)

var builtinPlugins = map[string]Plugin{
	"range":      PluginFunc(rangeSource),
	"generic":    PluginFunc(genericSource),
	"file_watch": PluginFunc(fileWatchSource),
	"nats":       PluginFunc(natsSource),
}

// rangeSource emits {"i": 0} .. {"i": limit-1}, waiting delay seconds
// between events.
func rangeSource(ctx context.Context, args map[string]any, emit Emit) error {
	limit, _ := ir.ToFloat(args["limit"])
	delay := seconds(args["delay"])
	for i := int64(0); i < int64(limit); i++ {
		if err := emit(ctx, map[string]any{"i": i}); err != nil {
			return err
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// genericSource replays a fixed payload.
//
// Arguments: payload (event or list of events), loop_count (default 1, -1
// loops forever), delay and loop_delay (seconds), create_index (key that
// receives a running index), shutdown_after (seconds to stay alive after
// the last event).
func genericSource(ctx context.Context, args map[string]any, emit Emit) error {
	payload, ok := args["payload"].([]any)
	if !ok {
		payload = []any{args["payload"]}
	}
	loopCount := int64(1)
	if n, ok := ir.ToFloat(args["loop_count"]); ok {
		loopCount = int64(n)
	}
	delay := seconds(args["delay"])
	loopDelay := seconds(args["loop_delay"])
	index, _ := args["create_index"].(string)

	var n int64
	for iteration := int64(0); iteration != loopCount; iteration++ {
		if iteration > 0 {
			if err := sleep(ctx, loopDelay); err != nil {
				return err
			}
		}
		for _, p := range payload {
			event, ok := ir.Clone(p).(map[string]any)
			if !ok {
				event = map[string]any{}
			}
			if index != "" {
				event[index] = n
			}
			if err := emit(ctx, event); err != nil {
				return err
			}
			n++
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return sleep(ctx, seconds(args["shutdown_after"]))
}

func seconds(v any) time.Duration {
	f, _ := ir.ToFloat(v)
	return time.Duration(f * float64(time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

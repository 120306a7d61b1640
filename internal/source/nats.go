package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// natsSource subscribes to NATS subjects and emits every message.
//
// Arguments: url (default nats.DefaultURL), subjects (string or list),
// queue (optional queue group). JSON object bodies are emitted as the
// event with the subject added under meta.nats; other bodies are wrapped
// as {"body": "..."}.
func natsSource(ctx context.Context, args map[string]any, emit Emit) error {
	url, _ := args["url"].(string)
	if url == "" {
		url = nats.DefaultURL
	}
	var subjects []string
	switch v := args["subjects"].(type) {
	case string:
		subjects = []string{v}
	case []any:
		for _, s := range v {
			subjects = append(subjects, fmt.Sprint(s))
		}
	}
	if len(subjects) == 0 {
		return fmt.Errorf("nats source requires subjects")
	}
	group, _ := args["queue"].(string)

	nc, err := nats.Connect(url, nats.Name("rulebook-source"), nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 64)
	for _, subject := range subjects {
		var sub *nats.Subscription
		if group != "" {
			sub, err = nc.ChanQueueSubscribe(subject, group, msgs)
		} else {
			sub, err = nc.ChanSubscribe(subject, msgs)
		}
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		defer sub.Unsubscribe()
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			if err := emit(ctx, decodeMessage(msg)); err != nil {
				return err
			}
		}
	}
}

func decodeMessage(msg *nats.Msg) map[string]any {
	var event map[string]any
	if err := json.Unmarshal(msg.Data, &event); err != nil || event == nil {
		event = map[string]any{"body": string(msg.Data)}
	}
	meta, ok := event["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		event["meta"] = meta
	}
	meta["nats"] = map[string]any{"subject": msg.Subject}
	return event
}

package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// publishNATS writes a payload to a NATS subject.
//
// Arguments: url (default nats.DefaultURL), subject (required), payload
// (default: the matched event or events).
func publishNATS(ctx context.Context, c *Control) error {
	subject, _ := c.Args["subject"].(string)
	if subject == "" {
		return fmt.Errorf("publish_nats requires a subject")
	}
	url, _ := c.Args["url"].(string)
	if url == "" {
		url = nats.DefaultURL
	}

	payload, ok := c.Args["payload"]
	if !ok {
		payload = c.Variables["event"]
		if events, ok := c.Variables["events"]; ok {
			payload = events
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	nc, err := nats.Connect(url, nats.Name("rulebook-"+c.Ruleset), nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer nc.Close()

	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := nc.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}

	c.ReportSuccess()
	return nil
}

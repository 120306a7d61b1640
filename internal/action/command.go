package action

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ir"
)

// runCommand runs a local command through the shell and reports a Job
// record, one job event per output line and the final Action record with
// the exit code. A non-zero exit is retried "retries" times, waiting
// "delay" seconds between attempts.
//
// Arguments: command (required), retries (default 0), delay (seconds,
// default 0), env (mapping). The matched event is exported as JSON in
// RULEBOOK_EVENT or RULEBOOK_EVENTS.
func runCommand(ctx context.Context, c *Control) error {
	command, _ := c.Args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("run_command requires a command")
	}
	retries, _ := ir.ToFloat(c.Args["retries"])
	delay, _ := ir.ToFloat(c.Args["delay"])

	jobID := c.ids().Generate()
	if c.Sink != nil {
		c.Sink.Append(eventlog.Record{
			Type:         eventlog.TypeJob,
			JobID:        jobID,
			Action:       c.Name,
			ActionUUID:   c.UUID,
			ActivationID: c.ActivationID,
			Ruleset:      c.Ruleset,
			RulesetUUID:  c.RulesetUUID,
			Rule:         c.Rule,
			RuleUUID:     c.RuleUUID,
			RunAt:        eventlog.RunAt(c.now()),
		})
	}

	env, err := commandEnv(c)
	if err != nil {
		return err
	}

	var rc int
	attempt := func() error {
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Env = env
		cmd.Stdout = &out
		cmd.Stderr = &out
		runErr := cmd.Run()

		c.reportOutput(jobID, out.Bytes())

		var exitErr *exec.ExitError
		switch {
		case runErr == nil:
			rc = 0
			return nil
		case errors.As(runErr, &exitErr):
			rc = exitErr.ExitCode()
			return fmt.Errorf("command exited with rc=%d", rc)
		default:
			return backoff.Permanent(fmt.Errorf("run command: %w", runErr))
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Duration(delay*float64(time.Second))), uint64(retries)),
		ctx)
	runErr := backoff.RetryNotify(attempt, b, func(err error, d time.Duration) {
		c.logger().Info("retrying command", "rule", c.Rule, "error", err, "wait", d)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := eventlog.StatusSuccessful
	if runErr != nil {
		status = eventlog.StatusFailed
	}
	r := c.Record(status)
	r.JobID = jobID
	r.RC = &rc
	if runErr != nil {
		r.Message = runErr.Error()
	}
	if c.Sink != nil {
		c.Sink.Append(r)
	}
	return nil
}

func (c *Control) reportOutput(jobID string, out []byte) {
	if c.Sink == nil {
		return
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	counter := 0
	for sc.Scan() {
		counter++
		c.Sink.Append(eventlog.Record{
			Type:         eventlog.TypeJobEvent,
			JobID:        jobID,
			ActivationID: c.ActivationID,
			Event:        map[string]any{"counter": counter, "stdout": sc.Text()},
		})
	}
}

func commandEnv(c *Control) ([]string, error) {
	env := []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	if extra, ok := c.Args["env"].(map[string]any); ok {
		for _, k := range ir.SortedKeys(extra) {
			env = append(env, fmt.Sprintf("%s=%v", k, extra[k]))
		}
	}
	for _, key := range []string{"event", "events"} {
		v, ok := c.Variables[key]
		if !ok {
			continue
		}
		data, err := ir.MarshalCanonical(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s for command: %w", key, err)
		}
		env = append(env, "RULEBOOK_"+strings.ToUpper(key)+"="+string(data))
	}
	return env, nil
}

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/queue"
)

// Sink accepts records. Implemented by *Log; runners and actions depend on
// this interface only.
type Sink interface {
	Append(r Record) bool
}

// Handler consumes records delivered by Log.Run.
type Handler interface {
	Handle(ctx context.Context, r Record) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r Record) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, r Record) error {
	return f(ctx, r)
}

// Log is the shared, order-preserving telemetry queue.
//
// Thread-safety model:
//   - Append(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Log struct {
	mu     sync.Mutex
	queue  *queue.Queue[Record]
	clock  *ident.Clock
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the sequence clock, e.g. to resume numbering.
func WithClock(c *ident.Clock) Option {
	return func(l *Log) {
		l.clock = c
	}
}

// WithNow overrides the wall clock used for ReportedAt.
func WithNow(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// New creates an empty Log.
func New(opts ...Option) *Log {
	l := &Log{
		queue:  queue.New[Record](),
		clock:  ident.NewClock(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Sink = (*Log)(nil)

// Append stamps r with the next sequence number and enqueues it.
// Returns false once the log is closed.
func (l *Log) Append(r Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.Seq = l.clock.Next()
	if r.ReportedAt.IsZero() {
		r.ReportedAt = l.now()
	}
	return l.queue.Put(r)
}

// Len reports the number of undelivered records.
func (l *Log) Len() int {
	return l.queue.Len()
}

// Close stops accepting records. Run delivers what is queued and returns.
func (l *Log) Close() {
	l.queue.Close()
}

// Run delivers records to handlers until the log is closed and drained or
// ctx is cancelled. A failing handler is logged and does not stop delivery
// to the others.
func (l *Log) Run(ctx context.Context, handlers ...Handler) error {
	for {
		r, err := l.queue.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, h := range handlers {
			if err := h.Handle(ctx, r); err != nil {
				l.logger.Warn("event log handler failed",
					"type", r.Type,
					"seq", r.Seq,
					"error", err)
			}
		}
	}
}

// Collector is a Handler and Sink that keeps every record in memory.
// Used by the harness and tests.
type Collector struct {
	mu      sync.Mutex
	records []Record
	seq     int64
}

// Handle stores r.
func (c *Collector) Handle(_ context.Context, r Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}

// Append stores r directly, numbering it when unnumbered.
func (c *Collector) Append(r Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Seq == 0 {
		c.seq++
		r.Seq = c.seq
	}
	c.records = append(c.records, r)
	return true
}

// Records returns a copy of the collected records.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// OfType returns the collected records of type t.
func (c *Collector) OfType(t Type) []Record {
	var out []Record
	for _, r := range c.Records() {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// Filter wraps h so it only sees records keep accepts.
func Filter(h Handler, keep func(Record) bool) Handler {
	return HandlerFunc(func(ctx context.Context, r Record) error {
		if !keep(r) {
			return nil
		}
		return h.Handle(ctx, r)
	})
}

// SkipAudit is a Filter predicate that drops audit records.
func SkipAudit(r Record) bool {
	return !r.IsAudit()
}

func describe(r Record) string {
	switch r.Type {
	case TypeAction:
		return fmt.Sprintf("action %s %s (ruleset=%s, rule=%s)", r.Action, r.Status, r.Ruleset, r.Rule)
	case TypeShutdown:
		return fmt.Sprintf("shutdown %s (ruleset=%s, delay=%g, message=%q)", r.Kind, r.Ruleset, r.Delay, r.Message)
	case TypeSessionStats:
		return fmt.Sprintf("session stats (ruleset=%s)", r.Ruleset)
	default:
		return string(r.Type)
	}
}

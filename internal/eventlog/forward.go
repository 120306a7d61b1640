package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Forwarder sends records as JSON text messages to a remote websocket
// collector. It dials lazily and redials with exponential backoff when a
// write fails.
type Forwarder struct {
	url        string
	dialer     *websocket.Dialer
	maxRetries uint64
	logger     *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithMaxRetries bounds redial attempts per record.
func WithMaxRetries(n uint64) ForwarderOption {
	return func(f *Forwarder) {
		f.maxRetries = n
	}
}

// WithForwarderLogger sets the logger for reconnect notices.
func WithForwarderLogger(l *slog.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = l
	}
}

// NewForwarder creates a Forwarder for url (ws:// or wss://).
func NewForwarder(url string, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		maxRetries: 5,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handle writes r, reconnecting as needed.
func (f *Forwarder) Handle(ctx context.Context, r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := backoff.WithContext(
		backoff.WithMaxRetries(f.newBackOff(), f.maxRetries), ctx)

	return backoff.RetryNotify(func() error {
		if f.conn == nil {
			conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", f.url, err)
			}
			f.conn = conn
		}
		if err := f.conn.WriteJSON(r); err != nil {
			f.conn.Close()
			f.conn = nil
			return fmt.Errorf("write record %d: %w", r.Seq, err)
		}
		return nil
	}, b, func(err error, d time.Duration) {
		f.logger.Warn("event forwarder retrying", "error", err, "backoff", d)
	})
}

func (f *Forwarder) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	return eb
}

// Close sends a close frame and releases the connection.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	_ = f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := f.conn.Close()
	f.conn = nil
	return err
}

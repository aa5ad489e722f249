// Package nats carries broadcast envelopes on a core NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/sentinel"
)

const flushTimeout = 2 * time.Second

// Transport publishes and subscribes on one subject.
type Transport struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ broadcast.Transport = (*Transport)(nil)

func New(conn *nats.Conn, subject string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{conn: conn, subject: subject, logger: logger}
}

func (t *Transport) Name() string {
	return "nats"
}

// Publish is synchronous on the client buffer; ctx is checked before sending.
func (t *Transport) Publish(ctx context.Context, env broadcast.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := t.conn.Publish(t.subject, raw); err != nil {
		return fmt.Errorf("nats publish: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, h broadcast.Handler) (func(), error) {
	if t.conn == nil || !t.conn.IsConnected() {
		return nil, fmt.Errorf("nats not connected: %w", sentinel.ErrUnavailable)
	}

	// nats delivers a subscription's messages sequentially on one goroutine.
	sub, err := t.conn.Subscribe(t.subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		env, err := broadcast.DecodeEnvelope(msg.Data)
		if err != nil {
			t.logger.Debug("dropping malformed envelope", "transport", t.Name(), "error", err)
			return
		}
		h(env)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", t.subject, errors.Join(sentinel.ErrUnavailable, err))
	}
	// Make sure the server has registered interest before we report success.
	if err := t.conn.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", errors.Join(sentinel.ErrUnavailable, err))
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Unsubscribe()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

// Package redis carries broadcast envelopes on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/sentinel"
)

// Transport publishes and subscribes on one Redis channel.
type Transport struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

var _ broadcast.Transport = (*Transport)(nil)

func New(client *redis.Client, channel string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{client: client, channel: channel, logger: logger}
}

func (t *Transport) Name() string {
	return "redis"
}

func (t *Transport) Publish(ctx context.Context, env broadcast.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, h broadcast.Handler) (func(), error) {
	sub := t.client.Subscribe(ctx, t.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", t.channel, errors.Join(sentinel.ErrUnavailable, err))
	}

	done := make(chan struct{})
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := broadcast.DecodeEnvelope([]byte(msg.Payload))
				if err != nil {
					t.logger.Debug("dropping malformed envelope", "transport", t.Name(), "error", err)
					continue
				}
				h(env)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}, nil
}

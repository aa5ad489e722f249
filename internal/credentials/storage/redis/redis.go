// Package redis is an origin stored in Redis, so tabs running in separate
// processes or hosts share one key space. Each write is followed by a change
// notification on a pub/sub channel, which Watch consumes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sessionkit/internal/credentials"
	"sessionkit/internal/sentinel"
)

// notification is published on the origin's change channel after each write.
type notification struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
	Writer  string `json:"writer"`
}

// Storage is one tab's handle onto a Redis-backed origin.
type Storage struct {
	client *redis.Client
	origin string
	writer string
	logger *slog.Logger
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used by watchers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWriterID fixes the identity stamped on change notifications.
func WithWriterID(id string) Option {
	return func(s *Storage) {
		if id != "" {
			s.writer = id
		}
	}
}

var (
	_ credentials.Storage   = (*Storage)(nil)
	_ credentials.Watchable = (*Storage)(nil)
)

// New returns a handle for origin on client.
func New(client *redis.Client, origin string, opts ...Option) *Storage {
	s := &Storage{
		client: client,
		origin: origin,
		writer: uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) key(k string) string {
	return s.origin + ":" + k
}

// ChangeChannel is the pub/sub channel carrying this origin's notifications.
func (s *Storage) ChangeChannel() string {
	return s.origin + ":storage-changes"
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	return v, true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	prev, err := s.client.SetArgs(ctx, s.key(key), value, redis.SetArgs{Get: true}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis set %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	if err == nil && prev == value {
		return nil
	}
	s.notify(ctx, notification{Key: key, Value: value, Present: true, Writer: s.writer})
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	if n == 0 {
		return nil
	}
	s.notify(ctx, notification{Key: key, Writer: s.writer})
	return nil
}

// notify is best effort: the value is already committed, and a lost
// notification only delays other tabs until their next read.
func (s *Storage) notify(ctx context.Context, n notification) {
	raw, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.ChangeChannel(), raw).Err(); err != nil {
		s.logger.WarnContext(ctx, "storage change notification failed", "key", n.Key, "error", err)
	}
}

// Watch subscribes to the origin's change channel and delivers other writers'
// changes to fn on a dedicated goroutine.
func (s *Storage) Watch(ctx context.Context, fn func(credentials.Change)) (func(), error) {
	sub := s.client.Subscribe(ctx, s.ChangeChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.ChangeChannel(), errors.Join(sentinel.ErrUnavailable, err))
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
				var n notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					s.logger.Debug("malformed storage change notification", "error", err)
					continue
				}
				if n.Writer == s.writer || n.Key == "" {
					continue
				}
				fn(credentials.Change{Key: n.Key, Value: n.Value, Present: n.Present})
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return stop, nil
}

// Package memory is an in-process broadcast hub. Every tab attached to the
// same Hub channel receives every envelope, the publisher included; the bus
// filters its own origin.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/sentinel"
)

const subscriberBuffer = 128

// Hub routes envelopes between transports sharing a channel name.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), logger: logger}
}

// Transport returns a transport on channel.
func (h *Hub) Transport(channel string) *Transport {
	return &Transport{hub: h, channel: channel}
}

// Close detaches every subscriber. Later publishes fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, subs := range h.subs {
		for s := range subs {
			s.close()
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
}

type subscriber struct {
	ch   chan broadcast.Envelope
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Transport is one tab's attachment to a Hub channel.
type Transport struct {
	hub     *Hub
	channel string
}

var _ broadcast.Transport = (*Transport)(nil)

func (t *Transport) Name() string {
	return "memory"
}

func (t *Transport) Publish(_ context.Context, env broadcast.Envelope) error {
	t.hub.mu.RLock()
	defer t.hub.mu.RUnlock()
	if t.hub.closed {
		return sentinel.ErrClosed
	}
	for s := range t.hub.subs[t.channel] {
		select {
		case s.ch <- env:
		case <-s.done:
		default:
			t.hub.logger.Warn("broadcast subscriber overflow, dropping envelope", "channel", t.channel, "id", env.ID)
		}
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, h broadcast.Handler) (func(), error) {
	s := &subscriber{ch: make(chan broadcast.Envelope, subscriberBuffer), done: make(chan struct{})}

	t.hub.mu.Lock()
	if t.hub.closed {
		t.hub.mu.Unlock()
		return nil, sentinel.ErrClosed
	}
	if t.hub.subs[t.channel] == nil {
		t.hub.subs[t.channel] = make(map[*subscriber]struct{})
	}
	t.hub.subs[t.channel][s] = struct{}{}
	t.hub.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case env := <-s.ch:
				h(env)
			}
		}
	}()

	return func() {
		t.hub.mu.Lock()
		delete(t.hub.subs[t.channel], s)
		t.hub.mu.Unlock()
		s.close()
	}, nil
}

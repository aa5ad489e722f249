package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"

	"sessionkit/pkg/platform/circuit"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultSeenCapacity   = 512
)

// Bus publishes this tab's messages and delivers other tabs' messages.
type Bus struct {
	tabID          string
	primary        Transport
	fallback       Transport
	logger         *slog.Logger
	metrics        *Metrics
	breaker        *circuit.Breaker
	publishTimeout time.Duration
	seen           *lru.Cache[string, struct{}]

	deliverMu sync.Mutex
	inflight  sync.WaitGroup

	mu       sync.Mutex
	degraded bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithPrimary sets the primary transport. Without one the bus is fallback-only.
func WithPrimary(t Transport) Option {
	return func(b *Bus) {
		b.primary = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithBreaker overrides the circuit breaker guarding primary publishes.
func WithBreaker(br *circuit.Breaker) Option {
	return func(b *Bus) {
		if br != nil {
			b.breaker = br
		}
	}
}

// WithPublishTimeout bounds each background publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.publishTimeout = d
		}
	}
}

// NewBus constructs a bus for tabID. fallback may be nil only when a primary
// is configured.
func NewBus(tabID string, fallback Transport, opts ...Option) (*Bus, error) {
	b := &Bus{
		tabID:          tabID,
		fallback:       fallback,
		logger:         slog.Default(),
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.fallback == nil && b.primary == nil {
		return nil, errors.New("broadcast: no transport configured")
	}
	if b.breaker == nil {
		b.breaker = circuit.New("broadcast-primary")
	}
	seen, err := lru.New[string, struct{}](defaultSeenCapacity)
	if err != nil {
		return nil, fmt.Errorf("broadcast: dedup cache: %w", err)
	}
	b.seen = seen
	return b, nil
}

// TabID returns the origin stamped on published envelopes.
func (b *Bus) TabID() string {
	return b.tabID
}

// Degraded reports whether the bus is running without its primary.
func (b *Bus) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded || b.primary == nil
}

// Publish hands msg to every transport in the background and returns the
// envelope ID immediately. It never blocks on, or fails because of, delivery.
func (b *Bus) Publish(ctx context.Context, msg Message) string {
	env := Envelope{ID: ulid.Make().String(), Origin: b.tabID, Message: msg}
	// Our own ID is marked seen so an echo through a relay is dropped.
	b.seen.Add(env.ID, struct{}{})

	ctx = context.WithoutCancel(ctx)
	for _, t := range b.transports() {
		if t == b.primary && !b.breaker.Allow() {
			b.metrics.incPublished(t.Name(), "skipped")
			continue
		}
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.publishTo(ctx, t, env)
		}()
	}
	return env.ID
}

func (b *Bus) publishTo(ctx context.Context, t Transport, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	err := t.Publish(ctx, env)
	if t != b.primary {
		if err != nil {
			b.metrics.incPublished(t.Name(), "error")
			b.logger.DebugContext(ctx, "fallback publish failed", "transport", t.Name(), "error", err)
			return
		}
		b.metrics.incPublished(t.Name(), "ok")
		return
	}

	if err != nil {
		b.metrics.incPublished(t.Name(), "error")
		if _, change := b.breaker.RecordFailure(); change.Opened {
			b.setDegraded(true)
			b.logger.WarnContext(ctx, "broadcast primary unavailable, relying on fallback",
				"transport", t.Name(), "error", err)
			return
		}
		b.logger.DebugContext(ctx, "broadcast primary publish failed",
			"transport", t.Name(), "type", env.Message.Kind(), "error", err)
		return
	}
	b.metrics.incPublished(t.Name(), "ok")
	if _, change := b.breaker.RecordSuccess(); change.Closed {
		b.setDegraded(false)
		b.logger.InfoContext(ctx, "broadcast primary recovered", "transport", t.Name())
	}
}

// Wait blocks until every background publish has finished.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// Subscribe delivers other tabs' messages to fn, one at a time. A primary that
// cannot subscribe leaves the bus fallback-only; only a fallback failure is
// returned.
func (b *Bus) Subscribe(ctx context.Context, fn func(Message)) (func(), error) {
	var stops []func()

	if b.fallback != nil {
		stop, err := b.fallback.Subscribe(ctx, b.handler(b.fallback.Name(), fn))
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", b.fallback.Name(), err)
		}
		stops = append(stops, stop)
	}

	if b.primary != nil {
		stop, err := b.primary.Subscribe(ctx, b.handler(b.primary.Name(), fn))
		switch {
		case err != nil && b.fallback == nil:
			return nil, fmt.Errorf("subscribe %s: %w", b.primary.Name(), err)
		case err != nil:
			b.setDegraded(true)
			b.logger.DebugContext(ctx, "broadcast primary unavailable, fallback only",
				"transport", b.primary.Name(), "error", err)
		default:
			stops = append(stops, stop)
		}
	} else {
		b.metrics.setDegraded(true)
		b.logger.DebugContext(ctx, "no broadcast primary configured, fallback only")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, stop := range stops {
				stop()
			}
		})
	}, nil
}

func (b *Bus) handler(transport string, fn func(Message)) Handler {
	return func(env Envelope) {
		if env.Message == nil {
			b.metrics.incDropped("empty")
			return
		}
		if env.Origin != "" && env.Origin == b.tabID {
			b.metrics.incDropped("own_origin")
			return
		}
		if env.ID != "" {
			if seen, _ := b.seen.ContainsOrAdd(env.ID, struct{}{}); seen {
				b.metrics.incDropped("duplicate")
				return
			}
		}

		b.deliverMu.Lock()
		defer b.deliverMu.Unlock()
		b.metrics.incReceived(transport, env.Message.Kind())
		fn(env.Message)
	}
}

func (b *Bus) transports() []Transport {
	out := make([]Transport, 0, 2)
	if b.primary != nil {
		out = append(out, b.primary)
	}
	if b.fallback != nil {
		out = append(out, b.fallback)
	}
	return out
}

func (b *Bus) setDegraded(degraded bool) {
	b.mu.Lock()
	b.degraded = degraded
	b.mu.Unlock()
	b.metrics.setDegraded(degraded)
}

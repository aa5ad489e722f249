// Package renewal arms the single per-tab timer that triggers token renewal
// ahead of access token expiry.
package renewal

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"sessionkit/internal/credentials"
	"sessionkit/internal/platform/clock"
)

// DefaultBuffer is how long before expiry renewal fires.
const DefaultBuffer = 300 * time.Second

// TokenReader is the slice of the credential store the scheduler needs.
type TokenReader interface {
	Read(ctx context.Context) (credentials.TokenPair, bool)
}

// FireFunc is invoked when the armed timer elapses.
type FireFunc func(ctx context.Context)

// Scheduler owns at most one armed timer. Every Schedule replaces the previous
// timer; Cancel disarms it.
type Scheduler struct {
	tokens TokenReader
	clock  clock.Clock
	fire   FireFunc
	buffer time.Duration
	jitter time.Duration
	// draw picks the jitter for one schedule, in [0, limit).
	draw   func(limit time.Duration) time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	timer    clock.Timer
	gen      uint64
	deadline time.Time
	armed    bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBuffer overrides DefaultBuffer.
func WithBuffer(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.buffer = d
		}
	}
}

// WithJitter fires each schedule up to limit earlier than expiresAt - buffer.
// Tabs sharing one pair then renew one after another, and the later ones find
// the pair already renewed.
func WithJitter(limit time.Duration) Option {
	return func(s *Scheduler) {
		if limit >= 0 {
			s.jitter = limit
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Scheduler. A nil clock uses wall time.
func New(tokens TokenReader, clk clock.Clock, fire FireFunc, opts ...Option) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	s := &Scheduler{
		tokens: tokens,
		clock:  clk,
		fire:   fire,
		buffer: DefaultBuffer,
		draw:   randomJitter,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule reads the current pair and arms a timer for expiresAt - buffer,
// less any jitter, or immediately if that is already past. Without
// credentials it disarms and reports false.
func (s *Scheduler) Schedule(ctx context.Context) bool {
	pair, ok := s.tokens.Read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if !ok {
		s.logger.DebugContext(ctx, "renewal not scheduled, no credentials")
		return false
	}

	now := s.clock.Now()
	deadline := pair.ExpiryTime().Add(-s.buffer)
	if s.jitter > 0 {
		deadline = deadline.Add(-s.draw(s.jitter))
	}
	delay := deadline.Sub(now)
	if delay < 0 {
		delay = 0
		deadline = now
	}

	gen := s.gen
	s.deadline = deadline
	s.armed = true
	s.timer = s.clock.AfterFunc(delay, func() { s.onFire(gen) })

	s.logger.DebugContext(ctx, "renewal scheduled",
		"fires_at", deadline.UTC().Format(time.RFC3339),
		"delay_ms", delay.Milliseconds(),
	)
	return true
}

// Cancel disarms the timer. A timer that has already started firing is
// invalidated and will not call fire.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Armed returns the deadline of the armed timer, if any.
func (s *Scheduler) Armed() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.armed
}

func (s *Scheduler) stopLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
	s.deadline = time.Time{}
}

func (s *Scheduler) onFire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.armed = false
	s.deadline = time.Time{}
	s.mu.Unlock()

	if s.fire != nil {
		s.fire(context.Background())
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

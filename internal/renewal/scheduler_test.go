package renewal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sessionkit/internal/credentials"
	"sessionkit/internal/credentials/storage/memory"
	"sessionkit/internal/platform/clock"
)

type SchedulerSuite struct {
	suite.Suite
	ctx   context.Context
	clock *clock.Fake
	store *credentials.Store
	fired atomic.Int32
	sched *Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewFake(time.Unix(1_700_000_000, 0))
	s.store = credentials.New(memory.NewOrigin().Tab(), credentials.WithClock(s.clock))
	s.fired.Store(0)
	s.sched = New(s.store, s.clock, func(context.Context) { s.fired.Add(1) })
}

func (s *SchedulerSuite) storePair(ttl time.Duration) {
	_, err := s.store.Store(s.ctx, "access", "refresh", ttl)
	s.Require().NoError(err)
}

func (s *SchedulerSuite) TestArmsBufferBeforeExpiry() {
	s.storePair(3600 * time.Second)

	s.True(s.sched.Schedule(s.ctx))
	deadline, armed := s.sched.Armed()
	s.True(armed)
	s.Equal(s.clock.Now().Add(3300*time.Second), deadline)
	s.Len(s.clock.Pending(), 1)

	s.clock.Advance(3299 * time.Second)
	s.Equal(int32(0), s.fired.Load())
	s.clock.Advance(time.Second)
	s.Equal(int32(1), s.fired.Load())

	_, armed = s.sched.Armed()
	s.False(armed, "fire does not reschedule on its own")
	s.Empty(s.clock.Pending())
}

func (s *SchedulerSuite) TestNoCredentialsDisarms() {
	s.storePair(time.Hour)
	s.True(s.sched.Schedule(s.ctx))
	s.Require().NoError(s.store.Clear(s.ctx))

	s.False(s.sched.Schedule(s.ctx))
	_, armed := s.sched.Armed()
	s.False(armed)
	s.Empty(s.clock.Pending())
}

func (s *SchedulerSuite) TestInsideBufferFiresImmediately() {
	s.storePair(2 * time.Minute)
	s.True(s.sched.Schedule(s.ctx))

	deadline, armed := s.sched.Armed()
	s.True(armed)
	s.Equal(s.clock.Now(), deadline)

	s.clock.Advance(0)
	s.Equal(int32(1), s.fired.Load())
}

func (s *SchedulerSuite) TestRescheduleKeepsExactlyOneTimer() {
	for i := 1; i <= 10; i++ {
		s.storePair(time.Duration(i) * time.Hour)
		s.True(s.sched.Schedule(s.ctx))
		s.Len(s.clock.Pending(), 1)
	}
	deadline, _ := s.sched.Armed()
	s.Equal(s.clock.Now().Add(10*time.Hour-DefaultBuffer), deadline)

	s.clock.Advance(11 * time.Hour)
	s.Equal(int32(1), s.fired.Load(), "superseded timers never fire")
}

func (s *SchedulerSuite) TestCancel() {
	s.storePair(time.Hour)
	s.True(s.sched.Schedule(s.ctx))
	s.sched.Cancel()
	s.sched.Cancel()

	_, armed := s.sched.Armed()
	s.False(armed)
	s.clock.Advance(2 * time.Hour)
	s.Equal(int32(0), s.fired.Load())
}

func (s *SchedulerSuite) TestSupersededTimerIsNoOp() {
	s.storePair(time.Hour)
	s.True(s.sched.Schedule(s.ctx))

	// Simulate a timer that already fired its callback before being superseded.
	staleGen := s.sched.gen
	s.sched.Cancel()
	s.sched.onFire(staleGen)
	s.Equal(int32(0), s.fired.Load())
}

func (s *SchedulerSuite) TestCustomBuffer() {
	sched := New(s.store, s.clock, func(context.Context) {}, WithBuffer(time.Minute))
	s.storePair(time.Hour)
	s.True(sched.Schedule(s.ctx))
	deadline, _ := sched.Armed()
	s.Equal(s.clock.Now().Add(59*time.Minute), deadline)
}

func (s *SchedulerSuite) TestJitterFiresEarlier() {
	sched := New(s.store, s.clock, func(context.Context) {}, WithJitter(30*time.Second))
	sched.draw = func(limit time.Duration) time.Duration {
		s.Equal(30*time.Second, limit)
		return 12 * time.Second
	}
	s.storePair(time.Hour)

	s.True(sched.Schedule(s.ctx))
	deadline, _ := sched.Armed()
	s.Equal(s.clock.Now().Add(3300*time.Second-12*time.Second), deadline)
}

func (s *SchedulerSuite) TestJitterNeverPushesPastNow() {
	sched := New(s.store, s.clock, func(context.Context) {}, WithJitter(time.Minute))
	sched.draw = func(limit time.Duration) time.Duration { return limit - time.Nanosecond }
	s.storePair(DefaultBuffer + 10*time.Second)

	s.True(sched.Schedule(s.ctx))
	deadline, _ := sched.Armed()
	s.Equal(s.clock.Now(), deadline)
}

func TestRandomJitterStaysInRange(t *testing.T) {
	if got := randomJitter(0); got != 0 {
		t.Fatalf("zero max yielded %s", got)
	}
	for range 1000 {
		got := randomJitter(30 * time.Second)
		if got < 0 || got >= 30*time.Second {
			t.Fatalf("jitter %s outside [0, 30s)", got)
		}
	}
}

func TestArmedNoLaterThanBufferBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	for ttl := time.Second; ttl <= 2*time.Hour; ttl += 97 * time.Second {
		fake := clock.NewFake(time.Unix(1_700_000_000, 0))
		store := credentials.New(memory.NewOrigin().Tab(), credentials.WithClock(fake))
		pair, err := store.Store(ctx, "a", "r", ttl)
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		sched := New(store, fake, nil)
		if !sched.Schedule(ctx) {
			t.Fatalf("ttl=%s: not armed", ttl)
		}
		deadline, _ := sched.Armed()
		if deadline.After(pair.ExpiryTime().Add(-DefaultBuffer)) && deadline.After(fake.Now()) {
			t.Fatalf("ttl=%s: armed at %s, later than expiry-buffer", ttl, deadline)
		}
		if len(fake.Pending()) != 1 {
			t.Fatalf("ttl=%s: %d timers armed", ttl, len(fake.Pending()))
		}
	}
}

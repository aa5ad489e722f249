package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sessionkit/internal/platform/clock"
)

// RefreshTokenStore exposes cleanup for refresh tokens and rotation artifacts.
type RefreshTokenStore interface {
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
	DeleteUsedTokensBefore(ctx context.Context, cutoff time.Time) (int, error)
	Live() int
}

// Recorder receives cleanup counts.
type Recorder interface {
	AddRefreshTokensPurged(n int)
	SetRefreshTokens(n int)
}

// Result summarizes the deletions performed by a cleanup run.
type Result struct {
	DeletedExpired int
	DeletedUsed    int
}

// Service periodically removes expired and long-consumed refresh tokens.
type Service struct {
	store     RefreshTokenStore
	recorder  Recorder
	interval  time.Duration
	usedGrace time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

type Option func(*Service)

// WithInterval overrides the cleanup interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithUsedGrace keeps consumed tokens this long so replays are still detected.
func WithUsedGrace(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.usedGrace = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

func New(store RefreshTokenStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	svc := &Service{
		store:     store,
		interval:  5 * time.Minute,
		usedGrace: 24 * time.Hour,
		clock:     clock.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs cleanup periodically until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "refresh token cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single cleanup pass. Errors from each step are joined.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	var res Result
	var errs []error

	expired, err := s.store.DeleteExpiredTokens(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired refresh tokens: %w", err))
	} else {
		res.DeletedExpired = expired
	}

	used, err := s.store.DeleteUsedTokensBefore(ctx, now.Add(-s.usedGrace))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete used refresh tokens: %w", err))
	} else {
		res.DeletedUsed = used
	}

	if s.recorder != nil {
		s.recorder.AddRefreshTokensPurged(res.DeletedExpired + res.DeletedUsed)
		s.recorder.SetRefreshTokens(s.store.Live())
	}
	if n := res.DeletedExpired + res.DeletedUsed; n > 0 {
		s.logger.InfoContext(ctx, "refresh tokens purged", "expired", res.DeletedExpired, "used", res.DeletedUsed)
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}

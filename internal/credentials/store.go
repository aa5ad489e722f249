// Package credentials persists the current token pair and its expiry in
// origin-scoped storage. It is pure data access: no renewal or session policy.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sessionkit/internal/platform/clock"
	"sessionkit/internal/sentinel"
)

// Persisted keys. Absence of any one of them means "no session".
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "token_expiry"
)

// ErrNonPositiveTTL is returned by Store when the pair would already be expired.
var ErrNonPositiveTTL = fmt.Errorf("token ttl must be positive: %w", sentinel.ErrInvalidInput)

// TokenPair is the authoritative access/refresh pair for an origin.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token expiry in Unix seconds.
	ExpiresAt int64
}

// ExpiryTime returns ExpiresAt as a time.Time. ExpiresAt is stored in whole
// seconds, truncated from the write time, so it can sit up to a second before
// the exact now+ttl and a timer armed from it fires no later than intended.
func (p TokenPair) ExpiryTime() time.Time {
	return time.Unix(p.ExpiresAt, 0)
}

// Store reads and writes the token pair.
type Store struct {
	storage Storage
	clock   clock.Clock
	logger  *slog.Logger
	parser  *jwt.Parser
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger used for swallowed backend errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Store over storage.
func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		clock:   clock.New(),
		logger:  slog.Default(),
		parser:  jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage exposes the underlying backend so the broadcast fallback can watch it.
func (s *Store) Storage() Storage {
	return s.storage
}

// Store writes a new pair expiring ttl from now. The three writes form one
// logical operation: the access token is written last so observers keyed on it
// never see a new access token without its companions.
func (s *Store) Store(ctx context.Context, access, refresh string, ttl time.Duration) (TokenPair, error) {
	if ttl <= 0 {
		return TokenPair{}, ErrNonPositiveTTL
	}
	if access == "" || refresh == "" {
		return TokenPair{}, fmt.Errorf("empty token: %w", sentinel.ErrInvalidInput)
	}
	pair := TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    s.clock.Now().Add(ttl).Unix(),
	}

	if err := s.storage.Set(ctx, KeyRefreshToken, refresh); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	if err := s.storage.Set(ctx, KeyTokenExpiry, strconv.FormatInt(pair.ExpiresAt, 10)); err != nil {
		return TokenPair{}, fmt.Errorf("store token expiry: %w", err)
	}
	if err := s.storage.Set(ctx, KeyAccessToken, access); err != nil {
		return TokenPair{}, fmt.Errorf("store access token: %w", err)
	}
	return pair, nil
}

// Read returns the current pair. Any absent, empty, or unparsable field yields
// ok=false; backend failures are logged and also reported as "no credentials".
func (s *Store) Read(ctx context.Context) (TokenPair, bool) {
	access, ok := s.get(ctx, KeyAccessToken)
	if !ok {
		return TokenPair{}, false
	}
	refresh, ok := s.get(ctx, KeyRefreshToken)
	if !ok {
		return TokenPair{}, false
	}
	rawExpiry, ok := s.get(ctx, KeyTokenExpiry)
	if !ok {
		return TokenPair{}, false
	}
	expiresAt, err := strconv.ParseInt(strings.TrimSpace(rawExpiry), 10, 64)
	if err != nil || expiresAt <= 0 {
		return TokenPair{}, false
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, true
}

// Clear removes the pair, access token first. Every key is attempted even if
// an earlier delete fails.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyTokenExpiry} {
		if err := s.storage.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// IsExpired reports whether the stored access token is at or past expiry.
// No credentials counts as expired.
func (s *Store) IsExpired(ctx context.Context) bool {
	pair, ok := s.Read(ctx)
	if !ok {
		return true
	}
	return !s.clock.Now().Before(pair.ExpiryTime())
}

// IsExpiringWithin reports whether expiresAt - now <= buffer. Exact equality
// counts as expiring. No credentials counts as expiring.
func (s *Store) IsExpiringWithin(ctx context.Context, buffer time.Duration) bool {
	pair, ok := s.Read(ctx)
	if !ok {
		return true
	}
	return pair.ExpiryTime().Sub(s.clock.Now()) <= buffer
}

// DecodePayload parses the token's claims without verifying the signature.
// It is a convenience for optimistic UI, never a trust boundary.
func (s *Store) DecodePayload(token string) (*Claims, bool) {
	return DecodePayload(s.parser, token)
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "credential read failed", "key", key, "error", err)
		return "", false
	}
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

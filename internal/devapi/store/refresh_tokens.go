package store

import (
	"context"
	"sync"
	"time"

	dErrors "sessionkit/pkg/domain-errors"
)

var (
	ErrRefreshTokenNotFound = dErrors.New(dErrors.CodeUnauthorized, "refresh token not recognized")
	ErrRefreshTokenUsed     = dErrors.New(dErrors.CodeUnauthorized, "refresh token already used")
	ErrRefreshTokenExpired  = dErrors.New(dErrors.CodeUnauthorized, "refresh token expired")
)

type RefreshTokens struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{tokens: make(map[string]*RefreshToken)}
}

func (s *RefreshTokens) Create(_ context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

// maxSuccessorHops bounds the walk along a rotation chain inside the grace
// window.
const maxSuccessorHops = 8

// Rotate consumes presented and stores next as its successor. next carries the
// new token value and its timestamps; user and company are copied from the
// presented record, and next.CreatedAt is taken as now.
//
// A token consumed less than grace ago is answered with its latest live
// successor instead, so tabs that renew at the same moment converge on one
// pair. Any other reuse revokes every live token of the user, since the pair
// has leaked or been replayed.
func (s *RefreshTokens) Rotate(_ context.Context, presented string, next RefreshToken, grace time.Duration) (Rotation, error) {
	now := next.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[presented]
	if !ok {
		return Rotation{}, ErrRefreshTokenNotFound
	}
	if record.Used {
		if successor, ok := s.graceSuccessorLocked(record, now, grace); ok {
			return Rotation{Record: *record, Token: successor.Token, Reused: true}, nil
		}
		s.revokeLocked(record.UserID)
		return Rotation{}, ErrRefreshTokenUsed
	}
	if !now.Before(record.ExpiresAt) {
		return Rotation{}, ErrRefreshTokenExpired
	}

	consumed := *record
	record.Used = true
	record.UsedAt = now
	record.Successor = next.Token

	next.UserID = record.UserID
	next.CompanyID = record.CompanyID
	next.Used = false
	next.UsedAt = time.Time{}
	next.Successor = ""
	s.tokens[next.Token] = &next

	return Rotation{Record: consumed, Token: next.Token}, nil
}

// graceSuccessorLocked follows record's rotation chain while each hop was
// consumed within grace and returns the first live successor.
func (s *RefreshTokens) graceSuccessorLocked(record *RefreshToken, now time.Time, grace time.Duration) (*RefreshToken, bool) {
	if grace <= 0 {
		return nil, false
	}
	cur := record
	for range maxSuccessorHops {
		if !cur.Used || cur.Successor == "" || now.Sub(cur.UsedAt) > grace {
			return nil, false
		}
		next, ok := s.tokens[cur.Successor]
		if !ok {
			return nil, false
		}
		if !next.Used {
			if !now.Before(next.ExpiresAt) {
				return nil, false
			}
			return next, true
		}
		cur = next
	}
	return nil, false
}

func (s *RefreshTokens) revokeLocked(userID string) {
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Used {
			t.Used = true
			t.UsedAt = time.Time{}
		}
	}
}

// DeleteExpiredTokens removes tokens expired at now.
func (s *RefreshTokens) DeleteExpiredTokens(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

// DeleteUsedTokensBefore removes consumed tokens created before cutoff. Newer
// used tokens are kept so a replay is still recognized.
func (s *RefreshTokens) DeleteUsedTokensBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.tokens {
		if t.Used && t.CreatedAt.Before(cutoff) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

// Live counts unused tokens.
func (s *RefreshTokens) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if !t.Used {
			n++
		}
	}
	return n
}

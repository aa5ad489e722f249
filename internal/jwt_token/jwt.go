// Package jwttoken signs and validates the HS256 access tokens issued by the
// development auth API.
package jwttoken

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sessionkit/internal/credentials"
	"sessionkit/internal/identity"
	"sessionkit/internal/platform/clock"
	dErrors "sessionkit/pkg/domain-errors"
	"sessionkit/pkg/secrets"
)

// Service handles access token creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
	clock      clock.Clock
}

type Option func(*Service)

// WithClock sets the time source used for iat/exp.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewService(signingKey, issuer, audience string, tokenTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the lifetime of issued access tokens.
func (s *Service) TTL() time.Duration {
	return s.tokenTTL
}

// IssueAccessToken signs an access token for user acting in its current
// company. The claims use the same shape the client decodes.
func (s *Service) IssueAccessToken(user identity.User) (string, time.Time, error) {
	if user.IsZero() {
		return "", time.Time{}, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	now := s.clock.Now()
	expiresAt := now.Add(s.tokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, credentials.Claims{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		CompanyID: user.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not sign access token")
	}
	return signed, expiresAt, nil
}

// Validate checks signature, algorithm, expiry, audience and issuer.
func (s *Service) Validate(tokenString string) (*credentials.Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing token")
	}
	claims := new(credentials.Claims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithAudience(s.audience),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid || claims.Identity() == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// NewRefreshToken returns an opaque random refresh token.
func (s *Service) NewRefreshToken() (string, error) {
	return secrets.Generate()
}

package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionkit/internal/credentials"
	"sessionkit/internal/identity"
	"sessionkit/internal/platform/clock"
	dErrors "sessionkit/pkg/domain-errors"
)

var (
	start = time.Unix(1_700_000_000, 0)
	ada   = identity.User{ID: "u-ada", Email: "ada@example.com", FirstName: "Ada", CompanyID: "c-1"}
)

func newService(clk clock.Clock) *Service {
	return NewService("test-signing-key", "test-issuer", "sessionkit", time.Hour, WithClock(clk))
}

func TestIssueAccessToken(t *testing.T) {
	svc := newService(clock.NewFake(start))

	token, expiresAt, err := svc.IssueAccessToken(ada)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), expiresAt)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-ada", claims.Identity())
	assert.Equal(t, "c-1", claims.CompanyID)
	assert.Equal(t, "ada@example.com", claims.Email)

	// the client reads the same payload without the key
	decoded, ok := credentials.DecodePayload(nil, token)
	require.True(t, ok)
	assert.Equal(t, ada, identity.FromClaims(decoded))
}

func TestIssueRequiresUser(t *testing.T) {
	_, _, err := newService(clock.NewFake(start)).IssueAccessToken(identity.User{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestValidateExpired(t *testing.T) {
	clk := clock.NewFake(start)
	svc := newService(clk)
	token, _, err := svc.IssueAccessToken(ada)
	require.NoError(t, err)

	clk.Advance(time.Hour + time.Second)

	_, err = svc.Validate(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Equal(t, "token expired", err.Error())
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	clk := clock.NewFake(start)
	svc := newService(clk)

	other := NewService("another-key", "test-issuer", "sessionkit", time.Hour, WithClock(clk))
	foreign, _, err := other.IssueAccessToken(ada)
	require.NoError(t, err)

	wrongIssuer := NewService("test-signing-key", "elsewhere", "sessionkit", time.Hour, WithClock(clk))
	misissued, _, err := wrongIssuer.IssueAccessToken(ada)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, credentials.Claims{UserID: "u-ada"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"wrong key":    foreign,
		"wrong issuer": misissued,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(token)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		})
	}
}

func TestNewRefreshTokenIsRandom(t *testing.T) {
	svc := newService(clock.NewFake(start))
	a, err := svc.NewRefreshToken()
	require.NoError(t, err)
	b, err := svc.NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

// Package authclient speaks the auth REST contract: login, signup, refresh,
// current user and company switch.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sessionkit/internal/credentials"
	"sessionkit/internal/identity"
	"sessionkit/internal/platform/clock"
	"sessionkit/internal/platform/tracer"
	dErrors "sessionkit/pkg/domain-errors"
)

// DefaultTTL applies when neither expires_in nor an exp claim is available.
const DefaultTTL = time.Hour

const maxErrorBody = 4 << 10

// TokenSource supplies the bearer for authenticated calls.
type TokenSource interface {
	Read(ctx context.Context) (credentials.TokenPair, bool)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	tracer     tracer.Tracer
	clock      clock.Clock
	defaultTTL time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(cl *Client) {
		if t != nil {
			cl.tracer = t
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(cl *Client) {
		if c != nil {
			cl.clock = c
		}
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.defaultTTL = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// New returns a client for the API at baseURL. tokens may be nil when only
// unauthenticated endpoints are used.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		tracer:     tracer.NewNoop(),
		clock:      clock.New(),
		defaultTTL: DefaultTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (grant Grant, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanAuthLogin,
		tracer.String(tracer.AttrHTTPRoute, RouteLogin),
		tracer.String(tracer.AttrEmailHash, tracer.HashEmail(email)),
	)
	defer func() { span.End(err) }()

	var resp LoginResponse
	if err := c.do(ctx, span, http.MethodPost, RouteLogin, false, LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return Grant{}, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return Grant{}, dErrors.New(dErrors.CodeInternal, "login response missing tokens")
	}
	user := resp.User
	span.SetAttributes(tracer.String(tracer.AttrUserID, user.ID))
	return Grant{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TTL:          c.resolveTTL(resp.ExpiresIn, resp.AccessToken),
		User:         &user,
	}, nil
}

// Signup registers an account. It does not sign in.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (resp SignupResponse, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanAuthSignup,
		tracer.String(tracer.AttrHTTPRoute, RouteSignup),
		tracer.String(tracer.AttrEmailHash, tracer.HashEmail(req.Email)),
	)
	defer func() { span.End(err) }()

	if err := c.do(ctx, span, http.MethodPost, RouteSignup, false, req, &resp); err != nil {
		return SignupResponse{}, err
	}
	return resp, nil
}

// Refresh exchanges a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (grant Grant, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanAuthRefresh, tracer.String(tracer.AttrHTTPRoute, RouteRefresh))
	defer func() { span.End(err) }()

	if refreshToken == "" {
		return Grant{}, dErrors.New(dErrors.CodeUnauthorized, "no refresh token")
	}
	var resp RefreshResponse
	if err := c.do(ctx, span, http.MethodPost, RouteRefresh, false, RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return Grant{}, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return Grant{}, dErrors.New(dErrors.CodeInternal, "refresh response missing tokens")
	}
	return Grant{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TTL:          c.resolveTTL(resp.ExpiresIn, resp.AccessToken),
		User:         resp.User,
	}, nil
}

// Me returns the user owning the stored access token.
func (c *Client) Me(ctx context.Context) (user identity.User, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanAuthMe, tracer.String(tracer.AttrHTTPRoute, RouteMe))
	defer func() { span.End(err) }()

	if err := c.do(ctx, span, http.MethodGet, RouteMe, true, nil, &user); err != nil {
		return identity.User{}, err
	}
	if user.ID == "" {
		return identity.User{}, dErrors.New(dErrors.CodeInternal, "me response missing user id")
	}
	return user, nil
}

// SwitchCompany re-issues the pair scoped to companyID.
func (c *Client) SwitchCompany(ctx context.Context, companyID string) (grant Grant, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanAuthSwitchCompany, tracer.String(tracer.AttrHTTPRoute, RouteSwitchCompany))
	defer func() { span.End(err) }()

	var resp SwitchCompanyResponse
	if err := c.do(ctx, span, http.MethodPost, RouteSwitchCompany, true, SwitchCompanyRequest{CompanyID: companyID}, &resp); err != nil {
		return Grant{}, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return Grant{}, dErrors.New(dErrors.CodeInternal, "switch-company response missing tokens")
	}
	user := resp.User
	return Grant{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TTL:          c.resolveTTL(resp.ExpiresIn, resp.AccessToken),
		User:         &user,
	}, nil
}

func (c *Client) resolveTTL(expiresIn int64, accessToken string) time.Duration {
	if expiresIn > 0 {
		return time.Duration(expiresIn) * time.Second
	}
	if claims, ok := credentials.DecodePayload(nil, accessToken); ok {
		if exp, ok := claims.Expiry(); ok {
			if ttl := exp.Sub(c.clock.Now()).Truncate(time.Second); ttl > 0 {
				return ttl
			}
		}
	}
	return c.defaultTTL
}

func (c *Client) do(ctx context.Context, span tracer.Span, method, route string, authenticated bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		token, ok := c.bearer(ctx)
		if !ok {
			return dErrors.New(dErrors.CodeUnauthorized, "no credentials")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "auth api transport failure", "route", route, "error", err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "auth api unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(
		tracer.Int64(tracer.AttrHTTPStatus, int64(resp.StatusCode)),
		tracer.Duration("http.duration_ms", c.clock.Now().Sub(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(resp)
		span.SetAttributes(tracer.String(tracer.AttrErrorCode, string(dErrors.CodeOf(apiErr))))
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode response")
	}
	return nil
}

func (c *Client) bearer(ctx context.Context) (string, bool) {
	if c.tokens == nil {
		return "", false
	}
	pair, ok := c.tokens.Read(ctx)
	if !ok {
		return "", false
	}
	return pair.AccessToken, true
}

// decodeError maps a non-2xx response onto a domain error.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body ErrorResponse
	_ = json.Unmarshal(raw, &body)

	msg := body.ErrorDescription
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	cause := fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))

	var code dErrors.Code
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		code = dErrors.CodeUnauthorized
	case resp.StatusCode == http.StatusBadRequest && body.Error == "invalid_grant":
		code = dErrors.CodeUnauthorized
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		code = dErrors.CodeValidation
	case resp.StatusCode == http.StatusConflict:
		code = dErrors.CodeConflict
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusGatewayTimeout,
		resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable:
		code = dErrors.CodeUnavailable
	default:
		code = dErrors.CodeInternal
	}
	return dErrors.Wrap(cause, code, msg)
}

// IsNetwork reports whether err means the API could not be reached.
func IsNetwork(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// IsUnauthorized reports whether the API rejected the credentials.
func IsUnauthorized(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnauthorized)
}

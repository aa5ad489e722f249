package devapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"sessionkit/internal/devapi/store"
	"sessionkit/internal/identity"
	jwttoken "sessionkit/internal/jwt_token"
	"sessionkit/internal/platform/clock"
	"sessionkit/internal/platform/metrics"
	dErrors "sessionkit/pkg/domain-errors"
	"sessionkit/pkg/platform/middleware/auth"
	"sessionkit/pkg/secrets"
)

// Grants, as labeled in metrics.
const (
	grantPassword      = "password"
	grantRefresh       = "refresh"
	grantRefreshReuse  = "refresh_reuse"
	grantSwitchCompany = "switch_company"
)

// DefaultReuseGrace is how long a rotated refresh token keeps resolving to its
// successor, covering tabs that renew the shared pair at the same moment.
const DefaultReuseGrace = 10 * time.Second

const msgInvalidCredentials = "invalid email or password"

// Service implements the auth endpoints over the in-memory stores.
type Service struct {
	users      *store.Users
	refresh    *store.RefreshTokens
	tokens     *jwttoken.Service
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
	refreshTTL time.Duration
	reuseGrace time.Duration
	hashCost   int
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

// WithHashCost sets the bcrypt cost for new passwords. Tests use bcrypt.MinCost.
// WithReuseGrace sets how long a rotated refresh token still resolves to its
// successor. Zero makes every reuse a replay.
func WithReuseGrace(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.reuseGrace = d
		}
	}
}

func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

func NewService(users *store.Users, refresh *store.RefreshTokens, tokens *jwttoken.Service, opts ...Option) (*Service, error) {
	if users == nil || refresh == nil || tokens == nil {
		return nil, errors.New("users, refresh token store and token service are required")
	}
	s := &Service{
		users:      users,
		refresh:    refresh,
		tokens:     tokens,
		clock:      clock.New(),
		logger:     slog.Default(),
		refreshTTL: 30 * 24 * time.Hour,
		reuseGrace: DefaultReuseGrace,
		hashCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// pair is an issued access and refresh token.
type pair struct {
	access    string
	refresh   string
	expiresIn int64
	user      identity.User
}

// Login checks the password and issues a pair acting in the default company.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	u, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		s.metrics.IncrementAuthFailures("login")
		s.logger.InfoContext(ctx, "login rejected, unknown email")
		return LoginResponse{}, dErrors.New(dErrors.CodeUnauthorized, msgInvalidCredentials)
	}
	if err := secrets.Verify(req.Password, u.PasswordHash); err != nil {
		s.metrics.IncrementAuthFailures("login")
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.InfoContext(ctx, "login rejected, wrong password", "user_id", u.ID)
			return LoginResponse{}, dErrors.New(dErrors.CodeUnauthorized, msgInvalidCredentials)
		}
		return LoginResponse{}, err
	}

	p, err := s.issue(ctx, u, u.DefaultCompany(), grantPassword)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		AccessToken:  p.access,
		RefreshToken: p.refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    p.expiresIn,
		User:         p.user,
	}, nil
}

// Signup registers an account with a personal company. It does not sign in.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (SignupResponse, error) {
	hash, err := secrets.HashWithCost(req.Password, s.hashCost)
	if err != nil {
		return SignupResponse{}, err
	}
	name := req.FirstName
	if name == "" {
		name = req.Email
	}
	u := &store.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		Companies:    []store.Company{{ID: uuid.NewString(), Name: name + "'s workspace"}},
		CreatedAt:    s.clock.Now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return SignupResponse{}, err
	}
	s.metrics.IncrementUsersCreated()
	s.logger.InfoContext(ctx, "user signed up", "user_id", u.ID)
	return SignupResponse{UserID: u.ID, Email: u.Email, Message: signupMessage}, nil
}

// Refresh rotates a refresh token. The new pair acts in the same company as
// the consumed one.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (RefreshResponse, error) {
	token, err := s.tokens.NewRefreshToken()
	if err != nil {
		return RefreshResponse{}, err
	}
	now := s.clock.Now()
	rot, err := s.refresh.Rotate(ctx, req.RefreshToken, store.RefreshToken{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}, s.reuseGrace)
	if err != nil {
		s.metrics.IncrementAuthFailures("refresh")
		s.logger.InfoContext(ctx, "refresh rejected", "reason", err.Error())
		return RefreshResponse{}, err
	}
	u, err := s.users.FindByID(ctx, rot.Record.UserID)
	if err != nil {
		s.metrics.IncrementAuthFailures("refresh")
		return RefreshResponse{}, dErrors.New(dErrors.CodeUnauthorized, "refresh token not recognized")
	}
	company, ok := u.Company(rot.Record.CompanyID)
	if !ok {
		company = u.DefaultCompany()
	}

	user := u.Identity(company)
	access, expiresAt, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return RefreshResponse{}, err
	}
	grant := grantRefresh
	if rot.Reused {
		grant = grantRefreshReuse
	}
	s.metrics.IncrementTokensIssued(grant)
	s.metrics.SetRefreshTokens(s.refresh.Live())
	s.logger.InfoContext(ctx, "token pair issued",
		"grant", grant,
		"user_id", u.ID,
		"company_id", company.ID,
	)
	return RefreshResponse{
		AccessToken:  access,
		RefreshToken: rot.Token,
		ExpiresIn:    int64(expiresAt.Sub(now).Seconds()),
		User:         &user,
	}, nil
}

// Me returns the caller acting in the token's company.
func (s *Service) Me(ctx context.Context, principal auth.Principal) (identity.User, error) {
	u, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return identity.User{}, dErrors.New(dErrors.CodeUnauthorized, "account no longer exists")
	}
	company, ok := u.Company(principal.CompanyID)
	if !ok {
		company = u.DefaultCompany()
	}
	return u.Identity(company), nil
}

// SwitchCompany issues a pair acting in companyID, which must be one of the
// caller's memberships.
func (s *Service) SwitchCompany(ctx context.Context, principal auth.Principal, req SwitchCompanyRequest) (SwitchCompanyResponse, error) {
	u, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return SwitchCompanyResponse{}, dErrors.New(dErrors.CodeUnauthorized, "account no longer exists")
	}
	company, ok := u.Company(req.CompanyID)
	if !ok {
		return SwitchCompanyResponse{}, dErrors.New(dErrors.CodeForbidden, "not a member of that company")
	}

	p, err := s.issue(ctx, u, company, grantSwitchCompany)
	if err != nil {
		return SwitchCompanyResponse{}, err
	}
	return SwitchCompanyResponse{
		AccessToken:  p.access,
		RefreshToken: p.refresh,
		ExpiresIn:    p.expiresIn,
		User:         p.user,
	}, nil
}

// ValidateAccessToken adapts the token service to the auth middleware.
func (s *Service) ValidateAccessToken(token string) (auth.Principal, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{UserID: claims.Identity(), CompanyID: claims.CompanyID, TokenID: claims.ID}, nil
}

// SeedUser registers a user with a known password and memberships. Used by
// cmd/devapi and tests.
func (s *Service) SeedUser(ctx context.Context, email, password, firstName, lastName string, companies ...store.Company) (string, error) {
	hash, err := secrets.HashWithCost(password, s.hashCost)
	if err != nil {
		return "", err
	}
	u := &store.User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
		Companies:    companies,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	s.metrics.IncrementUsersCreated()
	return u.ID, nil
}

func (s *Service) issue(ctx context.Context, u *store.User, company store.Company, grant string) (pair, error) {
	user := u.Identity(company)
	access, expiresAt, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return pair{}, err
	}
	refresh, err := s.tokens.NewRefreshToken()
	if err != nil {
		return pair{}, err
	}
	now := s.clock.Now()
	if err := s.refresh.Create(ctx, &store.RefreshToken{
		Token:     refresh,
		UserID:    u.ID,
		CompanyID: company.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}); err != nil {
		return pair{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not store refresh token")
	}

	s.metrics.IncrementTokensIssued(grant)
	s.metrics.SetRefreshTokens(s.refresh.Live())
	s.logger.InfoContext(ctx, "token pair issued",
		"grant", grant,
		"user_id", u.ID,
		"company_id", company.ID,
	)
	return pair{
		access:    access,
		refresh:   refresh,
		expiresIn: int64(expiresAt.Sub(now).Seconds()),
		user:      user,
	}, nil
}

package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"sessionkit/internal/credentials"
	"sessionkit/internal/identity"
	"sessionkit/internal/platform/clock"
	dErrors "sessionkit/pkg/domain-errors"
)

type staticTokens struct {
	pair credentials.TokenPair
	ok   bool
}

func (s staticTokens) Read(context.Context) (credentials.TokenPair, bool) {
	return s.pair, s.ok
}

type ClientSuite struct {
	suite.Suite
	router   chi.Router
	server   *httptest.Server
	clock    *clock.Fake
	tokens   staticTokens
	client   *Client
	lastAuth string
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.router = chi.NewRouter()
	s.server = httptest.NewServer(s.router)
	s.clock = clock.NewFake(time.Unix(1_700_000_000, 0))
	s.tokens = staticTokens{pair: credentials.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: 1_700_003_600}, ok: true}
	s.lastAuth = ""
	s.client = New(s.server.URL+"/", &s.tokens, WithClock(s.clock), WithHTTPClient(s.server.Client()))
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *ClientSuite) signed(exp time.Time) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, credentials.Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}).SignedString([]byte("k"))
	s.Require().NoError(err)
	return tok
}

func (s *ClientSuite) TestLoginWithExpiresIn() {
	s.router.Post(RouteLogin, func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
		s.Equal("a@b.com", req.Email)
		s.Equal("Password1!", req.Password)
		s.Empty(r.Header.Get("Authorization"), "login is unauthenticated")
		writeJSON(w, http.StatusOK, LoginResponse{
			AccessToken:  "at",
			RefreshToken: "rt",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			User:         identity.User{ID: "u1", Email: "a@b.com"},
		})
	})

	grant, err := s.client.Login(context.Background(), "a@b.com", "Password1!")
	s.Require().NoError(err)
	s.Equal("at", grant.AccessToken)
	s.Equal("rt", grant.RefreshToken)
	s.Equal(3600*time.Second, grant.TTL)
	s.Require().NotNil(grant.User)
	s.Equal("u1", grant.User.ID)
}

func (s *ClientSuite) TestTTLFromExpClaimThenDefault() {
	withExp := s.signed(s.clock.Now().Add(20 * time.Minute))
	s.router.Post(RouteRefresh, func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
		switch req.RefreshToken {
		case "with-exp":
			writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: withExp, RefreshToken: "rt2"})
		default:
			writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: "opaque", RefreshToken: "rt3"})
		}
	})

	grant, err := s.client.Refresh(context.Background(), "with-exp")
	s.Require().NoError(err)
	s.Equal(20*time.Minute, grant.TTL)
	s.Nil(grant.User)

	grant, err = s.client.Refresh(context.Background(), "opaque")
	s.Require().NoError(err)
	s.Equal(DefaultTTL, grant.TTL)
}

func (s *ClientSuite) TestRefreshRejected() {
	s.router.Post(RouteRefresh, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", ErrorDescription: "refresh token revoked"})
	})

	_, err := s.client.Refresh(context.Background(), "rt")
	s.Require().Error(err)
	s.True(IsUnauthorized(err))
	s.False(IsNetwork(err))
	s.Equal("refresh token revoked", err.Error())
}

func (s *ClientSuite) TestRefreshWithoutTokenIsUnauthorized() {
	_, err := s.client.Refresh(context.Background(), "")
	s.True(IsUnauthorized(err))
}

func (s *ClientSuite) TestMeSendsBearer() {
	s.router.Get(RouteMe, func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, identity.User{ID: "u1", Email: "a@b.com", CompanyID: "c1"})
	})

	user, err := s.client.Me(context.Background())
	s.Require().NoError(err)
	s.Equal("Bearer access-1", s.lastAuth)
	s.Equal(identity.User{ID: "u1", Email: "a@b.com", CompanyID: "c1"}, user)
}

func (s *ClientSuite) TestMeWithoutCredentials() {
	s.tokens.ok = false
	_, err := s.client.Me(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ClientSuite) TestSwitchCompany() {
	s.router.Post(RouteSwitchCompany, func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth = r.Header.Get("Authorization")
		var req SwitchCompanyRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, SwitchCompanyResponse{
			AccessToken: "at-c2", RefreshToken: "rt-c2", ExpiresIn: 900,
			User: identity.User{ID: "u1", CompanyID: req.CompanyID},
		})
	})

	grant, err := s.client.SwitchCompany(context.Background(), "c2")
	s.Require().NoError(err)
	s.Equal("Bearer access-1", s.lastAuth)
	s.Equal("c2", grant.User.CompanyID)
	s.Equal(15*time.Minute, grant.TTL)
}

func (s *ClientSuite) TestSignup() {
	s.router.Post(RouteSignup, func(w http.ResponseWriter, r *http.Request) {
		var req SignupRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&req))
		s.Equal("Ada", req.FirstName)
		writeJSON(w, http.StatusCreated, SignupResponse{UserID: "u9", Email: req.Email, Message: "created"})
	})

	resp, err := s.client.Signup(context.Background(), SignupRequest{Email: "ada@example.com", Password: "pw", FirstName: "Ada", LastName: "L"})
	s.Require().NoError(err)
	s.Equal("u9", resp.UserID)
}

func (s *ClientSuite) TestStatusMapping() {
	cases := []struct {
		status int
		body   ErrorResponse
		code   dErrors.Code
	}{
		{http.StatusForbidden, ErrorResponse{Error: "forbidden"}, dErrors.CodeUnauthorized},
		{http.StatusBadRequest, ErrorResponse{Error: "invalid_grant"}, dErrors.CodeUnauthorized},
		{http.StatusBadRequest, ErrorResponse{Error: "validation_error"}, dErrors.CodeValidation},
		{http.StatusUnprocessableEntity, ErrorResponse{}, dErrors.CodeValidation},
		{http.StatusConflict, ErrorResponse{Error: "conflict"}, dErrors.CodeConflict},
		{http.StatusServiceUnavailable, ErrorResponse{}, dErrors.CodeUnavailable},
		{http.StatusInternalServerError, ErrorResponse{}, dErrors.CodeInternal},
	}
	for _, tc := range cases {
		s.Run(http.StatusText(tc.status)+"/"+tc.body.Error, func() {
			router := chi.NewRouter()
			router.Post(RouteLogin, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
			srv := httptest.NewServer(router)
			defer srv.Close()

			_, err := New(srv.URL, nil).Login(context.Background(), "a@b.com", "x")
			s.Require().Error(err)
			s.Equal(tc.code, dErrors.CodeOf(err))
		})
	}
}

func (s *ClientSuite) TestNetworkFailure() {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).Login(context.Background(), "a@b.com", "x")
	s.Require().Error(err)
	s.True(IsNetwork(err))
}

func (s *ClientSuite) TestMissingTokensInResponse() {
	s.router.Post(RouteLogin, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, LoginResponse{AccessToken: "only-access"})
	})
	_, err := s.client.Login(context.Background(), "a@b.com", "x")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

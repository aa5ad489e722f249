package authclient

import (
	"time"

	"sessionkit/internal/identity"
)

// Routes.
const (
	RouteLogin         = "/api/auth/login"
	RouteSignup        = "/api/auth/signup"
	RouteRefresh       = "/api/auth/refresh"
	RouteMe            = "/api/auth/me"
	RouteSwitchCompany = "/api/auth/switch-company"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in,omitempty"`
	User         identity.User `json:"user"`
}

type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type SignupResponse struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	User         *identity.User `json:"user,omitempty"`
}

type SwitchCompanyRequest struct {
	CompanyID string `json:"company_id"`
}

type SwitchCompanyResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in,omitempty"`
	User         identity.User `json:"user"`
}

// ErrorResponse is the error body shape of the auth API.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Grant is a token pair ready to be stored. TTL is resolved from expires_in,
// the access token's exp claim, or the client default, in that order.
type Grant struct {
	AccessToken  string
	RefreshToken string
	TTL          time.Duration
	// User is nil when the endpoint did not return one.
	User *identity.User
}

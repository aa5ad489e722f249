// Package devapi is a local implementation of the auth REST contract the tab
// client consumes. It keeps users and refresh tokens in memory.
package devapi

import (
	"strings"

	"sessionkit/internal/authclient"
	"sessionkit/pkg/validation"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) Sanitize() {
	validation.TrimStrings(&r.Email)
	r.Email = strings.ToLower(r.Email)
}

func (r *LoginRequest) Validate() error {
	return validation.Validate(r)
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72,password"`
	FirstName string `json:"first_name" validate:"notblank,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

func (r *SignupRequest) Sanitize() {
	validation.TrimStrings(&r.Email, &r.FirstName, &r.LastName)
	r.Email = strings.ToLower(r.Email)
}

func (r *SignupRequest) Validate() error {
	return validation.Validate(r)
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"notblank"`
}

func (r *RefreshRequest) Validate() error {
	return validation.Validate(r)
}

// SwitchCompanyRequest is the body of POST /api/auth/switch-company.
type SwitchCompanyRequest struct {
	CompanyID string `json:"company_id" validate:"notblank"`
}

func (r *SwitchCompanyRequest) Sanitize() {
	validation.TrimStrings(&r.CompanyID)
}

func (r *SwitchCompanyRequest) Validate() error {
	return validation.Validate(r)
}

// Responses share the client's wire types.
type (
	LoginResponse         = authclient.LoginResponse
	SignupResponse        = authclient.SignupResponse
	RefreshResponse       = authclient.RefreshResponse
	SwitchCompanyResponse = authclient.SwitchCompanyResponse
)

const tokenTypeBearer = "Bearer"

const signupMessage = "Account created. Please sign in."

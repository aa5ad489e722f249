// Package store holds the in-memory user and refresh-token stores of the
// development auth API.
package store

import (
	"time"

	"sessionkit/internal/identity"
)

// Company is a tenant a user may act in.
type Company struct {
	ID   string
	Name string
}

// User is a registered account.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	// Companies lists memberships; the first is the default on login.
	Companies []Company
	CreatedAt time.Time
}

// Company returns the membership with id.
func (u *User) Company(id string) (Company, bool) {
	for _, c := range u.Companies {
		if c.ID == id {
			return c, true
		}
	}
	return Company{}, false
}

// DefaultCompany is the company a fresh login acts in.
func (u *User) DefaultCompany() Company {
	if len(u.Companies) == 0 {
		return Company{}
	}
	return u.Companies[0]
}

// Identity projects u acting in company.
func (u *User) Identity(company Company) identity.User {
	return identity.User{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		CompanyID:   company.ID,
		CompanyName: company.Name,
	}
}

// RefreshToken is an issued refresh token. Tokens are single use: a consumed
// token stays around marked Used until the cleanup worker purges it so reuse
// can be detected.
type RefreshToken struct {
	Token     string
	UserID    string
	CompanyID string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    time.Time
	// Successor is the token issued when this one was rotated.
	Successor string
}

// Rotation is the outcome of presenting a refresh token.
type Rotation struct {
	// Record is the presented token as it was when consumed.
	Record RefreshToken
	// Token is the refresh token to hand back to the caller.
	Token string
	// Reused is set when Token is an earlier successor returned inside the
	// reuse grace window rather than a freshly stored token.
	Reused bool
}

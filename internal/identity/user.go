// Package identity holds the User shape shared by the REST client, the
// broadcast wire format and the session coordinator.
package identity

import (
	"strings"

	"sessionkit/internal/credentials"
)

// User is the authenticated principal as returned by the auth API.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

// IsZero reports whether u carries no identity.
func (u User) IsZero() bool {
	return u.ID == ""
}

// SameIdentity reports whether both users are the same principal.
func (u User) SameIdentity(other User) bool {
	return u.ID != "" && u.ID == other.ID
}

// SameTenant reports whether both users are the same principal acting in the
// same company.
func (u User) SameTenant(other User) bool {
	return u.SameIdentity(other) && u.CompanyID == other.CompanyID
}

// DisplayName returns "First Last", falling back to the email.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// FromClaims reconstructs a user from unverified access token claims.
func FromClaims(c *credentials.Claims) User {
	if c == nil {
		return User{}
	}
	return User{
		ID:        c.Identity(),
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		CompanyID: c.CompanyID,
	}
}

package session

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"sessionkit/internal/audit"
	"sessionkit/internal/authclient"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/credentials"
	"sessionkit/internal/identity"
)

// AuthAPI is the auth REST contract.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (authclient.Grant, error)
	Signup(ctx context.Context, req authclient.SignupRequest) (authclient.SignupResponse, error)
	Refresh(ctx context.Context, refreshToken string) (authclient.Grant, error)
	Me(ctx context.Context) (identity.User, error)
	SwitchCompany(ctx context.Context, companyID string) (authclient.Grant, error)
}

// Credentials is the origin-scoped token store shared with other tabs.
type Credentials interface {
	Store(ctx context.Context, access, refresh string, ttl time.Duration) (credentials.TokenPair, error)
	Read(ctx context.Context) (credentials.TokenPair, bool)
	Clear(ctx context.Context) error
	IsExpired(ctx context.Context) bool
	IsExpiringWithin(ctx context.Context, buffer time.Duration) bool
	DecodePayload(token string) (*credentials.Claims, bool)
}

// Bus carries session changes to the other tabs of the origin.
type Bus interface {
	Publish(ctx context.Context, msg broadcast.Message) string
	Subscribe(ctx context.Context, fn func(broadcast.Message)) (func(), error)
}

// UnsavedWork is the aggregate view of the tab's dirty work items.
type UnsavedWork interface {
	HasUnsavedWork() bool
	UnsavedCount() int
	Summary() string
	SaveAll(ctx context.Context) error
	Clear()
}

// Navigator moves the tab between surfaces.
type Navigator interface {
	Current() string
	Navigate(route string)
	// Reload restarts the tab from scratch.
	Reload()
}

// Prompter is the tab's modal UI.
type Prompter interface {
	// Confirm blocks until the user answers.
	Confirm(ctx context.Context, message string) bool
	ShowConflict(change PendingAuthChange)
	HideConflict()
	Alert(message string)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

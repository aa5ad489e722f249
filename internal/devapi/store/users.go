package store

import (
	"context"
	"strings"
	"sync"

	dErrors "sessionkit/pkg/domain-errors"
)

var (
	ErrUserNotFound = dErrors.New(dErrors.CodeNotFound, "user not found")
	ErrEmailTaken   = dErrors.New(dErrors.CodeConflict, "email already registered")
)

type Users struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewUsers() *Users {
	return &Users{byID: make(map[string]*User), byEmail: make(map[string]string)}
}

// Create stores u. Emails are unique case-insensitively.
func (s *Users) Create(_ context.Context, u *User) error {
	key := strings.ToLower(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[key]; ok {
		return ErrEmailTaken
	}
	cp := *u
	cp.Companies = append([]Company(nil), u.Companies...)
	s.byID[u.ID] = &cp
	s.byEmail[key] = u.ID
	return nil
}

func (s *Users) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.FindByID(ctx, id)
}

// AddCompany grants a user membership of c. Adding an existing membership is
// a no-op.
func (s *Users) AddCompany(_ context.Context, userID string, c Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	if _, exists := u.Company(c.ID); !exists {
		u.Companies = append(u.Companies, c)
	}
	return nil
}

func (s *Users) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

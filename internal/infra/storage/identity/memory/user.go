// Package memory provides an in-memory user store for testing and development.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/techmandates/techmandates/internal/domain/identity"
)

// Ensure UserStore satisfies identity.UserStore (compile-time check).
var _ identity.UserStore = (*UserStore)(nil)

// UserStore provides an in-memory implementation of identity.UserStore.
type UserStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*identity.User
	byEmail map[string]*identity.User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[uuid.UUID]*identity.User),
		byEmail: make(map[string]*identity.User),
	}
}

// Create persists a new user, rejecting duplicate emails.
func (s *UserStore) Create(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[u.Email()]; ok {
		return identity.ErrUserExists
	}
	s.byID[u.ID()] = u
	s.byEmail[u.Email()] = u
	return nil
}

// GetByID returns the user with the given id.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

// GetByEmail returns the user with the given email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byEmail[email]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

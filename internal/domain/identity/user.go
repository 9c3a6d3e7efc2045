// Package identity models the users who sign in to the dashboard.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserNotFound indicates no user matches the given id or email.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists indicates the email is already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates a failed login. The same error covers
	// unknown email and wrong password so callers cannot probe for accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is a registered account. The password is stored only as a bcrypt hash.
type User struct {
	id           uuid.UUID
	email        string
	passwordHash []byte
	createdAt    time.Time
}

// NewUser creates a user with an already-hashed password.
func NewUser(email string, passwordHash []byte) (*User, error) {
	if email == "" {
		return nil, errors.New("email is required to create a User")
	}
	if len(passwordHash) == 0 {
		return nil, errors.New("passwordHash is required to create a User")
	}
	return &User{
		id:           uuid.New(),
		email:        email,
		passwordHash: passwordHash,
		createdAt:    time.Now().UTC(),
	}, nil
}

// ReconstructUser creates a User from persistent storage data.
func ReconstructUser(id uuid.UUID, email string, passwordHash []byte, createdAt time.Time) *User {
	return &User{
		id:           id,
		email:        email,
		passwordHash: passwordHash,
		createdAt:    createdAt,
	}
}

// ID returns the unique identifier of the user.
func (u *User) ID() uuid.UUID { return u.id }

// Email returns the user's email address.
func (u *User) Email() string { return u.email }

// PasswordHash returns the bcrypt hash of the user's password.
func (u *User) PasswordHash() []byte { return u.passwordHash }

// CreatedAt returns when the account was registered.
func (u *User) CreatedAt() time.Time { return u.createdAt }

// UserStore defines persistence for user accounts.
type UserStore interface {
	// Create persists a new user. Fails with ErrUserExists when the email is
	// taken.
	Create(ctx context.Context, u *User) error

	// GetByID returns the user with the given id, or ErrUserNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetByEmail returns the user with the given email, or ErrUserNotFound.
	GetByEmail(ctx context.Context, email string) (*User, error)
}

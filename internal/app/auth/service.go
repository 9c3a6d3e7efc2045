// Package auth implements account registration, credential login and opaque
// bearer session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/techmandates/techmandates/internal/domain/identity"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

const (
	// defaultSessionTTL is how long a login stays valid.
	defaultSessionTTL = 24 * time.Hour

	minPasswordLength = 8
)

// ErrSessionInvalid is returned for unknown or expired session tokens.
var ErrSessionInvalid = errors.New("session token is invalid or expired")

// Session is an authenticated login.
type Session struct {
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// Service handles registration, login and session validation.
type Service struct {
	users identity.UserStore
	log   *logger.Logger

	sessionTTL time.Duration

	mu       sync.Mutex
	sessions map[string]Session
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// NewService creates an auth Service backed by the given user store.
func NewService(users identity.UserStore, log *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		users:      users,
		log:        log,
		sessionTTL: defaultSessionTTL,
		sessions:   make(map[string]Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new account. Emails are normalized to lower case;
// duplicates fail with identity.ErrUserExists.
func (s *Service) Register(ctx context.Context, email, password string) (*identity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", identity.ErrInvalidCredentials)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", identity.ErrInvalidCredentials, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := identity.NewUser(email, hash)
	if err != nil {
		return nil, fmt.Errorf("building user: %w", err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID().String())
	return user, nil
}

// Login verifies credentials and mints a session token. Unknown accounts and
// wrong passwords both fail with identity.ErrInvalidCredentials so callers
// cannot probe which emails exist.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return Session{}, identity.ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash(), []byte(password)); err != nil {
		return Session{}, identity.ErrInvalidCredentials
	}

	session := Session{
		Token:     uuid.NewString(),
		UserID:    user.ID(),
		ExpiresAt: time.Now().UTC().Add(s.sessionTTL),
	}

	s.mu.Lock()
	s.sessions[session.Token] = session
	s.pruneLocked()
	s.mu.Unlock()

	s.log.Info(ctx, "user logged in", "user_id", user.ID().String())
	return session, nil
}

// Authenticate resolves a bearer token to the owning user id.
func (s *Service) Authenticate(ctx context.Context, token string) (uuid.UUID, error) {
	s.mu.Lock()
	session, ok := s.sessions[token]
	if ok && time.Now().UTC().After(session.ExpiresAt) {
		delete(s.sessions, token)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return uuid.Nil, ErrSessionInvalid
	}
	return session.UserID, nil
}

// Logout revokes a session token. Revoking an unknown token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// GetUser returns the account behind a user id.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*identity.User, error) {
	return s.users.GetByID(ctx, userID)
}

// pruneLocked drops expired sessions. Caller holds s.mu.
func (s *Service) pruneLocked() {
	now := time.Now().UTC()
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}

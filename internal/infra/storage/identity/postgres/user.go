// Package postgres provides PostgreSQL-backed persistence for user accounts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/domain/identity"
	"github.com/techmandates/techmandates/internal/infra/storage"
)

const uniqueViolation = "23505"

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Ensure userStore satisfies identity.UserStore (compile-time check).
var _ identity.UserStore = (*userStore)(nil)

// userStore implements identity.UserStore using PostgreSQL.
type userStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewUserStore creates a PostgreSQL-backed implementation of identity.UserStore.
func NewUserStore(pool *pgxpool.Pool, tracer trace.Tracer) *userStore {
	return &userStore{pool: pool, tracer: tracer}
}

// Create persists a new user, rejecting duplicate emails.
func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "Create"),
		attribute.String("user_id", u.ID().String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.user.create", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
			u.ID(), u.Email(), u.PasswordHash(), u.CreatedAt(),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return identity.ErrUserExists
			}
			return fmt.Errorf("userStore.Create: %w: %v", findings.ErrStoreUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("userStore.Create: %w", err)
	}
	return nil
}

// GetByID returns the user with the given id.
func (s *userStore) GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	return s.get(ctx, "GetByID", `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email.
func (s *userStore) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.get(ctx, "GetByEmail", `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (s *userStore) get(ctx context.Context, method, query string, arg any) (*identity.User, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("method", method))

	var u *identity.User
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.user.get", dbAttrs, func(ctx context.Context) error {
		var (
			id           uuid.UUID
			email        string
			passwordHash []byte
			createdAt    time.Time
		)
		err := s.pool.QueryRow(ctx, query, arg).Scan(&id, &email, &passwordHash, &createdAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return identity.ErrUserNotFound
			}
			return fmt.Errorf("userStore.get: %w: %v", findings.ErrStoreUnavailable, err)
		}
		u = identity.ReconstructUser(id, email, passwordHash, createdAt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("userStore.%s: %w", method, err)
	}
	return u, nil
}

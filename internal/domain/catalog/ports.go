package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrRepositoryNotFound indicates the repository does not exist or does
	// not belong to the requesting user.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrRepositoryExists indicates the user already connected this
	// repository.
	ErrRepositoryExists = errors.New("repository already connected")
)

// RepositoryStore defines persistence for connected repositories.
type RepositoryStore interface {
	// Create persists a newly connected repository. Fails with
	// ErrRepositoryExists when the user already connected the same external
	// id.
	Create(ctx context.Context, repo *Repository) error

	// Update persists changes to an existing repository.
	Update(ctx context.Context, repo *Repository) error

	// GetByID returns the repository, scoped to the owning user.
	GetByID(ctx context.Context, id, userID uuid.UUID) (*Repository, error)

	// ListByUser returns all repositories connected by a user, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Repository, error)

	// Delete removes a repository owned by the user. Findings cascade at the
	// storage layer.
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// Package memory provides an in-memory implementation of the repository
// catalog store for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/techmandates/techmandates/internal/domain/catalog"
)

// Ensure RepositoryStore satisfies catalog.RepositoryStore (compile-time check).
var _ catalog.RepositoryStore = (*RepositoryStore)(nil)

// RepositoryStore provides an in-memory implementation of
// catalog.RepositoryStore.
type RepositoryStore struct {
	mu    sync.Mutex
	repos map[uuid.UUID]*catalog.Repository
}

// NewRepositoryStore creates a new in-memory repository store.
func NewRepositoryStore() *RepositoryStore {
	return &RepositoryStore{repos: make(map[uuid.UUID]*catalog.Repository)}
}

// Create persists a newly connected repository, rejecting duplicates of the
// same external id for the same user.
func (s *RepositoryStore) Create(ctx context.Context, repo *catalog.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.repos {
		if existing.UserID() == repo.UserID() && existing.ExternalID() == repo.ExternalID() {
			return catalog.ErrRepositoryExists
		}
	}

	s.repos[repo.ID()] = copyRepository(repo)
	return nil
}

// Update persists changes to an existing repository.
func (s *RepositoryStore) Update(ctx context.Context, repo *catalog.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repos[repo.ID()]; !ok {
		return catalog.ErrRepositoryNotFound
	}
	s.repos[repo.ID()] = copyRepository(repo)
	return nil
}

// GetByID returns the repository, scoped to the owning user.
func (s *RepositoryStore) GetByID(ctx context.Context, id, userID uuid.UUID) (*catalog.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[id]
	if !ok || repo.UserID() != userID {
		return nil, catalog.ErrRepositoryNotFound
	}
	return copyRepository(repo), nil
}

// ListByUser returns all repositories connected by a user, newest first.
func (s *RepositoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*catalog.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*catalog.Repository
	for _, repo := range s.repos {
		if repo.UserID() == userID {
			result = append(result, copyRepository(repo))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt().After(result[j].CreatedAt())
	})

	return result, nil
}

// Delete removes a repository owned by the user.
func (s *RepositoryStore) Delete(ctx context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[id]
	if !ok || repo.UserID() != userID {
		return catalog.ErrRepositoryNotFound
	}
	delete(s.repos, id)
	return nil
}

func copyRepository(r *catalog.Repository) *catalog.Repository {
	return catalog.ReconstructRepository(
		r.ID(), r.UserID(), r.ExternalID(), r.Name(), r.FullName(), r.Description(),
		r.CloneURL(), r.IsPrivate(), r.Language(), r.DefaultBranch(), r.Provider(),
		r.LastScanAt(), r.CreatedAt(), r.UpdatedAt(),
	)
}

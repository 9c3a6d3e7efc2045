// Package memory provides an in-memory implementation of the findings
// persistence ports for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/techmandates/techmandates/internal/domain/findings"
)

// Ensure FindingStore satisfies findings.FindingRepository (compile-time check).
var _ findings.FindingRepository = (*FindingStore)(nil)

// FindingStore provides an in-memory implementation of
// findings.FindingRepository. Rows are keyed by natural key so the
// uniqueness invariant holds by construction.
type FindingStore struct {
	mu   sync.Mutex
	rows map[findings.NaturalKey]*findings.Finding
}

// NewFindingStore creates a new in-memory finding store.
func NewFindingStore() *FindingStore {
	return &FindingStore{rows: make(map[findings.NaturalKey]*findings.Finding)}
}

// Upsert inserts or updates the row for the finding's natural key, preserving
// the stored discovery timestamp and row id on update.
func (s *FindingStore) Upsert(ctx context.Context, f *findings.Finding) (*findings.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := f.NaturalKey()
	if existing, ok := s.rows[key]; ok {
		updated := findings.ReconstructFinding(
			existing.ID(),
			existing.RepositoryID(),
			f.Payload(),
			f.Status(),
			existing.DiscoveredAt(),
			f.LastSeenAt(),
		)
		s.rows[key] = updated
		return copyFinding(updated), nil
	}

	stored := copyFinding(f)
	s.rows[key] = stored
	return copyFinding(stored), nil
}

// GetByID returns the finding with the given row id.
func (s *FindingStore) GetByID(ctx context.Context, id uuid.UUID) (*findings.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.rows {
		if f.ID() == id {
			return copyFinding(f), nil
		}
	}
	return nil, findings.ErrFindingNotFound
}

// GetByNaturalKey returns the canonical finding for the key.
func (s *FindingStore) GetByNaturalKey(ctx context.Context, key findings.NaturalKey) (*findings.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.rows[key]
	if !ok {
		return nil, findings.ErrFindingNotFound
	}
	return copyFinding(f), nil
}

// ListByRepository returns findings for a repository ordered by discovery
// time descending, ties broken by identity key.
func (s *FindingStore) ListByRepository(ctx context.Context, repositoryID uuid.UUID, kind findings.FindingKind) ([]*findings.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*findings.Finding
	for _, f := range s.rows {
		if f.RepositoryID() != repositoryID {
			continue
		}
		if kind != findings.KindUnspecified && f.Kind() != kind {
			continue
		}
		result = append(result, copyFinding(f))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].DiscoveredAt().Equal(result[j].DiscoveredAt()) {
			return result[i].DiscoveredAt().After(result[j].DiscoveredAt())
		}
		return result[i].NaturalKey().IdentityKey < result[j].NaturalKey().IdentityKey
	})

	return result, nil
}

// MarkStatus transitions a finding's status, enforcing the lifecycle rules
// for the given driver.
func (s *FindingStore) MarkStatus(ctx context.Context, id uuid.UUID, target findings.FindingStatus, driver findings.TransitionDriver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, f := range s.rows {
		if f.ID() != id {
			continue
		}
		updated := copyFinding(f)
		if err := updated.TransitionStatus(target, driver); err != nil {
			return err
		}
		s.rows[key] = updated
		return nil
	}
	return findings.ErrFindingNotFound
}

// DeleteByRepository removes all findings for a repository.
func (s *FindingStore) DeleteByRepository(ctx context.Context, repositoryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, f := range s.rows {
		if f.RepositoryID() == repositoryID {
			delete(s.rows, key)
		}
	}
	return nil
}

func copyFinding(f *findings.Finding) *findings.Finding {
	return findings.ReconstructFinding(
		f.ID(),
		f.RepositoryID(),
		f.Payload(),
		f.Status(),
		f.DiscoveredAt(),
		f.LastSeenAt(),
	)
}

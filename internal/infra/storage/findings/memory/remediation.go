package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/techmandates/techmandates/internal/domain/findings"
)

// Ensure RemediationStore satisfies findings.RemediationActionRepository (compile-time check).
var _ findings.RemediationActionRepository = (*RemediationStore)(nil)

// RemediationStore provides an in-memory implementation of
// findings.RemediationActionRepository.
type RemediationStore struct {
	mu      sync.Mutex
	actions map[uuid.UUID]*findings.RemediationAction
}

// NewRemediationStore creates a new in-memory remediation action store.
func NewRemediationStore() *RemediationStore {
	return &RemediationStore{actions: make(map[uuid.UUID]*findings.RemediationAction)}
}

// Save inserts or replaces the action with the same id.
func (s *RemediationStore) Save(ctx context.Context, a *findings.RemediationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions[a.ID()] = copyAction(a)
	return nil
}

// ListByFinding returns all actions for a finding, newest first.
func (s *RemediationStore) ListByFinding(ctx context.Context, findingID uuid.UUID) ([]*findings.RemediationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*findings.RemediationAction
	for _, a := range s.actions {
		if a.FindingID() == findingID {
			result = append(result, copyAction(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt().After(result[j].CreatedAt())
	})

	return result, nil
}

// DeleteByFinding removes all actions recorded for a finding.
func (s *RemediationStore) DeleteByFinding(ctx context.Context, findingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.actions {
		if a.FindingID() == findingID {
			delete(s.actions, id)
		}
	}
	return nil
}

func copyAction(a *findings.RemediationAction) *findings.RemediationAction {
	return findings.ReconstructRemediationAction(
		a.ID(),
		a.FindingID(),
		a.BranchName(),
		a.PullRequestURL(),
		a.PullRequestNumber(),
		a.Outcome(),
		a.ErrorDetail(),
		a.CreatedAt(),
		a.CompletedAt(),
	)
}

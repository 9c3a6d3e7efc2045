package findings

import (
	"context"

	"github.com/google/uuid"
)

// FindingRepository defines the persistence operations for findings. The
// store is the single source of truth; only the reconciler and the
// remediation workflow mutate it.
type FindingRepository interface {
	// Upsert inserts the finding if no row matches its natural key, otherwise
	// updates the mutable fields (status, payload, last-seen) while preserving
	// the stored discovery timestamp. A duplicate natural key is the expected
	// update path, never an error. Returns the canonical finding.
	Upsert(ctx context.Context, f *Finding) (*Finding, error)

	// GetByID returns the finding with the given row id, or ErrFindingNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Finding, error)

	// GetByNaturalKey returns the canonical finding for the key, or
	// ErrFindingNotFound.
	GetByNaturalKey(ctx context.Context, key NaturalKey) (*Finding, error)

	// ListByRepository returns all findings for a repository ordered by
	// discovery time descending. KindUnspecified returns every kind.
	ListByRepository(ctx context.Context, repositoryID uuid.UUID, kind FindingKind) ([]*Finding, error)

	// MarkStatus transitions the finding's status, enforcing the lifecycle
	// rules for the given driver. Fails with ErrInvalidTransition on a
	// disallowed edge.
	MarkStatus(ctx context.Context, id uuid.UUID, target FindingStatus, driver TransitionDriver) error

	// DeleteByRepository removes all findings for a repository. Used when a
	// repository is disconnected.
	DeleteByRepository(ctx context.Context, repositoryID uuid.UUID) error
}

// RemediationActionRepository persists remediation attempts.
type RemediationActionRepository interface {
	// Save inserts the action or replaces the row with the same id.
	Save(ctx context.Context, a *RemediationAction) error

	// ListByFinding returns all actions for a finding, newest first.
	ListByFinding(ctx context.Context, findingID uuid.UUID) ([]*RemediationAction, error)

	// DeleteByFinding removes all actions recorded for a finding.
	DeleteByFinding(ctx context.Context, findingID uuid.UUID) error
}

// ScanBatch is the result of one scanner invocation. Complete asserts the
// batch represents the full current state for the repository and kind,
// enabling absence-based resolution; partial batches must leave absent
// findings untouched.
type ScanBatch struct {
	Findings []*Finding
	Complete bool
}

// Scanner is the external scan collaborator. Implementations are pluggable
// so tests can inject deterministic fixtures.
type Scanner interface {
	Scan(ctx context.Context, repositoryID uuid.UUID, kind FindingKind) (ScanBatch, error)
}

// PullRequest identifies a created pull request.
type PullRequest struct {
	URL    string
	Number int
}

// VCSProvider is the external source control collaborator used to create fix
// branches and pull requests. Failures are classified into the domain error
// taxonomy (ErrPermissionDenied, ErrConflict, ErrTransientNetwork, ErrTimeout).
type VCSProvider interface {
	// CreateFixBranch creates a branch off baseBranch and returns the
	// normalized branch name.
	CreateFixBranch(ctx context.Context, repoFullName, baseBranch, branchName string) (string, error)

	// CreatePullRequest opens a pull request from branch into the base branch.
	CreatePullRequest(ctx context.Context, repoFullName, branch, title, body string) (PullRequest, error)
}

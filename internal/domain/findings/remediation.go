package findings

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RemediationOutcome represents the terminal result of a remediation attempt.
type RemediationOutcome string

const (
	// OutcomePending indicates the remediation has been requested but the
	// VCS calls have not finished.
	OutcomePending RemediationOutcome = "PENDING"

	// OutcomeSuccess indicates a fix branch and pull request were created.
	OutcomeSuccess RemediationOutcome = "SUCCESS"

	// OutcomeFailure indicates the VCS calls failed. The action is terminal
	// and never retried automatically; the user may request a new fix.
	OutcomeFailure RemediationOutcome = "FAILURE"
)

// String returns the string representation of the RemediationOutcome.
func (o RemediationOutcome) String() string { return string(o) }

// ParseRemediationOutcome converts a string to a RemediationOutcome.
func ParseRemediationOutcome(s string) RemediationOutcome {
	switch s {
	case "PENDING", "pending":
		return OutcomePending
	case "SUCCESS", "success":
		return OutcomeSuccess
	case "FAILURE", "failure":
		return OutcomeFailure
	default:
		return ""
	}
}

// IsTerminal reports whether the outcome allows no further changes.
func (o RemediationOutcome) IsTerminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// RemediationAction records one attempt to fix a finding by creating a fix
// branch and pull request. Actions are terminal once succeeded or failed.
type RemediationAction struct {
	id          uuid.UUID
	findingID   uuid.UUID
	branchName  string
	prURL       string
	prNumber    int
	outcome     RemediationOutcome
	errorDetail string
	createdAt   time.Time
	completedAt time.Time
}

// NewRemediationAction creates a pending action for a finding.
func NewRemediationAction(findingID uuid.UUID, branchName string) (*RemediationAction, error) {
	if findingID == uuid.Nil {
		return nil, errors.New("findingID is required to create a RemediationAction")
	}
	if branchName == "" {
		return nil, errors.New("branchName is required to create a RemediationAction")
	}
	return &RemediationAction{
		id:         uuid.New(),
		findingID:  findingID,
		branchName: branchName,
		outcome:    OutcomePending,
		createdAt:  time.Now().UTC(),
	}, nil
}

// ReconstructRemediationAction creates a RemediationAction from persistent
// storage data, bypassing creation validation.
func ReconstructRemediationAction(
	id, findingID uuid.UUID,
	branchName, prURL string,
	prNumber int,
	outcome RemediationOutcome,
	errorDetail string,
	createdAt, completedAt time.Time,
) *RemediationAction {
	return &RemediationAction{
		id:          id,
		findingID:   findingID,
		branchName:  branchName,
		prURL:       prURL,
		prNumber:    prNumber,
		outcome:     outcome,
		errorDetail: errorDetail,
		createdAt:   createdAt,
		completedAt: completedAt,
	}
}

// ID returns the generated identifier of the action.
func (a *RemediationAction) ID() uuid.UUID { return a.id }

// FindingID returns the finding this action attempts to fix.
func (a *RemediationAction) FindingID() uuid.UUID { return a.findingID }

// BranchName returns the fix branch name.
func (a *RemediationAction) BranchName() string { return a.branchName }

// PullRequestURL returns the created PR's URL, empty until success.
func (a *RemediationAction) PullRequestURL() string { return a.prURL }

// PullRequestNumber returns the created PR's number, zero until success.
func (a *RemediationAction) PullRequestNumber() int { return a.prNumber }

// Outcome returns the action's current outcome.
func (a *RemediationAction) Outcome() RemediationOutcome { return a.outcome }

// ErrorDetail returns the structured failure description, empty on success.
func (a *RemediationAction) ErrorDetail() string { return a.errorDetail }

// CreatedAt returns when the action was requested.
func (a *RemediationAction) CreatedAt() time.Time { return a.createdAt }

// CompletedAt returns when the action reached a terminal outcome.
func (a *RemediationAction) CompletedAt() time.Time { return a.completedAt }

// Succeed marks the action successful with the created pull request.
func (a *RemediationAction) Succeed(prURL string, prNumber int) error {
	if a.outcome.IsTerminal() {
		return errors.New("remediation action already completed")
	}
	a.outcome = OutcomeSuccess
	a.prURL = prURL
	a.prNumber = prNumber
	a.completedAt = time.Now().UTC()
	return nil
}

// Fail marks the action failed with a structured error description.
func (a *RemediationAction) Fail(detail string) error {
	if a.outcome.IsTerminal() {
		return errors.New("remediation action already completed")
	}
	a.outcome = OutcomeFailure
	a.errorDetail = detail
	a.completedAt = time.Now().UTC()
	return nil
}

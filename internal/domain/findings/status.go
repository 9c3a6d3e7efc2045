package findings

import "fmt"

// FindingStatus represents the lifecycle state of a finding. It enables
// tracking of a finding from discovery through remediation or scan-driven
// resolution.
type FindingStatus string

const (
	// StatusOpen indicates a finding has been discovered and not yet acted on.
	StatusOpen FindingStatus = "OPEN"

	// StatusInProgress indicates a remediation (fix branch + pull request)
	// has been created for the finding.
	StatusInProgress FindingStatus = "IN_PROGRESS"

	// StatusResolved indicates the finding is no longer present.
	StatusResolved FindingStatus = "RESOLVED"

	// StatusUnspecified is used when a finding status is unknown.
	StatusUnspecified FindingStatus = "UNSPECIFIED"
)

// String returns the string representation of the FindingStatus.
func (s FindingStatus) String() string { return string(s) }

// ParseFindingStatus converts a string to a FindingStatus.
func ParseFindingStatus(s string) FindingStatus {
	switch s {
	case "OPEN", "open":
		return StatusOpen
	case "IN_PROGRESS", "in_progress", "in-progress":
		return StatusInProgress
	case "RESOLVED", "resolved":
		return StatusResolved
	default:
		return StatusUnspecified
	}
}

// TransitionDriver identifies which subsystem is requesting a status change.
// Remediation and re-scans are allowed different edges: remediation moves a
// finding strictly forward, while a complete re-scan may resolve an absent
// finding directly or reopen a resolved one that reappeared (regression).
type TransitionDriver string

const (
	// DriverRemediation marks transitions requested by the remediation workflow.
	DriverRemediation TransitionDriver = "REMEDIATION"

	// DriverScan marks transitions requested by the reconciler during a re-scan.
	DriverScan TransitionDriver = "SCAN"
)

// ValidateTransition checks if a status transition is valid for the given
// driver and returns ErrInvalidTransition if not.
func (s FindingStatus) ValidateTransition(target FindingStatus, driver TransitionDriver) error {
	if !s.isValidTransition(target, driver) {
		return fmt.Errorf("%w: %s -> %s (driver %s)", ErrInvalidTransition, s, target, driver)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target
// status under the given driver. It enforces the finding lifecycle rules to
// prevent invalid state changes.
func (s FindingStatus) isValidTransition(target FindingStatus, driver TransitionDriver) bool {
	switch driver {
	case DriverRemediation:
		switch s {
		case StatusOpen:
			// Remediation moves an open finding to in-progress once a fix PR exists.
			return target == StatusInProgress
		case StatusInProgress:
			// A merged or verified fix resolves the finding.
			return target == StatusResolved
		case StatusResolved:
			// Terminal for remediation; only a re-scan may reopen.
			return false
		default:
			return false
		}
	case DriverScan:
		switch s {
		case StatusOpen, StatusInProgress:
			// Absence from a complete re-scan resolves the finding directly.
			return target == StatusResolved
		case StatusResolved:
			// Regression: the same issue was found again by a fresh scan.
			return target == StatusOpen
		default:
			return false
		}
	default:
		return false
	}
}

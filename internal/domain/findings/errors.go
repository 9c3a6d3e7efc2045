package findings

import "errors"

var (
	// ErrStoreUnavailable indicates an I/O failure in the underlying storage.
	// The current operation is aborted; callers must not assume partial writes
	// succeeded.
	ErrStoreUnavailable = errors.New("finding store unavailable")

	// ErrFindingNotFound indicates the requested finding does not exist.
	ErrFindingNotFound = errors.New("finding not found")

	// ErrInvalidTransition indicates a finding status change that violates the
	// lifecycle rules. This is a caller error, never silently ignored.
	ErrInvalidTransition = errors.New("invalid finding status transition")

	// ErrInvalidState indicates an operation was invoked on a finding whose
	// current state does not permit it, such as requesting a fix for a finding
	// that is not open.
	ErrInvalidState = errors.New("finding is not in a valid state for this operation")

	// ErrScanFailed indicates the scanner collaborator call failed. No
	// mutation happened; the operation is safe to retry.
	ErrScanFailed = errors.New("scan failed")

	// ErrScannerUnavailable indicates the scanner collaborator could not be
	// reached at all.
	ErrScannerUnavailable = errors.New("scanner unavailable")

	// ErrPermissionDenied indicates the VCS rejected a write for lack of
	// access. Not retriable without user action.
	ErrPermissionDenied = errors.New("permission denied by source control provider")

	// ErrConflict indicates the fix branch or pull request already exists.
	ErrConflict = errors.New("branch or pull request already exists")

	// ErrTransientNetwork indicates a transient network failure talking to a
	// collaborator. The user may retry manually; the system never retries
	// remediation writes on its own.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrTimeout indicates a collaborator call exceeded its deadline.
	ErrTimeout = errors.New("collaborator call timed out")
)

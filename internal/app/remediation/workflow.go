// Package remediation drives the automated fix workflow: for an open finding
// it creates a fix branch and pull request through the source control
// provider and records every attempt, successful or not, as a remediation
// action.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/domain/catalog"
	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

const (
	// defaultVCSTimeout bounds each source control call.
	defaultVCSTimeout = 30 * time.Second

	// defaultBatchConcurrency bounds parallel fix requests in a batch.
	defaultBatchConcurrency = 4
)

// Workflow owns the remediation state machine. It is the only writer of
// remediation-driven status transitions and guarantees at most one in-flight
// fix attempt per finding.
type Workflow struct {
	findingStore findings.FindingRepository
	actionStore  findings.RemediationActionRepository
	repoStore    catalog.RepositoryStore
	vcs          findings.VCSProvider

	log    *logger.Logger
	tracer trace.Tracer

	vcsTimeout       time.Duration
	batchConcurrency int

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithVCSTimeout overrides the per-call deadline for source control calls.
func WithVCSTimeout(d time.Duration) WorkflowOption {
	return func(w *Workflow) {
		if d > 0 {
			w.vcsTimeout = d
		}
	}
}

// WithBatchConcurrency overrides how many fix requests a batch runs at once.
func WithBatchConcurrency(n int) WorkflowOption {
	return func(w *Workflow) {
		if n > 0 {
			w.batchConcurrency = n
		}
	}
}

// NewWorkflow creates a remediation Workflow.
func NewWorkflow(
	findingStore findings.FindingRepository,
	actionStore findings.RemediationActionRepository,
	repoStore catalog.RepositoryStore,
	vcs findings.VCSProvider,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...WorkflowOption,
) *Workflow {
	w := &Workflow{
		findingStore:     findingStore,
		actionStore:      actionStore,
		repoStore:        repoStore,
		vcs:              vcs,
		log:              log,
		tracer:           tracer,
		vcsTimeout:       defaultVCSTimeout,
		batchConcurrency: defaultBatchConcurrency,
		inFlight:         make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RequestFix attempts an automated fix for an open finding owned by the user.
// On success the finding moves to in-progress and the returned action carries
// the pull request reference. On failure the finding stays open and the
// returned action records the classified failure detail; the error mirrors
// the action's failure cause.
//
// A second request for a finding whose attempt is still running is rejected
// with ErrInvalidState rather than queued.
func (w *Workflow) RequestFix(ctx context.Context, userID, findingID uuid.UUID) (*findings.RemediationAction, error) {
	ctx, span := w.tracer.Start(ctx, "remediation.request_fix",
		trace.WithAttributes(
			attribute.String("finding_id", findingID.String()),
			attribute.String("user_id", userID.String()),
		))
	defer span.End()

	if !w.acquire(findingID) {
		err := fmt.Errorf("%w: a fix attempt for finding %s is already running", findings.ErrInvalidState, findingID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer w.release(findingID)

	finding, err := w.findingStore.GetByID(ctx, findingID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading finding: %w", err)
	}

	if finding.Status() != findings.StatusOpen {
		err := fmt.Errorf("%w: cannot remediate a finding in status %s", findings.ErrInvalidState, finding.Status())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	repo, err := w.repoStore.GetByID(ctx, finding.RepositoryID(), userID)
	if err != nil {
		if errors.Is(err, catalog.ErrRepositoryNotFound) {
			// The user does not own the repository; surface as a missing
			// finding rather than confirming it exists.
			return nil, fmt.Errorf("%w: finding %s", findings.ErrFindingNotFound, findingID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("loading repository: %w", err)
	}

	branchName := fixBranchName(finding)
	action, err := findings.NewRemediationAction(findingID, branchName)
	if err != nil {
		return nil, fmt.Errorf("creating remediation action: %w", err)
	}

	pr, vcsErr := w.openPullRequest(ctx, repo, finding, branchName)
	if vcsErr != nil {
		if err := action.Fail(failureDetail(vcsErr)); err != nil {
			return nil, fmt.Errorf("failing action: %w", err)
		}
		if saveErr := w.actionStore.Save(ctx, action); saveErr != nil {
			span.RecordError(saveErr)
			return nil, fmt.Errorf("recording failed attempt: %w", saveErr)
		}
		w.log.Warn(ctx, "remediation attempt failed",
			"finding_id", findingID.String(),
			"repo", repo.FullName(),
			"detail", action.ErrorDetail(),
		)
		span.RecordError(vcsErr)
		span.SetStatus(codes.Error, vcsErr.Error())
		return action, vcsErr
	}

	if err := w.findingStore.MarkStatus(ctx, findingID, findings.StatusInProgress, findings.DriverRemediation); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("marking finding in progress: %w", err)
	}

	if err := action.Succeed(pr.URL, pr.Number); err != nil {
		return nil, fmt.Errorf("completing action: %w", err)
	}
	if err := w.actionStore.Save(ctx, action); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("recording successful attempt: %w", err)
	}

	w.log.Info(ctx, "remediation pull request opened",
		"finding_id", findingID.String(),
		"repo", repo.FullName(),
		"branch", action.BranchName(),
		"pr_number", pr.Number,
	)
	return action, nil
}

// FixResult pairs one batch item with its outcome. Exactly one of Action and
// Err is meaningful for failures before an action was recorded; both are set
// when the attempt itself failed.
type FixResult struct {
	FindingID uuid.UUID
	Action    *findings.RemediationAction
	Err       error
}

// ProgressFn is invoked once per completed batch item, in completion order.
type ProgressFn func(done, total int, result FixResult)

// RequestFixBatch runs RequestFix for each finding with bounded concurrency.
// Items fail independently; the returned slice matches the input order. The
// optional progress callback observes completions as they happen.
func (w *Workflow) RequestFixBatch(ctx context.Context, userID uuid.UUID, findingIDs []uuid.UUID, progress ProgressFn) []FixResult {
	ctx, span := w.tracer.Start(ctx, "remediation.request_fix_batch",
		trace.WithAttributes(
			attribute.String("user_id", userID.String()),
			attribute.Int("batch_size", len(findingIDs)),
		))
	defer span.End()

	results := make([]FixResult, len(findingIDs))

	var (
		wg     sync.WaitGroup
		sem    = make(chan struct{}, w.batchConcurrency)
		progMu sync.Mutex
		done   int
		total  = len(findingIDs)
	)

	for i, id := range findingIDs {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			action, err := w.RequestFix(ctx, userID, id)
			results[i] = FixResult{FindingID: id, Action: action, Err: err}

			if progress != nil {
				progMu.Lock()
				done++
				progress(done, total, results[i])
				progMu.Unlock()
			}
		}(i, id)
	}
	wg.Wait()

	return results
}

// ListActions returns the remediation history of a finding, newest first,
// scoped to the owning user.
func (w *Workflow) ListActions(ctx context.Context, userID, findingID uuid.UUID) ([]*findings.RemediationAction, error) {
	finding, err := w.findingStore.GetByID(ctx, findingID)
	if err != nil {
		return nil, fmt.Errorf("loading finding: %w", err)
	}
	if _, err := w.repoStore.GetByID(ctx, finding.RepositoryID(), userID); err != nil {
		if errors.Is(err, catalog.ErrRepositoryNotFound) {
			return nil, fmt.Errorf("%w: finding %s", findings.ErrFindingNotFound, findingID)
		}
		return nil, fmt.Errorf("loading repository: %w", err)
	}
	return w.actionStore.ListByFinding(ctx, findingID)
}

func (w *Workflow) acquire(findingID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[findingID]; busy {
		return false
	}
	w.inFlight[findingID] = struct{}{}
	return true
}

func (w *Workflow) release(findingID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, findingID)
}

// openPullRequest performs the two source control calls under the configured
// per-call deadline.
func (w *Workflow) openPullRequest(ctx context.Context, repo *catalog.Repository, finding *findings.Finding, branchName string) (findings.PullRequest, error) {
	branchCtx, cancel := context.WithTimeout(ctx, w.vcsTimeout)
	defer cancel()

	branch, err := w.vcs.CreateFixBranch(branchCtx, repo.FullName(), repo.DefaultBranch(), branchName)
	if err != nil {
		return findings.PullRequest{}, err
	}

	prCtx, cancel := context.WithTimeout(ctx, w.vcsTimeout)
	defer cancel()

	title := fmt.Sprintf("Fix: %s", finding.Payload().Summary())
	body := fmt.Sprintf("Automated remediation for %s finding `%s`.\n\n%s",
		finding.Kind(), finding.NaturalKey().IdentityKey, finding.Payload().Summary())

	return w.vcs.CreatePullRequest(prCtx, repo.FullName(), repo.DefaultBranch()+":"+branch, title, body)
}

// fixBranchName derives a stable branch name from the finding identity so a
// retried attempt reuses the same branch instead of littering the repository.
func fixBranchName(f *findings.Finding) string {
	return fmt.Sprintf("techmandates/fix-%s-%s", f.Kind(), f.Payload().IdentityKey())
}

// failureDetail renders the classified cause recorded on a failed action.
func failureDetail(err error) string {
	switch {
	case errors.Is(err, findings.ErrPermissionDenied):
		return fmt.Sprintf("permission denied by source control provider: %v", err)
	case errors.Is(err, findings.ErrConflict):
		return fmt.Sprintf("conflicting state on source control provider: %v", err)
	case errors.Is(err, findings.ErrTimeout):
		return fmt.Sprintf("source control provider timed out: %v", err)
	case errors.Is(err, findings.ErrTransientNetwork):
		return fmt.Sprintf("transient network failure: %v", err)
	default:
		return err.Error()
	}
}

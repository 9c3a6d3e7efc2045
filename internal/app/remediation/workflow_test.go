package remediation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmandates/techmandates/internal/domain/catalog"
	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/infra/storage"
	catalogmem "github.com/techmandates/techmandates/internal/infra/storage/catalog/memory"
	findingsmem "github.com/techmandates/techmandates/internal/infra/storage/findings/memory"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

// stubVCS simulates the source control provider. err poisons both calls;
// gate, when non-nil, blocks CreateFixBranch until released so tests can
// hold an attempt in flight.
type stubVCS struct {
	err  error
	gate chan struct{}

	calls atomic.Int32
}

func (v *stubVCS) CreateFixBranch(ctx context.Context, repoFullName, baseBranch, branchName string) (string, error) {
	v.calls.Add(1)
	if v.gate != nil {
		select {
		case <-v.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if v.err != nil {
		return "", v.err
	}
	return branchName, nil
}

func (v *stubVCS) CreatePullRequest(ctx context.Context, repoFullName, branch, title, body string) (findings.PullRequest, error) {
	if v.err != nil {
		return findings.PullRequest{}, v.err
	}
	return findings.PullRequest{URL: "https://github.com/" + repoFullName + "/pull/42", Number: 42}, nil
}

type workflowFixture struct {
	workflow *Workflow
	findings *findingsmem.FindingStore
	actions  *findingsmem.RemediationStore
	userID   uuid.UUID
	repo     *catalog.Repository
}

func newWorkflowFixture(t *testing.T, vcs findings.VCSProvider, opts ...WorkflowOption) *workflowFixture {
	t.Helper()

	findingStore := findingsmem.NewFindingStore()
	actionStore := findingsmem.NewRemediationStore()
	repoStore := catalogmem.NewRepositoryStore()

	userID := uuid.New()
	repo, err := catalog.NewRepository(userID, "100", "web", "acme/web", "https://github.com/acme/web.git", catalog.ProviderGitHub)
	require.NoError(t, err)
	require.NoError(t, repoStore.Create(context.Background(), repo))

	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	w := NewWorkflow(findingStore, actionStore, repoStore, vcs, log, storage.NoOpTracer(), opts...)

	return &workflowFixture{
		workflow: w,
		findings: findingStore,
		actions:  actionStore,
		userID:   userID,
		repo:     repo,
	}
}

func (fx *workflowFixture) openFinding(t *testing.T, advisory string) *findings.Finding {
	t.Helper()
	f, err := findings.NewFinding(fx.repo.ID(), findings.SecurityPayload{
		AdvisoryID: advisory,
		Title:      "test advisory",
		Severity:   findings.SeverityHigh,
		Package:    "left-pad",
		Version:    "1.0.0",
		FixedIn:    "1.3.0",
	}, findings.SourceLiveScan)
	require.NoError(t, err)

	stored, err := fx.findings.Upsert(context.Background(), f)
	require.NoError(t, err)
	return stored
}

func TestRequestFix_Success(t *testing.T) {
	t.Parallel()

	fx := newWorkflowFixture(t, &stubVCS{})
	f := fx.openFinding(t, "CVE-2024-0001")

	action, err := fx.workflow.RequestFix(context.Background(), fx.userID, f.ID())
	require.NoError(t, err)
	assert.Equal(t, findings.OutcomeSuccess, action.Outcome())
	assert.Equal(t, 42, action.PullRequestNumber())
	assert.Contains(t, action.PullRequestURL(), "/pull/42")
	assert.Contains(t, action.BranchName(), "CVE-2024-0001")

	stored, err := fx.findings.GetByID(context.Background(), f.ID())
	require.NoError(t, err)
	assert.Equal(t, findings.StatusInProgress, stored.Status())

	history, err := fx.actions.ListByFinding(context.Background(), f.ID())
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRequestFix_VCSFailureKeepsFindingOpen(t *testing.T) {
	t.Parallel()

	vcsErr := fmt.Errorf("%w: token lacks repo scope", findings.ErrPermissionDenied)
	fx := newWorkflowFixture(t, &stubVCS{err: vcsErr})
	f := fx.openFinding(t, "CVE-2024-0001")

	action, err := fx.workflow.RequestFix(context.Background(), fx.userID, f.ID())
	require.ErrorIs(t, err, findings.ErrPermissionDenied)
	require.NotNil(t, action)
	assert.Equal(t, findings.OutcomeFailure, action.Outcome())
	assert.Contains(t, action.ErrorDetail(), "permission denied")

	stored, err := fx.findings.GetByID(context.Background(), f.ID())
	require.NoError(t, err)
	assert.Equal(t, findings.StatusOpen, stored.Status(), "a failed attempt must leave the finding open")

	history, err := fx.actions.ListByFinding(context.Background(), f.ID())
	require.NoError(t, err)
	require.Len(t, history, 1, "failed attempts are recorded")
	assert.Equal(t, findings.OutcomeFailure, history[0].Outcome())
}

func TestRequestFix_NonOpenFindingRejected(t *testing.T) {
	t.Parallel()

	fx := newWorkflowFixture(t, &stubVCS{})
	f := fx.openFinding(t, "CVE-2024-0001")

	_, err := fx.workflow.RequestFix(context.Background(), fx.userID, f.ID())
	require.NoError(t, err)

	// Finding is now in-progress; a second fix request is invalid.
	_, err = fx.workflow.RequestFix(context.Background(), fx.userID, f.ID())
	require.ErrorIs(t, err, findings.ErrInvalidState)
}

func TestRequestFix_UnknownFinding(t *testing.T) {
	t.Parallel()

	fx := newWorkflowFixture(t, &stubVCS{})
	_, err := fx.workflow.RequestFix(context.Background(), fx.userID, uuid.New())
	require.ErrorIs(t, err, findings.ErrFindingNotFound)
}

func TestRequestFix_ForeignUserSeesNotFound(t *testing.T) {
	t.Parallel()

	fx := newWorkflowFixture(t, &stubVCS{})
	f := fx.openFinding(t, "CVE-2024-0001")

	_, err := fx.workflow.RequestFix(context.Background(), uuid.New(), f.ID())
	require.ErrorIs(t, err, findings.ErrFindingNotFound)
}

func TestRequestFix_ConcurrentDuplicateRejected(t *testing.T) {
	t.Parallel()

	vcs := &stubVCS{gate: make(chan struct{})}
	fx := newWorkflowFixture(t, vcs)
	f := fx.openFinding(t, "CVE-2024-0001")

	var wg sync.WaitGroup
	wg.Add(1)
	firstDone := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := fx.workflow.RequestFix(context.Background(), fx.userID, f.ID())
		firstDone <- err
	}()

	// Wait for the first attempt to reach the VCS call, then submit a
	// duplicate while it is still in flight.
	require.Eventually(t, func() bool { return vcs.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := fx.workflow.RequestFix(context.Background(), fx.userID, f.ID())
	require.ErrorIs(t, err, findings.ErrInvalidState)

	close(vcs.gate)
	wg.Wait()
	require.NoError(t, <-firstDone)
}

func TestRequestFixBatch(t *testing.T) {
	t.Parallel()

	fx := newWorkflowFixture(t, &stubVCS{}, WithBatchConcurrency(2))

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		f := fx.openFinding(t, fmt.Sprintf("CVE-2024-%04d", i))
		ids = append(ids, f.ID())
	}
	// One unknown id fails in isolation.
	ids = append(ids, uuid.New())

	var progressCalls atomic.Int32
	results := fx.workflow.RequestFixBatch(context.Background(), fx.userID, ids, func(done, total int, result FixResult) {
		progressCalls.Add(1)
		assert.Equal(t, 6, total)
	})

	require.Len(t, results, 6)
	assert.Equal(t, int32(6), progressCalls.Load())

	for i := 0; i < 5; i++ {
		assert.Equal(t, ids[i], results[i].FindingID, "results preserve input order")
		require.NoError(t, results[i].Err)
		assert.Equal(t, findings.OutcomeSuccess, results[i].Action.Outcome())
	}
	assert.ErrorIs(t, results[5].Err, findings.ErrFindingNotFound)
}

func TestListActions_ScopedToOwner(t *testing.T) {
	t.Parallel()

	fx := newWorkflowFixture(t, &stubVCS{})
	f := fx.openFinding(t, "CVE-2024-0001")

	_, err := fx.workflow.RequestFix(context.Background(), fx.userID, f.ID())
	require.NoError(t, err)

	history, err := fx.workflow.ListActions(context.Background(), fx.userID, f.ID())
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, err = fx.workflow.ListActions(context.Background(), uuid.New(), f.ID())
	require.ErrorIs(t, err, findings.ErrFindingNotFound)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmandates/techmandates/internal/domain/findings"
)

func newFinding(t *testing.T, repoID uuid.UUID, advisory string) *findings.Finding {
	t.Helper()
	f, err := findings.NewFinding(repoID, findings.SecurityPayload{
		AdvisoryID: advisory,
		Title:      "advisory",
		Severity:   findings.SeverityHigh,
		Package:    "pkg",
		Version:    "1.0.0",
	}, findings.SourceLiveScan)
	require.NoError(t, err)
	return f
}

func TestUpsert_PreservesIdentityAcrossUpdates(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	repoID := uuid.New()

	first, err := store.Upsert(context.Background(), newFinding(t, repoID, "CVE-1"))
	require.NoError(t, err)

	// A later scan reports the same advisory with a new payload.
	update := newFinding(t, repoID, "CVE-1")
	require.NoError(t, update.Observe(findings.SecurityPayload{
		AdvisoryID: "CVE-1",
		Title:      "advisory",
		Severity:   findings.SeverityCritical,
		Package:    "pkg",
		Version:    "1.1.0",
	}, time.Now().UTC()))

	second, err := store.Upsert(context.Background(), update)
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID(), "row id is stable across upserts")
	assert.Equal(t, first.DiscoveredAt(), second.DiscoveredAt(), "discovery time never changes")

	all, err := store.ListByRepository(context.Background(), repoID, findings.KindSecurity)
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert never duplicates a natural key")
}

func TestGetByNaturalKey(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	repoID := uuid.New()

	stored, err := store.Upsert(context.Background(), newFinding(t, repoID, "CVE-1"))
	require.NoError(t, err)

	got, err := store.GetByNaturalKey(context.Background(), stored.NaturalKey())
	require.NoError(t, err)
	assert.Equal(t, stored.ID(), got.ID())

	_, err = store.GetByNaturalKey(context.Background(), findings.NaturalKey{
		Kind: findings.KindSecurity, RepositoryID: repoID, IdentityKey: "CVE-missing",
	})
	require.ErrorIs(t, err, findings.ErrFindingNotFound)
}

func TestListByRepository_KindFilterAndOrdering(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	repoID := uuid.New()

	_, err := store.Upsert(context.Background(), newFinding(t, repoID, "CVE-1"))
	require.NoError(t, err)

	version, err := findings.NewFinding(repoID, findings.VersionPayload{
		Technology: "go", CurrentVersion: "1.21.0", TargetVersion: "1.23.1",
	}, findings.SourceLiveScan)
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), version)
	require.NoError(t, err)

	all, err := store.ListByRepository(context.Background(), repoID, findings.KindUnspecified)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	security, err := store.ListByRepository(context.Background(), repoID, findings.KindSecurity)
	require.NoError(t, err)
	require.Len(t, security, 1)
	assert.Equal(t, findings.KindSecurity, security[0].Kind())

	for i := 1; i < len(all); i++ {
		assert.False(t, all[i-1].DiscoveredAt().Before(all[i].DiscoveredAt()), "newest first")
	}
}

func TestMarkStatus_EnforcesLifecycle(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	repoID := uuid.New()

	stored, err := store.Upsert(context.Background(), newFinding(t, repoID, "CVE-1"))
	require.NoError(t, err)

	// Remediation cannot resolve an open finding directly.
	err = store.MarkStatus(context.Background(), stored.ID(), findings.StatusResolved, findings.DriverRemediation)
	require.ErrorIs(t, err, findings.ErrInvalidTransition)

	require.NoError(t, store.MarkStatus(context.Background(), stored.ID(), findings.StatusInProgress, findings.DriverRemediation))
	require.NoError(t, store.MarkStatus(context.Background(), stored.ID(), findings.StatusResolved, findings.DriverRemediation))

	got, err := store.GetByID(context.Background(), stored.ID())
	require.NoError(t, err)
	assert.Equal(t, findings.StatusResolved, got.Status())

	err = store.MarkStatus(context.Background(), uuid.New(), findings.StatusResolved, findings.DriverScan)
	require.ErrorIs(t, err, findings.ErrFindingNotFound)
}

func TestDeleteByRepository(t *testing.T) {
	t.Parallel()

	store := NewFindingStore()
	repoID := uuid.New()
	otherRepo := uuid.New()

	_, err := store.Upsert(context.Background(), newFinding(t, repoID, "CVE-1"))
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), newFinding(t, otherRepo, "CVE-2"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteByRepository(context.Background(), repoID))

	gone, err := store.ListByRepository(context.Background(), repoID, findings.KindUnspecified)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := store.ListByRepository(context.Background(), otherRepo, findings.KindUnspecified)
	require.NoError(t, err)
	assert.Len(t, kept, 1, "other repositories are untouched")
}

// Package dashboard implements repository catalog management and the
// aggregate metrics surfaced on the dashboard.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/domain/catalog"
	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

// Service manages a user's connected repositories and computes dashboard
// metrics from the finding store.
type Service struct {
	repoStore    catalog.RepositoryStore
	findingStore findings.FindingRepository
	actionStore  findings.RemediationActionRepository

	log    *logger.Logger
	tracer trace.Tracer
}

// NewService creates a dashboard Service.
func NewService(
	repoStore catalog.RepositoryStore,
	findingStore findings.FindingRepository,
	actionStore findings.RemediationActionRepository,
	log *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		repoStore:    repoStore,
		findingStore: findingStore,
		actionStore:  actionStore,
		log:          log,
		tracer:       tracer,
	}
}

// ConnectRepository registers a repository for the user. Connecting the same
// external id twice fails with catalog.ErrRepositoryExists.
func (s *Service) ConnectRepository(ctx context.Context, userID uuid.UUID, externalID, name, fullName, cloneURL string, provider catalog.Provider) (*catalog.Repository, error) {
	ctx, span := s.tracer.Start(ctx, "dashboard.connect_repository",
		trace.WithAttributes(attribute.String("repo_full_name", fullName)))
	defer span.End()

	repo, err := catalog.NewRepository(userID, externalID, name, fullName, cloneURL, provider)
	if err != nil {
		return nil, fmt.Errorf("building repository: %w", err)
	}

	if err := s.repoStore.Create(ctx, repo); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("connecting repository %s: %w", fullName, err)
	}

	s.log.Info(ctx, "repository connected", "repo", fullName, "user_id", userID.String())
	return repo, nil
}

// ListRepositories returns the user's connected repositories, newest first.
func (s *Service) ListRepositories(ctx context.Context, userID uuid.UUID) ([]*catalog.Repository, error) {
	return s.repoStore.ListByUser(ctx, userID)
}

// GetRepository returns one repository owned by the user.
func (s *Service) GetRepository(ctx context.Context, userID, repoID uuid.UUID) (*catalog.Repository, error) {
	return s.repoStore.GetByID(ctx, repoID, userID)
}

// ListFindings returns a repository's findings, scoped to the owning user.
// KindUnspecified returns every kind.
func (s *Service) ListFindings(ctx context.Context, userID, repoID uuid.UUID, kind findings.FindingKind) ([]*findings.Finding, error) {
	if _, err := s.repoStore.GetByID(ctx, repoID, userID); err != nil {
		return nil, err
	}
	return s.findingStore.ListByRepository(ctx, repoID, kind)
}

// MarkScanned records that a reconciliation pass completed for the
// repository just now.
func (s *Service) MarkScanned(ctx context.Context, userID, repoID uuid.UUID) error {
	repo, err := s.repoStore.GetByID(ctx, repoID, userID)
	if err != nil {
		return err
	}
	repo.RecordScan(time.Now().UTC())
	if err := s.repoStore.Update(ctx, repo); err != nil {
		return fmt.Errorf("recording scan time: %w", err)
	}
	return nil
}

// DisconnectRepository removes a repository and everything derived from it:
// findings and the remediation history of each finding.
func (s *Service) DisconnectRepository(ctx context.Context, userID, repoID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "dashboard.disconnect_repository",
		trace.WithAttributes(attribute.String("repo_id", repoID.String())))
	defer span.End()

	// Ownership check before any deletion.
	if _, err := s.repoStore.GetByID(ctx, repoID, userID); err != nil {
		return err
	}

	stored, err := s.findingStore.ListByRepository(ctx, repoID, findings.KindUnspecified)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("listing findings for disconnect: %w", err)
	}
	for _, f := range stored {
		if err := s.actionStore.DeleteByFinding(ctx, f.ID()); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting remediation history for %s: %w", f.ID(), err)
		}
	}
	if err := s.findingStore.DeleteByRepository(ctx, repoID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting findings: %w", err)
	}
	if err := s.repoStore.Delete(ctx, repoID, userID); err != nil {
		if errors.Is(err, catalog.ErrRepositoryNotFound) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("deleting repository: %w", err)
	}

	s.log.Info(ctx, "repository disconnected", "repo_id", repoID.String(), "user_id", userID.String())
	return nil
}

// Metrics is the aggregate snapshot shown at the top of the dashboard.
type Metrics struct {
	TotalRepositories   int     `json:"total_repositories"`
	PendingUpgrades     int     `json:"pending_upgrades"`
	OpenVulnerabilities int     `json:"open_vulnerabilities"`
	AverageCoverage     float64 `json:"average_coverage"`
}

// ComputeMetrics aggregates finding state across all of the user's
// repositories. Pending upgrades count open version findings that are real
// upgrades; open vulnerabilities count open high or critical security
// findings; coverage averages the latest snapshot of each repository that
// has one.
func (s *Service) ComputeMetrics(ctx context.Context, userID uuid.UUID) (Metrics, error) {
	ctx, span := s.tracer.Start(ctx, "dashboard.compute_metrics",
		trace.WithAttributes(attribute.String("user_id", userID.String())))
	defer span.End()

	repos, err := s.repoStore.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return Metrics{}, fmt.Errorf("listing repositories: %w", err)
	}

	m := Metrics{TotalRepositories: len(repos)}

	var coverageSum float64
	var coverageCount int

	for _, repo := range repos {
		stored, err := s.findingStore.ListByRepository(ctx, repo.ID(), findings.KindUnspecified)
		if err != nil {
			span.RecordError(err)
			return Metrics{}, fmt.Errorf("listing findings for %s: %w", repo.FullName(), err)
		}

		for _, f := range stored {
			switch payload := f.Payload().(type) {
			case findings.VersionPayload:
				if f.Status() == findings.StatusOpen && payload.IsUpgrade() {
					m.PendingUpgrades++
				}
			case findings.SecurityPayload:
				if f.Status() == findings.StatusOpen && payload.Severity.Rank() >= findings.SeverityHigh.Rank() {
					m.OpenVulnerabilities++
				}
			case findings.CoveragePayload:
				if f.Status() != findings.StatusResolved {
					coverageSum += payload.Percentage
					coverageCount++
				}
			}
		}
	}

	if coverageCount > 0 {
		m.AverageCoverage = coverageSum / float64(coverageCount)
	}
	return m, nil
}

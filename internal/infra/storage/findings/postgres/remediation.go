package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/infra/storage"
)

// Ensure remediationStore satisfies findings.RemediationActionRepository (compile-time check).
var _ findings.RemediationActionRepository = (*remediationStore)(nil)

// remediationStore implements findings.RemediationActionRepository using
// PostgreSQL.
type remediationStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRemediationStore creates a PostgreSQL-backed implementation of
// findings.RemediationActionRepository.
func NewRemediationStore(pool *pgxpool.Pool, tracer trace.Tracer) *remediationStore {
	return &remediationStore{pool: pool, tracer: tracer}
}

// Save inserts the action or replaces the row with the same id. The workflow
// records a pending action first and saves again with the terminal outcome.
func (s *remediationStore) Save(ctx context.Context, a *findings.RemediationAction) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "Save"),
		attribute.String("action_id", a.ID().String()),
		attribute.String("outcome", a.Outcome().String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.remediation.save", dbAttrs, func(ctx context.Context) error {
		const q = `
			INSERT INTO remediation_actions
				(id, finding_id, branch_name, pull_request_url, pull_request_number, outcome, error_detail, created_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE
			SET pull_request_url = EXCLUDED.pull_request_url,
			    pull_request_number = EXCLUDED.pull_request_number,
			    outcome = EXCLUDED.outcome,
			    error_detail = EXCLUDED.error_detail,
			    completed_at = EXCLUDED.completed_at`

		completedAt := pgtype.Timestamptz{}
		if !a.CompletedAt().IsZero() {
			completedAt = pgtype.Timestamptz{Time: a.CompletedAt(), Valid: true}
		}

		_, err := s.pool.Exec(ctx, q,
			a.ID(),
			a.FindingID(),
			a.BranchName(),
			a.PullRequestURL(),
			a.PullRequestNumber(),
			a.Outcome().String(),
			a.ErrorDetail(),
			pgtype.Timestamptz{Time: a.CreatedAt(), Valid: true},
			completedAt,
		)
		if err != nil {
			return storeErr("remediationStore.Save", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remediationStore.Save: %w", err)
	}
	return nil
}

// ListByFinding returns all actions for a finding, newest first.
func (s *remediationStore) ListByFinding(ctx context.Context, findingID uuid.UUID) ([]*findings.RemediationAction, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "ListByFinding"),
		attribute.String("finding_id", findingID.String()),
	)

	var result []*findings.RemediationAction
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.remediation.list_by_finding", dbAttrs, func(ctx context.Context) error {
		const q = `
			SELECT id, finding_id, branch_name, pull_request_url, pull_request_number, outcome, error_detail, created_at, completed_at
			FROM remediation_actions
			WHERE finding_id = $1
			ORDER BY created_at DESC`

		rows, err := s.pool.Query(ctx, q, findingID)
		if err != nil {
			return storeErr("remediationStore.ListByFinding", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id          uuid.UUID
				fid         uuid.UUID
				branchName  string
				prURL       string
				prNumber    int
				outcome     string
				errorDetail string
				createdAt   time.Time
				completedAt pgtype.Timestamptz
			)
			if err := rows.Scan(&id, &fid, &branchName, &prURL, &prNumber, &outcome, &errorDetail, &createdAt, &completedAt); err != nil {
				return storeErr("remediationStore.ListByFinding", err)
			}

			result = append(result, findings.ReconstructRemediationAction(
				id, fid, branchName, prURL, prNumber,
				findings.ParseRemediationOutcome(outcome),
				errorDetail,
				createdAt, completedAt.Time,
			))
		}
		if err := rows.Err(); err != nil {
			return storeErr("remediationStore.ListByFinding", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remediationStore.ListByFinding: %w", err)
	}
	return result, nil
}

// DeleteByFinding removes all actions recorded for a finding.
func (s *remediationStore) DeleteByFinding(ctx context.Context, findingID uuid.UUID) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "DeleteByFinding"),
		attribute.String("finding_id", findingID.String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.remediation.delete_by_finding", dbAttrs, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, `DELETE FROM remediation_actions WHERE finding_id = $1`, findingID); err != nil {
			return storeErr("remediationStore.DeleteByFinding", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remediationStore.DeleteByFinding: %w", err)
	}
	return nil
}

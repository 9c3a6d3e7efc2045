// Package postgres provides PostgreSQL-backed persistence for the findings
// domain.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/infra/storage"
)

// defaultDBAttributes defines standard OpenTelemetry attributes for PostgreSQL operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// storeErr classifies low-level database failures as ErrStoreUnavailable so
// callers see the domain taxonomy instead of driver internals.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, findings.ErrStoreUnavailable, err)
}

// Ensure findingStore satisfies findings.FindingRepository (compile-time check).
var _ findings.FindingRepository = (*findingStore)(nil)

// findingStore implements findings.FindingRepository using PostgreSQL. The
// natural-key uniqueness invariant is enforced by a unique index, making
// Upsert a single atomic statement.
type findingStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewFindingStore creates a PostgreSQL-backed implementation of
// findings.FindingRepository.
func NewFindingStore(pool *pgxpool.Pool, tracer trace.Tracer) *findingStore {
	return &findingStore{pool: pool, tracer: tracer}
}

// Upsert inserts the finding or, when the natural key already exists, updates
// the mutable fields while preserving the stored discovery timestamp and row
// id. Returns the canonical finding as stored.
func (s *findingStore) Upsert(ctx context.Context, f *findings.Finding) (*findings.Finding, error) {
	key := f.NaturalKey()
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "Upsert"),
		attribute.String("finding_key", key.String()),
	)

	var canonical *findings.Finding
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.finding.upsert", dbAttrs, func(ctx context.Context) error {
		payload, err := findings.EncodePayload(f.Payload())
		if err != nil {
			return err
		}

		const q = `
			INSERT INTO findings (id, repository_id, kind, identity_key, payload, status, discovered_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (kind, repository_id, identity_key) DO UPDATE
			SET payload = EXCLUDED.payload,
			    status = EXCLUDED.status,
			    last_seen_at = EXCLUDED.last_seen_at
			RETURNING id, status, discovered_at, last_seen_at`

		var (
			id           uuid.UUID
			status       string
			discoveredAt pgtype.Timestamptz
			lastSeenAt   pgtype.Timestamptz
		)
		row := s.pool.QueryRow(ctx, q,
			f.ID(),
			f.RepositoryID(),
			f.Kind().String(),
			key.IdentityKey,
			payload,
			f.Status().String(),
			pgtype.Timestamptz{Time: f.DiscoveredAt(), Valid: true},
			pgtype.Timestamptz{Time: f.LastSeenAt(), Valid: true},
		)
		if err := row.Scan(&id, &status, &discoveredAt, &lastSeenAt); err != nil {
			return storeErr("findingStore.Upsert", err)
		}

		canonical = findings.ReconstructFinding(
			id,
			f.RepositoryID(),
			f.Payload(),
			findings.ParseFindingStatus(status),
			discoveredAt.Time,
			lastSeenAt.Time,
		)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("findingStore.Upsert: %w", err)
	}

	return canonical, nil
}

// GetByID retrieves a finding by its row id.
func (s *findingStore) GetByID(ctx context.Context, id uuid.UUID) (*findings.Finding, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "GetByID"),
		attribute.String("finding_id", id.String()),
	)

	var f *findings.Finding
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.finding.get_by_id", dbAttrs, func(ctx context.Context) error {
		const q = `
			SELECT id, repository_id, kind, payload, status, discovered_at, last_seen_at
			FROM findings
			WHERE id = $1`

		var err error
		f, err = s.scanFinding(s.pool.QueryRow(ctx, q, id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("findingStore.GetByID: %w", err)
	}
	return f, nil
}

// GetByNaturalKey retrieves the canonical finding for a natural key.
func (s *findingStore) GetByNaturalKey(ctx context.Context, key findings.NaturalKey) (*findings.Finding, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "GetByNaturalKey"),
		attribute.String("finding_key", key.String()),
	)

	var f *findings.Finding
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.finding.get_by_natural_key", dbAttrs, func(ctx context.Context) error {
		const q = `
			SELECT id, repository_id, kind, payload, status, discovered_at, last_seen_at
			FROM findings
			WHERE kind = $1 AND repository_id = $2 AND identity_key = $3`

		var err error
		f, err = s.scanFinding(s.pool.QueryRow(ctx, q, key.Kind.String(), key.RepositoryID, key.IdentityKey))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("findingStore.GetByNaturalKey: %w", err)
	}
	return f, nil
}

// ListByRepository returns all findings for a repository ordered by discovery
// time descending, ties broken by identity key for deterministic output.
func (s *findingStore) ListByRepository(ctx context.Context, repositoryID uuid.UUID, kind findings.FindingKind) ([]*findings.Finding, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "ListByRepository"),
		attribute.String("repository_id", repositoryID.String()),
		attribute.String("kind", kind.String()),
	)

	var result []*findings.Finding
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.finding.list_by_repository", dbAttrs, func(ctx context.Context) error {
		const base = `
			SELECT id, repository_id, kind, payload, status, discovered_at, last_seen_at
			FROM findings
			WHERE repository_id = $1`
		const order = ` ORDER BY discovered_at DESC, identity_key ASC`

		var (
			rows pgx.Rows
			err  error
		)
		if kind == findings.KindUnspecified {
			rows, err = s.pool.Query(ctx, base+order, repositoryID)
		} else {
			rows, err = s.pool.Query(ctx, base+` AND kind = $2`+order, repositoryID, kind.String())
		}
		if err != nil {
			return storeErr("findingStore.ListByRepository", err)
		}
		defer rows.Close()

		for rows.Next() {
			f, err := s.scanFindingRow(rows)
			if err != nil {
				return err
			}
			result = append(result, f)
		}
		if err := rows.Err(); err != nil {
			return storeErr("findingStore.ListByRepository", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("findingStore.ListByRepository: %w", err)
	}
	return result, nil
}

// MarkStatus transitions a finding's status after validating the requested
// edge for the given driver. The update is guarded on the status the
// validation saw, so two concurrent transitions on the same finding cannot
// both apply.
func (s *findingStore) MarkStatus(ctx context.Context, id uuid.UUID, target findings.FindingStatus, driver findings.TransitionDriver) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "MarkStatus"),
		attribute.String("finding_id", id.String()),
		attribute.String("target_status", target.String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.finding.mark_status", dbAttrs, func(ctx context.Context) error {
		var current string
		if err := s.pool.QueryRow(ctx, `SELECT status FROM findings WHERE id = $1`, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return findings.ErrFindingNotFound
			}
			return storeErr("findingStore.MarkStatus", err)
		}

		status := findings.ParseFindingStatus(current)
		if err := status.ValidateTransition(target, driver); err != nil {
			return err
		}

		tag, err := s.pool.Exec(ctx,
			`UPDATE findings SET status = $1 WHERE id = $2 AND status = $3`,
			target.String(), id, status.String(),
		)
		if err != nil {
			return storeErr("findingStore.MarkStatus", err)
		}
		if tag.RowsAffected() == 0 {
			// A concurrent transition won; the edge we validated no longer exists.
			return fmt.Errorf("%w: finding %s changed concurrently", findings.ErrInvalidTransition, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("findingStore.MarkStatus: %w", err)
	}
	return nil
}

// DeleteByRepository removes all findings for a repository. Remediation
// actions cascade through the foreign key.
func (s *findingStore) DeleteByRepository(ctx context.Context, repositoryID uuid.UUID) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "DeleteByRepository"),
		attribute.String("repository_id", repositoryID.String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.finding.delete_by_repository", dbAttrs, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, `DELETE FROM findings WHERE repository_id = $1`, repositoryID); err != nil {
			return storeErr("findingStore.DeleteByRepository", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("findingStore.DeleteByRepository: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *findingStore) scanFinding(row rowScanner) (*findings.Finding, error) {
	f, err := s.scanFindingRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, findings.ErrFindingNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *findingStore) scanFindingRow(row rowScanner) (*findings.Finding, error) {
	var (
		id           uuid.UUID
		repositoryID uuid.UUID
		kind         string
		payload      []byte
		status       string
		discoveredAt time.Time
		lastSeenAt   time.Time
	)
	if err := row.Scan(&id, &repositoryID, &kind, &payload, &status, &discoveredAt, &lastSeenAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("findingStore.scan", err)
	}

	p, err := findings.DecodePayload(findings.ParseFindingKind(kind), payload)
	if err != nil {
		return nil, err
	}

	return findings.ReconstructFinding(
		id,
		repositoryID,
		p,
		findings.ParseFindingStatus(status),
		discoveredAt,
		lastSeenAt,
	), nil
}

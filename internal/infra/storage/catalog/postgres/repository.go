// Package postgres provides PostgreSQL-backed persistence for the repository
// catalog.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/domain/catalog"
	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/internal/infra/storage"
)

// uniqueViolation is the postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, findings.ErrStoreUnavailable, err)
}

// Ensure repositoryStore satisfies catalog.RepositoryStore (compile-time check).
var _ catalog.RepositoryStore = (*repositoryStore)(nil)

// repositoryStore implements catalog.RepositoryStore using PostgreSQL.
type repositoryStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRepositoryStore creates a PostgreSQL-backed implementation of
// catalog.RepositoryStore.
func NewRepositoryStore(pool *pgxpool.Pool, tracer trace.Tracer) *repositoryStore {
	return &repositoryStore{pool: pool, tracer: tracer}
}

// Create persists a newly connected repository. The (user_id, external_id)
// unique constraint rejects duplicate connections.
func (s *repositoryStore) Create(ctx context.Context, repo *catalog.Repository) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "Create"),
		attribute.String("repo_full_name", repo.FullName()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.repository.create", dbAttrs, func(ctx context.Context) error {
		const q = `
			INSERT INTO repositories
				(id, user_id, external_id, name, full_name, description, clone_url, is_private, language, default_branch, provider, last_scan_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

		_, err := s.pool.Exec(ctx, q,
			repo.ID(), repo.UserID(), repo.ExternalID(), repo.Name(), repo.FullName(),
			repo.Description(), repo.CloneURL(), repo.IsPrivate(), repo.Language(),
			repo.DefaultBranch(), repo.Provider().String(),
			nullableTime(repo.LastScanAt()),
			pgtype.Timestamptz{Time: repo.CreatedAt(), Valid: true},
			pgtype.Timestamptz{Time: repo.UpdatedAt(), Valid: true},
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return catalog.ErrRepositoryExists
			}
			return storeErr("repositoryStore.Create", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("repositoryStore.Create: %w", err)
	}
	return nil
}

// Update persists changes to an existing repository.
func (s *repositoryStore) Update(ctx context.Context, repo *catalog.Repository) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "Update"),
		attribute.String("repo_id", repo.ID().String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.repository.update", dbAttrs, func(ctx context.Context) error {
		const q = `
			UPDATE repositories
			SET description = $1, clone_url = $2, is_private = $3, language = $4,
			    default_branch = $5, last_scan_at = $6, updated_at = $7
			WHERE id = $8`

		tag, err := s.pool.Exec(ctx, q,
			repo.Description(), repo.CloneURL(), repo.IsPrivate(), repo.Language(),
			repo.DefaultBranch(), nullableTime(repo.LastScanAt()),
			pgtype.Timestamptz{Time: repo.UpdatedAt(), Valid: true},
			repo.ID(),
		)
		if err != nil {
			return storeErr("repositoryStore.Update", err)
		}
		if tag.RowsAffected() == 0 {
			return catalog.ErrRepositoryNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("repositoryStore.Update: %w", err)
	}
	return nil
}

// GetByID returns the repository, scoped to the owning user.
func (s *repositoryStore) GetByID(ctx context.Context, id, userID uuid.UUID) (*catalog.Repository, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "GetByID"),
		attribute.String("repo_id", id.String()),
	)

	var repo *catalog.Repository
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.repository.get_by_id", dbAttrs, func(ctx context.Context) error {
		const q = selectColumns + ` WHERE id = $1 AND user_id = $2`

		var err error
		repo, err = scanRepository(s.pool.QueryRow(ctx, q, id, userID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("repositoryStore.GetByID: %w", err)
	}
	return repo, nil
}

// ListByUser returns all repositories connected by a user, newest first.
func (s *repositoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*catalog.Repository, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "ListByUser"),
		attribute.String("user_id", userID.String()),
	)

	var result []*catalog.Repository
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.repository.list_by_user", dbAttrs, func(ctx context.Context) error {
		const q = selectColumns + ` WHERE user_id = $1 ORDER BY created_at DESC`

		rows, err := s.pool.Query(ctx, q, userID)
		if err != nil {
			return storeErr("repositoryStore.ListByUser", err)
		}
		defer rows.Close()

		for rows.Next() {
			repo, err := scanRepository(rows)
			if err != nil {
				return err
			}
			result = append(result, repo)
		}
		if err := rows.Err(); err != nil {
			return storeErr("repositoryStore.ListByUser", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repositoryStore.ListByUser: %w", err)
	}
	return result, nil
}

// Delete removes a repository owned by the user. Findings and remediation
// actions cascade through foreign keys.
func (s *repositoryStore) Delete(ctx context.Context, id, userID uuid.UUID) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("method", "Delete"),
		attribute.String("repo_id", id.String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.repository.delete", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1 AND user_id = $2`, id, userID)
		if err != nil {
			return storeErr("repositoryStore.Delete", err)
		}
		if tag.RowsAffected() == 0 {
			return catalog.ErrRepositoryNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("repositoryStore.Delete: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, user_id, external_id, name, full_name, description, clone_url, is_private, language, default_branch, provider, last_scan_at, created_at, updated_at
	FROM repositories`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*catalog.Repository, error) {
	var (
		id            uuid.UUID
		userID        uuid.UUID
		externalID    string
		name          string
		fullName      string
		description   string
		cloneURL      string
		isPrivate     bool
		language      string
		defaultBranch string
		provider      string
		lastScanAt    pgtype.Timestamptz
		createdAt     time.Time
		updatedAt     time.Time
	)
	err := row.Scan(&id, &userID, &externalID, &name, &fullName, &description, &cloneURL,
		&isPrivate, &language, &defaultBranch, &provider, &lastScanAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrRepositoryNotFound
		}
		return nil, storeErr("repositoryStore.scan", err)
	}

	return catalog.ReconstructRepository(
		id, userID, externalID, name, fullName, description, cloneURL,
		isPrivate, language, defaultBranch,
		catalog.ParseProvider(provider),
		lastScanAt.Time, createdAt, updatedAt,
	), nil
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

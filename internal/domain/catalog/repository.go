// Package catalog models the repositories a user has connected for health
// tracking. A repository owns zero or more findings; disconnecting it
// cascades their removal.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Provider identifies the source control host a repository lives on.
type Provider string

const (
	ProviderGitHub Provider = "GITHUB"
	ProviderGitLab Provider = "GITLAB"
)

// String returns the string representation of the Provider.
func (p Provider) String() string { return string(p) }

// ParseProvider converts a string to a Provider, defaulting to GitHub which
// is what the dashboard supports today.
func ParseProvider(s string) Provider {
	switch s {
	case "GITLAB", "gitlab":
		return ProviderGitLab
	default:
		return ProviderGitHub
	}
}

// Repository represents a connected source control project as a domain
// entity. It is the aggregate root for repository-level operations and the
// owner of all findings discovered for it.
type Repository struct {
	id     uuid.UUID
	userID uuid.UUID

	// externalID is the provider's identifier, used to reject duplicate
	// connections of the same project by the same user.
	externalID string

	name          string
	fullName      string
	description   string
	cloneURL      string
	isPrivate     bool
	language      string
	defaultBranch string
	provider      Provider

	lastScanAt time.Time

	createdAt time.Time
	updatedAt time.Time
}

// NewRepository creates a newly connected repository entity. It enforces
// required fields and defaults the base branch to "main" when the provider
// reported none.
func NewRepository(userID uuid.UUID, externalID, name, fullName, cloneURL string, provider Provider) (*Repository, error) {
	if userID == uuid.Nil {
		return nil, errors.New("userID is required to connect a repository")
	}
	if externalID == "" || name == "" || fullName == "" {
		return nil, errors.New("externalID, name and fullName are required to connect a repository")
	}

	now := time.Now().UTC()
	return &Repository{
		id:            uuid.New(),
		userID:        userID,
		externalID:    externalID,
		name:          name,
		fullName:      fullName,
		cloneURL:      cloneURL,
		defaultBranch: "main",
		provider:      provider,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// ReconstructRepository creates a Repository from persistent storage data.
// This should only be used by repository implementations to rehydrate stored
// entities, bypassing normal creation validation rules.
func ReconstructRepository(
	id, userID uuid.UUID,
	externalID, name, fullName, description, cloneURL string,
	isPrivate bool,
	language, defaultBranch string,
	provider Provider,
	lastScanAt, createdAt, updatedAt time.Time,
) *Repository {
	return &Repository{
		id:            id,
		userID:        userID,
		externalID:    externalID,
		name:          name,
		fullName:      fullName,
		description:   description,
		cloneURL:      cloneURL,
		isPrivate:     isPrivate,
		language:      language,
		defaultBranch: defaultBranch,
		provider:      provider,
		lastScanAt:    lastScanAt,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// ID returns the unique identifier of the repository.
func (r *Repository) ID() uuid.UUID { return r.id }

// UserID returns the owning user.
func (r *Repository) UserID() uuid.UUID { return r.userID }

// ExternalID returns the provider's identifier for the repository.
func (r *Repository) ExternalID() string { return r.externalID }

// Name returns the repository name.
func (r *Repository) Name() string { return r.name }

// FullName returns the "owner/name" form used in provider API calls.
func (r *Repository) FullName() string { return r.fullName }

// Description returns the repository description.
func (r *Repository) Description() string { return r.description }

// CloneURL returns the repository clone URL.
func (r *Repository) CloneURL() string { return r.cloneURL }

// IsPrivate returns whether the repository is private on the provider.
func (r *Repository) IsPrivate() bool { return r.isPrivate }

// Language returns the dominant language reported by the provider.
func (r *Repository) Language() string { return r.language }

// DefaultBranch returns the branch fix PRs are opened against.
func (r *Repository) DefaultBranch() string { return r.defaultBranch }

// Provider returns the source control host.
func (r *Repository) Provider() Provider { return r.provider }

// LastScanAt returns when the repository was last scanned, zero if never.
func (r *Repository) LastScanAt() time.Time { return r.lastScanAt }

// CreatedAt returns when the repository was connected.
func (r *Repository) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns when the entity was last modified.
func (r *Repository) UpdatedAt() time.Time { return r.updatedAt }

// SetDetails fills in the optional attributes reported by the provider.
func (r *Repository) SetDetails(description, language, defaultBranch string, isPrivate bool) {
	r.description = description
	r.language = language
	if defaultBranch != "" {
		r.defaultBranch = defaultBranch
	}
	r.isPrivate = isPrivate
	r.touch()
}

// RecordScan stamps the repository with the time of a completed scan.
func (r *Repository) RecordScan(at time.Time) {
	r.lastScanAt = at.UTC()
	r.touch()
}

// touch updates the modification timestamp when the entity changes.
func (r *Repository) touch() { r.updatedAt = time.Now().UTC() }

package findings

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source tags where a finding instance came from during a reconciliation
// pass. It drives merge precedence only and is not persisted.
type Source string

const (
	SourceLiveScan  Source = "LIVE_SCAN"
	SourcePersisted Source = "PERSISTED"
	SourceCache     Source = "CACHE"
)

// NaturalKey is the business identity of a finding, independent of the
// generated row id. Exactly one canonical finding may exist per natural key.
type NaturalKey struct {
	Kind         FindingKind
	RepositoryID uuid.UUID
	IdentityKey  string
}

// String renders the key in a stable form used for deterministic ordering.
func (k NaturalKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.RepositoryID, k.IdentityKey)
}

// Finding is a discovered issue or state snapshot about a repository. It is
// the aggregate root of the findings domain and enforces its own lifecycle
// invariants.
type Finding struct {
	id           uuid.UUID
	kind         FindingKind
	repositoryID uuid.UUID
	payload      Payload
	status       FindingStatus
	source       Source

	// discoveredAt is the first observation time and never changes after
	// insert. lastSeenAt is refreshed every time a scan re-observes the
	// finding.
	discoveredAt time.Time
	lastSeenAt   time.Time
}

// NewFinding creates a finding fresh from a scan. It starts open with
// discovery and last-seen timestamps set to now.
func NewFinding(repositoryID uuid.UUID, payload Payload, source Source) (*Finding, error) {
	if repositoryID == uuid.Nil {
		return nil, errors.New("repositoryID is required to create a Finding")
	}
	if payload == nil {
		return nil, errors.New("payload is required to create a Finding")
	}
	if payload.IdentityKey() == "" {
		return nil, errors.New("payload identity key must not be empty")
	}

	now := time.Now().UTC()
	return &Finding{
		id:           uuid.New(),
		kind:         payload.Kind(),
		repositoryID: repositoryID,
		payload:      payload,
		status:       StatusOpen,
		source:       source,
		discoveredAt: now,
		lastSeenAt:   now,
	}, nil
}

// ReconstructFinding creates a Finding from persistent storage data. It
// should only be used by repository implementations to rehydrate stored
// entities, bypassing normal creation validation rules.
func ReconstructFinding(
	id uuid.UUID,
	repositoryID uuid.UUID,
	payload Payload,
	status FindingStatus,
	discoveredAt, lastSeenAt time.Time,
) *Finding {
	return &Finding{
		id:           id,
		kind:         payload.Kind(),
		repositoryID: repositoryID,
		payload:      payload,
		status:       status,
		source:       SourcePersisted,
		discoveredAt: discoveredAt,
		lastSeenAt:   lastSeenAt,
	}
}

// ID returns the generated row identifier of the finding.
func (f *Finding) ID() uuid.UUID { return f.id }

// Kind returns the finding's category.
func (f *Finding) Kind() FindingKind { return f.kind }

// RepositoryID returns the owning repository.
func (f *Finding) RepositoryID() uuid.UUID { return f.repositoryID }

// Payload returns the kind-specific data.
func (f *Finding) Payload() Payload { return f.payload }

// Status returns the current lifecycle state.
func (f *Finding) Status() FindingStatus { return f.status }

// Source returns the provenance tag of this in-memory instance.
func (f *Finding) Source() Source { return f.source }

// DiscoveredAt returns the first observation time.
func (f *Finding) DiscoveredAt() time.Time { return f.discoveredAt }

// LastSeenAt returns the most recent observation time.
func (f *Finding) LastSeenAt() time.Time { return f.lastSeenAt }

// NaturalKey returns the business identity tuple of the finding.
func (f *Finding) NaturalKey() NaturalKey {
	return NaturalKey{
		Kind:         f.kind,
		RepositoryID: f.repositoryID,
		IdentityKey:  f.payload.IdentityKey(),
	}
}

// TransitionStatus applies a status change after validating it against the
// lifecycle rules for the given driver.
func (f *Finding) TransitionStatus(target FindingStatus, driver TransitionDriver) error {
	if err := f.status.ValidateTransition(target, driver); err != nil {
		return err
	}
	f.status = target
	return nil
}

// Observe records that a scan re-observed the finding, refreshing the
// last-seen timestamp and replacing the payload. discoveredAt is untouched.
func (f *Finding) Observe(payload Payload, at time.Time) error {
	if payload.Kind() != f.kind || payload.IdentityKey() != f.payload.IdentityKey() {
		return fmt.Errorf("observation does not match finding identity %s", f.NaturalKey())
	}
	f.payload = payload
	f.lastSeenAt = at.UTC()
	return nil
}

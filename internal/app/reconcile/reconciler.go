// Package reconcile merges fresh scan batches into the canonical finding
// store and produces the de-duplicated, recency-ordered activity feed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

const (
	// defaultFeedLength bounds the activity feed returned by one pass.
	defaultFeedLength = 20

	// defaultScanTimeout bounds a single scanner collaborator call.
	defaultScanTimeout = 30 * time.Second
)

// Reconciler combines a fresh batch of findings returned by the scanner with
// what the finding store already holds. It is the only writer of scan-driven
// status transitions.
type Reconciler struct {
	store   findings.FindingRepository
	scanner findings.Scanner

	log    *logger.Logger
	tracer trace.Tracer

	feedLength  int
	scanTimeout time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithFeedLength overrides the maximum number of activity entries returned
// by one reconciliation pass.
func WithFeedLength(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.feedLength = n
		}
	}
}

// WithScanTimeout overrides the per-call deadline imposed on the scanner.
func WithScanTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.scanTimeout = d
		}
	}
}

// NewReconciler creates a Reconciler over the given store and scanner.
func NewReconciler(
	store findings.FindingRepository,
	scanner findings.Scanner,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		store:       store,
		scanner:     scanner,
		log:         log,
		tracer:      tracer,
		feedLength:  defaultFeedLength,
		scanTimeout: defaultScanTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one reconciliation pass for a repository and kind. It calls
// the scanner, merges the batch against the store and returns the activity
// feed for the pass, ordered by the findings' discovery time descending with
// natural-key ties broken lexicographically.
//
// A scanner failure aborts the pass before any mutation; the store and feed
// are unchanged and the error is safe to retry.
func (r *Reconciler) Reconcile(ctx context.Context, repositoryID uuid.UUID, kind findings.FindingKind) ([]findings.ActivityEntry, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: cannot reconcile kind %q", findings.ErrInvalidState, kind)
	}

	ctx, span := r.tracer.Start(ctx, "reconciler.reconcile",
		trace.WithAttributes(
			attribute.String("repository_id", repositoryID.String()),
			attribute.String("kind", kind.String()),
		))
	defer span.End()

	batch, err := r.scan(ctx, repositoryID, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	existing, err := r.store.ListByRepository(ctx, repositoryID, kind)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading existing findings: %w", err)
	}

	existingByKey := make(map[findings.NaturalKey]*findings.Finding, len(existing))
	for _, f := range existing {
		existingByKey[f.NaturalKey()] = f
	}

	now := time.Now().UTC()

	// First occurrence of a natural key within one pass wins; later
	// duplicates from overlapping batches are dropped without a second
	// activity entry.
	seen := make(map[findings.NaturalKey]struct{}, len(batch.Findings))

	var entries []findings.ActivityEntry

	for _, incoming := range batch.Findings {
		if incoming == nil {
			continue
		}
		if incoming.Kind() != kind {
			r.log.Warn(ctx, "dropping finding of unexpected kind from scan batch",
				"expected", kind.String(), "got", incoming.Kind().String())
			continue
		}

		key := incoming.NaturalKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		current, exists := existingByKey[key]
		if !exists {
			canonical, err := r.store.Upsert(ctx, incoming)
			if err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("inserting finding %s: %w", key, err)
			}
			entries = append(entries, findings.ActivityEntry{
				Type:       findings.ActivityDiscovered,
				FindingID:  canonical.ID().String(),
				Key:        key,
				Summary:    canonical.Payload().Summary(),
				OccurredAt: canonical.DiscoveredAt(),
			})
			continue
		}

		// Regression: a resolved finding reported again reopens.
		reopened := false
		if current.Status() == findings.StatusResolved {
			if err := r.store.MarkStatus(ctx, current.ID(), findings.StatusOpen, findings.DriverScan); err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("reopening finding %s: %w", key, err)
			}
			reopened = true
		}

		payloadChanged := !current.Payload().Equal(incoming.Payload())
		oldSummary := current.Payload().Summary()

		if err := current.Observe(incoming.Payload(), now); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("observing finding %s: %w", key, err)
		}
		if reopened {
			current = findings.ReconstructFinding(
				current.ID(), current.RepositoryID(), current.Payload(),
				findings.StatusOpen, current.DiscoveredAt(), current.LastSeenAt(),
			)
		}

		canonical, err := r.store.Upsert(ctx, current)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("updating finding %s: %w", key, err)
		}

		switch {
		case reopened:
			entries = append(entries, findings.ActivityEntry{
				Type:       findings.ActivityDiscovered,
				FindingID:  canonical.ID().String(),
				Key:        key,
				Summary:    fmt.Sprintf("Regression: %s", canonical.Payload().Summary()),
				OccurredAt: canonical.DiscoveredAt(),
			})
		case payloadChanged:
			entries = append(entries, findings.ActivityEntry{
				Type:       findings.ActivityChanged,
				FindingID:  canonical.ID().String(),
				Key:        key,
				Summary:    fmt.Sprintf("%s -> %s", oldSummary, canonical.Payload().Summary()),
				OccurredAt: canonical.DiscoveredAt(),
			})
		default:
			// Identical payload: last-seen metadata was refreshed, no entry.
		}
	}

	// Absence-based resolution applies only to complete batches; a partial
	// scan must never resolve findings it simply did not cover.
	if batch.Complete {
		for _, current := range existing {
			if _, present := seen[current.NaturalKey()]; present {
				continue
			}
			if current.Status() != findings.StatusOpen && current.Status() != findings.StatusInProgress {
				continue
			}
			if err := r.store.MarkStatus(ctx, current.ID(), findings.StatusResolved, findings.DriverScan); err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("resolving absent finding %s: %w", current.NaturalKey(), err)
			}
			entries = append(entries, findings.ActivityEntry{
				Type:       findings.ActivityResolved,
				FindingID:  current.ID().String(),
				Key:        current.NaturalKey(),
				Summary:    fmt.Sprintf("Resolved: %s", current.Payload().Summary()),
				OccurredAt: current.DiscoveredAt(),
			})
		}
	}

	sortEntries(entries)
	if len(entries) > r.feedLength {
		entries = entries[:r.feedLength]
	}

	r.log.Info(ctx, "reconciliation pass completed",
		"repository_id", repositoryID.String(),
		"kind", kind.String(),
		"batch_size", len(batch.Findings),
		"complete_batch", batch.Complete,
		"activity_entries", len(entries),
	)

	return entries, nil
}

// scan invokes the scanner under the configured deadline and maps failures
// into the domain taxonomy. No store mutation happens before this returns.
func (r *Reconciler) scan(ctx context.Context, repositoryID uuid.UUID, kind findings.FindingKind) (findings.ScanBatch, error) {
	scanCtx, cancel := context.WithTimeout(ctx, r.scanTimeout)
	defer cancel()

	batch, err := r.scanner.Scan(scanCtx, repositoryID, kind)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return findings.ScanBatch{}, fmt.Errorf("%w: scanner exceeded %s: %v", findings.ErrTimeout, r.scanTimeout, err)
		case errors.Is(err, findings.ErrScannerUnavailable):
			return findings.ScanBatch{}, fmt.Errorf("%w: %v", findings.ErrScanFailed, err)
		default:
			return findings.ScanBatch{}, fmt.Errorf("%w: %v", findings.ErrScanFailed, err)
		}
	}
	return batch, nil
}

// sortEntries orders the feed by discovery time descending; ties are broken
// by natural key lexicographic order for deterministic output.
func sortEntries(entries []findings.ActivityEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].OccurredAt.After(entries[j].OccurredAt)
		}
		return entries[i].Key.String() < entries[j].Key.String()
	})
}

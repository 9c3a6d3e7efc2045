package findings

import (
	"encoding/json"
	"fmt"

	"github.com/blang/semver/v4"
)

// Payload carries the kind-specific data of a finding. Each variant supplies
// the identity key used for natural-key de-duplication and a human readable
// summary for activity entries.
type Payload interface {
	// Kind returns the finding kind this payload belongs to.
	Kind() FindingKind

	// IdentityKey returns the stable, kind-scoped identity of the finding.
	// Two findings with the same kind, repository and identity key are the
	// same finding.
	IdentityKey() string

	// Summary returns a short human readable description of the payload.
	Summary() string

	// Equal reports whether the other payload carries identical data.
	Equal(other Payload) bool
}

// SecurityPayload describes a security vulnerability in a dependency.
type SecurityPayload struct {
	AdvisoryID  string   `json:"advisory_id"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	CVSS        float64  `json:"cvss"`
	Package     string   `json:"package"`
	Version     string   `json:"version"`
	FixedIn     string   `json:"fixed_in"`
	Description string   `json:"description"`
}

func (p SecurityPayload) Kind() FindingKind { return KindSecurity }

// IdentityKey uses the external advisory id; the same CVE reported twice for
// a repository is one finding.
func (p SecurityPayload) IdentityKey() string { return p.AdvisoryID }

func (p SecurityPayload) Summary() string {
	return fmt.Sprintf("%s: %s in %s %s (fixed in %s)", p.AdvisoryID, p.Title, p.Package, p.Version, p.FixedIn)
}

func (p SecurityPayload) Equal(other Payload) bool {
	o, ok := other.(SecurityPayload)
	return ok && p == o
}

// VersionPayload describes an available upgrade of a technology used by a
// repository.
type VersionPayload struct {
	Technology     string   `json:"technology"`
	CurrentVersion string   `json:"current_version"`
	TargetVersion  string   `json:"target_version"`
	Priority       Severity `json:"priority"`
}

func (p VersionPayload) Kind() FindingKind { return KindVersion }

// IdentityKey is the technology name; a repository has at most one pending
// upgrade per technology.
func (p VersionPayload) IdentityKey() string { return p.Technology }

func (p VersionPayload) Summary() string {
	return fmt.Sprintf("Upgrade %s from %s to %s", p.Technology, p.CurrentVersion, p.TargetVersion)
}

func (p VersionPayload) Equal(other Payload) bool {
	o, ok := other.(VersionPayload)
	return ok && p == o
}

// IsUpgrade reports whether the target version is strictly newer than the
// current one. Versions that do not parse as semver fall back to an
// inequality check so fixture data with loose version strings still works.
func (p VersionPayload) IsUpgrade() bool {
	cur, errCur := semver.ParseTolerant(p.CurrentVersion)
	tgt, errTgt := semver.ParseTolerant(p.TargetVersion)
	if errCur != nil || errTgt != nil {
		return p.CurrentVersion != p.TargetVersion
	}
	return tgt.GT(cur)
}

// CoveragePayload describes a test coverage measurement for a repository.
type CoveragePayload struct {
	Percentage float64 `json:"percentage"`
	TestCount  int     `json:"test_count"`
	Language   string  `json:"language,omitempty"`
}

func (p CoveragePayload) Kind() FindingKind { return KindCoverage }

// IdentityKey is constant: a repository carries a single canonical coverage
// snapshot which a re-scan overwrites in place.
func (p CoveragePayload) IdentityKey() string { return "coverage" }

func (p CoveragePayload) Summary() string {
	return fmt.Sprintf("Coverage %.1f%% across %d tests", p.Percentage, p.TestCount)
}

func (p CoveragePayload) Equal(other Payload) bool {
	o, ok := other.(CoveragePayload)
	return ok && p == o
}

// Band buckets the coverage percentage for display and filtering.
func (p CoveragePayload) Band() string {
	switch {
	case p.Percentage >= 80:
		return "good"
	case p.Percentage >= 60:
		return "fair"
	default:
		return "poor"
	}
}

// GeneralPayload covers findings that fit no dedicated category.
type GeneralPayload struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (p GeneralPayload) Kind() FindingKind { return KindGeneral }

func (p GeneralPayload) IdentityKey() string { return p.Key }

func (p GeneralPayload) Summary() string { return p.Title }

func (p GeneralPayload) Equal(other Payload) bool {
	o, ok := other.(GeneralPayload)
	return ok && p == o
}

// EncodePayload serializes a payload for storage. The kind is stored on the
// finding row itself, so the JSON carries only the variant's fields.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload using the finding's kind as the
// variant discriminator.
func DecodePayload(kind FindingKind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindSecurity:
		var v SecurityPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindVersion:
		var v VersionPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindCoverage:
		var v CoveragePayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindGeneral:
		var v GeneralPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("decoding payload: unknown finding kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
	}
	return p, nil
}

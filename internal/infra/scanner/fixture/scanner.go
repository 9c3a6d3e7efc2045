// Package fixture implements a deterministic scanner backed by a YAML fixture
// file. It stands in for real analyzers in development and tests: the same
// fixture always yields the same batch, so reconciliation runs are repeatable.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/techmandates/techmandates/internal/domain/findings"
)

// Ensure Scanner satisfies findings.Scanner (compile-time check).
var _ findings.Scanner = (*Scanner)(nil)

// Scanner serves scan batches from fixture data loaded once at construction.
type Scanner struct {
	batches map[findings.FindingKind]kindFixture
}

// fixtureFile is the on-disk shape: one section per finding kind.
type fixtureFile struct {
	Security *securityFixture `yaml:"security"`
	Version  *versionFixture  `yaml:"version"`
	Coverage *coverageFixture `yaml:"coverage"`
	General  *generalFixture  `yaml:"general"`
}

// kindFixture holds the decoded batch plus failure-injection knobs. A fixture
// section may declare fail to simulate a broken analyzer or delay to exercise
// timeout handling.
type kindFixture struct {
	complete bool
	fail     string
	delay    time.Duration
	payloads []findings.Payload
}

type fixtureControls struct {
	Complete *bool  `yaml:"complete"`
	Fail     string `yaml:"fail"`

	// Delay is a Go duration string such as "250ms" or "5s".
	Delay string `yaml:"delay"`
}

func (c fixtureControls) base() (kindFixture, error) {
	k := kindFixture{complete: true, fail: c.Fail}
	if c.Complete != nil {
		k.complete = *c.Complete
	}
	if c.Delay != "" {
		d, err := time.ParseDuration(c.Delay)
		if err != nil {
			return kindFixture{}, fmt.Errorf("invalid fixture delay %q: %w", c.Delay, err)
		}
		k.delay = d
	}
	return k, nil
}

type securityFixture struct {
	fixtureControls `yaml:",inline"`
	Findings        []securityEntry `yaml:"findings"`
}

type securityEntry struct {
	AdvisoryID  string  `yaml:"advisory_id"`
	Title       string  `yaml:"title"`
	Severity    string  `yaml:"severity"`
	CVSS        float64 `yaml:"cvss"`
	Package     string  `yaml:"package"`
	Version     string  `yaml:"version"`
	FixedIn     string  `yaml:"fixed_in"`
	Description string  `yaml:"description"`
}

type versionFixture struct {
	fixtureControls `yaml:",inline"`
	Findings        []versionEntry `yaml:"findings"`
}

type versionEntry struct {
	Technology     string `yaml:"technology"`
	CurrentVersion string `yaml:"current_version"`
	TargetVersion  string `yaml:"target_version"`
	Priority       string `yaml:"priority"`
}

type coverageFixture struct {
	fixtureControls `yaml:",inline"`
	Findings        []coverageEntry `yaml:"findings"`
}

type coverageEntry struct {
	Percentage float64 `yaml:"percentage"`
	TestCount  int     `yaml:"test_count"`
	Language   string  `yaml:"language"`
}

type generalFixture struct {
	fixtureControls `yaml:",inline"`
	Findings        []generalEntry `yaml:"findings"`
}

type generalEntry struct {
	Key         string `yaml:"key"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// LoadFile reads and parses a fixture file from disk.
func LoadFile(path string) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scan fixture %s: %w", path, err)
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("parsing scan fixture %s: %w", path, err)
	}
	return s, nil
}

// Load parses fixture YAML from a reader.
func Load(r io.Reader) (*Scanner, error) {
	var file fixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding fixture yaml: %w", err)
	}

	batches := make(map[findings.FindingKind]kindFixture, 4)

	if file.Security != nil {
		k, err := file.Security.base()
		if err != nil {
			return nil, err
		}
		for _, e := range file.Security.Findings {
			k.payloads = append(k.payloads, findings.SecurityPayload{
				AdvisoryID:  e.AdvisoryID,
				Title:       e.Title,
				Severity:    findings.ParseSeverity(e.Severity),
				CVSS:        e.CVSS,
				Package:     e.Package,
				Version:     e.Version,
				FixedIn:     e.FixedIn,
				Description: e.Description,
			})
		}
		batches[findings.KindSecurity] = k
	}
	if file.Version != nil {
		k, err := file.Version.base()
		if err != nil {
			return nil, err
		}
		for _, e := range file.Version.Findings {
			k.payloads = append(k.payloads, findings.VersionPayload{
				Technology:     e.Technology,
				CurrentVersion: e.CurrentVersion,
				TargetVersion:  e.TargetVersion,
				Priority:       findings.ParseSeverity(e.Priority),
			})
		}
		batches[findings.KindVersion] = k
	}
	if file.Coverage != nil {
		k, err := file.Coverage.base()
		if err != nil {
			return nil, err
		}
		for _, e := range file.Coverage.Findings {
			k.payloads = append(k.payloads, findings.CoveragePayload{
				Percentage: e.Percentage,
				TestCount:  e.TestCount,
				Language:   e.Language,
			})
		}
		batches[findings.KindCoverage] = k
	}
	if file.General != nil {
		k, err := file.General.base()
		if err != nil {
			return nil, err
		}
		for _, e := range file.General.Findings {
			k.payloads = append(k.payloads, findings.GeneralPayload{
				Key:         e.Key,
				Title:       e.Title,
				Description: e.Description,
			})
		}
		batches[findings.KindGeneral] = k
	}

	return &Scanner{batches: batches}, nil
}

// Scan returns the fixture batch for the kind. A kind with no fixture section
// yields an empty complete batch, which reads as "nothing found".
func (s *Scanner) Scan(ctx context.Context, repositoryID uuid.UUID, kind findings.FindingKind) (findings.ScanBatch, error) {
	fixture, ok := s.batches[kind]
	if !ok {
		return findings.ScanBatch{Complete: true}, nil
	}

	if fixture.delay > 0 {
		select {
		case <-time.After(fixture.delay):
		case <-ctx.Done():
			return findings.ScanBatch{}, ctx.Err()
		}
	}

	if fixture.fail != "" {
		return findings.ScanBatch{}, fmt.Errorf("%w: %s", findings.ErrScannerUnavailable, fixture.fail)
	}

	batch := findings.ScanBatch{Complete: fixture.complete}
	for _, p := range fixture.payloads {
		f, err := findings.NewFinding(repositoryID, p, findings.SourceLiveScan)
		if err != nil {
			return findings.ScanBatch{}, fmt.Errorf("building finding from fixture: %w", err)
		}
		batch.Findings = append(batch.Findings, f)
	}
	return batch, nil
}

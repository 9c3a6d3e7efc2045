package findings

import "time"

// ActivityType categorizes entries in the activity feed.
type ActivityType string

const (
	// ActivityDiscovered marks a finding seen for the first time.
	ActivityDiscovered ActivityType = "DISCOVERED"

	// ActivityChanged marks a finding whose payload changed between scans.
	ActivityChanged ActivityType = "CHANGED"

	// ActivityResolved marks a finding resolved by remediation or by absence
	// from a complete re-scan.
	ActivityResolved ActivityType = "RESOLVED"
)

// String returns the string representation of the ActivityType.
func (t ActivityType) String() string { return string(t) }

// ActivityEntry is one row of the recency-ordered activity feed produced by a
// reconciliation pass.
type ActivityEntry struct {
	Type       ActivityType
	FindingID  string
	Key        NaturalKey
	Summary    string
	OccurredAt time.Time
}

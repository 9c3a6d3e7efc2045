package findings

// Severity ranks how urgent a security finding is. It is also used to
// prioritize version upgrades.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"

	// SeverityUnspecified is used when a severity is unknown.
	SeverityUnspecified Severity = "UNSPECIFIED"
)

// String returns the string representation of the Severity.
func (s Severity) String() string { return string(s) }

// ParseSeverity converts a string to a Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "CRITICAL", "critical":
		return SeverityCritical
	case "HIGH", "high":
		return SeverityHigh
	case "MEDIUM", "medium":
		return SeverityMedium
	case "LOW", "low":
		return SeverityLow
	default:
		return SeverityUnspecified
	}
}

// Rank returns an ordering value where a higher rank means a more urgent
// severity. Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

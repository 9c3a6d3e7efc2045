package findings

// FindingKind discriminates the category of a finding. Each kind carries its own
// payload variant and identity rules.
type FindingKind string

const (
	// KindSecurity identifies a security vulnerability finding.
	KindSecurity FindingKind = "SECURITY"

	// KindVersion identifies a dependency or runtime upgrade opportunity.
	KindVersion FindingKind = "VERSION"

	// KindCoverage identifies a test coverage snapshot.
	KindCoverage FindingKind = "COVERAGE"

	// KindGeneral identifies findings that fit no dedicated category.
	KindGeneral FindingKind = "GENERAL"

	// KindUnspecified is used when a finding kind is unknown.
	KindUnspecified FindingKind = "UNSPECIFIED"
)

// String returns the string representation of the FindingKind.
func (k FindingKind) String() string { return string(k) }

// ParseFindingKind converts a string to a FindingKind. Lowercase forms are
// accepted because they are what the HTTP API and fixture files carry.
func ParseFindingKind(s string) FindingKind {
	switch s {
	case "SECURITY", "security":
		return KindSecurity
	case "VERSION", "version":
		return KindVersion
	case "COVERAGE", "coverage":
		return KindCoverage
	case "GENERAL", "general":
		return KindGeneral
	default:
		return KindUnspecified
	}
}

// IsValid reports whether the kind is one of the known categories.
func (k FindingKind) IsValid() bool {
	switch k {
	case KindSecurity, KindVersion, KindCoverage, KindGeneral:
		return true
	default:
		return false
	}
}

package incident

import "time"

// Status represents the lifecycle of an incident record. Crowd consensus
// moves an incident from active to verified or disputed; resolution is an
// operator action and terminal with respect to consensus transitions.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusVerified Status = "verified"
	StatusDisputed Status = "disputed"
)

// Type classifies what went wrong with the service.
type Type string

const (
	TypeDelay        Type = "delay"
	TypeCancellation Type = "cancellation"
	TypeBreakdown    Type = "breakdown"
	TypeCrowding     Type = "crowding"
	TypeOther        Type = "other"
)

// Severity grades the impact of an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Incident mirrors the incidents table.
type Incident struct {
	ID                string
	Title             string
	Description       string
	Type              Type
	Severity          Severity
	Status            Status
	RouteID           string
	StopID            *string
	ReporterID        string
	DelayMinutes      *int
	ReportedAt        time.Time
	ResolvedAt        *time.Time
	VerificationCount int
	DisputeCount      int
}

// Stats aggregates incident counts for the read-only statistics surface.
type Stats struct {
	TotalIncidents    int
	ActiveIncidents   int
	ResolvedIncidents int
	ByType            map[string]int
	BySeverity        map[string]int
}

// ValidStatus reports whether s is one of the four lifecycle statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusResolved, StatusVerified, StatusDisputed:
		return true
	default:
		return false
	}
}

// ValidType reports whether t is a known incident type.
func ValidType(t Type) bool {
	switch t {
	case TypeDelay, TypeCancellation, TypeBreakdown, TypeCrowding, TypeOther:
		return true
	default:
		return false
	}
}

// ValidSeverity reports whether s is a known severity grade.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

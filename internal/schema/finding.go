package schema

import (
	"time"
)

// FindingStatus is the lifecycle status of a finding.
type FindingStatus string

const (
	FindingOpen          FindingStatus = "open"
	FindingAcknowledged  FindingStatus = "acknowledged"
	FindingInProgress    FindingStatus = "in_progress"
	FindingResolved      FindingStatus = "resolved"
	FindingFalsePositive FindingStatus = "false_positive"
)

// IsValid checks if the finding status is a known value.
func (s FindingStatus) IsValid() bool {
	switch s {
	case FindingOpen, FindingAcknowledged, FindingInProgress,
		FindingResolved, FindingFalsePositive:
		return true
	}
	return false
}

// Terminal reports whether the status ends the finding lifecycle.
func (s FindingStatus) Terminal() bool {
	return s == FindingResolved || s == FindingFalsePositive
}

// EntityRef references an entity involved in a finding.
type EntityRef struct {
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	Name       string     `json:"name,omitempty"`
	Role       string     `json:"role,omitempty"` // source, target, accessor, related
}

// EventRef references an event that contributed to a finding.
type EventRef struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary,omitempty"`
}

// Recommendation is a structured remediation suggestion attached to a finding.
type Recommendation struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	Priority    string `json:"priority"` // low, medium, high, critical
}

// Finding is the primary user-facing output of the pipeline: a persisted
// risk record merged from one or more events or scoring results that share
// a merge fingerprint.
type Finding struct {
	FindingID   string `json:"finding_id"`
	Fingerprint string `json:"fingerprint"` // merge key, unique

	CorrelationID string `json:"correlation_id,omitempty"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	FindingType string   `json:"finding_type"`
	Severity    Severity `json:"severity"`

	RiskScore        float64 `json:"risk_score"`
	ExposureScore    float64 `json:"exposure_score,omitempty"`
	VolatilityScore  float64 `json:"volatility_score,omitempty"`
	SensitivityScore float64 `json:"sensitivity_score,omitempty"`

	PrimaryEntityID   string     `json:"primary_entity_id"`
	PrimaryEntityType EntityType `json:"primary_entity_type"`
	EntitiesInvolved  []EntityRef `json:"entities_involved,omitempty"`

	Evidence        []EventRef       `json:"evidence,omitempty"`
	EvidenceCount   int              `json:"evidence_count"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Tags            []string         `json:"tags,omitempty"`

	Status          FindingStatus `json:"status"`
	AssignedTo      string        `json:"assigned_to,omitempty"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`

	SLADueAt        *time.Time `json:"sla_due_at,omitempty"`
	OccurrenceCount int        `json:"occurrence_count"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// MaxEvidenceEntries caps the deduplicated evidence list on a finding.
const MaxEvidenceEntries = 20

// SLAFor returns the response deadline duration for a severity, or false
// when the severity carries no SLA.
func SLAFor(sev Severity) (time.Duration, bool) {
	switch sev {
	case SeverityCritical:
		return 4 * time.Hour, true
	case SeverityHigh:
		return 24 * time.Hour, true
	case SeverityMedium:
		return 72 * time.Hour, true
	case SeverityLow:
		return 168 * time.Hour, true
	}
	return 0, false
}

// Package schema defines the canonical telemetry schema for riskforge.
// All ingested security events are validated against this structure before
// they enter the correlation pipeline.
package schema

import (
	"time"
)

// Event is the primary security event consumed from the message bus.
// All sensors (shadow-AI monitors, scanners, access loggers) emit events
// conforming to this schema.
type Event struct {
	// Required fields
	EventID        string    `json:"event_id" validate:"required"`
	EventType      EventType `json:"event_type" validate:"required,event_type"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
	SourceSystemID string    `json:"source_system_id" validate:"required,max=256"`

	// Optional fields
	TargetEntityID     string           `json:"target_entity_id,omitempty" validate:"max=256"`
	IdentityID         string           `json:"identity_id,omitempty" validate:"max=256"`
	SensitivityTags    []SensitivityTag `json:"sensitivity_tags,omitempty" validate:"dive,sensitivity_tag"`
	ExposureDirection  ExposureDirection `json:"exposure_direction" validate:"required,exposure_direction"`
	DataVolumeEstimate int64            `json:"data_volume_estimate,omitempty" validate:"min=0"`
	PrivilegeLevel     PrivilegeLevel   `json:"privilege_level,omitempty"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
}

// EventType classifies a security event.
type EventType string

const (
	// AI-related events (from shadow-AI sensors)
	EventAIDataAccess      EventType = "AI_DATA_ACCESS"
	EventAIPromptSensitive EventType = "AI_PROMPT_SENSITIVE"
	EventAIAPIIntegration  EventType = "AI_API_INTEGRATION"
	EventAIAgentPrivAccess EventType = "AI_AGENT_PRIV_ACCESS"
	EventUnsanctionedAI    EventType = "UNSANCTIONED_AI_TOOL"

	// General system events
	EventSystemAccess       EventType = "SYSTEM_ACCESS"
	EventSystemAuthFailure  EventType = "SYSTEM_AUTH_FAILURE"
	EventPrivilegeEscalation EventType = "PRIVILEGE_ESCALATION"

	// Data movement events
	EventDataMovement    EventType = "DATA_MOVEMENT"
	EventDataExport      EventType = "DATA_EXPORT"
	EventDataAggregation EventType = "DATA_AGGREGATION"
)

// IsValid checks if the event type is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventAIDataAccess, EventAIPromptSensitive, EventAIAPIIntegration,
		EventAIAgentPrivAccess, EventUnsanctionedAI,
		EventSystemAccess, EventSystemAuthFailure, EventPrivilegeEscalation,
		EventDataMovement, EventDataExport, EventDataAggregation:
		return true
	}
	return false
}

// ExposureDirection classifies the risk vector of an event by where
// data or access is flowing.
type ExposureDirection string

const (
	ExposureInternalToExternal ExposureDirection = "internal_to_external"
	ExposureInternalToAI       ExposureDirection = "internal_to_ai"
	ExposureAIToInternal       ExposureDirection = "ai_to_internal"
	ExposureExternalToInternal ExposureDirection = "external_to_internal"
	ExposureInternalToInternal ExposureDirection = "internal_to_internal"
)

// IsValid checks if the exposure direction is a known value.
func (d ExposureDirection) IsValid() bool {
	switch d {
	case ExposureInternalToExternal, ExposureInternalToAI, ExposureAIToInternal,
		ExposureExternalToInternal, ExposureInternalToInternal:
		return true
	}
	return false
}

// Outbound reports whether the direction is any internal_to_* flow.
func (d ExposureDirection) Outbound() bool {
	switch d {
	case ExposureInternalToExternal, ExposureInternalToAI, ExposureInternalToInternal:
		return true
	}
	return false
}

// SensitivityTag is a likelihood-based hint about the sensitivity of data
// involved in an event. Tags are hints for scoring, not confirmations.
type SensitivityTag string

const (
	TagFinancial            SensitivityTag = "financial_related"
	TagHealth               SensitivityTag = "health_related"
	TagIdentity             SensitivityTag = "identity_related"
	TagIntellectualProperty SensitivityTag = "intellectual_property"
	TagCredentials          SensitivityTag = "credentials_related"
	TagRegulated            SensitivityTag = "regulated_data"
)

// IsValid checks if the sensitivity tag is a known value.
func (s SensitivityTag) IsValid() bool {
	switch s {
	case TagFinancial, TagHealth, TagIdentity, TagIntellectualProperty,
		TagCredentials, TagRegulated:
		return true
	}
	return false
}

// PrivilegeLevel is the access level used in an event.
type PrivilegeLevel string

const (
	PrivilegeRead       PrivilegeLevel = "read"
	PrivilegeWrite      PrivilegeLevel = "write"
	PrivilegeAdmin      PrivilegeLevel = "admin"
	PrivilegeSuperAdmin PrivilegeLevel = "super_admin"
	PrivilegeUnknown    PrivilegeLevel = "unknown"
)

// Weight returns the risk weight associated with a privilege level.
func (p PrivilegeLevel) Weight() float64 {
	switch p {
	case PrivilegeRead:
		return 0.2
	case PrivilegeWrite:
		return 0.4
	case PrivilegeAdmin:
		return 0.7
	case PrivilegeSuperAdmin:
		return 1.0
	default:
		return 0.5
	}
}

// Privileged reports whether the level grants administrative access.
func (p PrivilegeLevel) Privileged() bool {
	return p == PrivilegeAdmin || p == PrivilegeSuperAdmin
}

// EntityType classifies entities in the risk graph.
type EntityType string

const (
	EntityDataStore EntityType = "data_store"
	EntityService   EntityType = "service"
	EntityAITool    EntityType = "ai_tool"
	EntityIdentity  EntityType = "identity"
	EntityAPI       EntityType = "api"
	EntityExternal  EntityType = "external"
	EntityUnknown   EntityType = "unknown"
)

// Severity ranks the impact of an event or finding.
// The order low < medium < high < critical is load-bearing: correlation
// groups and findings only ever escalate.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the total-order position of the severity. Unknown values
// rank below low so they can never displace a real severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Max returns the higher-ranked of the two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// RiskLevel buckets a composite score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity maps a risk level onto the finding severity scale.
// Minimal has no severity mapping and returns low.
func (r RiskLevel) Severity() Severity {
	switch r {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

package correlation

import (
	"strings"
	"time"

	"riskforge/internal/schema"
)

// Type classifies what kind of risk pattern a correlation group represents.
// Derived from the event type of the group's first event.
type Type string

const (
	TypeAIExposure       Type = "ai_exposure"
	TypeAIIntegration    Type = "ai_integration"
	TypeShadowAI         Type = "shadow_ai"
	TypePrivEscalation   Type = "privilege_escalation"
	TypeAccessPattern    Type = "access_pattern"
	TypeAuthFailure      Type = "auth_failure"
	TypeDataMovement     Type = "data_movement"
	TypeDataExfiltration Type = "data_exfiltration"
	TypeDataAggregation  Type = "data_aggregation"
	TypeUnknown          Type = "unknown"
)

// TypeForEvent maps an event type onto a correlation type.
func TypeForEvent(et schema.EventType) Type {
	switch et {
	case schema.EventAIDataAccess, schema.EventAIPromptSensitive:
		return TypeAIExposure
	case schema.EventAIAPIIntegration:
		return TypeAIIntegration
	case schema.EventUnsanctionedAI:
		return TypeShadowAI
	case schema.EventAIAgentPrivAccess, schema.EventPrivilegeEscalation:
		return TypePrivEscalation
	case schema.EventSystemAccess:
		return TypeAccessPattern
	case schema.EventSystemAuthFailure:
		return TypeAuthFailure
	case schema.EventDataMovement:
		return TypeDataMovement
	case schema.EventDataExport:
		return TypeDataExfiltration
	case schema.EventDataAggregation:
		return TypeDataAggregation
	}
	return TypeUnknown
}

// Status is the lifecycle status of a correlation group. A group closes
// when a finding is produced from it and never reopens.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Group is a time-windowed cluster of related events sharing a fingerprint.
type Group struct {
	CorrelationID string `json:"correlation_id"`
	Fingerprint   string `json:"fingerprint"`
	Type          Type   `json:"correlation_type"`

	// WindowEnd may only extend forward, never retreat.
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// Members is the ordered list of events folded into the group.
	Members    []schema.EventRef  `json:"members"`
	EventTypes []schema.EventType `json:"event_types"`

	PrimaryEntityID   string            `json:"primary_entity_id"`
	PrimaryEntityType schema.EntityType `json:"primary_entity_type"`
	RelatedEntityIDs  []string          `json:"related_entity_ids"`

	// MaxSeverity is monotonic non-decreasing across merges.
	MaxSeverity     schema.Severity         `json:"max_severity"`
	SensitivityTags []schema.SensitivityTag `json:"sensitivity_tags"`
	TotalDataVolume int64                   `json:"total_data_volume"`

	Status    Status    `json:"status"`
	FindingID string    `json:"finding_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventCount returns the number of member events.
func (g *Group) EventCount() int {
	return len(g.Members)
}

// Covers reports whether the group's window still covers a timestamp.
func (g *Group) Covers(ts time.Time) bool {
	return !ts.After(g.WindowEnd)
}

// merge folds an event into the group, updating every aggregate.
// Callers must hold the group's fingerprint lock.
func (g *Group) merge(ev *schema.Event, grace time.Duration) {
	g.Members = append(g.Members, schema.EventRef{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		Timestamp: ev.Timestamp,
	})

	if !containsEventType(g.EventTypes, ev.EventType) {
		g.EventTypes = append(g.EventTypes, ev.EventType)
	}

	if ev.IdentityID != "" && !containsString(g.RelatedEntityIDs, ev.IdentityID) {
		g.RelatedEntityIDs = append(g.RelatedEntityIDs, ev.IdentityID)
	}
	if !containsString(g.RelatedEntityIDs, ev.SourceSystemID) {
		g.RelatedEntityIDs = append(g.RelatedEntityIDs, ev.SourceSystemID)
	}

	for _, tag := range ev.SensitivityTags {
		if !containsTag(g.SensitivityTags, tag) {
			g.SensitivityTags = append(g.SensitivityTags, tag)
		}
	}

	g.MaxSeverity = g.MaxSeverity.Max(SeverityForEvent(ev))
	g.TotalDataVolume += ev.DataVolumeEstimate

	if extended := ev.Timestamp.Add(grace); extended.After(g.WindowEnd) {
		g.WindowEnd = extended
	}

	g.UpdatedAt = time.Now().UTC()
}

// clone returns a deep copy so callers outside the fingerprint lock never
// observe a group mid-merge.
func (g *Group) clone() *Group {
	cp := *g
	cp.Members = append([]schema.EventRef(nil), g.Members...)
	cp.EventTypes = append([]schema.EventType(nil), g.EventTypes...)
	cp.RelatedEntityIDs = append([]string(nil), g.RelatedEntityIDs...)
	cp.SensitivityTags = append([]schema.SensitivityTag(nil), g.SensitivityTags...)
	return &cp
}

// InferEntityType guesses an entity type from its id naming convention.
func InferEntityType(entityID string) schema.EntityType {
	id := strings.ToLower(entityID)
	switch {
	case strings.HasPrefix(id, "datastore:"), strings.HasPrefix(id, "ds-"):
		return schema.EntityDataStore
	case strings.HasPrefix(id, "service:"), strings.HasPrefix(id, "svc-"):
		return schema.EntityService
	case strings.HasPrefix(id, "identity:"), strings.HasPrefix(id, "user:"):
		return schema.EntityIdentity
	case strings.HasPrefix(id, "api:"):
		return schema.EntityAPI
	case strings.HasPrefix(id, "ai:"), strings.Contains(id, "chatgpt"):
		return schema.EntityAITool
	}
	return schema.EntityUnknown
}

// SeverityForEvent applies the fixed per-event severity rule table.
// The rules are evaluated strictly in order.
func SeverityForEvent(ev *schema.Event) schema.Severity {
	privileged := ev.PrivilegeLevel.Privileged()
	tagged := len(ev.SensitivityTags) > 0
	risky := ev.ExposureDirection == schema.ExposureInternalToExternal ||
		ev.ExposureDirection == schema.ExposureInternalToAI

	switch {
	case privileged && tagged && ev.ExposureDirection.Outbound():
		return schema.SeverityCritical
	case risky && tagged:
		return schema.SeverityHigh
	case risky || privileged:
		return schema.SeverityMedium
	}
	return schema.SeverityLow
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsEventType(list []schema.EventType, t schema.EventType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsTag(list []schema.SensitivityTag, t schema.SensitivityTag) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

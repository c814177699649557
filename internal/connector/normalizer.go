package connector

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"riskforge/internal/schema"
)

// ErrUnknownKind is returned when a record's kind has no schema mapping.
var ErrUnknownKind = errors.New("unknown activity kind")

// KindMappings maps gateway activity kinds to canonical event types.
var KindMappings = map[string]schema.EventType{
	"ai.data.access":              schema.EventAIDataAccess,
	"ai.prompt.sensitive":         schema.EventAIPromptSensitive,
	"ai.api.integration":          schema.EventAIAPIIntegration,
	"ai.agent.privileged":         schema.EventAIAgentPrivAccess,
	"ai.tool.unsanctioned":        schema.EventUnsanctionedAI,
	"system.access":               schema.EventSystemAccess,
	"system.auth.failure":         schema.EventSystemAuthFailure,
	"system.privilege.escalation": schema.EventPrivilegeEscalation,
	"data.movement":               schema.EventDataMovement,
	"data.export":                 schema.EventDataExport,
	"data.aggregation":            schema.EventDataAggregation,
}

var directionMappings = map[string]schema.ExposureDirection{
	"internal_to_external": schema.ExposureInternalToExternal,
	"internal_to_ai":       schema.ExposureInternalToAI,
	"ai_to_internal":       schema.ExposureAIToInternal,
	"external_to_internal": schema.ExposureExternalToInternal,
	"internal_to_internal": schema.ExposureInternalToInternal,
	"outbound":             schema.ExposureInternalToExternal,
	"inbound":              schema.ExposureExternalToInternal,
	"to_ai":                schema.ExposureInternalToAI,
	"from_ai":              schema.ExposureAIToInternal,
}

var privilegeMappings = map[string]schema.PrivilegeLevel{
	"read":        schema.PrivilegeRead,
	"write":       schema.PrivilegeWrite,
	"admin":       schema.PrivilegeAdmin,
	"super_admin": schema.PrivilegeSuperAdmin,
	"root":        schema.PrivilegeSuperAdmin,
}

var tagMappings = map[string]schema.SensitivityTag{
	"financial_related":     schema.TagFinancial,
	"financial":             schema.TagFinancial,
	"health_related":        schema.TagHealth,
	"health":                schema.TagHealth,
	"phi":                   schema.TagHealth,
	"identity_related":      schema.TagIdentity,
	"identity":              schema.TagIdentity,
	"pii":                   schema.TagIdentity,
	"intellectual_property": schema.TagIntellectualProperty,
	"ip":                    schema.TagIntellectualProperty,
	"credentials_related":   schema.TagCredentials,
	"credentials":           schema.TagCredentials,
	"secrets":               schema.TagCredentials,
	"regulated_data":        schema.TagRegulated,
	"regulated":             schema.TagRegulated,
}

// Normalizer converts gateway activity records to canonical events.
type Normalizer struct {
	defaultSource string
}

// NewNormalizer creates a normalizer. defaultSource is used when a
// record carries no source system of its own.
func NewNormalizer(defaultSource string) *Normalizer {
	if defaultSource == "" {
		defaultSource = "upstream-gateway"
	}
	return &Normalizer{defaultSource: defaultSource}
}

// Normalize converts one activity record to a canonical event. Records
// with an unmapped kind return ErrUnknownKind.
func (n *Normalizer) Normalize(rec *ActivityRecord) (*schema.Event, error) {
	eventType, ok := KindMappings[rec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, rec.Kind)
	}

	eventID := rec.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	source := rec.SourceSystem
	if source == "" {
		source = n.defaultSource
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ev := &schema.Event{
		EventID:            eventID,
		EventType:          eventType,
		Timestamp:          ts,
		SourceSystemID:     source,
		TargetEntityID:     rec.Resource,
		IdentityID:         rec.Actor,
		SensitivityTags:    n.mapTags(rec.Tags),
		ExposureDirection:  n.mapDirection(rec.Direction),
		DataVolumeEstimate: rec.Bytes,
		PrivilegeLevel:     n.mapPrivilege(rec.Privilege),
		Metadata: map[string]any{
			"upstream_record_id": rec.ID,
			"upstream_kind":      rec.Kind,
		},
	}

	if rec.Blocked {
		ev.Metadata["upstream_blocked"] = true
	}
	for k, v := range rec.Detail {
		ev.Metadata["upstream_"+k] = v
	}

	return ev, nil
}

func (n *Normalizer) mapDirection(direction string) schema.ExposureDirection {
	if d, ok := directionMappings[direction]; ok {
		return d
	}
	return schema.ExposureInternalToInternal
}

func (n *Normalizer) mapPrivilege(privilege string) schema.PrivilegeLevel {
	if p, ok := privilegeMappings[privilege]; ok {
		return p
	}
	return schema.PrivilegeUnknown
}

// mapTags keeps only tags that map to a known sensitivity class and
// deduplicates aliases that collapse to the same tag.
func (n *Normalizer) mapTags(tags []string) []schema.SensitivityTag {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[schema.SensitivityTag]bool, len(tags))
	var out []schema.SensitivityTag
	for _, t := range tags {
		mapped, ok := tagMappings[t]
		if !ok || seen[mapped] {
			continue
		}
		seen[mapped] = true
		out = append(out, mapped)
	}
	return out
}

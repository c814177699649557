// Package alerting delivers finding and response-action notifications to
// external channels (webhooks, Slack, PagerDuty) with retry and dead
// letter handling.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"riskforge/internal/autonomous"
	"riskforge/internal/schema"
)

// NotificationKind distinguishes what a notification is about.
type NotificationKind string

const (
	KindFinding        NotificationKind = "finding"
	KindAction         NotificationKind = "action"
	KindApprovalNeeded NotificationKind = "approval_needed"
)

// Notification is the channel-independent message format. Channels render
// it into their own wire shape.
type Notification struct {
	ID        string            `json:"id"`
	Kind      NotificationKind  `json:"kind"`
	Severity  schema.Severity   `json:"severity"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	EntityID  string            `json:"entity_id,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NotificationChannel delivers notifications to one destination.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// FromFinding renders a finding into a notification.
func FromFinding(f *schema.Finding) *Notification {
	fields := map[string]string{
		"finding_id":   f.FindingID,
		"finding_type": f.FindingType,
		"risk_score":   fmt.Sprintf("%.2f", f.RiskScore),
		"occurrences":  fmt.Sprintf("%d", f.OccurrenceCount),
		"evidence":     fmt.Sprintf("%d", f.EvidenceCount),
	}
	if f.SLADueAt != nil {
		fields["sla_due_at"] = f.SLADueAt.UTC().Format(time.RFC3339)
	}
	return &Notification{
		ID:        uuid.NewString(),
		Kind:      KindFinding,
		Severity:  f.Severity,
		Title:     f.Title,
		Body:      f.Description,
		EntityID:  f.PrimaryEntityID,
		Tags:      append([]string(nil), f.Tags...),
		Fields:    fields,
		CreatedAt: time.Now().UTC(),
	}
}

// FromAction renders a response action into a notification. The kind
// carries whether this is an executed alert or an approval request.
func FromAction(a *autonomous.Action, kind NotificationKind) *Notification {
	title := fmt.Sprintf("Response action %s on %s", a.ActionType, a.TargetID)
	body := fmt.Sprintf("Action %s (%s) on %s %s is %s.",
		a.ActionID, a.ActionType, a.TargetType, a.TargetID, a.Status)
	if kind == KindApprovalNeeded {
		title = fmt.Sprintf("Approval required: %s on %s", a.ActionType, a.TargetID)
		body = fmt.Sprintf("Action %s (%s) on %s %s is awaiting approval.",
			a.ActionID, a.ActionType, a.TargetType, a.TargetID)
	}
	return &Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: severityForPriority(a.Priority),
		Title:    title,
		Body:     body,
		EntityID: a.TargetID,
		Fields: map[string]string{
			"action_id":   a.ActionID,
			"action_type": string(a.ActionType),
			"target_type": a.TargetType,
			"priority":    fmt.Sprintf("%d", a.Priority),
			"status":      string(a.Status),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func severityForPriority(p autonomous.Priority) schema.Severity {
	switch p {
	case autonomous.PriorityEmergency, autonomous.PriorityCritical:
		return schema.SeverityCritical
	case autonomous.PriorityHigh:
		return schema.SeverityHigh
	case autonomous.PriorityMedium:
		return schema.SeverityMedium
	}
	return schema.SeverityLow
}

func severityTag(s schema.Severity) string {
	return strings.ToUpper(string(s))
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"riskforge/internal/autonomous"
	"riskforge/internal/schema"
)

// Topics names the output topics of the pipeline.
type Topics struct {
	Findings   string `json:"findings" yaml:"findings"`
	RiskEvents string `json:"risk_events" yaml:"risk_events"`
	DLQ        string `json:"dlq" yaml:"dlq"`
}

// DefaultTopics returns the default topic layout.
func DefaultTopics() Topics {
	return Topics{
		Findings:   "riskforge-findings",
		RiskEvents: "riskforge-risk-events",
		DLQ:        "security-events-dlq",
	}
}

// EventPublisher fans pipeline outputs onto their topics. Findings are
// keyed by fingerprint and risk events by node id so consumers see each
// stream in order per entity.
type EventPublisher struct {
	producer *Producer
	topics   Topics
	logger   *slog.Logger
}

// NewEventPublisher creates a publisher over an open producer.
func NewEventPublisher(producer *Producer, topics Topics, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		producer: producer,
		topics:   topics,
		logger:   logger.With("component", "event_publisher"),
	}
}

// PublishFinding emits a finding snapshot to the findings topic.
func (p *EventPublisher) PublishFinding(ctx context.Context, f *schema.Finding) error {
	value, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("kafka: marshal finding %s: %w", f.FindingID, err)
	}
	if err := p.producer.ProduceWithTopic(ctx, p.topics.Findings, []byte(f.Fingerprint), value); err != nil {
		return fmt.Errorf("kafka: publish finding %s: %w", f.FindingID, err)
	}
	p.logger.Debug("finding published", "finding_id", f.FindingID, "severity", f.Severity)
	return nil
}

// PublishRiskEvent emits a risk state transition to the risk events topic.
func (p *EventPublisher) PublishRiskEvent(ctx context.Context, ev *autonomous.RiskEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal risk event %s: %w", ev.EventID, err)
	}
	if err := p.producer.ProduceWithTopic(ctx, p.topics.RiskEvents, []byte(ev.NodeID), value); err != nil {
		return fmt.Errorf("kafka: publish risk event %s: %w", ev.EventID, err)
	}
	return nil
}

// DeadLetter forwards an event that failed processing to the DLQ with the
// failure reason alongside the original payload.
func (p *EventPublisher) DeadLetter(ctx context.Context, key, raw []byte, reason string) error {
	// The payload is carried as a string: dead-lettered events are often
	// not valid JSON themselves.
	envelope, err := json.Marshal(map[string]any{
		"reason":  reason,
		"payload": string(raw),
	})
	if err != nil {
		return fmt.Errorf("kafka: marshal dead letter: %w", err)
	}
	if err := p.producer.ProduceWithTopic(ctx, p.topics.DLQ, key, envelope); err != nil {
		return fmt.Errorf("kafka: publish dead letter: %w", err)
	}
	p.logger.Warn("event dead-lettered", "reason", reason)
	return nil
}

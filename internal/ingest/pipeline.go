package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"riskforge/internal/correlation"
	"riskforge/internal/finding"
	"riskforge/internal/graph"
	"riskforge/internal/kafka"
	"riskforge/internal/queue"
	"riskforge/internal/schema"
	"riskforge/internal/scoring"
	"riskforge/internal/storage"
)

// Correlator runs an event through deduplication and correlation.
type Correlator interface {
	Process(ctx context.Context, ev *schema.Event) (correlation.Result, error)
}

// Scorer recomputes an entity's risk after new activity.
type Scorer interface {
	Score(ctx context.Context, entityID string, events []*schema.Event, updateGraph bool) (*scoring.Result, error)
}

// RiskObserver receives fresh composite scores on the 0 to 100 scale.
type RiskObserver interface {
	Observe(ctx context.Context, nodeID, nodeType string, score float64)
}

// ScoreSynthesizer evaluates a scoring result for finding generation.
// Returns an empty finding id when the score does not warrant one.
type ScoreSynthesizer interface {
	FromScore(ctx context.Context, in finding.ScoreInput) (findingID string, err error)
}

// DeadLetterer forwards unprocessable events to the dead letter topic.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, key, raw []byte, reason string) error
}

// Quarantiner stores invalid events for later inspection.
type Quarantiner interface {
	Write(ctx context.Context, entry *storage.QuarantineEntry) error
}

// recentEventsDepth bounds the per-entity activity buffer fed to the
// scoring rules.
const recentEventsDepth = 50

// Pipeline is the event processing core. Every intake path (Kafka, HTTP)
// funnels events through Process, which fans one event out to raw
// storage, the risk graph, correlation, scoring, score-driven finding
// synthesis, and the autonomous monitor. A failure in one downstream
// leg never blocks the others;
// only correlation failures abort processing.
type Pipeline struct {
	validator  *schema.Validator
	queue      *queue.RingBuffer
	graph      graph.Store
	correlator Correlator
	scorer     Scorer
	observer   RiskObserver
	findings   ScoreSynthesizer
	dlq        DeadLetterer
	quarantine Quarantiner
	logger     *slog.Logger

	mu     sync.Mutex
	recent map[string][]*schema.Event

	processed   atomic.Uint64
	duplicates  atomic.Uint64
	malformed   atomic.Uint64
	deadLetters atomic.Uint64
}

// PipelineDeps bundles the pipeline's collaborators. Queue, graph, and
// correlator are required; the rest degrade to no-ops when nil.
type PipelineDeps struct {
	Validator  *schema.Validator
	Queue      *queue.RingBuffer
	Graph      graph.Store
	Correlator Correlator
	Scorer     Scorer
	Observer   RiskObserver
	Findings   ScoreSynthesizer
	DLQ        DeadLetterer
	Quarantine Quarantiner
	Logger     *slog.Logger
}

// NewPipeline creates the processing pipeline.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := deps.Validator
	if validator == nil {
		validator = schema.NewValidator()
	}
	return &Pipeline{
		validator:  validator,
		queue:      deps.Queue,
		graph:      deps.Graph,
		correlator: deps.Correlator,
		scorer:     deps.Scorer,
		observer:   deps.Observer,
		findings:   deps.Findings,
		dlq:        deps.DLQ,
		quarantine: deps.Quarantine,
		logger:     logger.With("component", "pipeline"),
		recent:     make(map[string][]*schema.Event),
	}
}

// HandleMessage is the kafka.MessageHandler for the security events
// topic. Malformed and invalid events are quarantined and acknowledged;
// processing failures go to the DLQ and are acknowledged. The returned
// error is always nil so the consumer never redelivers an event this
// pipeline has already dispositioned.
func (p *Pipeline) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var ev schema.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		p.malformed.Add(1)
		p.logger.Warn("malformed event dropped",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err)
		p.quarantineRaw(ctx, msg, nil, "malformed_json", err)
		return nil
	}

	if err := p.validator.Validate(&ev); err != nil {
		p.malformed.Add(1)
		p.logger.Warn("invalid event dropped",
			"event_id", ev.EventID,
			"source", ev.SourceSystemID,
			"error", err)
		p.quarantineRaw(ctx, msg, &ev, "validation_failed", err)
		return nil
	}

	if err := p.Process(ctx, &ev); err != nil {
		p.deadLetters.Add(1)
		p.logger.Error("event processing failed",
			"event_id", ev.EventID,
			"error", err)
		if p.dlq != nil {
			if dlqErr := p.dlq.DeadLetter(ctx, []byte(ev.EventID), msg.Value, err.Error()); dlqErr != nil {
				p.logger.Error("dead letter publish failed", "event_id", ev.EventID, "error", dlqErr)
			}
		}
		return nil
	}
	return nil
}

func (p *Pipeline) quarantineRaw(ctx context.Context, msg kafka.Message, ev *schema.Event, code string, cause error) {
	if p.quarantine == nil {
		return
	}
	entry := &storage.QuarantineEntry{
		RawEvent:         string(msg.Value),
		SourceTopic:      msg.Topic,
		ValidationErrors: []string{cause.Error()},
		ErrorCode:        code,
	}
	if ev != nil {
		entry.SourceSystemID = ev.SourceSystemID
	}
	if err := p.quarantine.Write(ctx, entry); err != nil {
		p.logger.Error("quarantine write failed", "error", err)
	}
}

// Process runs one validated event through the pipeline.
func (p *Pipeline) Process(ctx context.Context, ev *schema.Event) error {
	// Raw event persistence is asynchronous through the ring buffer. A
	// full buffer drops the raw copy but never stalls correlation.
	if p.queue != nil {
		if err := p.queue.Push(ev); err != nil {
			p.logger.Warn("event buffer full, raw copy dropped", "event_id", ev.EventID)
		}
	}

	p.updateGraph(ctx, ev)

	result, err := p.correlator.Process(ctx, ev)
	if err != nil {
		return fmt.Errorf("correlate event %s: %w", ev.EventID, err)
	}
	if !result.IsNew {
		p.duplicates.Add(1)
		return nil
	}
	p.processed.Add(1)

	if ev.TargetEntityID != "" && p.scorer != nil {
		events := p.remember(ev)
		score, err := p.scorer.Score(ctx, ev.TargetEntityID, events, true)
		if err != nil {
			p.logger.Warn("risk scoring failed",
				"entity_id", ev.TargetEntityID,
				"error", err)
			return nil
		}
		if p.observer != nil {
			p.observer.Observe(ctx, score.EntityID, string(score.EntityType), score.Composite*100)
		}
		if p.findings != nil {
			if _, err := p.findings.FromScore(ctx, ScoreInputFromResult(score)); err != nil {
				p.logger.Warn("score-driven finding failed",
					"entity_id", score.EntityID,
					"error", err)
			}
		}
	}
	return nil
}

// updateGraph folds the event's entities and their relationship into the
// risk graph. Graph failures are logged and isolated.
func (p *Pipeline) updateGraph(ctx context.Context, ev *schema.Event) {
	if p.graph == nil {
		return
	}
	now := time.Now().UTC()

	source := graph.Node{
		ID:         ev.SourceSystemID,
		Name:       ev.SourceSystemID,
		NodeType:   correlation.InferEntityType(ev.SourceSystemID),
		IsInternal: true,
		UpdatedAt:  now,
	}
	if err := p.graph.UpsertNode(ctx, source); err != nil {
		p.logger.Warn("graph node upsert failed", "node_id", source.ID, "error", err)
	}

	if ev.TargetEntityID == "" {
		return
	}

	targetType := correlation.InferEntityType(ev.TargetEntityID)
	target := graph.Node{
		ID:             ev.TargetEntityID,
		Name:           ev.TargetEntityID,
		NodeType:       targetType,
		PrivilegeLevel: ev.PrivilegeLevel,
		IsInternal:     !ev.ExposureDirection.Outbound(),
		UpdatedAt:      now,
	}
	if targetType == schema.EntityAITool {
		target.IsInternal = false
	}
	if err := p.graph.UpsertNode(ctx, target); err != nil {
		p.logger.Warn("graph node upsert failed", "node_id", target.ID, "error", err)
	}

	rel := graph.Relationship{
		Kind:            relationshipFor(ev),
		ConnectedID:     ev.TargetEntityID,
		ConnectedType:   targetType,
		DataVolumeBytes: ev.DataVolumeEstimate,
	}
	if err := p.graph.UpsertRelationship(ctx, ev.SourceSystemID, rel); err != nil {
		p.logger.Warn("graph edge upsert failed",
			"from", ev.SourceSystemID,
			"to", ev.TargetEntityID,
			"error", err)
	}
}

// relationshipFor maps an event type to the edge kind it establishes.
func relationshipFor(ev *schema.Event) string {
	switch ev.EventType {
	case schema.EventAIAPIIntegration, schema.EventUnsanctionedAI:
		return graph.RelIntegratesWith
	case schema.EventAIDataAccess, schema.EventAIAgentPrivAccess, schema.EventSystemAccess:
		return graph.RelAccesses
	case schema.EventDataExport, schema.EventDataMovement:
		return graph.RelConnectsTo
	case schema.EventPrivilegeEscalation:
		return graph.RelManages
	}
	return graph.RelAccesses
}

// remember appends the event to the target entity's bounded activity
// buffer and returns a snapshot.
func (p *Pipeline) remember(ev *schema.Event) []*schema.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	ring := append(p.recent[ev.TargetEntityID], ev)
	if len(ring) > recentEventsDepth {
		ring = ring[len(ring)-recentEventsDepth:]
	}
	p.recent[ev.TargetEntityID] = ring
	out := make([]*schema.Event, len(ring))
	copy(out, ring)
	return out
}

// PipelineMetrics holds pipeline counters.
type PipelineMetrics struct {
	Processed   uint64 `json:"processed"`
	Duplicates  uint64 `json:"duplicates"`
	Malformed   uint64 `json:"malformed"`
	DeadLetters uint64 `json:"dead_letters"`
}

// Metrics returns a snapshot of the pipeline counters.
func (p *Pipeline) Metrics() PipelineMetrics {
	return PipelineMetrics{
		Processed:   p.processed.Load(),
		Duplicates:  p.duplicates.Load(),
		Malformed:   p.malformed.Load(),
		DeadLetters: p.deadLetters.Load(),
	}
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"riskforge/internal/correlation"
	"riskforge/internal/finding"
	"riskforge/internal/graph"
	"riskforge/internal/kafka"
	"riskforge/internal/schema"
	"riskforge/internal/scoring"
	"riskforge/internal/storage"
)

type fakeCorrelator struct {
	mu    sync.Mutex
	calls int
	isNew bool
	err   error
}

func (f *fakeCorrelator) Process(_ context.Context, _ *schema.Event) (correlation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return correlation.Result{}, f.err
	}
	return correlation.Result{IsNew: f.isNew, CorrelationID: "corr-1"}, nil
}

type fakeObserver struct {
	mu     sync.Mutex
	scores []float64
	nodes  []string
}

func (f *fakeObserver) Observe(_ context.Context, nodeID, _ string, score float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append(f.nodes, nodeID)
	f.scores = append(f.scores, score)
}

type fakeDLQ struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeDLQ) DeadLetter(_ context.Context, _, _ []byte, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeQuarantine struct {
	mu      sync.Mutex
	entries []*storage.QuarantineEntry
}

func (f *fakeQuarantine) Write(_ context.Context, entry *storage.QuarantineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func validEvent() *schema.Event {
	return &schema.Event{
		EventID:           uuid.NewString(),
		EventType:         schema.EventAIDataAccess,
		Timestamp:         time.Now().UTC(),
		SourceSystemID:    "svc-export",
		TargetEntityID:    "ds-customers",
		ExposureDirection: schema.ExposureInternalToAI,
		PrivilegeLevel:    schema.PrivilegeAdmin,
		SensitivityTags:   []schema.SensitivityTag{schema.TagFinancial},
	}
}

func TestProcess_ScoresAndObserves(t *testing.T) {
	gs := graph.NewMemoryStore()
	corr := &fakeCorrelator{isNew: true}
	obs := &fakeObserver{}
	p := NewPipeline(PipelineDeps{
		Graph:      gs,
		Correlator: corr,
		Scorer:     scoring.NewEngine(gs, nil, nil, nil),
		Observer:   obs,
	})

	if err := p.Process(context.Background(), validEvent()); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if corr.calls != 1 {
		t.Errorf("correlator calls = %d, want 1", corr.calls)
	}
	if len(obs.scores) != 1 {
		t.Fatalf("observer calls = %d, want 1", len(obs.scores))
	}
	if obs.nodes[0] != "ds-customers" {
		t.Errorf("observed node = %q, want ds-customers", obs.nodes[0])
	}
	if obs.scores[0] <= 0 || obs.scores[0] > 100 {
		t.Errorf("observed score = %v, want within (0, 100]", obs.scores[0])
	}

	nwr, err := gs.GetNodeWithRelationships(context.Background(), "svc-export")
	if err != nil {
		t.Fatalf("source node missing from graph: %v", err)
	}
	if len(nwr.Relationships) != 1 || nwr.Relationships[0].ConnectedID != "ds-customers" {
		t.Errorf("relationships = %+v, want one edge to ds-customers", nwr.Relationships)
	}
	if nwr.Relationships[0].Kind != graph.RelAccesses {
		t.Errorf("edge kind = %q, want %q", nwr.Relationships[0].Kind, graph.RelAccesses)
	}
}

func TestProcess_HighScoreProducesFinding(t *testing.T) {
	ctx := context.Background()
	gs := graph.NewMemoryStore()
	// Two AI tool integrations carrying significant volume push the
	// entity's first composite score above the medium threshold.
	for _, id := range []string{"ai:copilot", "ai:summarizer"} {
		if err := gs.UpsertRelationship(ctx, "ds-customer-financial-ssn", graph.Relationship{
			Kind:            graph.RelIntegratesWith,
			ConnectedID:     id,
			ConnectedType:   schema.EntityAITool,
			DataVolumeBytes: 20_000_000,
		}); err != nil {
			t.Fatalf("seed edge: %v", err)
		}
	}

	store := finding.NewMemoryStore()
	p := NewPipeline(PipelineDeps{
		Graph:      gs,
		Correlator: &fakeCorrelator{isNew: true},
		Scorer:     scoring.NewEngine(gs, nil, nil, nil),
		Findings:   finding.NewSynthesizer(store, nil, nil),
	})

	ev := validEvent()
	ev.TargetEntityID = "ds-customer-financial-ssn"
	ev.PrivilegeLevel = schema.PrivilegeSuperAdmin
	if err := p.Process(ctx, ev); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	findings, total, err := store.List(ctx, finding.Filter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 1 {
		t.Fatalf("findings = %d, want 1 from the score path", total)
	}
	f := findings[0]
	if f.PrimaryEntityID != "ds-customer-financial-ssn" {
		t.Errorf("primary entity = %q, want ds-customer-financial-ssn", f.PrimaryEntityID)
	}
	if f.Severity != schema.SeverityMedium {
		t.Errorf("severity = %q, want medium", f.Severity)
	}
	if f.Status != schema.FindingOpen {
		t.Errorf("status = %q, want open", f.Status)
	}
	if f.RiskScore < finding.MediumScoreThreshold {
		t.Errorf("risk score = %v, want >= %v", f.RiskScore, finding.MediumScoreThreshold)
	}
	if f.FindingType != "ai_exposure" {
		t.Errorf("finding type = %q, want ai_exposure", f.FindingType)
	}
	if f.SLADueAt == nil {
		t.Error("SLA deadline not set")
	}
}

func TestProcess_LowScoreProducesNoFinding(t *testing.T) {
	ctx := context.Background()
	gs := graph.NewMemoryStore()
	store := finding.NewMemoryStore()
	p := NewPipeline(PipelineDeps{
		Graph:      gs,
		Correlator: &fakeCorrelator{isNew: true},
		Scorer:     scoring.NewEngine(gs, nil, nil, nil),
		Findings:   finding.NewSynthesizer(store, nil, nil),
	})

	// A bare read-level event against an entity with no edges and no
	// sensitive naming stays far below every threshold.
	ev := validEvent()
	ev.TargetEntityID = "node-plain"
	ev.ExposureDirection = schema.ExposureInternalToInternal
	ev.PrivilegeLevel = schema.PrivilegeRead
	ev.SensitivityTags = nil
	if err := p.Process(ctx, ev); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if _, total, _ := store.List(ctx, finding.Filter{}); total != 0 {
		t.Errorf("findings = %d, want 0 for a low score", total)
	}
}

func TestProcess_DuplicateSkipsScoring(t *testing.T) {
	obs := &fakeObserver{}
	gs := graph.NewMemoryStore()
	p := NewPipeline(PipelineDeps{
		Graph:      gs,
		Correlator: &fakeCorrelator{isNew: false},
		Scorer:     scoring.NewEngine(gs, nil, nil, nil),
		Observer:   obs,
	})

	if err := p.Process(context.Background(), validEvent()); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(obs.scores) != 0 {
		t.Errorf("observer called %d times for a duplicate, want 0", len(obs.scores))
	}
	if m := p.Metrics(); m.Duplicates != 1 || m.Processed != 0 {
		t.Errorf("metrics = %+v, want Duplicates=1 Processed=0", m)
	}
}

func TestProcess_CorrelationFailureIsFatal(t *testing.T) {
	p := NewPipeline(PipelineDeps{
		Correlator: &fakeCorrelator{err: errors.New("store down")},
	})
	if err := p.Process(context.Background(), validEvent()); err == nil {
		t.Fatal("Process() = nil error, want correlation failure")
	}
}

func TestHandleMessage_MalformedGoesToQuarantine(t *testing.T) {
	q := &fakeQuarantine{}
	p := NewPipeline(PipelineDeps{
		Correlator: &fakeCorrelator{isNew: true},
		Quarantine: q,
	})

	msg := kafka.Message{Topic: "security-events", Value: []byte("{not json")}
	if err := p.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage() error: %v, want nil (ack)", err)
	}
	if len(q.entries) != 1 {
		t.Fatalf("quarantine entries = %d, want 1", len(q.entries))
	}
	if q.entries[0].ErrorCode != "malformed_json" {
		t.Errorf("error code = %q, want malformed_json", q.entries[0].ErrorCode)
	}
	if m := p.Metrics(); m.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", m.Malformed)
	}
}

func TestHandleMessage_InvalidEventQuarantined(t *testing.T) {
	q := &fakeQuarantine{}
	corr := &fakeCorrelator{isNew: true}
	p := NewPipeline(PipelineDeps{
		Correlator: corr,
		Quarantine: q,
	})

	ev := validEvent()
	ev.EventType = "NOT_A_TYPE"
	raw, _ := json.Marshal(ev)

	if err := p.HandleMessage(context.Background(), kafka.Message{Value: raw}); err != nil {
		t.Fatalf("HandleMessage() error: %v, want nil (ack)", err)
	}
	if len(q.entries) != 1 {
		t.Fatalf("quarantine entries = %d, want 1", len(q.entries))
	}
	if q.entries[0].ErrorCode != "validation_failed" {
		t.Errorf("error code = %q, want validation_failed", q.entries[0].ErrorCode)
	}
	if q.entries[0].SourceSystemID != "svc-export" {
		t.Errorf("source system = %q, want svc-export", q.entries[0].SourceSystemID)
	}
	if corr.calls != 0 {
		t.Errorf("correlator called %d times for an invalid event, want 0", corr.calls)
	}
}

func TestHandleMessage_ProcessingFailureDeadLetters(t *testing.T) {
	dlq := &fakeDLQ{}
	p := NewPipeline(PipelineDeps{
		Correlator: &fakeCorrelator{err: errors.New("store down")},
		DLQ:        dlq,
	})

	raw, _ := json.Marshal(validEvent())
	if err := p.HandleMessage(context.Background(), kafka.Message{Value: raw}); err != nil {
		t.Fatalf("HandleMessage() error: %v, want nil (ack after dead letter)", err)
	}
	if len(dlq.reasons) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dlq.reasons))
	}
	if m := p.Metrics(); m.DeadLetters != 1 {
		t.Errorf("DeadLetters = %d, want 1", m.DeadLetters)
	}
}

func TestRemember_BoundsActivityBuffer(t *testing.T) {
	p := NewPipeline(PipelineDeps{Correlator: &fakeCorrelator{isNew: true}})

	var last []*schema.Event
	for i := 0; i < recentEventsDepth+20; i++ {
		ev := validEvent()
		last = p.remember(ev)
	}
	if len(last) != recentEventsDepth {
		t.Errorf("activity buffer length = %d, want %d", len(last), recentEventsDepth)
	}
}

func TestRelationshipFor(t *testing.T) {
	tests := []struct {
		eventType schema.EventType
		want      string
	}{
		{schema.EventAIAPIIntegration, graph.RelIntegratesWith},
		{schema.EventUnsanctionedAI, graph.RelIntegratesWith},
		{schema.EventAIDataAccess, graph.RelAccesses},
		{schema.EventDataExport, graph.RelConnectsTo},
		{schema.EventPrivilegeEscalation, graph.RelManages},
		{schema.EventSystemAuthFailure, graph.RelAccesses},
	}
	for _, tt := range tests {
		ev := &schema.Event{EventType: tt.eventType}
		if got := relationshipFor(ev); got != tt.want {
			t.Errorf("relationshipFor(%s) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

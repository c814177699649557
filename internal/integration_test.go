package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"riskforge/internal/correlation"
	"riskforge/internal/finding"
	"riskforge/internal/graph"
	"riskforge/internal/ingest"
	"riskforge/internal/queue"
	"riskforge/internal/schema"
	"riskforge/internal/scoring"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testPipeline struct {
	pipeline *ingest.Pipeline
	findings *finding.MemoryStore
	graph    *graph.MemoryStore
	queue    *queue.RingBuffer
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	logger := quietLogger()

	graphStore := graph.NewMemoryStore()
	findingStore := finding.NewMemoryStore()
	synth := finding.NewSynthesizer(findingStore, nil, logger)
	correlator := correlation.NewManager(correlation.DefaultConfig(), nil, synth, logger)
	scorer := scoring.NewEngine(graphStore, scoring.NewRules(scoring.DefaultWeights()), nil, logger)
	eventQueue := queue.NewRingBuffer(100)

	pipeline := ingest.NewPipeline(ingest.PipelineDeps{
		Queue:      eventQueue,
		Graph:      graphStore,
		Correlator: correlator,
		Scorer:     scorer,
		Logger:     logger,
	})

	return &testPipeline{
		pipeline: pipeline,
		findings: findingStore,
		graph:    graphStore,
		queue:    eventQueue,
	}
}

// accessBurst builds three AI data access events against the same data
// store within a ten minute span. The third carries a financial tag, so
// combined with admin privilege and AI-bound exposure it is critical.
func accessBurst(base time.Time) []*schema.Event {
	return []*schema.Event{
		{
			EventID:           "evt-1",
			EventType:         schema.EventAIDataAccess,
			Timestamp:         base,
			SourceSystemID:    "svc-x",
			TargetEntityID:    "ds-customers",
			IdentityID:        "agent-7",
			ExposureDirection: schema.ExposureInternalToAI,
			PrivilegeLevel:    schema.PrivilegeAdmin,
		},
		{
			EventID:           "evt-2",
			EventType:         schema.EventAIDataAccess,
			Timestamp:         base.Add(5 * time.Minute),
			SourceSystemID:    "svc-x",
			TargetEntityID:    "ds-customers",
			IdentityID:        "agent-7",
			ExposureDirection: schema.ExposureInternalToAI,
			PrivilegeLevel:    schema.PrivilegeAdmin,
		},
		{
			EventID:            "evt-3",
			EventType:          schema.EventAIDataAccess,
			Timestamp:          base.Add(10 * time.Minute),
			SourceSystemID:     "svc-x",
			TargetEntityID:     "ds-customers",
			IdentityID:         "agent-7",
			ExposureDirection:  schema.ExposureInternalToAI,
			PrivilegeLevel:     schema.PrivilegeAdmin,
			SensitivityTags:    []schema.SensitivityTag{schema.TagFinancial},
			DataVolumeEstimate: 1 << 20,
		},
	}
}

func TestAccessBurstProducesCriticalFinding(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	base := time.Now().UTC().Add(-10 * time.Minute)

	for _, ev := range accessBurst(base) {
		if err := tp.pipeline.Process(ctx, ev); err != nil {
			t.Fatalf("Process(%s): %v", ev.EventID, err)
		}
	}

	findings, total, err := tp.findings.List(ctx, finding.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Fatalf("findings = %d, want exactly 1", total)
	}

	f := findings[0]
	if f.Severity != schema.SeverityCritical {
		t.Errorf("Severity = %q, want critical", f.Severity)
	}
	if f.PrimaryEntityID != "ds-customers" {
		t.Errorf("PrimaryEntityID = %q, want ds-customers", f.PrimaryEntityID)
	}
	if f.EvidenceCount != 3 {
		t.Errorf("EvidenceCount = %d, want 3", f.EvidenceCount)
	}
	if f.Status != schema.FindingOpen {
		t.Errorf("Status = %q, want open", f.Status)
	}
	if f.SLADueAt == nil {
		t.Fatal("SLADueAt is nil, critical findings carry a 4h deadline")
	}
	wantDue := f.CreatedAt.Add(4 * time.Hour)
	if !f.SLADueAt.Equal(wantDue) {
		t.Errorf("SLADueAt = %v, want %v", f.SLADueAt, wantDue)
	}

	// The data store node was materialized and scored.
	node, err := tp.graph.GetNodeWithRelationships(ctx, "ds-customers")
	if err != nil {
		t.Fatalf("GetNodeWithRelationships: %v", err)
	}
	if node.Node.SensitivityScore <= 0 {
		t.Errorf("SensitivityScore = %v, want > 0 after tagged access", node.Node.SensitivityScore)
	}
}

func TestDuplicateEventDoesNotInflateFinding(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	base := time.Now().UTC().Add(-10 * time.Minute)

	events := accessBurst(base)
	for _, ev := range events {
		if err := tp.pipeline.Process(ctx, ev); err != nil {
			t.Fatalf("Process(%s): %v", ev.EventID, err)
		}
	}

	// Replay the third event. The ledger dedupes it.
	if err := tp.pipeline.Process(ctx, events[2]); err != nil {
		t.Fatalf("replay Process: %v", err)
	}

	metrics := tp.pipeline.Metrics()
	if metrics.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", metrics.Duplicates)
	}

	findings, total, err := tp.findings.List(ctx, finding.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Fatalf("findings = %d, want 1", total)
	}
	if findings[0].EvidenceCount != 3 {
		t.Errorf("EvidenceCount = %d, want 3 after duplicate replay", findings[0].EvidenceCount)
	}
}

func TestHTTPIngestEndToEnd(t *testing.T) {
	tp := newTestPipeline(t)
	handler := ingest.NewHandler(tp.pipeline)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", handler.HandleEvents)
	server := httptest.NewServer(mux)
	defer server.Close()

	base := time.Now().UTC().Add(-10 * time.Minute)
	events := accessBurst(base)
	payload := ingest.IngestRequest{Events: []schema.Event{*events[0], *events[1], *events[2]}}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(server.URL+"/v1/events", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var ingestResp ingest.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ingestResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ingestResp.Accepted != 3 || ingestResp.Rejected != 0 {
		t.Errorf("accepted = %d rejected = %d, want 3/0: %v", ingestResp.Accepted, ingestResp.Rejected, ingestResp.Errors)
	}

	_, total, err := tp.findings.List(context.Background(), finding.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Errorf("findings = %d, want 1", total)
	}
}

package finding

import (
	"context"
	"fmt"
	"testing"
	"time"

	"riskforge/internal/correlation"
	"riskforge/internal/schema"
)

func testGroup(eventCount int, maxSev schema.Severity) *correlation.Group {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &correlation.Group{
		CorrelationID:     "c-test1",
		Fingerprint:       "corr-fp",
		Type:              correlation.TypeAIExposure,
		WindowStart:       start,
		WindowEnd:         start.Add(30 * time.Minute),
		PrimaryEntityID:   "ds-customers",
		PrimaryEntityType: schema.EntityDataStore,
		RelatedEntityIDs:  []string{"svc-x"},
		MaxSeverity:       maxSev,
		SensitivityTags:   []schema.SensitivityTag{schema.TagFinancial},
		Status:            correlation.StatusOpen,
	}
	for i := 0; i < eventCount; i++ {
		g.Members = append(g.Members, schema.EventRef{
			EventID:   fmt.Sprintf("ev-%d", i),
			EventType: schema.EventAIDataAccess,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		})
	}
	return g
}

func TestFromCorrelation_Trigger(t *testing.T) {
	tests := []struct {
		name       string
		eventCount int
		severity   schema.Severity
		want       bool
	}{
		{"low severity below count", 2, schema.SeverityLow, false},
		{"medium severity below count", 2, schema.SeverityMedium, false},
		{"high severity", 1, schema.SeverityHigh, true},
		{"critical severity", 1, schema.SeverityCritical, true},
		{"count threshold", 3, schema.SeverityLow, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := NewSynthesizer(NewMemoryStore(), nil, nil)
			id, err := synth.FromCorrelation(context.Background(), testGroup(tt.eventCount, tt.severity))
			if err != nil {
				t.Fatalf("FromCorrelation: %v", err)
			}
			if got := id != ""; got != tt.want {
				t.Errorf("finding created = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromCorrelation_CreateFields(t *testing.T) {
	store := NewMemoryStore()
	synth := NewSynthesizer(store, nil, nil)

	id, err := synth.FromCorrelation(context.Background(), testGroup(3, schema.SeverityCritical))
	if err != nil {
		t.Fatalf("FromCorrelation: %v", err)
	}

	f, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Status != schema.FindingOpen {
		t.Errorf("status = %s, want open", f.Status)
	}
	if f.Severity != schema.SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Severity)
	}
	if f.RiskScore != 1.0 {
		t.Errorf("risk score = %v, want 1.0", f.RiskScore)
	}
	if f.Title != "AI Tool Data Exposure: ds-customers" {
		t.Errorf("title = %q", f.Title)
	}
	if f.EvidenceCount != 3 || len(f.Evidence) != 3 {
		t.Errorf("evidence count = %d/%d, want 3/3", f.EvidenceCount, len(f.Evidence))
	}
	if f.OccurrenceCount != 1 {
		t.Errorf("occurrences = %d, want 1", f.OccurrenceCount)
	}
	if f.SLADueAt == nil {
		t.Fatal("SLA deadline not set")
	}
	if got := f.SLADueAt.Sub(f.CreatedAt); got != 4*time.Hour {
		t.Errorf("SLA window = %v, want 4h", got)
	}
	if len(f.Recommendations) == 0 || f.Recommendations[0].Action != "review_ai_access" {
		t.Errorf("recommendations = %+v, want review_ai_access first", f.Recommendations)
	}
}

func TestFromCorrelation_MergeByFingerprint(t *testing.T) {
	store := NewMemoryStore()
	synth := NewSynthesizer(store, nil, nil)
	ctx := context.Background()

	first, err := synth.FromCorrelation(ctx, testGroup(3, schema.SeverityCritical))
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	// Same entity, type and window merges; lower severity must not downgrade.
	again := testGroup(3, schema.SeverityMedium)
	again.Members = append(again.Members, schema.EventRef{EventID: "ev-extra", EventType: schema.EventAIDataAccess})
	second, err := synth.FromCorrelation(ctx, again)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second != first {
		t.Fatalf("merge created a new finding: %s vs %s", second, first)
	}

	f, err := store.Get(ctx, first)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Severity != schema.SeverityCritical {
		t.Errorf("severity downgraded to %s", f.Severity)
	}
	if f.OccurrenceCount != 2 {
		t.Errorf("occurrences = %d, want 2", f.OccurrenceCount)
	}
	// ev-0..ev-2 deduplicated, ev-extra appended.
	if len(f.Evidence) != 4 {
		t.Errorf("evidence length = %d, want 4", len(f.Evidence))
	}
	if f.EvidenceCount != 7 {
		t.Errorf("evidence count = %d, want 7", f.EvidenceCount)
	}
}

func TestFromCorrelation_EvidenceCap(t *testing.T) {
	store := NewMemoryStore()
	synth := NewSynthesizer(store, nil, nil)
	ctx := context.Background()

	id, err := synth.FromCorrelation(ctx, testGroup(30, schema.SeverityHigh))
	if err != nil {
		t.Fatalf("FromCorrelation: %v", err)
	}
	f, _ := store.Get(ctx, id)
	if len(f.Evidence) != schema.MaxEvidenceEntries {
		t.Errorf("evidence length = %d, want %d", len(f.Evidence), schema.MaxEvidenceEntries)
	}
}

func TestSeverityForScore(t *testing.T) {
	prev := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		in       ScoreInput
		wantSev  schema.Severity
		wantFind bool
	}{
		{"critical threshold", ScoreInput{Composite: 0.85}, schema.SeverityCritical, true},
		{"high threshold", ScoreInput{Composite: 0.70}, schema.SeverityHigh, true},
		{"medium first scoring", ScoreInput{Composite: 0.55}, schema.SeverityMedium, true},
		{"medium with jump", ScoreInput{Composite: 0.55, Previous: prev(0.35)}, schema.SeverityMedium, true},
		{"medium without jump", ScoreInput{Composite: 0.55, Previous: prev(0.50)}, "", false},
		{"low with sharp jump", ScoreInput{Composite: 0.45, Previous: prev(0.10)}, schema.SeverityLow, true},
		{"low score first scoring", ScoreInput{Composite: 0.30}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, ok := severityForScore(tt.in)
			if ok != tt.wantFind {
				t.Fatalf("triggered = %v, want %v", ok, tt.wantFind)
			}
			if sev != tt.wantSev {
				t.Errorf("severity = %s, want %s", sev, tt.wantSev)
			}
		})
	}
}

func TestFromScore_CreateAndMerge(t *testing.T) {
	store := NewMemoryStore()
	synth := NewSynthesizer(store, nil, nil)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)

	in := ScoreInput{
		EntityID:    "ds-customers",
		EntityType:  schema.EntityDataStore,
		Exposure:    0.9,
		Volatility:  0.2,
		Sensitivity: 0.8,
		Composite:   0.88,
		Level:       schema.RiskCritical,
		AIFactor:    0.7,
		At:          at,
	}
	first, err := synth.FromScore(ctx, in)
	if err != nil {
		t.Fatalf("FromScore: %v", err)
	}
	if first == "" {
		t.Fatal("no finding created for critical score")
	}

	f, _ := store.Get(ctx, first)
	if f.FindingType != "ai_exposure" {
		t.Errorf("finding type = %s, want ai_exposure", f.FindingType)
	}
	if f.RiskScore != 0.88 {
		t.Errorf("risk score = %v, want 0.88", f.RiskScore)
	}

	// Same bucket, lower score merges without creating a second finding.
	in.Composite = 0.86
	in.At = at.Add(5 * time.Minute)
	second, err := synth.FromScore(ctx, in)
	if err != nil {
		t.Fatalf("FromScore merge: %v", err)
	}
	if second != first {
		t.Fatalf("merge created new finding %s, want %s", second, first)
	}
	f, _ = store.Get(ctx, first)
	if f.RiskScore != 0.88 {
		t.Errorf("risk score after merge = %v, want max 0.88", f.RiskScore)
	}
	if f.OccurrenceCount != 2 {
		t.Errorf("occurrences = %d, want 2", f.OccurrenceCount)
	}
}

func TestFromScore_BelowThreshold(t *testing.T) {
	synth := NewSynthesizer(NewMemoryStore(), nil, nil)
	id, err := synth.FromScore(context.Background(), ScoreInput{
		EntityID:   "svc-quiet",
		EntityType: schema.EntityService,
		Composite:  0.2,
		Level:      schema.RiskLow,
	})
	if err != nil {
		t.Fatalf("FromScore: %v", err)
	}
	if id != "" {
		t.Errorf("finding %s created for low score", id)
	}
}

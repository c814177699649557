package autonomous

import (
	"context"
	"testing"

	"riskforge/internal/graph"
	"riskforge/internal/schema"
)

func newTestManager(cfg Config, d *Dispatcher) *Manager {
	return NewManager(cfg, graph.NewMemoryStore(), d, nil, nil)
}

func TestClassify(t *testing.T) {
	m := newTestManager(DefaultConfig(), nil)

	tests := []struct {
		score float64
		want  RiskState
	}{
		{0, StateNormal},
		{59.9, StateNormal},
		{60, StateElevated},
		{74.9, StateElevated},
		{75, StateHigh},
		{84.9, StateHigh},
		{85, StateCritical},
		{94.9, StateCritical},
		{95, StateEmergency},
		{100, StateEmergency},
	}
	for _, tt := range tests {
		if got := m.classify(tt.score); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestStateRankOrder(t *testing.T) {
	ladder := []RiskState{StateNormal, StateElevated, StateHigh, StateCritical, StateEmergency}
	for i := 1; i < len(ladder); i++ {
		if ladder[i].Rank() <= ladder[i-1].Rank() {
			t.Fatalf("%s should outrank %s", ladder[i], ladder[i-1])
		}
	}
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		want    Trend
	}{
		{"single sample", []float64{50}, TrendStable},
		{"rising", []float64{50, 51}, TrendIncreasing},
		{"falling", []float64{51, 50}, TrendDecreasing},
		{"within sensitivity", []float64{50, 50.1}, TrendStable},
		{"window ignores old samples", []float64{0, 0, 0, 100, 100, 100, 100, 100}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(DefaultConfig(), nil)
			m.history["n1"] = tt.history
			if got := m.trendLocked("n1"); got != tt.want {
				t.Fatalf("trend = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestObserve_TransitionsAndReEvaluation(t *testing.T) {
	m := newTestManager(DefaultConfig(), nil)
	ctx := context.Background()

	m.Observe(ctx, "svc-export", "service", 50)
	if got := len(m.Events(0)); got != 0 {
		t.Fatalf("events after normal score = %d, want 0", got)
	}

	m.Observe(ctx, "svc-export", "service", 65)
	if state := m.State("svc-export"); state != StateElevated {
		t.Fatalf("state = %s, want %s", state, StateElevated)
	}
	if got := len(m.Events(0)); got != 1 {
		t.Fatalf("events after transition = %d, want 1", got)
	}

	// Same state below critical does not re-fire.
	m.Observe(ctx, "svc-export", "service", 66)
	if got := len(m.Events(0)); got != 1 {
		t.Fatalf("events after repeat elevated score = %d, want 1", got)
	}

	// Critical entities re-evaluate every observation.
	m.Observe(ctx, "svc-export", "service", 90)
	m.Observe(ctx, "svc-export", "service", 91)
	if got := len(m.Events(0)); got != 3 {
		t.Fatalf("events after critical re-evaluation = %d, want 3", got)
	}

	latest := m.Events(1)[0]
	if latest.State != StateCritical || latest.Trend != TrendIncreasing {
		t.Fatalf("latest event = %s/%s", latest.State, latest.Trend)
	}
	if latest.PreviousScore != 90 {
		t.Fatalf("previous score = %v, want 90", latest.PreviousScore)
	}
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		state RiskState
		want  []ActionType
	}{
		{StateEmergency, []ActionType{ActionAlert, ActionIsolate, ActionEscalate}},
		{StateCritical, []ActionType{ActionAlert, ActionRestrict, ActionAudit}},
		{StateHigh, []ActionType{ActionAlert, ActionAudit}},
		{StateElevated, []ActionType{ActionReport}},
		{StateNormal, nil},
	}
	for _, tt := range tests {
		got := PolicyFor(tt.state)
		if len(got) != len(tt.want) {
			t.Fatalf("PolicyFor(%s) = %v, want %v", tt.state, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("PolicyFor(%s) = %v, want %v", tt.state, got, tt.want)
			}
		}
	}
}

func TestRespond_DisabledAutoRemediation(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	cfg := DefaultConfig()
	m := newTestManager(cfg, d)

	m.Observe(context.Background(), "ds-customers", "data_store", 96)

	if stats := d.Stats(); len(stats) != 0 {
		t.Fatalf("actions with remediation disabled = %v", stats)
	}
}

func TestRespond_ApprovalCeiling(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	cfg := DefaultConfig()
	cfg.AutoRemediate = true
	m := newTestManager(cfg, d)

	m.Observe(context.Background(), "ds-customers", "data_store", 96)

	stats := d.Stats()
	if stats[ActionCompleted] != 1 {
		t.Fatalf("completed = %d, want 1 (alert bypasses approval)", stats[ActionCompleted])
	}
	if stats[ActionPending] != 2 {
		t.Fatalf("pending = %d, want 2 (isolate and escalate gated)", stats[ActionPending])
	}

	ev := m.Events(1)[0]
	if len(ev.ActionsTaken) != 3 {
		t.Fatalf("actions taken = %v", ev.ActionsTaken)
	}
}

func TestRespond_BelowCeilingExecutesDirectly(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	cfg := DefaultConfig()
	cfg.AutoRemediate = true
	m := newTestManager(cfg, d)

	m.Observe(context.Background(), "svc-export", "service", 78)

	stats := d.Stats()
	if stats[ActionCompleted] != 2 || stats[ActionPending] != 0 {
		t.Fatalf("stats = %v, want alert and audit completed", stats)
	}
}

func TestRespond_HourlyBudget(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	cfg := DefaultConfig()
	cfg.AutoRemediate = true
	cfg.ApprovalCeiling = 200
	cfg.MaxAutoActionsPerHour = 1
	m := newTestManager(cfg, d)

	// Below the ceiling every action type is budget gated: the alert
	// consumes the single slot and the audit drops.
	m.Observe(context.Background(), "svc-export", "service", 78)

	stats := d.Stats()
	if stats[ActionCompleted] != 1 {
		t.Fatalf("completed = %d, want 1 (budget of one)", stats[ActionCompleted])
	}
	if m.Stats().ActionsThisHour != 1 {
		t.Fatalf("actions this hour = %d, want 1", m.Stats().ActionsThisHour)
	}
}

func TestRespond_AlertBypassesExhaustedBudget(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	cfg := DefaultConfig()
	cfg.AutoRemediate = true
	cfg.MaxAutoActionsPerHour = 0
	m := newTestManager(cfg, d)

	// Above the ceiling with no budget left the alert still fires; the
	// remaining actions queue for approval instead of dropping.
	m.Observe(context.Background(), "ds-customers", "data_store", 96)

	stats := d.Stats()
	if stats[ActionCompleted] != 1 {
		t.Fatalf("completed = %d, want 1 (alert exempt from budget)", stats[ActionCompleted])
	}
	if stats[ActionPending] != 2 {
		t.Fatalf("pending = %d, want 2 (isolate and escalate gated)", stats[ActionPending])
	}
	if m.Stats().ActionsThisHour != 1 {
		t.Fatalf("actions this hour = %d, want 1 (alert still counted)", m.Stats().ActionsThisHour)
	}
}

func TestCheckAll_PollsGraphScores(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	if err := store.UpsertNode(ctx, graph.Node{ID: "ds-customers", Name: "customer-db", NodeType: schema.EntityDataStore}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpdateRiskScores(ctx, "ds-customers", 0.95, 0.9, 0.95); err != nil {
		t.Fatalf("update scores: %v", err)
	}

	m := NewManager(DefaultConfig(), store, nil, nil, nil)
	m.checkAll(ctx)

	// composite = 0.5*0.95 + 0.3*0.9 + 0.2*0.95 = 0.935 -> 93.5
	if state := m.State("ds-customers"); state != StateCritical {
		t.Fatalf("state = %s, want %s", state, StateCritical)
	}
}

func TestEventsBounded(t *testing.T) {
	m := newTestManager(DefaultConfig(), nil)
	ctx := context.Background()
	for range maxRetainedEvents + 50 {
		m.Observe(ctx, "svc-export", "service", 96)
	}
	if got := len(m.Events(0)); got != maxRetainedEvents {
		t.Fatalf("retained events = %d, want %d", got, maxRetainedEvents)
	}
}

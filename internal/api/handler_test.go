package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"riskforge/internal/autonomous"
	"riskforge/internal/finding"
	"riskforge/internal/graph"
	"riskforge/internal/schema"
	"riskforge/internal/scoring"
)

func newTestMux(t *testing.T) (*http.ServeMux, finding.Store, *autonomous.Dispatcher) {
	t.Helper()

	store := finding.NewMemoryStore()
	svc := finding.NewService(store, nil, nil, nil)
	dispatcher := autonomous.NewDispatcher(nil, nil, nil, nil)
	gs := graph.NewMemoryStore()
	manager := autonomous.NewManager(autonomous.DefaultConfig(), gs, dispatcher, nil, nil)

	h := NewHandler(svc, dispatcher, manager, gs, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, store, dispatcher
}

func seedFindings(t *testing.T, store finding.Store) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	rows := []*schema.Finding{
		{
			FindingID:       "find-1",
			Fingerprint:     "fp-1",
			Title:           "AI data exposure",
			FindingType:     "ai_exposure",
			Severity:        schema.SeverityCritical,
			Status:          schema.FindingOpen,
			PrimaryEntityID: "ds-customers",
			RiskScore:       0.91,
			Tags:            []string{"financial_related"},
			CreatedAt:       base.Add(30 * time.Minute),
		},
		{
			FindingID:       "find-2",
			Fingerprint:     "fp-2",
			Title:           "Shadow AI integration",
			FindingType:     "shadow_ai",
			Severity:        schema.SeverityMedium,
			Status:          schema.FindingResolved,
			PrimaryEntityID: "svc-billing",
			RiskScore:       0.55,
			CreatedAt:       base,
		},
	}
	for _, f := range rows {
		if err := store.Save(context.Background(), f); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestListFindings(t *testing.T) {
	mux, store, _ := newTestMux(t)
	seedFindings(t, store)

	rec, out := doJSON(t, mux, http.MethodGet, "/v1/findings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["total"].(float64) != 2 {
		t.Errorf("total = %v, want 2", out["total"])
	}

	rec, out = doJSON(t, mux, http.MethodGet, "/v1/findings?status=open&severity=critical", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["total"].(float64) != 1 {
		t.Errorf("filtered total = %v, want 1", out["total"])
	}
	findings := out["findings"].([]any)
	if findings[0].(map[string]any)["finding_id"] != "find-1" {
		t.Errorf("finding id = %v, want find-1", findings[0].(map[string]any)["finding_id"])
	}
}

func TestGetFinding(t *testing.T) {
	mux, store, _ := newTestMux(t)
	seedFindings(t, store)

	rec, out := doJSON(t, mux, http.MethodGet, "/v1/findings/find-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["finding_id"] != "find-1" {
		t.Errorf("finding_id = %v", out["finding_id"])
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/v1/findings/find-999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestFindingTransitions(t *testing.T) {
	mux, store, _ := newTestMux(t)
	seedFindings(t, store)

	rec, out := doJSON(t, mux, http.MethodPost, "/v1/findings/find-1/acknowledge", `{"user_id":"analyst-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d: %v", rec.Code, out)
	}
	if out["status"] != "acknowledged" {
		t.Errorf("status = %v, want acknowledged", out["status"])
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/findings/find-1/start", `{"user_id":"analyst-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}

	rec, out = doJSON(t, mux, http.MethodPost, "/v1/findings/find-1/resolve", `{"user_id":"analyst-1","notes":"rotated credentials"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}
	if out["resolution_notes"] != "rotated credentials" {
		t.Errorf("resolution_notes = %v", out["resolution_notes"])
	}

	// Terminal findings reject further transitions.
	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/findings/find-1/acknowledge", `{"user_id":"analyst-2"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("post-resolve acknowledge status = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/findings/find-2/teleport", `{"user_id":"analyst-1"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown transition status = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/findings/find-2/acknowledge", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user status = %d, want 400", rec.Code)
	}
}

func TestActionApprovalEndpoints(t *testing.T) {
	mux, _, dispatcher := newTestMux(t)

	action, err := dispatcher.Execute(context.Background(), autonomous.ActionRestrict,
		"ds-customers", "data_store", autonomous.PriorityCritical, true)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	rec, out := doJSON(t, mux, http.MethodGet, "/v1/actions/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pending status = %d", rec.Code)
	}
	if out["count"].(float64) != 1 {
		t.Errorf("pending count = %v, want 1", out["count"])
	}

	rec, out = doJSON(t, mux, http.MethodPost, "/v1/actions/"+action.ActionID+"/approve", `{"user_id":"analyst-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %v", rec.Code, out)
	}
	if out["status"] != "completed" {
		t.Errorf("action status = %v, want completed", out["status"])
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/actions/"+action.ActionID+"/approve", `{"user_id":"analyst-1"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("re-approve status = %d, want 409", rec.Code)
	}

	rec, out = doJSON(t, mux, http.MethodPost, "/v1/actions/"+action.ActionID+"/rollback", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback status = %d: %v", rec.Code, out)
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/v1/actions/"+action.ActionID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get action status = %d", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/v1/actions/action-missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing action status = %d, want 404", rec.Code)
	}
}

func TestOverdueFindings(t *testing.T) {
	mux, store, _ := newTestMux(t)
	seedFindings(t, store)

	rec, out := doJSON(t, mux, http.MethodGet, "/v1/findings/overdue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["count"].(float64) != 0 {
		t.Errorf("count = %v, want 0", out["count"])
	}

	due := time.Now().UTC().Add(-time.Hour)
	f := &schema.Finding{
		FindingID:   "find-3",
		Fingerprint: "fp-3",
		Title:       "Stale exposure",
		Severity:    schema.SeverityHigh,
		Status:      schema.FindingOpen,
		SLADueAt:    &due,
	}
	if err := store.Save(context.Background(), f); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, out = doJSON(t, mux, http.MethodGet, "/v1/findings/overdue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", out["count"])
	}
	row := out["findings"].([]any)[0].(map[string]any)
	if row["finding_id"] != "find-3" {
		t.Errorf("finding id = %v, want find-3", row["finding_id"])
	}
}

func TestGetRiskNode(t *testing.T) {
	store := finding.NewMemoryStore()
	svc := finding.NewService(store, nil, nil, nil)
	gs := graph.NewMemoryStore()
	engine := scoring.NewEngine(gs, scoring.NewRules(scoring.DefaultWeights()), nil, nil)

	h := NewHandler(svc, nil, nil, gs, nil).WithScorer(engine)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	ctx := context.Background()
	node := graph.Node{
		ID:                 "ds-customers",
		Name:               "customer records",
		NodeType:           schema.EntityDataStore,
		DataClassification: "restricted",
		IsInternal:         true,
	}
	if err := gs.UpsertNode(ctx, node); err != nil {
		t.Fatalf("UpsertNode() error: %v", err)
	}
	if err := gs.UpsertRelationship(ctx, "ds-customers", graph.Relationship{
		Kind:            "accessed_by",
		ConnectedID:     "ai-copilot",
		ConnectedType:   schema.EntityAITool,
		DataVolumeBytes: 1 << 20,
	}); err != nil {
		t.Fatalf("UpsertRelationship() error: %v", err)
	}

	rec, out := doJSON(t, mux, http.MethodGet, "/v1/risk/nodes/ds-customers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, out)
	}
	got := out["node"].(map[string]any)
	if got["id"] != "ds-customers" {
		t.Errorf("node id = %v, want ds-customers", got["id"])
	}
	rels := out["relationships"].([]any)
	if len(rels) != 1 {
		t.Fatalf("relationships = %d, want 1", len(rels))
	}
	if _, ok := out["score"]; !ok {
		t.Error("score missing from response")
	}
	expl, ok := out["explanation"].(map[string]any)
	if !ok {
		t.Fatal("explanation missing from response")
	}
	if expl["entity_id"] != "ds-customers" {
		t.Errorf("explanation entity = %v", expl["entity_id"])
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/v1/risk/nodes/ds-missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing node status = %d, want 404", rec.Code)
	}
}

func TestRiskAndStatsEndpoints(t *testing.T) {
	mux, store, _ := newTestMux(t)
	seedFindings(t, store)

	rec, out := doJSON(t, mux, http.MethodGet, "/v1/risk/nodes?threshold=0.5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("risk nodes status = %d", rec.Code)
	}
	if _, ok := out["nodes"]; !ok {
		t.Error("nodes missing from response")
	}

	rec, out = doJSON(t, mux, http.MethodGet, "/v1/risk/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("risk events status = %d", rec.Code)
	}
	if out["count"].(float64) != 0 {
		t.Errorf("events count = %v, want 0", out["count"])
	}

	rec, out = doJSON(t, mux, http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if out["open_findings"].(float64) != 1 {
		t.Errorf("open_findings = %v, want 1", out["open_findings"])
	}

	rec, out = doJSON(t, mux, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("healthz = %d %v", rec.Code, out)
	}
}

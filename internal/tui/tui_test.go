package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"riskforge/internal/tui/scenes"

	tea "github.com/charmbracelet/bubbletea"
)

// keyMsg builds a tea.KeyMsg for the given key string.
func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// newBackend starts a stub analyst API server.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"open_findings": 3,
			"risk": map[string]any{
				"monitored_nodes":    12,
				"state_distribution": map[string]int{"normal": 10, "critical": 2},
				"actions_this_hour":  1,
			},
			"actions": map[string]int{"pending": 2},
		})
	})
	mux.HandleFunc("GET /v1/findings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"findings": []map[string]any{
				{
					"finding_id":        "fnd-1",
					"title":             "Shadow AI data access burst",
					"severity":          "critical",
					"status":            "open",
					"risk_score":        91.5,
					"primary_entity_id": "ds-customers",
				},
			},
			"total": 1,
		})
	})
	mux.HandleFunc("GET /v1/risk/nodes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"nodes": []map[string]any{
				{
					"id":             "ds-customers",
					"node_type":      "data_store",
					"exposure_score": 0.9,
				},
			},
			"threshold": 0.6,
		})
	})
	mux.HandleFunc("GET /v1/risk/events", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"events": []any{}, "count": 0})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewModel(t *testing.T) {
	m := New("http://localhost:8081", "")
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.scene != SceneDashboard {
		t.Errorf("initial scene = %d, want dashboard", m.scene)
	}
	if m.dashboard == nil || m.findings == nil || m.risk == nil {
		t.Error("scenes not initialized")
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := New("http://localhost:8081", "")
		updated, cmd := m.Update(keyMsg(key))

		model := updated.(*Model)
		if !model.quitting {
			t.Errorf("key %q did not set quitting", key)
		}
		if cmd == nil {
			t.Errorf("key %q returned nil cmd, want tea.Quit", key)
		}
	}
}

func TestSceneSwitchingByNumber(t *testing.T) {
	m := New("http://localhost:8081", "")

	updated, _ := m.Update(keyMsg("2"))
	if updated.(*Model).scene != SceneFindings {
		t.Error("key 2 should switch to findings")
	}

	updated, _ = updated.(*Model).Update(keyMsg("3"))
	if updated.(*Model).scene != SceneRisk {
		t.Error("key 3 should switch to risk")
	}

	updated, _ = updated.(*Model).Update(keyMsg("1"))
	if updated.(*Model).scene != SceneDashboard {
		t.Error("key 1 should switch back to dashboard")
	}
}

func TestTabCyclesScenes(t *testing.T) {
	m := New("http://localhost:8081", "")

	order := []Scene{SceneFindings, SceneRisk, SceneDashboard}
	var current tea.Model = m
	for i, want := range order {
		current, _ = current.(*Model).Update(keyMsg("tab"))
		if got := current.(*Model).scene; got != want {
			t.Fatalf("tab press %d: scene = %d, want %d", i+1, got, want)
		}
	}
}

func TestWindowSizePropagates(t *testing.T) {
	m := New("http://localhost:8081", "")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	model := updated.(*Model)
	if model.width != 120 || model.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", model.width, model.height)
	}
}

func TestViewShowsTabs(t *testing.T) {
	m := New("http://localhost:8081", "")
	view := m.View()

	for _, tab := range []string{"Dashboard", "Findings", "Risk"} {
		if !strings.Contains(view, tab) {
			t.Errorf("view missing tab %q", tab)
		}
	}
}

func TestViewEmptyWhenQuitting(t *testing.T) {
	m := New("http://localhost:8081", "")
	m.quitting = true
	if view := m.View(); view != "" {
		t.Errorf("quitting view = %q, want empty", view)
	}
}

func TestDashboardFetchAndRender(t *testing.T) {
	srv := newBackend(t)
	m := New(srv.URL, "")

	// Run the fetch command and feed the result back through Update.
	msg := m.dashboard.Init()()
	updated, _ := m.Update(msg)
	view := updated.(*Model).View()

	if !strings.Contains(view, "CONNECTED") {
		t.Errorf("dashboard view missing connection status:\n%s", view)
	}
	if !strings.Contains(view, "Open Findings") {
		t.Errorf("dashboard view missing metric cards:\n%s", view)
	}
}

func TestFindingsFetchAndRender(t *testing.T) {
	srv := newBackend(t)
	m := New(srv.URL, "")
	m.scene = SceneFindings

	msg := m.findings.Init()()
	updated, _ := m.Update(msg)
	view := updated.(*Model).View()

	if !strings.Contains(view, "Shadow AI data access burst") {
		t.Errorf("findings view missing finding title:\n%s", view)
	}
	if !strings.Contains(view, "CRITICAL") {
		t.Errorf("findings view missing severity:\n%s", view)
	}
}

func TestRiskFetchAndRender(t *testing.T) {
	srv := newBackend(t)
	m := New(srv.URL, "")
	m.scene = SceneRisk

	msg := m.risk.Init()()
	updated, _ := m.Update(msg)
	view := updated.(*Model).View()

	if !strings.Contains(view, "ds-customers") {
		t.Errorf("risk view missing high risk node:\n%s", view)
	}
	if !strings.Contains(view, "No transitions recorded") {
		t.Errorf("risk view missing empty transitions notice:\n%s", view)
	}
}

func TestDashboardErrorRender(t *testing.T) {
	// Point at a closed server so the fetch fails.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	m := New(srv.URL, "")
	msg := m.dashboard.Init()()
	updated, _ := m.Update(msg)
	view := updated.(*Model).View()

	if !strings.Contains(view, "DISCONNECTED") {
		t.Errorf("dashboard view should show disconnected state:\n%s", view)
	}
}

func TestInactiveSceneTickStillSchedules(t *testing.T) {
	m := New("http://localhost:8081", "")

	// A tick always reschedules the active scene, even when the message
	// was addressed to another scene.
	_, cmd := m.Update(scenes.TickMsg{Scene: "findings"})
	if cmd == nil {
		t.Error("expected a tick command for the active scene")
	}
}

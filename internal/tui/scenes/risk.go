package scenes

import (
	"fmt"
	"strings"
	"time"

	"riskforge/internal/tui/api"
	"riskforge/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RiskScene displays high risk graph nodes and recent risk state
// transitions from the autonomous monitor.
type RiskScene struct {
	client     *api.Client
	nodes      []api.RiskNode
	threshold  float64
	events     []api.RiskEvent
	err        string
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// riskMsg carries updated risk data
type riskMsg struct {
	nodes     []api.RiskNode
	threshold float64
	events    []api.RiskEvent
	err       string
}

// NewRiskScene creates a new risk scene
func NewRiskScene(client *api.Client) *RiskScene {
	return &RiskScene{
		client:  client,
		loading: true,
	}
}

// Init initializes the risk scene
func (s *RiskScene) Init() tea.Cmd {
	return s.fetchRisk()
}

func (s *RiskScene) fetchRisk() tea.Cmd {
	return func() tea.Msg {
		nodes, err := s.client.GetRiskNodes(0.6, 20)
		if err != nil {
			return riskMsg{err: err.Error()}
		}

		msg := riskMsg{nodes: nodes.Nodes, threshold: nodes.Threshold}
		if events, err := s.client.GetRiskEvents(10); err == nil {
			msg.events = events.Events
		}
		return msg
	}
}

// TickCmd returns a command that ticks every interval
func (s *RiskScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "risk", Time: t}
	})
}

// Update handles messages for the risk scene
func (s *RiskScene) Update(msg tea.Msg) (*RiskScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		return s, nil

	case tea.KeyMsg:
		if msg.String() == "r" {
			s.loading = true
			return s, s.fetchRisk()
		}
		return s, nil

	case riskMsg:
		s.loading = false
		s.nodes = msg.nodes
		s.threshold = msg.threshold
		s.events = msg.events
		s.err = msg.err
		s.lastUpdate = time.Now()
		return s, nil

	case TickMsg:
		if msg.Scene == "risk" {
			return s, s.fetchRisk()
		}
		return s, nil
	}

	return s, nil
}

// View renders the risk scene
func (s *RiskScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Risk Graph"))
	b.WriteString("\n\n")

	if s.loading && len(s.nodes) == 0 && s.err == "" {
		b.WriteString(styles.Muted.Render("  Loading risk data..."))
		return b.String()
	}

	if s.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", s.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  The risk graph requires storage to be enabled. Press [r] to retry."))
		return b.String()
	}

	b.WriteString(styles.Subtitle.Render(fmt.Sprintf("  High Risk Nodes (threshold %.2f)", s.threshold)))
	b.WriteString("\n")

	if len(s.nodes) == 0 {
		b.WriteString(styles.Muted.Render("  No nodes above threshold."))
		b.WriteString("\n")
	} else {
		header := fmt.Sprintf("  %-28s %-12s %-10s %-10s %s",
			"Node", "Type", "Exposure", "Volatile", "Sensitive")
		b.WriteString(styles.TableHeader.Render(header))
		b.WriteString("\n")

		for _, node := range s.nodes {
			b.WriteString(s.renderNodeRow(node))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(styles.Subtitle.Render("  Recent Risk Transitions"))
	b.WriteString("\n")

	if len(s.events) == 0 {
		b.WriteString(styles.Muted.Render("  No transitions recorded."))
		b.WriteString("\n")
	} else {
		for _, ev := range s.events {
			b.WriteString(s.renderEventRow(ev))
			b.WriteString("\n")
		}
	}

	if !s.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  [r] Refresh  |  Updated: %s", s.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (s *RiskScene) renderNodeRow(node api.RiskNode) string {
	name := node.Name
	if name == "" {
		name = node.ID
	}
	return fmt.Sprintf("  %-28s %-12s %s %s %s",
		truncate(name, 28),
		node.NodeType,
		s.formatScore(node.ExposureScore),
		s.formatScore(node.VolatilityScore),
		s.formatScore(node.SensitivityScore))
}

func (s *RiskScene) formatScore(score float64) string {
	text := fmt.Sprintf("%-10.2f", score)
	switch {
	case score >= 0.8:
		return styles.StatusError.Render(text)
	case score >= 0.6:
		return styles.StatusWarning.Render(text)
	default:
		return styles.Muted.Render(text)
	}
}

func (s *RiskScene) renderEventRow(ev api.RiskEvent) string {
	var stateStyle lipgloss.Style
	switch ev.State {
	case "emergency", "critical":
		stateStyle = styles.StatusError
	case "high", "elevated":
		stateStyle = styles.StatusWarning
	default:
		stateStyle = styles.StatusOK
	}

	trend := "→"
	switch ev.Trend {
	case "increasing":
		trend = "↑"
	case "decreasing":
		trend = "↓"
	}

	return fmt.Sprintf("  %s  %s %-24s %.1f %s %.1f  %s",
		ev.Timestamp.Format("15:04:05"),
		stateStyle.Render(fmt.Sprintf("%-9s", ev.State)),
		truncate(ev.NodeID, 24),
		ev.PreviousScore,
		trend,
		ev.RiskScore,
		styles.Muted.Render(ev.Details))
}

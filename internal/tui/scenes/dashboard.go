// Package scenes provides the riskforge TUI scenes.
package scenes

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"riskforge/internal/tui/api"
	"riskforge/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DashboardScene displays the pipeline overview: open findings, monitored
// nodes, and response action counts.
type DashboardScene struct {
	client     *api.Client
	stats      *api.Stats
	health     *api.Health
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// statsMsg carries updated stats
type statsMsg struct {
	stats  *api.Stats
	health *api.Health
	err    error
}

// NewDashboardScene creates a new dashboard scene
func NewDashboardScene(client *api.Client) *DashboardScene {
	return &DashboardScene{
		client:  client,
		loading: true,
		health:  &api.Health{},
	}
}

// Init initializes the dashboard scene - fetches initial data
func (d *DashboardScene) Init() tea.Cmd {
	return d.fetchStats()
}

func (d *DashboardScene) fetchStats() tea.Cmd {
	return func() tea.Msg {
		health := d.client.GetHealth()
		stats, err := d.client.GetStats()
		return statsMsg{stats: stats, health: health, err: err}
	}
}

// TickCmd returns a command that ticks every interval.
// Returned by the parent model only when this scene is active.
func (d *DashboardScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "dashboard", Time: t}
	})
}

// TickMsg is sent on each tick - exported for use by parent model
type TickMsg struct {
	Scene string
	Time  time.Time
}

// Update handles messages for the dashboard
func (d *DashboardScene) Update(msg tea.Msg) (*DashboardScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		return d, nil

	case statsMsg:
		d.loading = false
		d.stats = msg.stats
		d.health = msg.health
		d.err = msg.err
		d.lastUpdate = time.Now()
		return d, nil

	case TickMsg:
		if msg.Scene == "dashboard" {
			return d, d.fetchStats()
		}
		return d, nil
	}

	return d, nil
}

// View renders the dashboard
func (d *DashboardScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Riskforge Dashboard"))
	b.WriteString("\n\n")

	if d.loading {
		b.WriteString(styles.Muted.Render("Loading..."))
		return b.String()
	}

	var statusText string
	if d.health != nil && d.health.Connected {
		statusText = styles.StatusOK.Render("● CONNECTED")
	} else {
		statusText = styles.StatusError.Render("● DISCONNECTED")
		if d.health != nil && d.health.Reason != "" {
			statusText += styles.Muted.Render("  " + d.health.Reason)
		}
	}
	b.WriteString(fmt.Sprintf("  Backend: %s\n\n", statusText))

	if d.err != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %v", d.err)))
		b.WriteString("\n")
		return b.String()
	}

	if d.stats == nil {
		b.WriteString(styles.Muted.Render("  No stats available."))
		return b.String()
	}

	monitored := 0
	actionsThisHour := 0
	if d.stats.Risk != nil {
		monitored = d.stats.Risk.MonitoredNodes
		actionsThisHour = d.stats.Risk.ActionsThisHour
	}
	pending := d.stats.Actions["pending"]

	cards := []string{
		d.renderMetricCard("Open Findings", fmt.Sprintf("%d", d.stats.OpenFindings)),
		d.renderMetricCard("Monitored Nodes", fmt.Sprintf("%d", monitored)),
		d.renderMetricCard("Actions (1h)", fmt.Sprintf("%d", actionsThisHour)),
		d.renderMetricCard("Pending Approval", fmt.Sprintf("%d", pending)),
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n\n")

	if d.stats.Risk != nil && len(d.stats.Risk.StateCounts) > 0 {
		b.WriteString(styles.Subtitle.Render("  Risk State Distribution"))
		b.WriteString("\n")
		b.WriteString(d.renderStateCounts(d.stats.Risk.StateCounts))
		b.WriteString("\n")
	}

	if d.stats.Risk != nil {
		mode := "manual approval"
		if d.stats.Risk.AutoRemediate {
			mode = "auto-remediate"
		}
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Response mode: %s", mode)))
		b.WriteString("\n")
	}

	if !d.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s", d.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (d *DashboardScene) renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 2).
		Width(18).
		Align(lipgloss.Center)

	content := fmt.Sprintf("%s\n%s",
		styles.MetricValue.Render(value),
		styles.MetricLabel.Render(label),
	)

	return card.Render(content)
}

// stateOrder pins the severity ordering for the distribution rows.
var stateOrder = []string{"emergency", "critical", "high", "elevated", "normal"}

func (d *DashboardScene) renderStateCounts(counts map[string]int) string {
	var rows []string

	seen := make(map[string]bool)
	for _, state := range stateOrder {
		if count, ok := counts[state]; ok {
			rows = append(rows, d.renderStateRow(state, count))
			seen[state] = true
		}
	}

	var rest []string
	for state := range counts {
		if !seen[state] {
			rest = append(rest, state)
		}
	}
	sort.Strings(rest)
	for _, state := range rest {
		rows = append(rows, d.renderStateRow(state, counts[state]))
	}

	return strings.Join(rows, "\n")
}

func (d *DashboardScene) renderStateRow(state string, count int) string {
	style := styles.Muted
	switch state {
	case "emergency", "critical":
		style = styles.StatusError
	case "high", "elevated":
		style = styles.StatusWarning
	case "normal":
		style = styles.StatusOK
	}
	return fmt.Sprintf("  %s %-10s %d", style.Render("●"), state, count)
}

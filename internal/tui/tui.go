// Package tui provides the riskforge terminal dashboard.
package tui

import (
	"fmt"
	"strings"

	"riskforge/internal/tui/api"
	"riskforge/internal/tui/scenes"
	"riskforge/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene represents the current view
type Scene int

const (
	SceneDashboard Scene = iota
	SceneFindings
	SceneRisk
)

// Model is the main TUI model
type Model struct {
	client *api.Client

	scene Scene

	// Scene models - only the active one receives updates
	dashboard *scenes.DashboardScene
	findings  *scenes.FindingsScene
	risk      *scenes.RiskScene

	width  int
	height int

	quitting bool
}

// New creates a new TUI model connected to the analyst API.
func New(baseURL, apiKey string) *Model {
	client := api.NewClient(baseURL, apiKey)

	return &Model{
		client:    client,
		scene:     SceneDashboard,
		dashboard: scenes.NewDashboardScene(client),
		findings:  scenes.NewFindingsScene(client),
		risk:      scenes.NewRiskScene(client),
	}
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	// Only start the active scene's ticker so inactive scenes stay idle
	return tea.Batch(
		m.dashboard.Init(),
		m.getActiveSceneTickCmd(),
	)
}

func (m *Model) getActiveSceneTickCmd() tea.Cmd {
	switch m.scene {
	case SceneDashboard:
		return m.dashboard.TickCmd()
	case SceneFindings:
		return m.findings.TickCmd()
	case SceneRisk:
		return m.risk.TickCmd()
	default:
		return nil
	}
}

// Update handles all messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1":
			if m.scene != SceneDashboard {
				m.scene = SceneDashboard
				cmds = append(cmds, m.dashboard.Init(), m.dashboard.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "2":
			if m.scene != SceneFindings {
				m.scene = SceneFindings
				cmds = append(cmds, m.findings.Init(), m.findings.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "3":
			if m.scene != SceneRisk {
				m.scene = SceneRisk
				cmds = append(cmds, m.risk.Init(), m.risk.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "tab":
			m.scene = (m.scene + 1) % 3
			cmds = append(cmds, m.getActiveSceneTickCmd())
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard, _ = m.dashboard.Update(msg)
		m.findings, _ = m.findings.Update(msg)
		m.risk, _ = m.risk.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Only the active scene ticks; this schedules its next tick too
		var cmd tea.Cmd
		switch m.scene {
		case SceneDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.dashboard.TickCmd())
		case SceneFindings:
			m.findings, cmd = m.findings.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.findings.TickCmd())
		case SceneRisk:
			m.risk, cmd = m.risk.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.risk.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	// Forward other messages to active scene only
	var cmd tea.Cmd
	switch m.scene {
	case SceneDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case SceneFindings:
		m.findings, cmd = m.findings.Update(msg)
	case SceneRisk:
		m.risk, cmd = m.risk.Update(msg)
	}

	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the current view
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneDashboard:
		b.WriteString(m.dashboard.View())
	case SceneFindings:
		b.WriteString(m.findings.View())
	case SceneRisk:
		b.WriteString(m.risk.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Dashboard", "1", SceneDashboard},
		{"Findings", "2", SceneFindings},
		{"Risk", "3", SceneRisk},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-3] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [r] Refresh  [q] Quit "
	return styles.Help.Render(help)
}

// Run starts the TUI application
func Run(baseURL, apiKey string) error {
	m := New(baseURL, apiKey)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

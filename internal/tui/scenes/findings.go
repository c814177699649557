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

// FindingsScene displays recent findings with their status and SLA.
type FindingsScene struct {
	client     *api.Client
	findings   []api.Finding
	total      int
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

// findingsMsg carries updated findings
type findingsMsg struct {
	findings []api.Finding
	total    int
	err      string
}

// NewFindingsScene creates a new findings scene
func NewFindingsScene(client *api.Client) *FindingsScene {
	return &FindingsScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init initializes the findings scene
func (f *FindingsScene) Init() tea.Cmd {
	return f.fetchFindings()
}

func (f *FindingsScene) fetchFindings() tea.Cmd {
	return func() tea.Msg {
		resp, err := f.client.GetFindings("", 100)
		if err != nil {
			return findingsMsg{err: err.Error()}
		}
		return findingsMsg{
			findings: resp.Findings,
			total:    resp.Total,
		}
	}
}

// TickCmd returns a command that ticks every interval
func (f *FindingsScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "findings", Time: t}
	})
}

// Update handles messages for the findings scene
func (f *FindingsScene) Update(msg tea.Msg) (*FindingsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		f.width = msg.Width
		f.height = msg.Height
		f.maxRows = max(5, f.height-12)
		return f, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if f.cursor > 0 {
				f.cursor--
				if f.cursor < f.offset {
					f.offset = f.cursor
				}
			}
		case "down", "j":
			if f.cursor < len(f.findings)-1 {
				f.cursor++
				if f.cursor >= f.offset+f.maxRows {
					f.offset = f.cursor - f.maxRows + 1
				}
			}
		case "pgup":
			f.cursor = max(0, f.cursor-f.maxRows)
			f.offset = max(0, f.offset-f.maxRows)
		case "pgdown":
			f.cursor = min(len(f.findings)-1, f.cursor+f.maxRows)
			f.offset = min(max(0, len(f.findings)-f.maxRows), f.offset+f.maxRows)
		case "r":
			f.loading = true
			return f, f.fetchFindings()
		}
		return f, nil

	case findingsMsg:
		f.loading = false
		f.findings = msg.findings
		f.total = msg.total
		f.err = msg.err
		f.lastUpdate = time.Now()
		if f.cursor >= len(f.findings) {
			f.cursor = max(0, len(f.findings)-1)
		}
		return f, nil

	case TickMsg:
		if msg.Scene == "findings" {
			return f, f.fetchFindings()
		}
		return f, nil
	}

	return f, nil
}

// View renders the findings list
func (f *FindingsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Findings"))
	b.WriteString("\n\n")

	if f.loading && len(f.findings) == 0 {
		b.WriteString(styles.Muted.Render("  Loading findings..."))
		return b.String()
	}

	if f.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", f.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(f.findings) == 0 {
		b.WriteString(styles.Muted.Render("  No findings."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Findings appear here once correlated event groups or high risk"))
		b.WriteString("\n")
		b.WriteString(styles.Muted.Render("  scores are synthesized by the pipeline."))
		return b.String()
	}

	countText := fmt.Sprintf("  Showing %d of %d findings", len(f.findings), f.total)
	b.WriteString(styles.Subtitle.Render(countText))
	if f.loading {
		b.WriteString(styles.Muted.Render("  (refreshing...)"))
	}
	b.WriteString("\n\n")

	header := fmt.Sprintf("  %-10s %-12s %-10s %-24s %-8s %s",
		"Severity", "Status", "Score", "Entity", "SLA", "Title")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(f.offset+f.maxRows, len(f.findings))
	for i, finding := range f.findings[f.offset:endIdx] {
		idx := f.offset + i
		b.WriteString(f.renderFindingRow(finding, idx == f.cursor))
		b.WriteString("\n")
	}

	if len(f.findings) > f.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll, [r] refresh)",
			f.offset+1, endIdx, len(f.findings))
		b.WriteString(styles.Muted.Render(scrollInfo))
	} else {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh"))
	}

	if !f.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", f.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (f *FindingsScene) renderFindingRow(finding api.Finding, selected bool) string {
	severity := f.formatSeverity(finding.Severity)
	entity := truncate(finding.PrimaryEntityID, 24)
	title := truncate(finding.Title, 40)

	row := fmt.Sprintf("  %s %-12s %-10.1f %-24s %-8s %s",
		severity, finding.Status, finding.RiskScore, entity, f.formatSLA(finding.SLADueAt), title)

	if selected {
		return lipgloss.NewStyle().
			Background(styles.Primary).
			Foreground(styles.White).
			Render(row)
	}

	return row
}

func (f *FindingsScene) formatSeverity(sev string) string {
	var style lipgloss.Style
	switch sev {
	case "critical":
		style = styles.StatusError
	case "high":
		style = styles.StatusError
	case "medium":
		style = styles.StatusWarning
	case "low":
		style = styles.StatusOK
	default:
		style = styles.Muted
	}
	return style.Render(fmt.Sprintf("%-10s", strings.ToUpper(sev)))
}

// formatSLA renders the remaining response window, OVERDUE when past due.
func (f *FindingsScene) formatSLA(due *time.Time) string {
	if due == nil {
		return "-"
	}
	remaining := time.Until(*due)
	if remaining < 0 {
		return "OVERDUE"
	}
	if remaining > time.Hour {
		return fmt.Sprintf("%.0fh", remaining.Hours())
	}
	return fmt.Sprintf("%.0fm", remaining.Minutes())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

const monitorRefreshInterval = 2 * time.Second

var (
	monitorHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	monitorTabStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	monitorActiveTab   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("39")).Padding(0, 1)
	monitorDimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	monitorSelectedStyle = lipgloss.NewStyle().Bold(true)
	monitorOnlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	monitorOfflineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// monitorTabs is the status filter cycle: an "all" view first, then one tab
// per workflow status.
func monitorTabs() []string {
	tabs := []string{"all"}
	for _, s := range flow.Statuses {
		tabs = append(tabs, string(s))
	}
	return tabs
}

// monitorRefreshMsg carries one polling pass over the server API.
type monitorRefreshMsg struct {
	rows   []engine.Snapshot
	counts map[string]int
	total  int
	err    error
}

// monitorModel is the live workflow monitor. It polls the list and health
// endpoints and renders a status-tabbed table of instances.
type monitorModel struct {
	client *client

	tabs   []string
	active int
	cursor int

	rows   []engine.Snapshot
	counts map[string]int
	total  int

	connected bool
	connErr   string
	lastPoll  time.Time

	width  int
	height int
}

func newMonitorModel(c *client) *monitorModel {
	return &monitorModel{
		client: c,
		tabs:   monitorTabs(),
		counts: make(map[string]int),
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return m.fetchCmd()
}

func (m *monitorModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		return m.poll()
	}
}

func (m *monitorModel) scheduleRefresh() tea.Cmd {
	return tea.Tick(monitorRefreshInterval, func(time.Time) tea.Msg {
		return m.poll()
	})
}

// poll fetches the active tab's workflows and the health summary.
func (m *monitorModel) poll() monitorRefreshMsg {
	path := "/workflows"
	if tab := m.tabs[m.active]; tab != "all" {
		path += "?status=" + tab
	}
	var list struct {
		Total     int               `json:"total"`
		Workflows []engine.Snapshot `json:"workflows"`
	}
	if err := m.client.do(http.MethodGet, path, nil, &list); err != nil {
		return monitorRefreshMsg{err: err}
	}

	var health struct {
		Total  int            `json:"total"`
		Counts map[string]int `json:"counts"`
	}
	if err := m.client.do(http.MethodGet, "/health", nil, &health); err != nil {
		return monitorRefreshMsg{err: err}
	}

	return monitorRefreshMsg{rows: list.Workflows, counts: health.Counts, total: health.Total}
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case monitorRefreshMsg:
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.connected = false
			m.connErr = msg.err.Error()
		} else {
			m.connected = true
			m.connErr = ""
			m.rows = msg.rows
			m.counts = msg.counts
			m.total = msg.total
			if m.cursor >= len(m.rows) {
				m.cursor = max(0, len(m.rows)-1)
			}
		}
		return m, m.scheduleRefresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "tab", "right", "l":
			m.active = (m.active + 1) % len(m.tabs)
			m.cursor = 0
			return m, m.fetchCmd()
		case "shift+tab", "left", "h":
			m.active = (m.active + len(m.tabs) - 1) % len(m.tabs)
			m.cursor = 0
			return m, m.fetchCmd()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		}
	}
	return m, nil
}

func (m *monitorModel) View() string {
	var b strings.Builder

	b.WriteString(monitorHeaderStyle.Render("LAZERFLOW MONITOR"))
	b.WriteString("  ")
	b.WriteString(m.renderConnection())
	b.WriteString("\n\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")
	b.WriteString(m.renderTable())
	b.WriteString("\n")
	b.WriteString(monitorDimStyle.Render("q quit · r refresh · tab/←→ status · ↑↓ select"))
	return b.String()
}

func (m *monitorModel) renderConnection() string {
	if !m.connected {
		reason := m.connErr
		if reason == "" {
			reason = "connecting..."
		}
		return monitorOfflineStyle.Render("● " + reason)
	}
	return monitorOnlineStyle.Render(fmt.Sprintf("● %s · %d workflows", m.client.base, m.total))
}

func (m *monitorModel) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		label := tab
		if tab == "all" {
			label = fmt.Sprintf("all (%d)", m.total)
		} else if n := m.counts[tab]; n > 0 {
			label = fmt.Sprintf("%s (%d)", tab, n)
		}
		if i == m.active {
			parts = append(parts, monitorActiveTab.Render(label))
		} else {
			parts = append(parts, monitorTabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *monitorModel) renderTable() string {
	if len(m.rows) == 0 {
		return monitorDimStyle.Render("no workflows")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %-36s  %-16s  %-14s  %-10s  %s\n",
		"ID", "NAME", "STEP", "AGE", "STATUS")
	for i, snap := range m.rows {
		step := snap.CurrentStep
		if step == "" {
			step = "-"
		}
		line := fmt.Sprintf("%-36s  %-16s  %-14s  %-10s  %s",
			snap.ID, truncate(snap.Name, 16), truncate(step, 14),
			monitorAge(time.Since(snap.CreatedAt)), styledStatus(string(snap.Status)))
		if i == m.cursor {
			b.WriteString("> " + monitorSelectedStyle.Render(line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}

	if detail := m.renderDetail(); detail != "" {
		b.WriteString("\n")
		b.WriteString(detail)
	}
	return b.String()
}

// renderDetail shows the selected row's result or error.
func (m *monitorModel) renderDetail() string {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return ""
	}
	snap := m.rows[m.cursor]
	if snap.Error != nil {
		return monitorOfflineStyle.Render("error: " + snap.Error.Error())
	}
	if snap.Result != nil {
		data, err := json.Marshal(snap.Result)
		if err != nil {
			return ""
		}
		return monitorDimStyle.Render("result: " + truncate(string(data), 120))
	}
	return ""
}

func monitorAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func newMonitorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "monitor",
		Aliases: []string{"watch"},
		Short:   "Live TUI for watching workflows",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model := newMonitorModel(newClient(app))
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
}

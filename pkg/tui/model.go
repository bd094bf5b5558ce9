// Package tui is an interactive terminal front-end for the dashboard
// orchestrator. All orchestrator calls run as tea.Cmds; the view is redrawn
// from a fresh Snapshot whenever the orchestrator signals a change.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/dashboard"
	"github.com/greg-hellings/devscope/pkg/insights"
)

// Dashboard is the orchestrator surface the TUI drives.
type Dashboard interface {
	Snapshot() dashboard.Snapshot
	Changes() <-chan struct{}
	Initialize(ctx context.Context) error
	SelectRepository(ctx context.Context, id string) error
	RefreshAnalytics(ctx context.Context, repoID string) error
	ImportAll(ctx context.Context) (*analytics.CommandResult, error)
	AddRepository(ctx context.Context, repoURL string) (*analytics.CommandResult, error)
	SyncRepository(ctx context.Context, id string) (*analytics.CommandResult, error)
	GenerateInsights(ctx context.Context, repoID string) (*insights.Document, error)
}

// Options configures the model.
type Options struct {
	// Title is shown in the header, typically the provider name.
	Title string
	// OnSelect is called with the repository ID whenever the selection
	// changes.
	OnSelect func(repoID string)
	// OnInsights is called with every generated insights document.
	OnInsights func(doc *insights.Document)
}

type changedMsg struct{}

type commandDoneMsg struct {
	op      dashboard.Operation
	message string
	err     error
}

type insightsDoneMsg struct {
	doc *insights.Document
	err error
}

// Model is the bubbletea model.
type Model struct {
	ctx  context.Context
	dash Dashboard
	opts Options

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	input   textinput.Model

	snap         dashboard.Snapshot
	cursor       int
	lastSelected string
	adding       bool
	status       string
	err          error
	width        int
	height       int
}

// NewModel creates a model driving dash. Orchestrator calls use ctx.
func NewModel(ctx context.Context, dash Dashboard, opts Options) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	in := textinput.New()
	in.Placeholder = "https://github.com/owner/repo"
	in.Prompt = "Add repository: "
	in.CharLimit = 512

	return &Model{
		ctx:     ctx,
		dash:    dash,
		opts:    opts,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		spinner: s,
		input:   in,
		snap:    dash.Snapshot(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.initializeCmd(), m.waitForChange(), m.spinner.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case changedMsg:
		m.applySnapshot(m.dash.Snapshot())
		return m, m.waitForChange()

	case commandDoneMsg:
		m.err = msg.err
		if msg.err == nil && msg.message != "" {
			m.status = msg.message
		}
		if msg.err != nil {
			m.status = ""
		}
		return m, nil

	case insightsDoneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = "Insights generated"
			if m.opts.OnInsights != nil {
				m.opts.OnInsights(msg.doc)
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.adding {
			return m.updateAdding(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Up):
		return m, m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		return m, m.moveCursor(1)
	case key.Matches(msg, m.keys.Refresh):
		if id := m.selectedID(); id != "" {
			return m, m.run(dashboard.OpRefreshAnalytics, func(ctx context.Context) (string, error) {
				return "", m.dash.RefreshAnalytics(ctx, id)
			})
		}
		return m, m.initializeCmd()
	case key.Matches(msg, m.keys.Sync):
		id := m.selectedID()
		if id == "" {
			return m, nil
		}
		m.status = "Syncing " + id + "..."
		return m, m.command(dashboard.OpSyncRepository, func(ctx context.Context) (*analytics.CommandResult, error) {
			return m.dash.SyncRepository(ctx, id)
		})
	case key.Matches(msg, m.keys.Import):
		m.status = "Importing repositories..."
		return m, m.command(dashboard.OpImportAll, m.dash.ImportAll)
	case key.Matches(msg, m.keys.Add):
		m.adding = true
		m.input.SetValue("")
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Insights):
		id := m.selectedID()
		if id == "" {
			return m, nil
		}
		m.status = "Generating insights..."
		return m, m.insightsCmd(id)
	}
	return m, nil
}

func (m *Model) updateAdding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.adding = false
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		m.adding = false
		m.input.Blur()
		url := m.input.Value()
		m.status = "Adding " + strings.TrimSpace(url) + "..."
		return m, m.command(dashboard.OpAddRepository, func(ctx context.Context) (*analytics.CommandResult, error) {
			return m.dash.AddRepository(ctx, url)
		})
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applySnapshot(snap dashboard.Snapshot) {
	m.snap = snap
	id := ""
	if snap.Selected != nil {
		id = snap.Selected.ID
		for i, r := range snap.Repositories {
			if r.ID == id {
				m.cursor = i
				break
			}
		}
	}
	if m.cursor >= len(snap.Repositories) {
		m.cursor = max(0, len(snap.Repositories)-1)
	}
	if id != m.lastSelected {
		m.lastSelected = id
		if id != "" && m.opts.OnSelect != nil {
			m.opts.OnSelect(id)
		}
	}
}

func (m *Model) moveCursor(delta int) tea.Cmd {
	n := len(m.snap.Repositories)
	if n == 0 {
		return nil
	}
	next := m.cursor + delta
	if next < 0 || next >= n {
		return nil
	}
	m.cursor = next
	id := m.snap.Repositories[next].ID
	return m.run(dashboard.OpRefreshAnalytics, func(ctx context.Context) (string, error) {
		return "", m.dash.SelectRepository(ctx, id)
	})
}

func (m *Model) selectedID() string {
	if m.snap.Selected == nil {
		return ""
	}
	return m.snap.Selected.ID
}

func (m *Model) waitForChange() tea.Cmd {
	ch := m.dash.Changes()
	return func() tea.Msg {
		select {
		case <-ch:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) initializeCmd() tea.Cmd {
	return m.run(dashboard.OpInitialize, func(ctx context.Context) (string, error) {
		return "", m.dash.Initialize(ctx)
	})
}

func (m *Model) run(op dashboard.Operation, call func(context.Context) (string, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		message, err := call(ctx)
		if err != nil {
			slog.Debug("Dashboard call failed", "op", op, "error", err)
		}
		return commandDoneMsg{op: op, message: message, err: err}
	}
}

func (m *Model) command(op dashboard.Operation, call func(context.Context) (*analytics.CommandResult, error)) tea.Cmd {
	return m.run(op, func(ctx context.Context) (string, error) {
		res, err := call(ctx)
		if res != nil {
			return res.Message, err
		}
		return "", err
	})
}

func (m *Model) insightsCmd(id string) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		doc, err := m.dash.GenerateInsights(ctx, id)
		return insightsDoneMsg{doc: doc, err: err}
	}
}

func (m *Model) View() string {
	var b strings.Builder

	header := titleStyle.Render("DevScope")
	if m.opts.Title != "" {
		header += " " + mutedStyle.Render(m.opts.Title)
	}
	if len(m.snap.Pending) > 0 || m.snap.Phase == dashboard.PhaseLoading {
		header += " " + m.spinner.View()
	}
	b.WriteString(header + "\n")

	switch m.snap.Phase {
	case dashboard.PhaseUninitialized, dashboard.PhaseLoading:
		b.WriteString(mutedStyle.Render("Loading dashboard...") + "\n")
	case dashboard.PhaseError:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.snap.Err)) + "\n")
		b.WriteString(mutedStyle.Render("press r to retry") + "\n")
	case dashboard.PhaseReady:
		if ov := m.snap.Overview; ov != nil {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("%d repositories · %d active · %d commits · %d recent · %d pull requests",
				ov.TotalRepositories, ov.ActiveRepositories, ov.TotalCommits, ov.RecentCommits, ov.TotalPullRequests)) + "\n")
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.repositoryPanel(), m.analyticsPanel()) + "\n")
		if m.snap.Insights != nil {
			b.WriteString(m.insightsPanel() + "\n")
		}
	}

	if m.adding {
		b.WriteString(m.input.View() + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(mutedStyle.Render(m.status) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) repositoryPanel() string {
	var lines []string
	lines = append(lines, headingStyle.Render("Repositories"))
	if len(m.snap.Repositories) == 0 {
		lines = append(lines, mutedStyle.Render("none tracked · press i to import"))
	}
	for i, r := range m.snap.Repositories {
		name := r.DisplayName()
		if i == m.cursor {
			lines = append(lines, cursorStyle.Render("▶ "+name))
		} else {
			lines = append(lines, "  "+name)
		}
	}
	style := panelStyle
	if m.width > 0 {
		style = style.Width(max(24, m.width/3))
	}
	return style.Render(strings.Join(lines, "\n"))
}

func (m *Model) analyticsPanel() string {
	if m.snap.Selected == nil {
		return ""
	}
	lines := []string{headingStyle.Render(m.snap.Selected.DisplayName())}

	if f := m.snap.CommitTrend; f.Available() {
		lines = append(lines, fmt.Sprintf("Commits        %d", f.Value.TotalCommits))
		if days := f.Value.DailyTrend; len(days) > 0 {
			last := days[len(days)-1]
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("  latest %s: %d commits", last.Date, last.Commits)))
		}
	} else {
		lines = append(lines, "Commits        "+fieldState(f.Status, f.Err))
	}

	if f := m.snap.PRMetrics; f.Available() {
		lines = append(lines, fmt.Sprintf("Pull requests  %d (%d merged, %d open)", f.Value.TotalPRs, f.Value.MergedPRs, f.Value.OpenPRs))
		lines = append(lines, fmt.Sprintf("Turnaround     %.1fh", f.Value.AvgTurnaroundHours))
	} else {
		lines = append(lines, "Pull requests  "+fieldState(f.Status, f.Err))
	}

	if f := m.snap.Health; f.Available() {
		score := fmt.Sprintf("%.0f/100", f.Value.OverallScore)
		switch {
		case f.Value.OverallScore >= 75:
			score = goodStyle.Render(score)
		case f.Value.OverallScore < 50:
			score = errorStyle.Render(score)
		default:
			score = warningStyle.Render(score)
		}
		lines = append(lines, "Health         "+score)
	} else {
		lines = append(lines, "Health         "+fieldState(f.Status, f.Err))
	}

	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m *Model) insightsPanel() string {
	lines := []string{headingStyle.Render("Insights")}
	for _, blk := range m.snap.Insights.Blocks {
		switch blk.Kind {
		case insights.Heading:
			lines = append(lines, titleStyle.Render(blk.Text))
		case insights.Bullet:
			lines = append(lines, "  • "+blk.Text)
		case insights.Blank:
			lines = append(lines, "")
		default:
			lines = append(lines, blk.Text)
		}
	}
	style := panelStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(strings.Join(lines, "\n"))
}

func fieldState(status dashboard.FieldStatus, err error) string {
	switch status {
	case dashboard.FieldLoading:
		return mutedStyle.Render("loading...")
	case dashboard.FieldUnavailable:
		if analytics.KindOf(err) == analytics.KindUnsupported {
			return mutedStyle.Render("not supported by this source")
		}
		return warningStyle.Render("unavailable")
	default:
		return mutedStyle.Render("—")
	}
}

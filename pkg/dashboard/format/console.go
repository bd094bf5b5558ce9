// Package format renders dashboard snapshots and insight documents for the
// terminal. Tables adapt to the console width and support color and
// truncation.
package format

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/dashboard"
	"github.com/greg-hellings/devscope/pkg/insights"
)

// DefaultTrendDays is the number of most recent days shown from a commit
// trend.
const DefaultTrendDays = 14

// ConsoleFormatter renders a dashboard Snapshot as terminal tables.
type ConsoleFormatter struct {
	// MaxNameColWidth constrains the repository name column. If 0, a
	// dynamic width is chosen based on terminal width.
	MaxNameColWidth int

	// TrendDays limits the commit trend table to the most recent days.
	// Zero means DefaultTrendDays; negative shows every day.
	TrendDays int

	// EnableColors toggles ANSI color output.
	EnableColors bool
}

// NewConsoleFormatter creates a formatter with sensible defaults.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{EnableColors: true}
}

// Render writes the snapshot to writer.
func (f *ConsoleFormatter) Render(snap dashboard.Snapshot, writer io.Writer) error {
	p := &printer{w: writer}

	switch snap.Phase {
	case dashboard.PhaseUninitialized:
		p.line("Dashboard not loaded.")
		return p.err
	case dashboard.PhaseLoading:
		p.line("Loading dashboard...")
		return p.err
	case dashboard.PhaseError:
		p.line("%s %v", f.color("Error:", text.FgRed), snap.Err)
		return p.err
	}

	if snap.Overview != nil {
		f.renderOverview(snap.Overview, p)
	}
	if p.err != nil {
		return fmt.Errorf("failed writing overview: %w", p.err)
	}

	p.line("")
	f.renderRepositories(snap, p)
	if p.err != nil {
		return fmt.Errorf("failed writing repositories: %w", p.err)
	}

	if snap.Selected == nil {
		return nil
	}

	p.line("")
	p.line("%s", f.color(snap.Selected.DisplayName(), text.Bold))
	f.renderTrend(snap.CommitTrend, p)
	f.renderPullRequests(snap.PRMetrics, p)
	f.renderHealth(snap.Health, p)
	if p.err != nil {
		return fmt.Errorf("failed writing analytics for %s: %w", snap.Selected.ID, p.err)
	}

	if snap.Insights != nil {
		p.line("")
		if err := f.RenderInsights(snap.Insights, writer); err != nil {
			return err
		}
	}
	return p.err
}

func (f *ConsoleFormatter) renderOverview(ov *analytics.OverviewSummary, p *printer) {
	tw := f.newTable(p.w)
	tw.SetTitle("Overview")
	tw.AppendHeader(table.Row{"Repositories", "Active", "Commits", "Recent commits", "Pull requests"})
	tw.AppendRow(table.Row{ov.TotalRepositories, ov.ActiveRepositories, ov.TotalCommits, ov.RecentCommits, ov.TotalPullRequests})
	tw.Render()
}

// RenderRepositories writes only the repository list.
func (f *ConsoleFormatter) RenderRepositories(snap dashboard.Snapshot, writer io.Writer) error {
	p := &printer{w: writer}
	f.renderRepositories(snap, p)
	return p.err
}

func (f *ConsoleFormatter) renderRepositories(snap dashboard.Snapshot, p *printer) {
	if len(snap.Repositories) == 0 {
		p.line("No repositories tracked.")
		return
	}

	tw := f.newTable(p.w)
	tw.AppendHeader(table.Row{"", "Repository", "Language", "Stars", "Forks", "Last synced"})
	if width := f.nameColumnWidth(snap.Repositories, p.w); width > 0 {
		tw.SetColumnConfigs([]table.ColumnConfig{{
			Number:      2,
			WidthMax:    width,
			Transformer: truncTransformer(width),
		}})
	}

	for _, repo := range snap.Repositories {
		marker := ""
		if snap.Selected != nil && snap.Selected.ID == repo.ID {
			marker = f.color("▶", text.FgCyan)
		}
		name := repo.DisplayName()
		if repo.IsPrivate {
			name += " (private)"
		}
		tw.AppendRow(table.Row{marker, name, dash(repo.Language), repo.Stars, repo.Forks, f.syncedCell(repo.LastSynced)})
	}
	tw.Render()
}

func (f *ConsoleFormatter) renderTrend(field dashboard.Field[analytics.CommitTrend], p *printer) {
	if !field.Available() {
		p.line("  Commits:       %s", f.fieldStatus(field.Status, field.Err))
		return
	}
	trend := field.Value
	p.line("  Commits:       %d total", trend.TotalCommits)

	days := trend.DailyTrend
	limit := f.TrendDays
	if limit == 0 {
		limit = DefaultTrendDays
	}
	if limit > 0 && len(days) > limit {
		days = days[len(days)-limit:]
	}
	if len(days) == 0 {
		return
	}

	tw := f.newTable(p.w)
	tw.AppendHeader(table.Row{"Date", "Commits", "Additions", "Deletions"})
	for _, d := range days {
		tw.AppendRow(table.Row{d.Date, d.Commits, f.color(fmt.Sprintf("+%d", d.Additions), text.FgGreen), f.color(fmt.Sprintf("-%d", d.Deletions), text.FgRed)})
	}
	tw.Render()
}

func (f *ConsoleFormatter) renderPullRequests(field dashboard.Field[analytics.PullRequestMetrics], p *printer) {
	if !field.Available() {
		p.line("  Pull requests: %s", f.fieldStatus(field.Status, field.Err))
		return
	}
	m := field.Value
	p.line("  Pull requests: %d total, %d merged, %d open, %.1fh avg turnaround", m.TotalPRs, m.MergedPRs, m.OpenPRs, m.AvgTurnaroundHours)
}

func (f *ConsoleFormatter) renderHealth(field dashboard.Field[analytics.HealthScore], p *printer) {
	if !field.Available() {
		p.line("  Health:        %s", f.fieldStatus(field.Status, field.Err))
		return
	}
	h := field.Value
	p.line("  Health:        %s (commits %.0f, PR velocity %.0f, quality %.0f, collaboration %.0f)",
		f.scoreCell(h.OverallScore), h.CommitFrequencyScore, h.PRVelocityScore, h.CodeQualityScore, h.CollaborationScore)
}

// RenderInsights writes a structured insight document.
func (f *ConsoleFormatter) RenderInsights(doc *insights.Document, writer io.Writer) error {
	if doc == nil {
		return fmt.Errorf("nil insights document")
	}
	p := &printer{w: writer}

	p.line("%s", f.color("Insights", text.Bold))
	if !doc.GeneratedAt.IsZero() {
		p.line("%s", f.color("generated "+doc.GeneratedAt.Local().Format(time.RFC1123), text.FgHiBlack))
	}
	for _, b := range doc.Blocks {
		switch b.Kind {
		case insights.Blank:
			p.line("")
		case insights.Heading:
			p.line("%s", f.color(b.Text, text.Bold, text.FgCyan))
		case insights.Bullet:
			p.line("  • %s", b.Text)
		default:
			p.line("%s", b.Text)
		}
	}
	if h, b := doc.Count(insights.Heading), doc.Count(insights.Bullet); h+b > 0 {
		p.line("")
		p.line("%s", f.color(fmt.Sprintf("headings: %d, bullets: %d", h, b), text.FgHiBlack))
	}
	if p.err != nil {
		return fmt.Errorf("failed writing insights for %s: %w", doc.RepositoryID, p.err)
	}
	return nil
}

func (f *ConsoleFormatter) newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.DrawBorder = true
	return tw
}

func (f *ConsoleFormatter) fieldStatus(status dashboard.FieldStatus, err error) string {
	switch status {
	case dashboard.FieldLoading:
		return f.color("loading...", text.FgHiBlack)
	case dashboard.FieldUnavailable:
		if err != nil {
			return f.color("unavailable ("+err.Error()+")", text.FgYellow)
		}
		return f.color("unavailable", text.FgYellow)
	default:
		return f.color("—", text.FgHiBlack)
	}
}

func (f *ConsoleFormatter) scoreCell(score float64) string {
	s := fmt.Sprintf("%.0f/100", score)
	switch {
	case score >= 75:
		return f.color(s, text.FgGreen)
	case score >= 50:
		return f.color(s, text.FgYellow)
	default:
		return f.color(s, text.FgRed)
	}
}

func (f *ConsoleFormatter) syncedCell(t *time.Time) string {
	if t == nil || t.IsZero() {
		return f.color("never", text.FgHiBlack)
	}
	return t.Local().Format("2006-01-02 15:04")
}

// nameColumnWidth sizes the repository column to fit the terminal.
func (f *ConsoleFormatter) nameColumnWidth(repos []analytics.Repository, w io.Writer) int {
	if f.MaxNameColWidth > 0 {
		return f.MaxNameColWidth
	}
	termWidth := detectTerminalWidth(w)
	if termWidth <= 0 {
		return 0
	}
	if termWidth < 60 {
		termWidth = 60
	}

	longest := 0
	for _, r := range repos {
		if l := utf8.RuneCountInString(r.DisplayName()) + len(" (private)"); l > longest {
			longest = l
		}
	}
	// marker, language, stars, forks, synced and borders
	available := termWidth - 50
	if available < 15 {
		available = 15
	}
	if longest > available {
		return available
	}
	return 0
}

func (f *ConsoleFormatter) color(s string, c ...text.Color) string {
	if !f.EnableColors {
		return s
	}
	return text.Colors(c).Sprint(s)
}

// detectTerminalWidth attempts to get terminal width if writer is a file (stdout/stderr).
func detectTerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			return width
		}
	}
	return -1
}

// truncTransformer returns a text.Transformer to ellipsize overly wide cells.
func truncTransformer(max int) text.Transformer {
	return func(val interface{}) string {
		s := fmt.Sprint(val)
		if utf8.RuneCountInString(s) > max {
			if max <= 1 {
				return "…"
			}
			return truncateRunes(s, max)
		}
		return s
	}
}

// truncateRunes truncates a string to (max) runes with ellipsis.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count >= max-1 {
			break
		}
		b.WriteRune(r)
		count++
	}
	b.WriteRune('…')
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// printer remembers the first write error so rendering code can write
// line after line and check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

// RenderConsole renders the snapshot to w using the default console formatter.
func RenderConsole(snap dashboard.Snapshot, w io.Writer) error {
	return NewConsoleFormatter().Render(snap, w)
}

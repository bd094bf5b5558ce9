package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/dashboard"
	"github.com/greg-hellings/devscope/pkg/insights"
)

type fakeDashboard struct {
	mu      sync.Mutex
	snap    dashboard.Snapshot
	changes chan struct{}
	calls   []string
	err     error
}

func newFakeDashboard() *fakeDashboard {
	repos := []analytics.Repository{
		{ID: "r1", FullName: "acme/api"},
		{ID: "r2", FullName: "acme/web"},
	}
	return &fakeDashboard{
		changes: make(chan struct{}, 1),
		snap: dashboard.Snapshot{
			Phase:        dashboard.PhaseReady,
			Repositories: repos,
			Selected:     &repos[0],
			Overview:     &analytics.OverviewSummary{TotalRepositories: 2, TotalCommits: 321},
			CommitTrend: dashboard.Field[analytics.CommitTrend]{
				Status: dashboard.FieldReady,
				Value:  &analytics.CommitTrend{TotalCommits: 17},
			},
			PRMetrics: dashboard.Field[analytics.PullRequestMetrics]{Status: dashboard.FieldLoading},
			Health: dashboard.Field[analytics.HealthScore]{
				Status: dashboard.FieldUnavailable,
				Err:    analytics.ErrUnsupported,
			},
		},
	}
}

func (f *fakeDashboard) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDashboard) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDashboard) Snapshot() dashboard.Snapshot { return f.snap }
func (f *fakeDashboard) Changes() <-chan struct{}     { return f.changes }

func (f *fakeDashboard) Initialize(context.Context) error {
	f.record("initialize")
	return f.err
}

func (f *fakeDashboard) SelectRepository(_ context.Context, id string) error {
	f.record("select " + id)
	return f.err
}

func (f *fakeDashboard) RefreshAnalytics(_ context.Context, id string) error {
	f.record("refresh " + id)
	return f.err
}

func (f *fakeDashboard) ImportAll(context.Context) (*analytics.CommandResult, error) {
	f.record("import")
	return &analytics.CommandResult{Message: "imported 2 repositories"}, f.err
}

func (f *fakeDashboard) AddRepository(_ context.Context, url string) (*analytics.CommandResult, error) {
	f.record("add " + url)
	return &analytics.CommandResult{Message: "added"}, f.err
}

func (f *fakeDashboard) SyncRepository(_ context.Context, id string) (*analytics.CommandResult, error) {
	f.record("sync " + id)
	return &analytics.CommandResult{Message: "synced"}, f.err
}

func (f *fakeDashboard) GenerateInsights(_ context.Context, id string) (*insights.Document, error) {
	f.record("insights " + id)
	if f.err != nil {
		return nil, f.err
	}
	return insights.NewDocument(id, "SUMMARY\n- steady", time.Time{}), nil
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command, feeding its message
// back into the model.
func press(t *testing.T, m *Model, msg tea.KeyMsg) tea.Msg {
	t.Helper()
	_, cmd := m.Update(msg)
	if cmd == nil {
		return nil
	}
	out := cmd()
	m.Update(out)
	return out
}

func TestModel_View(t *testing.T) {
	m := NewModel(context.Background(), newFakeDashboard(), Options{Title: "github"})
	view := m.View()

	assert.Contains(t, view, "DevScope")
	assert.Contains(t, view, "github")
	assert.Contains(t, view, "▶ acme/api")
	assert.Contains(t, view, "acme/web")
	assert.Contains(t, view, "321 commits")
	assert.Contains(t, view, "Commits        17")
	assert.Contains(t, view, "loading...")
	assert.Contains(t, view, "not supported by this source")
}

func TestModel_NavigationSelectsRepository(t *testing.T) {
	dash := newFakeDashboard()
	m := NewModel(context.Background(), dash, Options{})

	msg := press(t, m, runes("j"))
	require.IsType(t, commandDoneMsg{}, msg)
	assert.Equal(t, []string{"select r2"}, dash.recorded())
	assert.Equal(t, 1, m.cursor)

	// Already at the end.
	_, cmd := m.Update(runes("j"))
	assert.Nil(t, cmd)

	press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, []string{"select r2", "select r1"}, dash.recorded())
}

func TestModel_Commands(t *testing.T) {
	dash := newFakeDashboard()
	m := NewModel(context.Background(), dash, Options{})

	press(t, m, runes("r"))
	press(t, m, runes("s"))
	assert.Equal(t, "synced", m.status)
	press(t, m, runes("i"))
	assert.Equal(t, "imported 2 repositories", m.status)

	assert.Equal(t, []string{"refresh r1", "sync r1", "import"}, dash.recorded())
}

func TestModel_AddRepository(t *testing.T) {
	dash := newFakeDashboard()
	m := NewModel(context.Background(), dash, Options{})

	m.Update(runes("a"))
	require.True(t, m.adding)
	for _, r := range "https://github.com/acme/new" {
		m.Update(runes(string(r)))
	}
	assert.Contains(t, m.View(), "Add repository:")

	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.adding)
	assert.Equal(t, []string{"add https://github.com/acme/new"}, dash.recorded())

	m.Update(runes("a"))
	m.Update(runes("x"))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.False(t, m.adding)
	assert.Len(t, dash.recorded(), 1, "escape cancels without a call")
}

func TestModel_InsightsAndErrors(t *testing.T) {
	dash := newFakeDashboard()
	var got *insights.Document
	m := NewModel(context.Background(), dash, Options{OnInsights: func(doc *insights.Document) { got = doc }})

	press(t, m, runes("g"))
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.RepositoryID)
	assert.Equal(t, "Insights generated", m.status)

	dash.err = &analytics.Error{Kind: analytics.KindUnauthorized, Op: "SyncRepository", StatusCode: 401}
	press(t, m, runes("s"))
	require.Error(t, m.err)
	assert.True(t, errors.Is(m.err, analytics.ErrUnauthorized))
	assert.Contains(t, m.View(), "Error: ")
}

func TestModel_ChangeRefreshesSnapshot(t *testing.T) {
	dash := newFakeDashboard()
	var selected []string
	m := NewModel(context.Background(), dash, Options{OnSelect: func(id string) { selected = append(selected, id) }})

	dash.snap.Selected = &dash.snap.Repositories[1]
	dash.changes <- struct{}{}

	cmd := m.waitForChange()
	msg := cmd()
	require.IsType(t, changedMsg{}, msg)
	_, next := m.Update(msg)

	assert.NotNil(t, next, "keeps waiting for changes")
	assert.Equal(t, 1, m.cursor)
	assert.Equal(t, []string{"r2"}, selected)
	assert.True(t, strings.Contains(m.View(), "▶ acme/web"))
}

func TestModel_WaitForChangeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewModel(ctx, newFakeDashboard(), Options{})
	cancel()
	assert.Nil(t, m.waitForChange()())
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(context.Background(), newFakeDashboard(), Options{})
	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

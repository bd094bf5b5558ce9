package format

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/dashboard"
	"github.com/greg-hellings/devscope/pkg/insights"
)

type fieldView[T any] struct {
	Status string `json:"status"`
	Value  *T     `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newFieldView[T any](f dashboard.Field[T]) fieldView[T] {
	v := fieldView[T]{Status: f.Status.String(), Value: f.Value}
	if f.Err != nil {
		v.Error = f.Err.Error()
	}
	return v
}

type snapshotView struct {
	Phase          string                                  `json:"phase"`
	Error          string                                  `json:"error,omitempty"`
	AnalyticsPhase string                                  `json:"analytics_phase"`
	Repositories   []analytics.Repository                  `json:"repositories"`
	SelectedID     string                                  `json:"selected_repository_id,omitempty"`
	Overview       *analytics.OverviewSummary              `json:"overview,omitempty"`
	CommitTrend    fieldView[analytics.CommitTrend]        `json:"commit_trend"`
	PRMetrics      fieldView[analytics.PullRequestMetrics] `json:"pull_request_metrics"`
	Health         fieldView[analytics.HealthScore]        `json:"health"`
	Insights       *insights.Document                      `json:"insights,omitempty"`
	Pending        []string                                `json:"pending"`
}

// RenderJSON writes the snapshot as indented JSON.
func RenderJSON(snap dashboard.Snapshot, w io.Writer) error {
	view := snapshotView{
		Phase:          snap.Phase.String(),
		AnalyticsPhase: snap.AnalyticsPhase().String(),
		Repositories:   snap.Repositories,
		Overview:       snap.Overview,
		CommitTrend:    newFieldView(snap.CommitTrend),
		PRMetrics:      newFieldView(snap.PRMetrics),
		Health:         newFieldView(snap.Health),
		Insights:       snap.Insights,
		Pending:        make([]string, 0, len(snap.Pending)),
	}
	for _, op := range snap.Pending {
		view.Pending = append(view.Pending, string(op))
	}
	if view.Repositories == nil {
		view.Repositories = []analytics.Repository{}
	}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	}
	if snap.Selected != nil {
		view.SelectedID = snap.Selected.ID
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("failed encoding dashboard: %w", err)
	}
	return nil
}

// RenderInsightsJSON writes an insight document as indented JSON.
func RenderInsightsJSON(doc *insights.Document, w io.Writer) error {
	if doc == nil {
		return fmt.Errorf("nil insights document")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed encoding insights: %w", err)
	}
	return nil
}

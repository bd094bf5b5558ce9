package dashboard

import (
	"sort"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/insights"
)

// Phase is the global lifecycle of the dashboard.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseReady
	// PhaseError is only entered when loading the repository list or the
	// overview fails during Initialize.
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// AnalyticsPhase summarises the per-repository metrics of a Ready dashboard.
type AnalyticsPhase int

const (
	AnalyticsIdle AnalyticsPhase = iota
	AnalyticsLoading
	AnalyticsReady
	// AnalyticsError means every metric of the selection is unavailable.
	AnalyticsError
)

func (p AnalyticsPhase) String() string {
	switch p {
	case AnalyticsIdle:
		return "idle"
	case AnalyticsLoading:
		return "loading"
	case AnalyticsReady:
		return "ready"
	case AnalyticsError:
		return "error"
	default:
		return "unknown"
	}
}

// FieldStatus is the state of one per-repository metric.
type FieldStatus int

const (
	FieldIdle FieldStatus = iota
	FieldLoading
	FieldReady
	// FieldUnavailable marks a metric whose fetch failed; Err holds why.
	FieldUnavailable
)

func (s FieldStatus) String() string {
	switch s {
	case FieldIdle:
		return "idle"
	case FieldLoading:
		return "loading"
	case FieldReady:
		return "ready"
	case FieldUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Field is a per-repository metric together with its fetch status.
type Field[T any] struct {
	Status FieldStatus
	Value  *T
	Err    error
}

// Available reports whether Value holds a fetched result.
func (f Field[T]) Available() bool {
	return f.Status == FieldReady && f.Value != nil
}

// Operation tags an in-flight orchestrator call.
type Operation string

const (
	OpInitialize       Operation = "initialize"
	OpRefreshAnalytics Operation = "refresh-analytics"
	OpImportAll        Operation = "import-all"
	OpAddRepository    Operation = "add-repository"
	OpSyncRepository   Operation = "sync-repository"
	OpGenerateInsights Operation = "generate-insights"
)

// Snapshot is an immutable view of the dashboard. Values behind pointers
// are shared with the orchestrator and must not be modified.
type Snapshot struct {
	Phase Phase
	// Err is the reason for PhaseError.
	Err error

	Repositories []analytics.Repository
	Selected     *analytics.Repository
	Overview     *analytics.OverviewSummary

	CommitTrend Field[analytics.CommitTrend]
	PRMetrics   Field[analytics.PullRequestMetrics]
	Health      Field[analytics.HealthScore]

	Insights *insights.Document

	// Pending lists operations in flight, sorted by name.
	Pending []Operation
}

// AnalyticsPhase derives the analytics sub-state from the three metric
// fields.
func (s Snapshot) AnalyticsPhase() AnalyticsPhase {
	if s.Selected == nil {
		return AnalyticsIdle
	}
	statuses := []FieldStatus{s.CommitTrend.Status, s.PRMetrics.Status, s.Health.Status}
	idle, unavailable := 0, 0
	for _, st := range statuses {
		switch st {
		case FieldLoading:
			return AnalyticsLoading
		case FieldIdle:
			idle++
		case FieldUnavailable:
			unavailable++
		}
	}
	switch {
	case idle == len(statuses):
		return AnalyticsIdle
	case unavailable == len(statuses):
		return AnalyticsError
	default:
		return AnalyticsReady
	}
}

// IsPending reports whether op is in flight.
func (s Snapshot) IsPending(op Operation) bool {
	for _, p := range s.Pending {
		if p == op {
			return true
		}
	}
	return false
}

func pendingList(counts map[Operation]int) []Operation {
	out := make([]Operation, 0, len(counts))
	for op, n := range counts {
		if n > 0 {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

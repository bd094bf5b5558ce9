// Package analytics defines the repository analytics data model and the
// Client abstraction every data source implements: the DevScope REST API
// and direct GitHub / GitLab sources. It also carries the error taxonomy
// shared by all sources and by the dashboard orchestrator.
package analytics

import (
	"context"
	"math"
	"time"

	"golang.org/x/oauth2"
)

// Repository is a tracked source repository. Identity is ID.
type Repository struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	FullName    string     `json:"full_name"`
	Owner       string     `json:"owner"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url"`
	Language    string     `json:"language,omitempty"`
	IsPrivate   bool       `json:"is_private"`
	Stars       int        `json:"stars"`
	Forks       int        `json:"forks"`
	LastSynced  *time.Time `json:"last_synced,omitempty"`
	Provider    string     `json:"provider,omitempty"`
}

// DisplayName returns the most descriptive name available.
func (r Repository) DisplayName() string {
	if r.FullName != "" {
		return r.FullName
	}
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// OverviewSummary holds global counters across all tracked repositories.
type OverviewSummary struct {
	TotalRepositories  int `json:"total_repositories"`
	TotalCommits       int `json:"total_commits"`
	TotalPullRequests  int `json:"total_pull_requests"`
	RecentCommits      int `json:"recent_commits"`
	ActiveRepositories int `json:"active_repositories"`
}

// DailyCommits is one day of commit activity.
type DailyCommits struct {
	Date      string `json:"date"` // YYYY-MM-DD
	Commits   int    `json:"commits"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// CommitTrend is the commit activity of a single repository. DailyTrend is
// kept in producer order.
type CommitTrend struct {
	TotalCommits int            `json:"total_commits"`
	DailyTrend   []DailyCommits `json:"daily_trend"`
}

// PullRequestMetrics summarises pull request activity of a repository.
type PullRequestMetrics struct {
	TotalPRs           int     `json:"total_prs"`
	MergedPRs          int     `json:"merged_prs"`
	OpenPRs            int     `json:"open_prs"`
	AvgTurnaroundHours float64 `json:"avg_turnaround_hours"`
	AvgSize            float64 `json:"avg_size"`
}

// HealthScore is a backend-computed score set, each value in [0, 100].
type HealthScore struct {
	RepositoryID         string    `json:"repository_id"`
	OverallScore         float64   `json:"overall_score"`
	CommitFrequencyScore float64   `json:"commit_frequency_score"`
	PRVelocityScore      float64   `json:"pr_velocity_score"`
	CodeQualityScore     float64   `json:"code_quality_score"`
	CollaborationScore   float64   `json:"collaboration_score"`
	ComputedAt           time.Time `json:"computed_at"`
}

// CommandResult is the acknowledgement returned by server-side commands.
type CommandResult struct {
	Message      string `json:"message"`
	RepositoryID string `json:"repository_id,omitempty"`
}

// GeneratedInsights is the raw narrative produced for a repository.
type GeneratedInsights struct {
	RepositoryID string    `json:"repository_id"`
	RawText      string    `json:"insights"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Client is the data source used by the dashboard. Implementations must be
// safe for concurrent use; every call is an independent request and none is
// retried automatically.
type Client interface {
	// ListRepositories returns all repositories tracked for the caller.
	ListRepositories(ctx context.Context) ([]Repository, error)
	// GetOverview returns global counters.
	GetOverview(ctx context.Context) (*OverviewSummary, error)
	// GetCommitTrend returns commit activity for one repository.
	GetCommitTrend(ctx context.Context, repoID string) (*CommitTrend, error)
	// GetPullRequestMetrics returns pull request statistics for one repository.
	GetPullRequestMetrics(ctx context.Context, repoID string) (*PullRequestMetrics, error)
	// GetHealthScore returns the health score for one repository.
	GetHealthScore(ctx context.Context, repoID string) (*HealthScore, error)
	// ImportAllRepositories imports every repository visible to the caller.
	ImportAllRepositories(ctx context.Context) (*CommandResult, error)
	// AddRepository starts tracking the repository at repoURL.
	AddRepository(ctx context.Context, repoURL string) (*CommandResult, error)
	// SyncRepository refreshes stored data for one repository.
	SyncRepository(ctx context.Context, repoID string) (*CommandResult, error)
	// GenerateInsights produces a narrative for one repository.
	GenerateInsights(ctx context.Context, repoID string) (*GeneratedInsights, error)
}

// Config contains settings shared by every source.
type Config struct {
	// BaseURL is the API root. For the DevScope API it is required; for
	// GitHub it selects an Enterprise instance; for GitLab a self-hosted one.
	BaseURL string

	// Tokens supplies the bearer credential. Nil means anonymous access.
	Tokens oauth2.TokenSource

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout is applied when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

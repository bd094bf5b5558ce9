package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/sync/errgroup"
)

// GitLabSource reads analytics directly from a GitLab instance. Repository
// IDs are project paths ("group/project"). Health scores, insights and
// server-side commands are not available from this source.
type GitLabSource struct {
	api GitLabAPI
	now func() time.Time
}

// NewGitLabSource creates a GitLab source. A custom BaseURL selects a
// self-hosted instance. The token is resolved once; without one the source
// only sees public projects.
func NewGitLabSource(config Config) (*GitLabSource, error) {
	opts := []gitlab.ClientOptionFunc{
		gitlab.WithHTTPClient(&http.Client{Timeout: config.timeout()}),
	}
	if config.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(config.BaseURL))
	}

	token := ""
	if config.Tokens != nil {
		tok, err := config.Tokens.Token()
		if err != nil {
			slog.Warn("No GitLab credential available, continuing anonymously", "error", err)
		} else {
			token = tok.AccessToken
		}
	}

	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return NewGitLabSourceWithAPI(wrapGitLabClient(client)), nil
}

// NewGitLabSourceWithAPI creates a source over the given services.
func NewGitLabSourceWithAPI(api GitLabAPI) *GitLabSource {
	return &GitLabSource{api: api, now: time.Now}
}

// ListRepositories implements Client. Only projects the caller is a member
// of are listed.
func (g *GitLabSource) ListRepositories(ctx context.Context) ([]Repository, error) {
	const op = "ListRepositories"
	opts := &gitlab.ListProjectsOptions{
		Membership:  gitlab.Ptr(true),
		OrderBy:     gitlab.Ptr("last_activity_at"),
		ListOptions: gitlab.ListOptions{PerPage: perPage},
	}

	repos := make([]Repository, 0)
	for page := 0; page < maxPages; page++ {
		projects, resp, err := g.api.Projects.ListProjects(opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLabError(op, resp, err)
		}
		for _, p := range projects {
			repos = append(repos, gitlabRepository(p))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	slog.Debug("Listed GitLab projects", "count", len(repos))
	return repos, nil
}

// GetOverview implements Client.
func (g *GitLabSource) GetOverview(ctx context.Context) (*OverviewSummary, error) {
	repos, err := g.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	type counters struct{ commits, recent, mrs int }
	results := make([]counters, len(repos))
	since := g.now().Add(-TrendWindow)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(overviewJobs)
	for i, repo := range repos {
		eg.Go(func() error {
			commits, err := g.countCommits(egCtx, repo.ID, nil)
			if err != nil {
				return err
			}
			recent, err := g.countCommits(egCtx, repo.ID, &since)
			if err != nil {
				return err
			}
			mrs, err := g.countMergeRequests(egCtx, repo.ID)
			if err != nil {
				return err
			}
			results[i] = counters{commits: commits, recent: recent, mrs: mrs}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	summary := &OverviewSummary{TotalRepositories: len(repos)}
	for _, c := range results {
		summary.TotalCommits += c.commits
		summary.RecentCommits += c.recent
		summary.TotalPullRequests += c.mrs
		if c.recent > 0 {
			summary.ActiveRepositories++
		}
	}
	return summary, nil
}

// GetCommitTrend implements Client.
func (g *GitLabSource) GetCommitTrend(ctx context.Context, repoID string) (*CommitTrend, error) {
	const op = "GetCommitTrend"
	total, err := g.countCommits(ctx, repoID, nil)
	if err != nil {
		return nil, err
	}

	since := g.now().Add(-TrendWindow)
	opts := &gitlab.ListCommitsOptions{
		Since:       &since,
		ListOptions: gitlab.ListOptions{PerPage: perPage},
	}
	perDay := map[string]int{}
	for page := 0; page < maxPages; page++ {
		commits, resp, err := g.api.Commits.ListCommits(repoID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLabError(op, resp, err)
		}
		for _, c := range commits {
			when := c.CommittedDate
			if when == nil {
				when = c.CreatedAt
			}
			if when == nil {
				continue
			}
			perDay[when.UTC().Format("2006-01-02")]++
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	days := make([]string, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Strings(days)

	trend := &CommitTrend{TotalCommits: total, DailyTrend: make([]DailyCommits, 0, len(days))}
	for _, d := range days {
		trend.DailyTrend = append(trend.DailyTrend, DailyCommits{Date: d, Commits: perDay[d]})
	}
	return trend, nil
}

// GetPullRequestMetrics implements Client using merge requests.
func (g *GitLabSource) GetPullRequestMetrics(ctx context.Context, repoID string) (*PullRequestMetrics, error) {
	const op = "GetPullRequestMetrics"
	opts := &gitlab.ListProjectMergeRequestsOptions{
		State:       gitlab.Ptr("all"),
		ListOptions: gitlab.ListOptions{PerPage: perPage},
	}

	metrics := &PullRequestMetrics{}
	var turnaround []float64
	for page := 0; page < maxPRPages; page++ {
		mrs, resp, err := g.api.MergeRequests.ListProjectMergeRequests(repoID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLabError(op, resp, err)
		}
		for _, mr := range mrs {
			metrics.TotalPRs++
			switch mr.State {
			case "opened":
				metrics.OpenPRs++
			case "merged":
				metrics.MergedPRs++
				if mr.MergedAt != nil && mr.CreatedAt != nil {
					turnaround = append(turnaround, mr.MergedAt.Sub(*mr.CreatedAt).Hours())
				}
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(turnaround) > 0 {
		if mean, err := stats.Mean(turnaround); err == nil {
			metrics.AvgTurnaroundHours = roundTo(mean, 1)
		}
	}
	return metrics, nil
}

// GetHealthScore implements Client.
func (g *GitLabSource) GetHealthScore(_ context.Context, _ string) (*HealthScore, error) {
	return nil, unsupported("gitlab", "GetHealthScore")
}

// ImportAllRepositories implements Client.
func (g *GitLabSource) ImportAllRepositories(_ context.Context) (*CommandResult, error) {
	return nil, unsupported("gitlab", "ImportAllRepositories")
}

// AddRepository implements Client.
func (g *GitLabSource) AddRepository(_ context.Context, _ string) (*CommandResult, error) {
	return nil, unsupported("gitlab", "AddRepository")
}

// SyncRepository implements Client.
func (g *GitLabSource) SyncRepository(_ context.Context, _ string) (*CommandResult, error) {
	return nil, unsupported("gitlab", "SyncRepository")
}

// GenerateInsights implements Client.
func (g *GitLabSource) GenerateInsights(_ context.Context, _ string) (*GeneratedInsights, error) {
	return nil, unsupported("gitlab", "GenerateInsights")
}

// countCommits relies on the X-Total header, falling back to the page size
// when GitLab omits it.
func (g *GitLabSource) countCommits(ctx context.Context, projectID string, since *time.Time) (int, error) {
	opts := &gitlab.ListCommitsOptions{Since: since, ListOptions: gitlab.ListOptions{PerPage: 1}}
	commits, resp, err := g.api.Commits.ListCommits(projectID, opts, gitlab.WithContext(ctx))
	if err != nil {
		return 0, classifyGitLabError("CountCommits", resp, err)
	}
	if resp != nil && resp.TotalItems > 0 {
		return int(resp.TotalItems), nil
	}
	if resp != nil && resp.TotalPages > 0 {
		return int(resp.TotalPages), nil
	}
	return len(commits), nil
}

func (g *GitLabSource) countMergeRequests(ctx context.Context, projectID string) (int, error) {
	opts := &gitlab.ListProjectMergeRequestsOptions{State: gitlab.Ptr("all"), ListOptions: gitlab.ListOptions{PerPage: 1}}
	mrs, resp, err := g.api.MergeRequests.ListProjectMergeRequests(projectID, opts, gitlab.WithContext(ctx))
	if err != nil {
		return 0, classifyGitLabError("CountMergeRequests", resp, err)
	}
	if resp != nil && resp.TotalItems > 0 {
		return int(resp.TotalItems), nil
	}
	return len(mrs), nil
}

func gitlabRepository(p *gitlab.Project) Repository {
	repo := Repository{
		ID:          p.PathWithNamespace,
		Name:        p.Name,
		FullName:    p.PathWithNamespace,
		Description: p.Description,
		URL:         p.WebURL,
		IsPrivate:   p.Visibility != gitlab.PublicVisibility,
		Stars:       int(p.StarCount),
		Forks:       int(p.ForksCount),
		Provider:    "gitlab",
	}
	if p.Namespace != nil {
		repo.Owner = p.Namespace.FullPath
	}
	if p.LastActivityAt != nil {
		last := *p.LastActivityAt
		repo.LastSynced = &last
	}
	return repo
}

func classifyGitLabError(op string, resp *gitlab.Response, err error) error {
	var glErr *gitlab.ErrorResponse
	status := 0
	if errors.As(err, &glErr) && glErr.Response != nil {
		status = glErr.Response.StatusCode
	} else if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	if status == 0 {
		return networkError(op, err)
	}

	e := &Error{Op: op, StatusCode: status, Err: err}
	if glErr != nil {
		e.Detail = glErr.Message
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindUnauthorized
	case http.StatusNotFound, http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.Kind = KindInvalidInput
	default:
		e.Kind = KindNetworkFailure
	}
	return e
}

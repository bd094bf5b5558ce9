package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v57/github"
	"github.com/montanaflynn/stats"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	// TrendWindow is how far back commit trends and recent counters look.
	TrendWindow = 30 * 24 * time.Hour

	perPage      = 100
	maxPages     = 10
	maxPRPages   = 5
	overviewJobs = 4
)

// GitHubSource reads analytics directly from the GitHub API. Repository
// IDs are "owner/name". Health scores, insights and server-side commands
// are not available from this source.
type GitHubSource struct {
	api GitHubAPI
	now func() time.Time
}

// NewGitHubSource creates a GitHub source. A custom BaseURL selects a
// GitHub Enterprise instance. Requests pass through a secondary rate-limit
// waiter before authentication is attached.
func NewGitHubSource(config Config) (*GitHubSource, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}

	var transport http.RoundTripper = rateLimitWaiter
	if config.Tokens != nil {
		transport = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: credentialSource{src: oauth2.ReuseTokenSource(nil, config.Tokens)},
		}
	}
	client := github.NewClient(&http.Client{Transport: transport, Timeout: config.timeout()})

	if config.BaseURL != "" {
		client, err = client.WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set GitHub Enterprise URL: %w", err)
		}
	}

	return NewGitHubSourceWithAPI(wrapGitHubClient(client)), nil
}

// NewGitHubSourceWithAPI creates a source over the given services.
func NewGitHubSourceWithAPI(api GitHubAPI) *GitHubSource {
	return &GitHubSource{api: api, now: time.Now}
}

// ListRepositories implements Client.
func (g *GitHubSource) ListRepositories(ctx context.Context) ([]Repository, error) {
	const op = "ListRepositories"
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	repos := make([]Repository, 0)
	for page := 0; page < maxPages; page++ {
		list, resp, err := g.api.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, classifyGitHubError(op, err)
		}
		for _, r := range list {
			repos = append(repos, githubRepository(r))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	slog.Debug("Listed GitHub repositories", "count", len(repos))
	return repos, nil
}

// GetOverview implements Client. Counters are collected per repository
// with bounded concurrency; any failure fails the whole overview.
func (g *GitHubSource) GetOverview(ctx context.Context) (*OverviewSummary, error) {
	repos, err := g.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	type counters struct{ commits, recent, prs int }
	results := make([]counters, len(repos))
	since := g.now().Add(-TrendWindow)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(overviewJobs)
	for i, repo := range repos {
		eg.Go(func() error {
			owner, name, err := splitFullName(repo.ID)
			if err != nil {
				return err
			}
			commits, err := g.countCommits(egCtx, owner, name, time.Time{})
			if err != nil {
				return err
			}
			recent, err := g.countCommits(egCtx, owner, name, since)
			if err != nil {
				return err
			}
			prs, err := g.countPullRequests(egCtx, owner, name)
			if err != nil {
				return err
			}
			results[i] = counters{commits: commits, recent: recent, prs: prs}
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
		summary.TotalPullRequests += c.prs
		if c.recent > 0 {
			summary.ActiveRepositories++
		}
	}
	return summary, nil
}

// GetCommitTrend implements Client. Days are bucketed by committer date in
// UTC and returned oldest first.
func (g *GitHubSource) GetCommitTrend(ctx context.Context, repoID string) (*CommitTrend, error) {
	const op = "GetCommitTrend"
	owner, name, err := splitFullName(repoID)
	if err != nil {
		return nil, err
	}

	total, err := g.countCommits(ctx, owner, name, time.Time{})
	if err != nil {
		return nil, err
	}

	opts := &github.CommitsListOptions{
		Since:       g.now().Add(-TrendWindow),
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	perDay := map[string]int{}
	for page := 0; page < maxPages; page++ {
		commits, resp, err := g.api.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			if isEmptyRepository(err) {
				break
			}
			return nil, classifyGitHubError(op, err)
		}
		for _, c := range commits {
			date := c.GetCommit().GetCommitter().GetDate()
			if date.IsZero() {
				date = c.GetCommit().GetAuthor().GetDate()
			}
			perDay[date.UTC().Format("2006-01-02")]++
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

// GetPullRequestMetrics implements Client. Turnaround is the mean time from
// creation to merge over merged pull requests.
func (g *GitHubSource) GetPullRequestMetrics(ctx context.Context, repoID string) (*PullRequestMetrics, error) {
	const op = "GetPullRequestMetrics"
	owner, name, err := splitFullName(repoID)
	if err != nil {
		return nil, err
	}

	opts := &github.PullRequestListOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	metrics := &PullRequestMetrics{}
	var turnaround []float64
	for page := 0; page < maxPRPages; page++ {
		prs, resp, err := g.api.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, classifyGitHubError(op, err)
		}
		for _, pr := range prs {
			metrics.TotalPRs++
			if pr.GetState() == "open" {
				metrics.OpenPRs++
			}
			if pr.MergedAt != nil {
				metrics.MergedPRs++
				turnaround = append(turnaround, pr.GetMergedAt().Time.Sub(pr.GetCreatedAt().Time).Hours())
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(turnaround) > 0 {
		mean, err := stats.Mean(turnaround)
		if err == nil {
			metrics.AvgTurnaroundHours = roundTo(mean, 1)
		}
	}
	return metrics, nil
}

// GetHealthScore implements Client.
func (g *GitHubSource) GetHealthScore(_ context.Context, _ string) (*HealthScore, error) {
	return nil, unsupported("github", "GetHealthScore")
}

// ImportAllRepositories implements Client.
func (g *GitHubSource) ImportAllRepositories(_ context.Context) (*CommandResult, error) {
	return nil, unsupported("github", "ImportAllRepositories")
}

// AddRepository implements Client.
func (g *GitHubSource) AddRepository(_ context.Context, _ string) (*CommandResult, error) {
	return nil, unsupported("github", "AddRepository")
}

// SyncRepository implements Client.
func (g *GitHubSource) SyncRepository(_ context.Context, _ string) (*CommandResult, error) {
	return nil, unsupported("github", "SyncRepository")
}

// GenerateInsights implements Client.
func (g *GitHubSource) GenerateInsights(_ context.Context, _ string) (*GeneratedInsights, error) {
	return nil, unsupported("github", "GenerateInsights")
}

// countCommits counts commits on the default branch, optionally since a
// point in time. One item per page makes the last page number the count.
func (g *GitHubSource) countCommits(ctx context.Context, owner, name string, since time.Time) (int, error) {
	opts := &github.CommitsListOptions{Since: since, ListOptions: github.ListOptions{PerPage: 1}}
	commits, resp, err := g.api.Repositories.ListCommits(ctx, owner, name, opts)
	if err != nil {
		if isEmptyRepository(err) {
			return 0, nil
		}
		return 0, classifyGitHubError("CountCommits", err)
	}
	return countFromResponse(resp, len(commits)), nil
}

func (g *GitHubSource) countPullRequests(ctx context.Context, owner, name string) (int, error) {
	opts := &github.PullRequestListOptions{State: "all", ListOptions: github.ListOptions{PerPage: 1}}
	prs, resp, err := g.api.PullRequests.List(ctx, owner, name, opts)
	if err != nil {
		return 0, classifyGitHubError("CountPullRequests", err)
	}
	return countFromResponse(resp, len(prs)), nil
}

func countFromResponse(resp *github.Response, onPage int) int {
	if resp != nil && resp.LastPage > 0 {
		return resp.LastPage
	}
	return onPage
}

func githubRepository(r *github.Repository) Repository {
	repo := Repository{
		ID:          r.GetFullName(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Owner:       r.GetOwner().GetLogin(),
		Description: r.GetDescription(),
		URL:         r.GetHTMLURL(),
		Language:    r.GetLanguage(),
		IsPrivate:   r.GetPrivate(),
		Stars:       r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
		Provider:    "github",
	}
	if r.PushedAt != nil {
		pushed := r.GetPushedAt().Time
		repo.LastSynced = &pushed
	}
	return repo
}

// isEmptyRepository reports GitHub's 409 answer for commit listings of a
// repository without commits.
func isEmptyRepository(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusConflict
}

func classifyGitHubError(op string, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &Error{Kind: KindNetworkFailure, Op: op, Detail: "rate limited", Err: err}
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		e := &Error{Op: op, StatusCode: ghErr.Response.StatusCode, Detail: ghErr.Message, Err: err}
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			e.Kind = KindUnauthorized
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			e.Kind = KindInvalidInput
		default:
			e.Kind = KindNetworkFailure
		}
		return e
	}
	return networkError(op, err)
}

func splitFullName(id string) (string, string, error) {
	owner, name, ok := strings.Cut(id, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", &Error{Kind: KindInvalidInput, Op: "ParseRepositoryID", Detail: fmt.Sprintf("expected owner/name, got %q", id)}
	}
	return owner, name, nil
}

// credentialSource marks token failures as authorization errors so they
// survive the transport's error wrapping.
type credentialSource struct {
	src oauth2.TokenSource
}

func (c credentialSource) Token() (*oauth2.Token, error) {
	tok, err := c.src.Token()
	if err != nil {
		return nil, NewError(KindUnauthorized, "Token", err)
	}
	return tok, nil
}

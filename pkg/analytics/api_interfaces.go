package analytics

// Narrow views of the GitHub and GitLab SDK clients. Sources only depend
// on these interfaces so tests can inject fakes without HTTP.

import (
	"context"
	"time"

	"github.com/google/go-github/v57/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

/////////////////////////
// GitHub API Interfaces
/////////////////////////

// GitHubRepositoriesService abstracts the repository operations used.
type GitHubRepositoriesService interface {
	ListByAuthenticatedUser(ctx context.Context, opts *github.RepositoryListByAuthenticatedUserOptions) ([]*github.Repository, *github.Response, error)
	ListCommits(ctx context.Context, owner, repo string, opts *github.CommitsListOptions) ([]*github.RepositoryCommit, *github.Response, error)
}

// GitHubPullRequestsService abstracts pull request listing.
type GitHubPullRequestsService interface {
	List(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error)
}

// GitHubAPI groups the narrowed GitHub service interfaces.
type GitHubAPI struct {
	Repositories GitHubRepositoriesService
	PullRequests GitHubPullRequestsService
}

func wrapGitHubClient(c *github.Client) GitHubAPI {
	return GitHubAPI{
		Repositories: c.Repositories,
		PullRequests: c.PullRequests,
	}
}

/////////////////////////
// GitLab API Interfaces
/////////////////////////

// GitLabMergeRequest is the subset of merge request fields the source reads.
type GitLabMergeRequest struct {
	State     string
	CreatedAt *time.Time
	MergedAt  *time.Time
}

// GitLabProjectsService abstracts project listing.
type GitLabProjectsService interface {
	ListProjects(opts *gitlab.ListProjectsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Project, *gitlab.Response, error)
}

// GitLabCommitsService abstracts commit listing.
type GitLabCommitsService interface {
	ListCommits(projectID string, opts *gitlab.ListCommitsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Commit, *gitlab.Response, error)
}

// GitLabMergeRequestsService abstracts merge request listing.
type GitLabMergeRequestsService interface {
	ListProjectMergeRequests(projectID string, opts *gitlab.ListProjectMergeRequestsOptions, options ...gitlab.RequestOptionFunc) ([]GitLabMergeRequest, *gitlab.Response, error)
}

type gitlabProjectsWrapper struct {
	client *gitlab.Client
}

func (w *gitlabProjectsWrapper) ListProjects(opts *gitlab.ListProjectsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Project, *gitlab.Response, error) {
	return w.client.Projects.ListProjects(opts, options...)
}

type gitlabCommitsWrapper struct {
	client *gitlab.Client
}

func (w *gitlabCommitsWrapper) ListCommits(projectID string, opts *gitlab.ListCommitsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Commit, *gitlab.Response, error) {
	return w.client.Commits.ListCommits(projectID, opts, options...)
}

type gitlabMergeRequestsWrapper struct {
	client *gitlab.Client
}

func (w *gitlabMergeRequestsWrapper) ListProjectMergeRequests(projectID string, opts *gitlab.ListProjectMergeRequestsOptions, options ...gitlab.RequestOptionFunc) ([]GitLabMergeRequest, *gitlab.Response, error) {
	mrs, resp, err := w.client.MergeRequests.ListProjectMergeRequests(projectID, opts, options...)
	if err != nil {
		return nil, resp, err
	}
	out := make([]GitLabMergeRequest, 0, len(mrs))
	for _, mr := range mrs {
		out = append(out, GitLabMergeRequest{State: mr.State, CreatedAt: mr.CreatedAt, MergedAt: mr.MergedAt})
	}
	return out, resp, nil
}

// GitLabAPI groups the narrowed GitLab service interfaces.
type GitLabAPI struct {
	Projects      GitLabProjectsService
	Commits       GitLabCommitsService
	MergeRequests GitLabMergeRequestsService
}

func wrapGitLabClient(c *gitlab.Client) GitLabAPI {
	return GitLabAPI{
		Projects:      &gitlabProjectsWrapper{client: c},
		Commits:       &gitlabCommitsWrapper{client: c},
		MergeRequests: &gitlabMergeRequestsWrapper{client: c},
	}
}

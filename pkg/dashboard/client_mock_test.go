package dashboard

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/greg-hellings/devscope/pkg/analytics"
)

// mockClient is a testify mock of analytics.Client.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) ListRepositories(ctx context.Context) ([]analytics.Repository, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]analytics.Repository), args.Error(1)
}

func (m *mockClient) GetOverview(ctx context.Context) (*analytics.OverviewSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.OverviewSummary), args.Error(1)
}

func (m *mockClient) GetCommitTrend(ctx context.Context, repoID string) (*analytics.CommitTrend, error) {
	args := m.Called(ctx, repoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.CommitTrend), args.Error(1)
}

func (m *mockClient) GetPullRequestMetrics(ctx context.Context, repoID string) (*analytics.PullRequestMetrics, error) {
	args := m.Called(ctx, repoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.PullRequestMetrics), args.Error(1)
}

func (m *mockClient) GetHealthScore(ctx context.Context, repoID string) (*analytics.HealthScore, error) {
	args := m.Called(ctx, repoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.HealthScore), args.Error(1)
}

func (m *mockClient) ImportAllRepositories(ctx context.Context) (*analytics.CommandResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.CommandResult), args.Error(1)
}

func (m *mockClient) AddRepository(ctx context.Context, repoURL string) (*analytics.CommandResult, error) {
	args := m.Called(ctx, repoURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.CommandResult), args.Error(1)
}

func (m *mockClient) SyncRepository(ctx context.Context, repoID string) (*analytics.CommandResult, error) {
	args := m.Called(ctx, repoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.CommandResult), args.Error(1)
}

func (m *mockClient) GenerateInsights(ctx context.Context, repoID string) (*analytics.GeneratedInsights, error) {
	args := m.Called(ctx, repoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.GeneratedInsights), args.Error(1)
}

// expectMetrics sets up successful per-repository fetches for repoID. The
// commit total identifies which repository a trend belongs to.
func (m *mockClient) expectMetrics(repoID string, commits int) {
	m.On("GetCommitTrend", mock.Anything, repoID).
		Return(&analytics.CommitTrend{TotalCommits: commits}, nil).Maybe()
	m.On("GetPullRequestMetrics", mock.Anything, repoID).
		Return(&analytics.PullRequestMetrics{TotalPRs: commits / 10}, nil).Maybe()
	m.On("GetHealthScore", mock.Anything, repoID).
		Return(&analytics.HealthScore{RepositoryID: repoID, OverallScore: 80}, nil).Maybe()
}

// gatedClient answers per-repository fetches from counters and can hold
// them until released, letting tests order completions by hand.
type gatedClient struct {
	repos    []analytics.Repository
	overview analytics.OverviewSummary

	mu      sync.Mutex
	gates   map[string]chan struct{}
	calls   map[string]int
	started chan string
}

func newGatedClient(ids ...string) *gatedClient {
	c := &gatedClient{
		gates:   make(map[string]chan struct{}),
		calls:   make(map[string]int),
		started: make(chan string, 64),
	}
	for _, id := range ids {
		c.repos = append(c.repos, analytics.Repository{ID: id, Name: id})
	}
	c.overview.TotalRepositories = len(ids)
	return c
}

// hold makes fetches for repoID block until release is called.
func (c *gatedClient) hold(repoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gates[repoID] = make(chan struct{})
}

// release unblocks held fetches for repoID. Later fetches are not held.
func (c *gatedClient) release(repoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gates[repoID]; ok {
		close(g)
		delete(c.gates, repoID)
	}
}

// stopHolding lets later fetches for repoID through while earlier ones stay
// blocked on the gate they captured.
func (c *gatedClient) stopHolding(repoID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.gates[repoID]
	delete(c.gates, repoID)
	return g
}

func (c *gatedClient) enter(ctx context.Context, resource, repoID string) (int, error) {
	c.mu.Lock()
	key := resource + "/" + repoID
	c.calls[key]++
	n := c.calls[key]
	gate := c.gates[repoID]
	c.mu.Unlock()

	c.started <- key
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return n, nil
}

func (c *gatedClient) ListRepositories(context.Context) ([]analytics.Repository, error) {
	return append([]analytics.Repository(nil), c.repos...), nil
}

func (c *gatedClient) GetOverview(context.Context) (*analytics.OverviewSummary, error) {
	ov := c.overview
	return &ov, nil
}

func (c *gatedClient) GetCommitTrend(ctx context.Context, repoID string) (*analytics.CommitTrend, error) {
	n, err := c.enter(ctx, "commits", repoID)
	if err != nil {
		return nil, err
	}
	return &analytics.CommitTrend{TotalCommits: n, DailyTrend: []analytics.DailyCommits{{Date: repoID}}}, nil
}

func (c *gatedClient) GetPullRequestMetrics(ctx context.Context, repoID string) (*analytics.PullRequestMetrics, error) {
	n, err := c.enter(ctx, "pull_requests", repoID)
	if err != nil {
		return nil, err
	}
	return &analytics.PullRequestMetrics{TotalPRs: n}, nil
}

func (c *gatedClient) GetHealthScore(ctx context.Context, repoID string) (*analytics.HealthScore, error) {
	n, err := c.enter(ctx, "health", repoID)
	if err != nil {
		return nil, err
	}
	return &analytics.HealthScore{RepositoryID: repoID, OverallScore: float64(n)}, nil
}

func (c *gatedClient) ImportAllRepositories(context.Context) (*analytics.CommandResult, error) {
	return &analytics.CommandResult{Message: "imported"}, nil
}

func (c *gatedClient) AddRepository(context.Context, string) (*analytics.CommandResult, error) {
	return &analytics.CommandResult{Message: "added"}, nil
}

func (c *gatedClient) SyncRepository(_ context.Context, repoID string) (*analytics.CommandResult, error) {
	return &analytics.CommandResult{Message: "synced", RepositoryID: repoID}, nil
}

func (c *gatedClient) GenerateInsights(ctx context.Context, repoID string) (*analytics.GeneratedInsights, error) {
	if _, err := c.enter(ctx, "insights", repoID); err != nil {
		return nil, err
	}
	return &analytics.GeneratedInsights{RepositoryID: repoID, RawText: "SUMMARY\n- fine"}, nil
}

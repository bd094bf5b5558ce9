// Package dashboard coordinates repository analytics for presentation. The
// Orchestrator loads the repository catalog, tracks the selected
// repository, fans out per-repository metric fetches and runs commands,
// exposing the result as immutable Snapshots.
//
// Fetches run concurrently, but every state change happens inside one
// critical section, one completion at a time. Per-repository results are
// gated by an epoch counter: a result is applied only while its epoch is
// still current and its repository is still selected, so late answers for
// a repository the user navigated away from are dropped.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/greg-hellings/devscope/pkg/analytics"
	"github.com/greg-hellings/devscope/pkg/insights"
	"github.com/greg-hellings/devscope/pkg/telemetry/metrics"
)

// ErrReloadFailed is joined with the cause when a command succeeded but the
// catalog reload that follows it failed.
var ErrReloadFailed = errors.New("catalog reload failed")

// Metric resources.
const (
	resourceCommits      = "commits"
	resourcePullRequests = "pull_requests"
	resourceHealth       = "health"
	resourceInsights     = "insights"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records fetch and command outcomes in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithPreferredRepository selects the repository with id after the first
// successful Initialize, when it is present in the list.
func WithPreferredRepository(id string) Option {
	return func(o *Orchestrator) { o.preferred = strings.TrimSpace(id) }
}

// Orchestrator owns the dashboard state. All methods are safe for
// concurrent use; blocking methods return once their fetches completed.
type Orchestrator struct {
	client    analytics.Client
	metrics   *metrics.Collector
	preferred string

	mu          sync.Mutex
	phase       Phase
	err         error
	store       *SelectionStore
	overview    *analytics.OverviewSummary
	commitTrend Field[analytics.CommitTrend]
	prMetrics   Field[analytics.PullRequestMetrics]
	health      Field[analytics.HealthScore]
	insights    *insights.Document
	epochs      map[string]uint64
	pending     map[Operation]int
	changes     chan struct{}
}

// New creates an Orchestrator reading from client.
func New(client analytics.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		store:   NewSelectionStore(),
		epochs:  make(map[string]uint64),
		pending: make(map[Operation]int),
		changes: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	sel := o.store.Current()
	return Snapshot{
		Phase:        o.phase,
		Err:          o.err,
		Repositories: sel.Repositories,
		Selected:     sel.Selected,
		Overview:     o.overview,
		CommitTrend:  o.commitTrend,
		PRMetrics:    o.prMetrics,
		Health:       o.health,
		Insights:     o.insights,
		Pending:      pendingList(o.pending),
	}
}

// Changes signals state changes. Signals are coalesced: a receiver that
// falls behind sees one pending signal and should read a fresh Snapshot.
func (o *Orchestrator) Changes() <-chan struct{} {
	return o.changes
}

// Initialize loads the repository list and the overview concurrently. Both
// must succeed; otherwise the dashboard enters PhaseError with no catalog
// data and the error is returned. On success the selected repository's
// analytics are refreshed before Initialize returns.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	done := o.begin(OpInitialize)
	defer done()

	o.mu.Lock()
	o.phase = PhaseLoading
	o.err = nil
	o.notifyLocked()
	o.mu.Unlock()

	slog.Info("Loading dashboard")
	repos, overview, err := o.fetchCatalog(ctx)

	o.mu.Lock()
	o.invalidateSelectionLocked()
	o.insights = nil
	if err != nil {
		o.phase = PhaseError
		o.err = err
		o.store = NewSelectionStore()
		o.overview = nil
		o.notifyLocked()
		o.mu.Unlock()
		slog.Warn("Dashboard load failed", "error", err)
		return err
	}

	o.overview = overview
	o.store.SetRepositories(repos)
	if o.preferred != "" {
		if repo, ok := o.store.Lookup(o.preferred); ok {
			_ = o.store.Select(repo)
		}
		o.preferred = ""
	}
	o.phase = PhaseReady
	repoID, epoch := o.startSelectedRefreshLocked()
	o.notifyLocked()
	o.mu.Unlock()

	slog.Info("Dashboard loaded", "repositories", len(repos), "selected", repoID)
	if repoID != "" {
		o.runRefresh(ctx, repoID, epoch)
	}
	return nil
}

// SelectRepository makes id the selected repository and refreshes its
// analytics. In-flight fetches for the previous selection are invalidated.
// It fails with InvalidSelection when id is not in the list.
func (o *Orchestrator) SelectRepository(ctx context.Context, id string) error {
	o.mu.Lock()
	repo, ok := o.store.Lookup(id)
	if !ok {
		err := o.store.Select(analytics.Repository{ID: id})
		o.mu.Unlock()
		return err
	}
	if !o.store.IsSelected(id) {
		o.invalidateSelectionLocked()
		o.insights = nil
		_ = o.store.Select(repo)
	}
	epoch := o.startRefreshLocked(id)
	o.notifyLocked()
	o.mu.Unlock()

	slog.Debug("Repository selected", "repo", id)
	o.runRefresh(ctx, id, epoch)
	return nil
}

// RefreshAnalytics fetches commit trend, pull request metrics and health
// for repoID concurrently. Each metric fails independently and is marked
// unavailable; RefreshAnalytics itself only fails with NoRepositorySelected
// when repoID is not the selected repository. A newer refresh or selection
// supersedes this one.
func (o *Orchestrator) RefreshAnalytics(ctx context.Context, repoID string) error {
	o.mu.Lock()
	if !o.store.IsSelected(repoID) {
		o.mu.Unlock()
		return notSelected("RefreshAnalytics", repoID)
	}
	epoch := o.startRefreshLocked(repoID)
	o.notifyLocked()
	o.mu.Unlock()

	o.runRefresh(ctx, repoID, epoch)
	return nil
}

// ImportAll imports every repository visible to the caller, then reloads
// the catalog.
func (o *Orchestrator) ImportAll(ctx context.Context) (*analytics.CommandResult, error) {
	return o.runCommand(ctx, OpImportAll, func(ctx context.Context) (*analytics.CommandResult, error) {
		return o.client.ImportAllRepositories(ctx)
	})
}

// AddRepository starts tracking repoURL, then reloads the catalog. A blank
// URL fails with InvalidInput without contacting the client; any other value
// is passed on unchanged.
func (o *Orchestrator) AddRepository(ctx context.Context, repoURL string) (*analytics.CommandResult, error) {
	if strings.TrimSpace(repoURL) == "" {
		err := &analytics.Error{Kind: analytics.KindInvalidInput, Op: "AddRepository", Detail: "repository URL is required"}
		o.metrics.RecordCommand(string(OpAddRepository), err)
		return nil, err
	}
	return o.runCommand(ctx, OpAddRepository, func(ctx context.Context) (*analytics.CommandResult, error) {
		return o.client.AddRepository(ctx, repoURL)
	})
}

// SyncRepository refreshes server-side data for id, then reloads the
// catalog.
func (o *Orchestrator) SyncRepository(ctx context.Context, id string) (*analytics.CommandResult, error) {
	if strings.TrimSpace(id) == "" {
		err := &analytics.Error{Kind: analytics.KindInvalidInput, Op: "SyncRepository", Detail: "repository ID is required"}
		o.metrics.RecordCommand(string(OpSyncRepository), err)
		return nil, err
	}
	return o.runCommand(ctx, OpSyncRepository, func(ctx context.Context) (*analytics.CommandResult, error) {
		return o.client.SyncRepository(ctx, id)
	})
}

// GenerateInsights produces and structures a narrative for repoID, which
// must be the selected repository. The document is always returned; it is
// kept in the snapshot only while repoID stays selected.
func (o *Orchestrator) GenerateInsights(ctx context.Context, repoID string) (*insights.Document, error) {
	o.mu.Lock()
	selected := o.store.IsSelected(repoID)
	o.mu.Unlock()
	if !selected {
		err := notSelected("GenerateInsights", repoID)
		o.metrics.RecordCommand(string(OpGenerateInsights), err)
		return nil, err
	}

	done := o.begin(OpGenerateInsights)
	defer done()

	start := time.Now()
	gen, err := o.client.GenerateInsights(ctx, repoID)
	if err == nil && gen == nil {
		err = analytics.NewError(analytics.KindNetworkFailure, "GenerateInsights", errors.New("empty response"))
	}
	o.metrics.RecordCommand(string(OpGenerateInsights), err)
	if err != nil {
		slog.Warn("Insight generation failed", "repo", repoID, "error", err)
		return nil, err
	}

	generatedAt := gen.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}
	doc := insights.NewDocument(repoID, gen.RawText, generatedAt)

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.store.IsSelected(repoID) {
		o.metrics.RecordFetch(resourceInsights, metrics.OutcomeDiscarded, time.Since(start))
		slog.Debug("Insights arrived after selection changed", "repo", repoID)
		return doc, nil
	}
	o.insights = doc
	o.metrics.RecordFetch(resourceInsights, metrics.OutcomeApplied, time.Since(start))
	o.notifyLocked()
	return doc, nil
}

func (o *Orchestrator) runCommand(ctx context.Context, op Operation, call func(context.Context) (*analytics.CommandResult, error)) (*analytics.CommandResult, error) {
	done := o.begin(op)
	defer done()

	res, err := call(ctx)
	if err == nil && res == nil {
		err = analytics.NewError(analytics.KindNetworkFailure, string(op), errors.New("empty response"))
	}
	o.metrics.RecordCommand(string(op), err)
	if err != nil {
		slog.Warn("Command failed", "command", op, "error", err)
		return nil, err
	}
	slog.Info("Command complete", "command", op, "message", res.Message)

	if err := o.reload(ctx); err != nil {
		slog.Warn("Reload after command failed", "command", op, "error", err)
		return res, fmt.Errorf("%w: %w", ErrReloadFailed, err)
	}
	return res, nil
}

// reload re-fetches the repository list and overview without resetting
// the rest of the state, then refreshes the selected repository.
func (o *Orchestrator) reload(ctx context.Context) error {
	repos, overview, err := o.fetchCatalog(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	prevID := o.selectedIDLocked()
	if prevID != "" {
		o.epochs[prevID]++
	}
	o.store.SetRepositories(repos)
	o.overview = overview
	if o.phase != PhaseReady {
		o.phase = PhaseReady
		o.err = nil
	}
	if o.selectedIDLocked() != prevID {
		o.clearRepositoryScopeLocked()
		o.insights = nil
	}
	repoID, epoch := o.startSelectedRefreshLocked()
	o.notifyLocked()
	o.mu.Unlock()

	if repoID != "" {
		o.runRefresh(ctx, repoID, epoch)
	}
	return nil
}

func (o *Orchestrator) fetchCatalog(ctx context.Context) ([]analytics.Repository, *analytics.OverviewSummary, error) {
	var (
		repos    []analytics.Repository
		overview *analytics.OverviewSummary
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		list, err := o.client.ListRepositories(egCtx)
		if err != nil {
			return fmt.Errorf("failed to list repositories: %w", err)
		}
		repos = list
		return nil
	})
	eg.Go(func() error {
		ov, err := o.client.GetOverview(egCtx)
		if err != nil {
			return fmt.Errorf("failed to load overview: %w", err)
		}
		if ov == nil {
			return analytics.NewError(analytics.KindNetworkFailure, "GetOverview", errors.New("empty response"))
		}
		overview = ov
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return repos, overview, nil
}

// runRefresh performs the three metric fetches captured under epoch and
// waits for all of them.
func (o *Orchestrator) runRefresh(ctx context.Context, repoID string, epoch uint64) {
	done := o.begin(OpRefreshAnalytics)
	defer done()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		start := time.Now()
		v, err := o.client.GetCommitTrend(ctx, repoID)
		o.apply(repoID, epoch, resourceCommits, start, err, func() {
			o.commitTrend = resolve(v, err, "GetCommitTrend")
		})
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		v, err := o.client.GetPullRequestMetrics(ctx, repoID)
		o.apply(repoID, epoch, resourcePullRequests, start, err, func() {
			o.prMetrics = resolve(v, err, "GetPullRequestMetrics")
		})
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		v, err := o.client.GetHealthScore(ctx, repoID)
		o.apply(repoID, epoch, resourceHealth, start, err, func() {
			o.health = resolve(v, err, "GetHealthScore")
		})
	}()
	wg.Wait()
}

// apply runs set under the lock when the result is still current.
func (o *Orchestrator) apply(repoID string, epoch uint64, resource string, start time.Time, err error, set func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epochs[repoID] != epoch || !o.store.IsSelected(repoID) {
		o.metrics.RecordFetch(resource, metrics.OutcomeDiscarded, time.Since(start))
		slog.Debug("Discarding stale analytics result", "repo", repoID, "resource", resource, "epoch", epoch)
		return
	}

	set()
	outcome := metrics.OutcomeApplied
	if err != nil {
		outcome = metrics.OutcomeFailed
		slog.Warn("Analytics unavailable", "repo", repoID, "resource", resource, "error", err)
	}
	o.metrics.RecordFetch(resource, outcome, time.Since(start))
	o.notifyLocked()
}

func resolve[T any](v *T, err error, op string) Field[T] {
	if err == nil && v == nil {
		err = analytics.NewError(analytics.KindNetworkFailure, op, errors.New("empty response"))
	}
	if err != nil {
		return Field[T]{Status: FieldUnavailable, Err: err}
	}
	return Field[T]{Status: FieldReady, Value: v}
}

// startRefreshLocked begins a new epoch for repoID and marks its metrics
// as loading.
func (o *Orchestrator) startRefreshLocked(repoID string) uint64 {
	o.epochs[repoID]++
	o.commitTrend = Field[analytics.CommitTrend]{Status: FieldLoading}
	o.prMetrics = Field[analytics.PullRequestMetrics]{Status: FieldLoading}
	o.health = Field[analytics.HealthScore]{Status: FieldLoading}
	return o.epochs[repoID]
}

func (o *Orchestrator) startSelectedRefreshLocked() (string, uint64) {
	id := o.selectedIDLocked()
	if id == "" {
		o.clearRepositoryScopeLocked()
		return "", 0
	}
	return id, o.startRefreshLocked(id)
}

// invalidateSelectionLocked drops in-flight results for the selected
// repository and clears its metrics.
func (o *Orchestrator) invalidateSelectionLocked() {
	if id := o.selectedIDLocked(); id != "" {
		o.epochs[id]++
	}
	o.clearRepositoryScopeLocked()
}

func (o *Orchestrator) clearRepositoryScopeLocked() {
	o.commitTrend = Field[analytics.CommitTrend]{}
	o.prMetrics = Field[analytics.PullRequestMetrics]{}
	o.health = Field[analytics.HealthScore]{}
}

func (o *Orchestrator) selectedIDLocked() string {
	return o.store.selectedID()
}

func (o *Orchestrator) begin(op Operation) func() {
	o.mu.Lock()
	o.pending[op]++
	o.notifyLocked()
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		o.pending[op]--
		if o.pending[op] <= 0 {
			delete(o.pending, op)
		}
		o.notifyLocked()
		o.mu.Unlock()
	}
}

func (o *Orchestrator) notifyLocked() {
	select {
	case o.changes <- struct{}{}:
	default:
	}
}

func notSelected(op, repoID string) error {
	return &analytics.Error{
		Kind:   analytics.KindNoRepositorySelected,
		Op:     op,
		Detail: fmt.Sprintf("repository %q is not the current selection", repoID),
	}
}

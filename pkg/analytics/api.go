package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// APIClient talks to the DevScope REST API.
type APIClient struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
}

// NewAPIClient creates a client for the API rooted at config.BaseURL.
// Requests are sent to {BaseURL}/api/...
func NewAPIClient(config Config) (*APIClient, error) {
	raw := strings.TrimSpace(config.BaseURL)
	if raw == "" {
		return nil, errors.New("devscope API requires a base URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}

	c := &APIClient{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: config.timeout()},
	}
	if config.Tokens != nil {
		c.tokens = oauth2.ReuseTokenSource(nil, config.Tokens)
	}
	return c, nil
}

// ListRepositories implements Client.
func (c *APIClient) ListRepositories(ctx context.Context) ([]Repository, error) {
	var out []Repository
	if err := c.do(ctx, "ListRepositories", http.MethodGet, "/api/repositories", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Repository{}
	}
	return out, nil
}

// GetOverview implements Client.
func (c *APIClient) GetOverview(ctx context.Context) (*OverviewSummary, error) {
	var out OverviewSummary
	if err := c.do(ctx, "GetOverview", http.MethodGet, "/api/analytics/overview", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCommitTrend implements Client.
func (c *APIClient) GetCommitTrend(ctx context.Context, repoID string) (*CommitTrend, error) {
	var out CommitTrend
	if err := c.do(ctx, "GetCommitTrend", http.MethodGet, "/api/analytics/commits/"+url.PathEscape(repoID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPullRequestMetrics implements Client.
func (c *APIClient) GetPullRequestMetrics(ctx context.Context, repoID string) (*PullRequestMetrics, error) {
	var out PullRequestMetrics
	if err := c.do(ctx, "GetPullRequestMetrics", http.MethodGet, "/api/analytics/pull-requests/"+url.PathEscape(repoID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHealthScore implements Client.
func (c *APIClient) GetHealthScore(ctx context.Context, repoID string) (*HealthScore, error) {
	var out HealthScore
	if err := c.do(ctx, "GetHealthScore", http.MethodGet, "/api/analytics/health/"+url.PathEscape(repoID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportAllRepositories implements Client.
func (c *APIClient) ImportAllRepositories(ctx context.Context) (*CommandResult, error) {
	var out CommandResult
	if err := c.do(ctx, "ImportAllRepositories", http.MethodPost, "/api/repositories/import", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddRepository implements Client.
func (c *APIClient) AddRepository(ctx context.Context, repoURL string) (*CommandResult, error) {
	var out CommandResult
	body := map[string]string{"repo_url": repoURL}
	if err := c.do(ctx, "AddRepository", http.MethodPost, "/api/repositories/add", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncRepository implements Client.
func (c *APIClient) SyncRepository(ctx context.Context, repoID string) (*CommandResult, error) {
	var out CommandResult
	if err := c.do(ctx, "SyncRepository", http.MethodPost, "/api/repositories/sync/"+url.PathEscape(repoID), nil, &out); err != nil {
		return nil, err
	}
	if out.RepositoryID == "" {
		out.RepositoryID = repoID
	}
	return &out, nil
}

// GenerateInsights implements Client.
func (c *APIClient) GenerateInsights(ctx context.Context, repoID string) (*GeneratedInsights, error) {
	var out GeneratedInsights
	if err := c.do(ctx, "GenerateInsights", http.MethodPost, "/api/insights/generate/"+url.PathEscape(repoID), nil, &out); err != nil {
		return nil, err
	}
	if out.RepositoryID == "" {
		out.RepositoryID = repoID
	}
	return &out, nil
}

func (c *APIClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return NewError(KindInvalidInput, op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return NewError(KindInvalidInput, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)

	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return NewError(KindUnauthorized, op, err)
		}
		tok.SetAuthHeader(req)
	}

	slog.Debug("API request", "op", op, "method", method, "path", path, "requestID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close response body", "op", op, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return &Error{Kind: KindNetworkFailure, Op: op, StatusCode: resp.StatusCode, Detail: "malformed response", Err: err}
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(op string, resp *http.Response) error {
	e := &Error{Op: op, StatusCode: resp.StatusCode, Detail: responseDetail(resp.Body)}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.Kind = KindInvalidInput
	default:
		e.Kind = KindNetworkFailure
	}
	return e
}

// responseDetail extracts the "detail" member of an error body. Validation
// errors carry a structured detail which is returned as compact JSON.
func responseDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(data))
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload.Detail); err != nil {
		return string(payload.Detail)
	}
	return compact.String()
}

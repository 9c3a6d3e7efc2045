// Package github implements the source control collaborator against the
// GitHub REST API. It creates fix branches and pull requests and maps API
// failures into the findings error taxonomy so callers never see raw HTTP
// status codes.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/techmandates/techmandates/internal/domain/findings"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

const (
	defaultBaseURL        = "https://api.github.com"
	defaultRequestTimeout = 30 * time.Second

	// GitHub's secondary rate limits punish bursts; one request every
	// 100ms with a small burst keeps well under them.
	defaultRequestsPerSecond = 10
	defaultBurst             = 5

	maxRefLookupRetries = 3
)

// Ensure Client satisfies findings.VCSProvider (compile-time check).
var _ findings.VCSProvider = (*Client)(nil)

// Client talks to the GitHub REST API on behalf of the remediation workflow.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	log        *logger.Logger

	requestTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a non-default API host (GitHub Enterprise,
// test servers).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithRateLimit overrides the client-side request rate limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a GitHub API client authenticated with a personal access
// token or GitHub App installation token.
func NewClient(token string, log *logger.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		baseURL:        defaultBaseURL,
		token:          token,
		limiter:        rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		log:            log,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateFixBranch creates branchName off the head of baseBranch and returns
// the normalized branch name actually created.
func (c *Client) CreateFixBranch(ctx context.Context, repoFullName, baseBranch, branchName string) (string, error) {
	branch := NormalizeBranchName(branchName)
	if branch == "" {
		return "", fmt.Errorf("%w: branch name %q normalizes to empty", findings.ErrInvalidState, branchName)
	}

	sha, err := c.resolveRef(ctx, repoFullName, baseBranch)
	if err != nil {
		return "", fmt.Errorf("resolving base branch %s: %w", baseBranch, err)
	}

	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	var created struct {
		Ref string `json:"ref"`
	}
	err = c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", repoFullName), body, &created)
	if err != nil {
		return "", fmt.Errorf("creating branch %s: %w", branch, err)
	}

	c.log.Info(ctx, "created fix branch", "repo", repoFullName, "branch", branch, "base", baseBranch)
	return branch, nil
}

// CreatePullRequest opens a pull request from branch into the repository's
// base branch.
func (c *Client) CreatePullRequest(ctx context.Context, repoFullName, branch, title, body string) (findings.PullRequest, error) {
	base := "main"
	if i := strings.IndexByte(branch, ':'); i >= 0 {
		// "base:head" form lets callers target a non-default base.
		base, branch = branch[:i], branch[i+1:]
	}

	payload := map[string]string{
		"title": title,
		"head":  branch,
		"base":  base,
		"body":  body,
	}
	var created struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repoFullName), payload, &created)
	if err != nil {
		return findings.PullRequest{}, fmt.Errorf("creating pull request for %s: %w", branch, err)
	}

	c.log.Info(ctx, "opened pull request", "repo", repoFullName, "branch", branch, "number", created.Number)
	return findings.PullRequest{URL: created.HTMLURL, Number: created.Number}, nil
}

// resolveRef returns the commit SHA at the head of a branch. Lookups are
// read-only, so transient failures are retried with exponential backoff.
func (c *Client) resolveRef(ctx context.Context, repoFullName, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}

	operation := func() error {
		err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/git/ref/heads/%s", repoFullName, branch), nil, &ref)
		if err != nil && !errors.Is(err, findings.ErrTransientNetwork) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRefLookupRetries),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// do executes one API request under the rate limiter and request timeout,
// decoding a 2xx JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransportErr(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return classifyStatus(resp)
}

// classifyStatus maps a non-2xx response into the domain error taxonomy.
func classifyStatus(resp *http.Response) error {
	detail := readErrorDetail(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: github returned %d: %s", findings.ErrPermissionDenied, resp.StatusCode, detail)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: github returned %d: %s", findings.ErrConflict, resp.StatusCode, detail)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// 422 covers both validation problems and "reference already
		// exists"; both mean the requested mutation conflicts with
		// existing state.
		return fmt.Errorf("%w: github returned 422: %s", findings.ErrConflict, detail)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: github returned %d: %s", findings.ErrTransientNetwork, resp.StatusCode, detail)
	default:
		return fmt.Errorf("github returned unexpected status %d: %s", resp.StatusCode, detail)
	}
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", findings.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", findings.ErrTransientNetwork, err)
}

func readErrorDetail(r io.Reader) string {
	var apiErr struct {
		Message string `json:"message"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	return strings.TrimSpace(string(data))
}

// NormalizeBranchName lowercases the name and replaces characters git refs
// disallow with hyphens, collapsing runs.
func NormalizeBranchName(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '/', r == '.':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-./")
}

// Package github implements source.Client against the GitHub REST API.
//
// Only the three calls the tracker needs are implemented: listing issues
// changed since a timestamp, listing closed pull requests, and fetching a
// single issue. Responses are paginated; every page is followed until the
// Link header runs out.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/tracksheet/internal/source"
)

const (
	defaultBaseURL = "https://api.github.com"
	perPage        = 100
)

// Client talks to the GitHub REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a non-default API endpoint, used for
// GitHub Enterprise and for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the client's logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client authenticating with the given token. An empty
// token falls back to anonymous access with its much lower rate limit.
func New(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		logger:     log.New(os.Stderr, "[github] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type issuePayload struct {
	Number    int        `json:"number"`
	HTMLURL   string     `json:"html_url"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`

	User      *userPayload  `json:"user"`
	Assignees []userPayload `json:"assignees"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`

	// Present only when the issue is actually a pull request.
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

type userPayload struct {
	Login string `json:"login"`
}

type pullPayload struct {
	Number    int          `json:"number"`
	HTMLURL   string       `json:"html_url"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	State     string       `json:"state"`
	User      *userPayload `json:"user"`
	MergedAt  *time.Time   `json:"merged_at"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ListChangedItems implements source.Client over GET /repos/{repo}/issues.
func (c *Client) ListChangedItems(ctx context.Context, repo string, filter source.ItemFilter) ([]source.Item, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(perPage))
	if filter.Since != nil {
		params.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.State != "" {
		params.Set("state", filter.State)
	}
	if filter.Sort != "" {
		params.Set("sort", filter.Sort)
	}
	if filter.Direction != "" {
		params.Set("direction", filter.Direction)
	}

	var items []source.Item
	next := fmt.Sprintf("%s/repos/%s/issues?%s", c.baseURL, repo, params.Encode())
	for next != "" {
		var page []issuePayload
		link, err := c.get(ctx, next, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues for %s: %w", repo, err)
		}
		for _, p := range page {
			items = append(items, p.toItem(repo))
		}
		next = link
	}
	return items, nil
}

// ListClosedLinkedItems implements source.Client over GET
// /repos/{repo}/pulls?state=closed, newest-updated-first.
func (c *Client) ListClosedLinkedItems(ctx context.Context, repo string) ([]source.LinkedItem, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("state", "closed")
	params.Set("sort", "updated")
	params.Set("direction", "desc")

	var pulls []source.LinkedItem
	next := fmt.Sprintf("%s/repos/%s/pulls?%s", c.baseURL, repo, params.Encode())
	for next != "" {
		var page []pullPayload
		link, err := c.get(ctx, next, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to list pulls for %s: %w", repo, err)
		}
		for _, p := range page {
			pulls = append(pulls, p.toLinkedItem(repo))
		}
		next = link
	}
	return pulls, nil
}

// GetItem implements source.Client over GET /repos/{repo}/issues/{number}.
func (c *Client) GetItem(ctx context.Context, repo string, number int) (*source.Item, error) {
	var p issuePayload
	u := fmt.Sprintf("%s/repos/%s/issues/%d", c.baseURL, repo, number)
	if _, err := c.get(ctx, u, &p); err != nil {
		if errStatus(err) == http.StatusNotFound || errStatus(err) == http.StatusGone {
			return nil, source.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s#%d: %w", repo, number, err)
	}
	item := p.toItem(repo)
	return &item, nil
}

func (p issuePayload) toItem(repo string) source.Item {
	item := source.Item{
		Number:    p.Number,
		URL:       p.HTMLURL,
		Repo:      repo,
		Title:     p.Title,
		Body:      p.Body,
		State:     p.State,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		ClosedAt:  p.ClosedAt,
		IsPull:    p.PullRequest != nil,
	}
	if p.User != nil {
		item.Author = p.User.Login
	}
	for _, l := range p.Labels {
		item.Labels = append(item.Labels, l.Name)
	}
	for _, a := range p.Assignees {
		item.Assignees = append(item.Assignees, a.Login)
	}
	return item
}

func (p pullPayload) toLinkedItem(repo string) source.LinkedItem {
	li := source.LinkedItem{
		Number:    p.Number,
		URL:       p.HTMLURL,
		Repo:      repo,
		Title:     p.Title,
		Body:      p.Body,
		State:     p.State,
		Merged:    p.MergedAt != nil,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.User != nil {
		li.Author = p.User.Login
	}
	return li
}

// statusError carries an HTTP status through the error chain.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github: status %d: %s", e.status, e.body)
}

func errStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// get performs one GET, decodes the JSON body into out and returns the
// next-page URL from the Link header, if any.
func (c *Client) get(ctx context.Context, u string, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		if res.Header.Get("X-RateLimit-Remaining") == "0" {
			c.logger.Printf("rate limit exhausted (status %d), window resets at %s",
				res.StatusCode, resetTime(res.Header.Get("X-RateLimit-Reset")))
		}
		return "", &statusError{status: res.StatusCode, body: truncate(string(body), 200)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return nextLink(res.Header.Get("Link")), nil
}

// nextLink extracts the rel="next" URL from a Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		if strings.TrimSpace(section[1]) == `rel="next"` {
			return strings.Trim(strings.TrimSpace(section[0]), "<>")
		}
	}
	return ""
}

// resetTime renders the X-RateLimit-Reset epoch header, or "unknown".
func resetTime(header string) string {
	secs, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return "unknown"
	}
	return time.Unix(secs, 0).UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package tracker talks to the issue tracker: REST for issues, comments and
// pull requests, GraphQL for Projects v2 boards and sub-issue edges.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/foundryhq/foundry/internal/logging"
)

// ProjectsError is a typed tracker failure. Code is a stable machine tag;
// Details carry whatever the upstream returned.
type ProjectsError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *ProjectsError) Error() string {
	return fmt.Sprintf("tracker %s: %s", e.Code, e.Message)
}

// Issue is the REST shape the dispatch fetcher and nodes consume.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	State  string   `json:"state"`
	URL    string   `json:"html_url"`
	Labels []string `json:"-"`
}

type Config struct {
	Token      string
	BaseURL    string // REST root, default https://api.github.com
	GraphQLURL string // default https://api.github.com/graphql
	HTTPClient *http.Client
	Logger     *logging.Logger
}

type Client struct {
	token      string
	baseURL    string
	graphqlURL string
	hc         *http.Client
	log        *logging.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &ProjectsError{Code: "missing_token", Message: "an access token is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = strings.TrimRight(cfg.BaseURL, "/") + "/graphql"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		graphqlURL: cfg.GraphQLURL,
		hc:         cfg.HTTPClient,
		log:        cfg.Logger,
	}, nil
}

func (c *Client) rest(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return b, resp.StatusCode, nil
}

// ListOpenIssuesByLabel pages through open issues carrying the label.
// Pull requests are filtered out; the REST issues endpoint includes them.
func (c *Client) ListOpenIssuesByLabel(ctx context.Context, owner, repo, label string) ([]Issue, error) {
	var out []Issue
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/%s/issues?state=open&labels=%s&per_page=100&page=%d",
			owner, repo, label, page)
		b, status, err := c.rest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, &ProjectsError{Code: "list_issues_failed",
				Message: fmt.Sprintf("status %d listing issues for %s/%s", status, owner, repo)}
		}
		items := gjson.ParseBytes(b).Array()
		for _, it := range items {
			if it.Get("pull_request").Exists() {
				continue
			}
			iss := Issue{
				Number: int(it.Get("number").Int()),
				Title:  it.Get("title").String(),
				State:  it.Get("state").String(),
				URL:    it.Get("html_url").String(),
			}
			for _, l := range it.Get("labels.#.name").Array() {
				iss.Labels = append(iss.Labels, l.String())
			}
			out = append(out, iss)
		}
		if len(items) < 100 {
			return out, nil
		}
	}
}

// GetIssue fetches one issue by number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (Issue, error) {
	b, status, err := c.rest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), nil)
	if err != nil {
		return Issue{}, err
	}
	if status != http.StatusOK {
		return Issue{}, &ProjectsError{Code: "get_issue_failed",
			Message: fmt.Sprintf("status %d fetching issue #%d", status, number)}
	}
	doc := gjson.ParseBytes(b)
	iss := Issue{
		Number: int(doc.Get("number").Int()),
		Title:  doc.Get("title").String(),
		Body:   doc.Get("body").String(),
		State:  doc.Get("state").String(),
		URL:    doc.Get("html_url").String(),
	}
	for _, l := range doc.Get("labels.#.name").Array() {
		iss.Labels = append(iss.Labels, l.String())
	}
	return iss, nil
}

// CreateComment posts a comment on an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, status, err := c.rest(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number),
		map[string]string{"body": body})
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return &ProjectsError{Code: "comment_failed",
			Message: fmt.Sprintf("status %d commenting on #%d", status, number)}
	}
	return nil
}

// GetPullRequestBody returns the current PR body text.
func (c *Client) GetPullRequestBody(ctx context.Context, owner, repo string, prNumber int) (string, error) {
	b, status, err := c.rest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, prNumber), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &ProjectsError{Code: "get_pr_failed",
			Message: fmt.Sprintf("status %d fetching PR #%d", status, prNumber)}
	}
	return gjson.GetBytes(b, "body").String(), nil
}

// UpdatePullRequestBody replaces the PR body wholesale.
func (c *Client) UpdatePullRequestBody(ctx context.Context, owner, repo string, prNumber int, body string) error {
	_, status, err := c.rest(ctx, http.MethodPatch,
		fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, prNumber),
		map[string]string{"body": body})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &ProjectsError{Code: "update_pr_failed",
			Message: fmt.Sprintf("status %d patching PR #%d", status, prNumber)}
	}
	return nil
}

// MarkPullRequestReady flips a draft PR to ready for review. Draft status is
// only writable through GraphQL.
func (c *Client) MarkPullRequestReady(ctx context.Context, owner, repo string, prNumber int) error {
	id, err := c.pullRequestNodeID(ctx, owner, repo, prNumber)
	if err != nil {
		return err
	}
	const mutation = `mutation($id: ID!) {
  markPullRequestReadyForReview(input: {pullRequestId: $id}) {
    pullRequest { isDraft }
  }
}`
	_, err = c.graphql(ctx, mutation, map[string]any{"id": id})
	return err
}

func (c *Client) pullRequestNodeID(ctx context.Context, owner, repo string, prNumber int) (string, error) {
	const query = `query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $number) { id }
  }
}`
	doc, err := c.graphql(ctx, query, map[string]any{"owner": owner, "repo": repo, "number": prNumber})
	if err != nil {
		return "", err
	}
	id := doc.Get("data.repository.pullRequest.id").String()
	if id == "" {
		return "", &ProjectsError{Code: "pr_not_found",
			Message: fmt.Sprintf("PR #%d not found in %s/%s", prNumber, owner, repo)}
	}
	return id, nil
}

// SubIssueRef is one child of an issue's sub-issues edge. Owner and Repo
// identify the child's repository: sub-issues may live outside the parent's
// repo, and the bare number is ambiguous across repositories.
type SubIssueRef struct {
	Owner  string
	Repo   string
	Number int
	State  string // "OPEN" or "CLOSED"
}

// SubIssues queries the sub-issues edge of an issue. A non-ok response means
// "no sub-issues" for this issue: the edge is an optional tenant feature and
// its absence must not fail dispatch.
func (c *Client) SubIssues(ctx context.Context, owner, repo string, number int) ([]SubIssueRef, error) {
	const query = `query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    issue(number: $number) {
      subIssues(first: 100) {
        nodes { number state repository { name owner { login } } }
      }
    }
  }
}`
	doc, err := c.graphql(ctx, query, map[string]any{"owner": owner, "repo": repo, "number": number})
	if err != nil {
		c.log.Warn("sub-issues query failed, treating as leaf", "issue", number, "error", err)
		return nil, nil
	}
	var out []SubIssueRef
	for _, n := range doc.Get("data.repository.issue.subIssues.nodes").Array() {
		ref := SubIssueRef{
			Owner:  n.Get("repository.owner.login").String(),
			Repo:   n.Get("repository.name").String(),
			Number: int(n.Get("number").Int()),
			State:  strings.ToUpper(n.Get("state").String()),
		}
		if ref.Owner == "" || ref.Repo == "" {
			ref.Owner, ref.Repo = owner, repo
		}
		out = append(out, ref)
	}
	return out, nil
}

// graphql posts one GraphQL document and returns the parsed response. Errors
// in the response body surface as ProjectsError.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]any) (gjson.Result, error) {
	doc, err := c.graphqlRaw(ctx, query, variables)
	if err != nil {
		return gjson.Result{}, err
	}
	if errs := doc.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		return gjson.Result{}, &ProjectsError{
			Code:    "graphql_error",
			Message: errs.Get("0.message").String(),
			Details: map[string]any{"errors": errs.Value()},
		}
	}
	return doc, nil
}

// graphqlRaw posts a document and parses the body without inspecting the
// errors array. Queries that expect partial failure (org/user dual lookup)
// use this directly.
func (c *Client) graphqlRaw(ctx context.Context, query string, variables map[string]any) (gjson.Result, error) {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, &ProjectsError{Code: "graphql_http_error",
			Message: fmt.Sprintf("status %d from graphql endpoint", resp.StatusCode)}
	}
	return gjson.ParseBytes(b), nil
}

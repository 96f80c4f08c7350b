// Package github files audit issues on GitHub repositories.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// IssueService is the subset of the GitHub issues API the client uses.
// *gh.IssuesService implements it.
type IssueService interface {
	ListByRepo(ctx context.Context, owner, repo string, opts *gh.IssueListByRepoOptions) ([]*gh.Issue, *gh.Response, error)
	Create(ctx context.Context, owner, repo string, issue *gh.IssueRequest) (*gh.Issue, *gh.Response, error)
}

// Client creates and looks up issues.
type Client struct {
	issues IssueService
	labels []string
}

// NewClient returns a Client backed by an authenticated go-github client.
// A non-empty baseURL targets a GitHub Enterprise server.
func NewClient(ctx context.Context, token, baseURL string, labels []string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return newClient(oauth2.NewClient(ctx, ts), baseURL, labels)
}

func newClient(hc *http.Client, baseURL string, labels []string) (*Client, error) {
	client := gh.NewClient(hc)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url %q: %w", baseURL, err)
		}
	}
	return NewClientWithService(client.Issues, labels), nil
}

// NewClientWithService wraps an IssueService. Issues created by the client
// carry labels, and only open issues with those labels are considered
// duplicates.
func NewClientWithService(svc IssueService, labels []string) *Client {
	return &Client{issues: svc, labels: labels}
}

// NewIssue is an issue to file.
type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

// Issue is a filed or pre-existing issue.
type Issue struct {
	Number   int
	Title    string
	URL      string
	Existing bool
}

// OpenIssueTitles returns the titles of open issues carrying the client's
// labels, mapped to their issue.
func (c *Client) OpenIssueTitles(ctx context.Context, owner, repo string) (map[string]Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      c.labels,
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	out := make(map[string]Issue)
	for {
		page, resp, err := c.issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues %s/%s: %w", owner, repo, err)
		}
		for _, is := range page {
			if is.IsPullRequest() {
				continue
			}
			key := normalizeTitle(is.GetTitle())
			if _, dup := out[key]; !dup {
				out[key] = Issue{Number: is.GetNumber(), Title: is.GetTitle(), URL: is.GetHTMLURL(), Existing: true}
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// EnsureIssues files each issue unless an open issue with the same title
// already exists. Results are in input order. On error the issues filed so
// far are returned with it.
func (c *Client) EnsureIssues(ctx context.Context, owner, repo string, issues []NewIssue) ([]Issue, error) {
	existing, err := c.OpenIssueTitles(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(issues))
	for _, ni := range issues {
		key := normalizeTitle(ni.Title)
		if is, ok := existing[key]; ok {
			out = append(out, is)
			continue
		}
		labels := mergeLabels(c.labels, ni.Labels)
		created, _, err := c.issues.Create(ctx, owner, repo, &gh.IssueRequest{
			Title:  gh.String(ni.Title),
			Body:   gh.String(ni.Body),
			Labels: &labels,
		})
		if err != nil {
			return out, fmt.Errorf("create issue %q on %s/%s: %w", ni.Title, owner, repo, err)
		}
		is := Issue{Number: created.GetNumber(), Title: created.GetTitle(), URL: created.GetHTMLURL()}
		existing[key] = Issue{Number: is.Number, Title: is.Title, URL: is.URL, Existing: true}
		out = append(out, is)
	}
	return out, nil
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func mergeLabels(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, l := range append(append([]string{}, base...), extra...) {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

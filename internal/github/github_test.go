package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockIssues is an in-memory IssueService.
type mockIssues struct {
	open      []*gh.Issue
	created   []*gh.IssueRequest
	listOpts  []gh.IssueListByRepoOptions
	createErr error
	pageSize  int
}

func (m *mockIssues) ListByRepo(_ context.Context, _, _ string, opts *gh.IssueListByRepoOptions) ([]*gh.Issue, *gh.Response, error) {
	m.listOpts = append(m.listOpts, *opts)
	size := m.pageSize
	if size == 0 {
		size = len(m.open)
	}
	page := opts.Page
	if page == 0 {
		page = 1
	}
	start := (page - 1) * size
	end := start + size
	if end > len(m.open) {
		end = len(m.open)
	}
	resp := &gh.Response{}
	if end < len(m.open) {
		resp.NextPage = page + 1
	}
	if start > len(m.open) {
		return nil, resp, nil
	}
	return m.open[start:end], resp, nil
}

func (m *mockIssues) Create(_ context.Context, _, _ string, req *gh.IssueRequest) (*gh.Issue, *gh.Response, error) {
	if m.createErr != nil {
		return nil, nil, m.createErr
	}
	m.created = append(m.created, req)
	n := 100 + len(m.created)
	return &gh.Issue{Number: gh.Int(n), Title: req.Title, HTMLURL: gh.String(fmt.Sprintf("https://github.com/acme/api/issues/%d", n))}, nil, nil
}

func openIssue(n int, title string) *gh.Issue {
	return &gh.Issue{Number: gh.Int(n), Title: gh.String(title), HTMLURL: gh.String("https://github.com/acme/api/issues/x")}
}

func TestEnsureIssues_DedupesByTitle(t *testing.T) {
	svc := &mockIssues{open: []*gh.Issue{openIssue(7, "Secret: hardcoded credential")}}
	c := NewClientWithService(svc, []string{"auditfactory"})

	got, err := c.EnsureIssues(context.Background(), "acme", "api", []NewIssue{
		{Title: "secret:  hardcoded   credential", Body: "dup"},
		{Title: "Missing LICENSE", Body: "add one", Labels: []string{"compliance", "auditfactory"}},
		{Title: "missing license", Body: "same title twice in one batch"},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.True(t, got[0].Existing)
	assert.Equal(t, 7, got[0].Number)
	assert.False(t, got[1].Existing)
	assert.Equal(t, 101, got[1].Number)
	assert.True(t, got[2].Existing, "second identical title reuses the issue just created")

	require.Len(t, svc.created, 1)
	assert.Equal(t, []string{"auditfactory", "compliance"}, *svc.created[0].Labels)
	assert.Equal(t, "open", svc.listOpts[0].State)
	assert.Equal(t, []string{"auditfactory"}, svc.listOpts[0].Labels)
}

func TestOpenIssueTitles_PaginatesAndSkipsPullRequests(t *testing.T) {
	pr := openIssue(3, "A pull request")
	pr.PullRequestLinks = &gh.PullRequestLinks{URL: gh.String("https://api.github.com/pulls/3")}
	svc := &mockIssues{pageSize: 1, open: []*gh.Issue{openIssue(1, "one"), pr, openIssue(2, "two")}}

	titles, err := NewClientWithService(svc, nil).OpenIssueTitles(context.Background(), "acme", "api")
	require.NoError(t, err)
	assert.Len(t, svc.listOpts, 3)
	assert.Len(t, titles, 2)
	assert.Contains(t, titles, "one")
	assert.NotContains(t, titles, "a pull request")
}

func TestEnsureIssues_CreateError(t *testing.T) {
	svc := &mockIssues{createErr: errors.New("403 forbidden")}
	_, err := NewClientWithService(svc, nil).EnsureIssues(context.Background(), "acme", "api", []NewIssue{{Title: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 forbidden")
	assert.Contains(t, err.Error(), "acme/api")
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(context.Background(), "", "", nil)
	assert.Error(t, err)
}

func TestClient_AgainstHTTPServer(t *testing.T) {
	var mu sync.Mutex
	var created []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/repos/acme/api/issues"):
			_ = json.NewEncoder(w).Encode([]map[string]any{{"number": 1, "title": "Existing", "html_url": "https://gh/1"}})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/repos/acme/api/issues"):
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			created = append(created, body)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"number": 2, "title": body["title"], "html_url": "https://gh/2"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), "t0ken", srv.URL+"/", []string{"auditfactory"})
	require.NoError(t, err)
	got, err := c.EnsureIssues(context.Background(), "acme", "api", []NewIssue{{Title: "Existing"}, {Title: "New", Body: "b"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Existing)
	assert.Equal(t, 2, got[1].Number)
	assert.Equal(t, "https://gh/2", got[1].URL)
	require.Len(t, created, 1)
	assert.Equal(t, "New", created[0]["title"])
}

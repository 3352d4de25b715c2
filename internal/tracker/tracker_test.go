package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Token: "tok", BaseURL: srv.URL, GraphQLURL: srv.URL + "/graphql"})
	if err != nil {
		t.Fatal(err)
	}
	return c, srv
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("want error without token")
	}
}

func TestListOpenIssuesByLabel(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth = %q", got)
		}
		q := r.URL.Query()
		if q.Get("labels") != "queue" || q.Get("state") != "open" {
			t.Errorf("query = %v", q)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"number": 7, "title": "Fix parser", "state": "open",
				"html_url": "https://github.com/acme/widgets/issues/7",
				"labels":   []map[string]any{{"name": "queue"}, {"name": "priority: high"}},
			},
			{
				"number": 8, "title": "A PR, not an issue", "state": "open",
				"html_url":     "https://github.com/acme/widgets/pull/8",
				"pull_request": map[string]any{"url": "x"},
			},
		})
	}))

	issues, err := c.ListOpenIssuesByLabel(context.Background(), "acme", "widgets", "queue")
	if err != nil {
		t.Fatalf("ListOpenIssuesByLabel: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want PR filtered out", issues)
	}
	if issues[0].Number != 7 || issues[0].Labels[1] != "priority: high" {
		t.Errorf("issue = %+v", issues[0])
	}
}

func TestCreateCommentStatusCheck(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	err := c.CreateComment(context.Background(), "acme", "widgets", 7, "hello")
	pe, ok := err.(*ProjectsError)
	if !ok || pe.Code != "comment_failed" {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdatePullRequestBody(t *testing.T) {
	var patched map[string]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/repos/acme/widgets/pulls/12" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&patched)
		_ = json.NewEncoder(w).Encode(map[string]any{"number": 12})
	}))
	if err := c.UpdatePullRequestBody(context.Background(), "acme", "widgets", 12, "new body"); err != nil {
		t.Fatalf("UpdatePullRequestBody: %v", err)
	}
	if patched["body"] != "new body" {
		t.Errorf("patched = %v", patched)
	}
}

func TestSubIssuesSoftFailure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	subs, err := c.SubIssues(context.Background(), "acme", "widgets", 7)
	if err != nil {
		t.Fatalf("sub-issue failure must be soft, got %v", err)
	}
	if subs != nil {
		t.Errorf("subs = %v, want none", subs)
	}
}

func TestSubIssuesParsesEdge(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"repository": map[string]any{
					"issue": map[string]any{
						"subIssues": map[string]any{
							"nodes": []map[string]any{
								{"number": 11, "state": "OPEN",
									"repository": map[string]any{"name": "gadgets", "owner": map[string]any{"login": "acme"}}},
								{"number": 12, "state": "closed"},
							},
						},
					},
				},
			},
		})
	}))
	subs, err := c.SubIssues(context.Background(), "acme", "widgets", 7)
	if err != nil {
		t.Fatalf("SubIssues: %v", err)
	}
	if len(subs) != 2 || subs[0].Number != 11 || subs[1].State != "CLOSED" {
		t.Errorf("subs = %+v", subs)
	}
	if subs[0].Owner != "acme" || subs[0].Repo != "gadgets" {
		t.Errorf("sub repo = %s/%s, want acme/gadgets", subs[0].Owner, subs[0].Repo)
	}
	// A node without a repository edge inherits the queried repo.
	if subs[1].Owner != "acme" || subs[1].Repo != "widgets" {
		t.Errorf("sub repo = %s/%s, want acme/widgets", subs[1].Owner, subs[1].Repo)
	}
}

func TestGraphQLErrorSurfacesTyped(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "field does not exist"}},
		})
	}))
	_, err := c.graphql(context.Background(), "query{x}", nil)
	pe, ok := err.(*ProjectsError)
	if !ok || pe.Code != "graphql_error" || pe.Message != "field does not exist" {
		t.Fatalf("err = %v", err)
	}
}

package issueproc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/logging"
	"github.com/foundryhq/foundry/internal/nodes"
	"github.com/foundryhq/foundry/internal/store"
	"github.com/foundryhq/foundry/internal/tracker"
	"github.com/foundryhq/foundry/internal/workflow"
)

const planJSON = `[{"id": "t1", "description": "wire the parser", "complexity": "small"}]`

type scriptAgent struct {
	mu        sync.Mutex
	plan      string
	analyst   int
	planner   int
	implement int
}

func (a *scriptAgent) Run(ctx context.Context, req nodes.AgentRequest) (nodes.AgentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch req.Role {
	case "analyst":
		a.analyst++
		return nodes.AgentResult{Success: true, Output: "the handler drops the second event"}, nil
	case "planner":
		a.planner++
		return nodes.AgentResult{Success: true, Output: "Here is the plan:\n" + a.plan}, nil
	default:
		a.implement++
		return nodes.AgentResult{Success: true, Output: "changed the handler"}, nil
	}
}

type fakeGithub struct {
	mu         sync.Mutex
	prBody     string
	comments   []string
	patches    int
	readyCalls int
}

func (g *fakeGithub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		defer g.mu.Unlock()
		switch {
		case strings.Contains(req.Query, "markPullRequestReadyForReview"):
			g.readyCalls++
			fmt.Fprint(w, `{"data": {"markPullRequestReadyForReview": {"pullRequest": {"isDraft": false}}}}`)
		case strings.Contains(req.Query, "pullRequest(number"):
			fmt.Fprint(w, `{"data": {"repository": {"pullRequest": {"id": "PR_1"}}}}`)
		default:
			fmt.Fprint(w, `{"data": {}}`)
		}
	})
	mux.HandleFunc("/repos/acme/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]string{"body": g.prBody})
		case http.MethodPatch:
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			g.prBody = req["body"]
			g.patches++
			fmt.Fprint(w, `{}`)
		}
	})
	mux.HandleFunc("/repos/acme/widgets/issues/5/comments", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		g.comments = append(g.comments, req["body"])
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1}`)
	})
	return mux
}

type fixture struct {
	agent  *scriptAgent
	github *fakeGithub
	eng    *engine.Engine
	st     *store.FileStore
	ctx    map[string]any
}

func newFixture(t *testing.T, testCommand string) *fixture {
	t.Helper()
	gh := &fakeGithub{prBody: "Closes #5."}
	srv := httptest.NewServer(gh.handler())
	t.Cleanup(srv.Close)

	tc, err := tracker.NewClient(tracker.Config{
		Token:      "t",
		BaseURL:    srv.URL,
		GraphQLURL: srv.URL + "/graphql",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	agent := &scriptAgent{plan: planJSON}
	deps := nodes.Deps{Agent: agent, Tracker: tc}
	runtimes, err := Runtimes(deps, Options{Model: "claude-sonnet-4"})
	if err != nil {
		t.Fatalf("Runtimes: %v", err)
	}
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	eng, err := engine.New(fs, runtimes, engine.Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	initial, err := ContextFromEnv(func(k string) string {
		switch k {
		case "GRAPH_ISSUE_NUMBER":
			return "5"
		case "GITHUB_REPOSITORY":
			return "acme/widgets"
		default:
			return ""
		}
	})
	if err != nil {
		t.Fatalf("ContextFromEnv: %v", err)
	}
	initial[keyIssueTitle] = "handler drops events"
	initial[keyIssueBody] = "steps to reproduce..."
	initial[keyTestCommand] = testCommand
	initial[keyCreatePRCommand] = "echo https://github.test/acme/widgets/pull/7; echo branch=foundry/issue-5"
	initial[nodes.KeyWorkDir] = t.TempDir()
	return &fixture{agent: agent, github: gh, eng: eng, st: fs, ctx: initial}
}

func (f *fixture) run(t *testing.T, runID string) *workflow.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	final, err := f.eng.Run(ctx, runID, workflow.NewState(NodeAnalyze, f.ctx))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return final
}

// flakyScript fails its first failures runs, then passes.
func flakyScript(t *testing.T, failures int) string {
	t.Helper()
	dir := t.TempDir()
	count := filepath.Join(dir, "count")
	script := filepath.Join(dir, "test.sh")
	body := fmt.Sprintf("#!/bin/sh\nn=$(cat %s 2>/dev/null || echo 0)\nn=$((n+1))\nprintf %%s $n > %s\n[ $n -gt %d ]\n",
		count, count, failures)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return "/bin/sh " + script
}

func TestSingleTaskHappyPath(t *testing.T) {
	f := newFixture(t, "true")
	final := f.run(t, "run-s1")

	if final.Status != workflow.StatusCompleted || final.CurrentNode != workflow.SentinelEnd {
		t.Fatalf("terminal = %s/%s", final.CurrentNode, final.Status)
	}
	if !final.GetBool(keyTestsPassed, false) {
		t.Error("testsPassed = false")
	}
	if !final.GetBool(keyAllTasksComplete, false) {
		t.Error("allTasksComplete = false")
	}
	if got := final.GetInt(keyFixAttempts, -1); got != 0 {
		t.Errorf("fixAttempts = %d, want 0", got)
	}
	if got := final.GetInt(keyCurrentTaskIndex, -1); got != 0 {
		t.Errorf("currentTaskIndex = %d, want 0", got)
	}
	if f.agent.analyst != 1 || f.agent.planner != 1 || f.agent.implement != 1 {
		t.Errorf("agent calls = %d/%d/%d, want 1/1/1", f.agent.analyst, f.agent.planner, f.agent.implement)
	}
	if final.GetInt(keyPRNumber, 0) != 7 {
		t.Errorf("prNumber = %v", final.Context[keyPRNumber])
	}
	if got := final.GetString(keyBranchName, ""); got != "foundry/issue-5" {
		t.Errorf("branchName = %q", got)
	}
	if len(f.github.comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(f.github.comments))
	}
	if !strings.Contains(f.github.comments[0], "1/1 tasks") {
		t.Errorf("comment = %q", f.github.comments[0])
	}
	if f.github.readyCalls != 1 {
		t.Errorf("readyCalls = %d, want 1", f.github.readyCalls)
	}
	if !strings.Contains(f.github.prBody, "foundry-workflow-dashboard:issue-5") {
		t.Error("dashboard marker missing from PR body")
	}
	if !strings.HasPrefix(f.github.prBody, "Closes #5.") {
		t.Error("original PR prose lost")
	}
	if strings.Count(f.github.prBody, "<!-- foundry-workflow-dashboard:issue-5 -->") != 1 {
		t.Error("duplicate dashboard section")
	}
}

func TestFlakyTaskRecovers(t *testing.T) {
	f := newFixture(t, flakyScript(t, 2))
	final := f.run(t, "run-s2")

	if final.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if f.agent.implement != 3 {
		t.Errorf("implement calls = %d, want 3", f.agent.implement)
	}
	if !final.GetBool(keyTestsPassed, false) {
		t.Error("testsPassed = false after recovery")
	}
	if got := final.GetInt(keyFixAttempts, -1); got != 0 {
		t.Errorf("fixAttempts = %d, want 0 after reset", got)
	}
	// TEST recovered, so the final dashboard must not render it failed.
	if strings.Contains(f.github.prBody, "class TEST failed") {
		t.Error("recovered TEST still rendered as failed")
	}
}

func TestExhaustedRetriesAdvance(t *testing.T) {
	f := newFixture(t, "false")
	final := f.run(t, "run-s3")

	if final.Status != workflow.StatusCompleted || final.CurrentNode != workflow.SentinelEnd {
		t.Fatalf("terminal = %s/%s, want normal completion", final.CurrentNode, final.Status)
	}
	if f.agent.implement != DefaultMaxFixAttempts {
		t.Errorf("implement calls = %d, want %d", f.agent.implement, DefaultMaxFixAttempts)
	}
	tasks := tasksFrom(final)
	if len(tasks) != 1 || !tasks[0].Completed {
		t.Errorf("task not marked completed: %+v", tasks)
	}
	if final.GetBool(keyTestsPassed, true) {
		t.Error("testsPassed should stay false")
	}
	if !strings.Contains(f.github.prBody, "class TEST failed") {
		t.Error("final dashboard should render TEST as failed")
	}
}

func TestResumeSkipsCompletedPrefix(t *testing.T) {
	f := newFixture(t, "true")

	snap := workflow.NewState(NodeImplement, f.ctx)
	snap.Context[keyTasks] = []Task{{ID: "t1", Description: "wire the parser", Complexity: "small"}}
	snap.Context[keyPRNumber] = 7
	snap.Context[keyPRURL] = "https://github.test/acme/widgets/pull/7"
	snap.Context[keyBranchName] = "foundry/issue-5"
	snap.Context[keyCompletedNodes] = []string{NodeAnalyze, NodePlan, NodeCreatePR, NodeParsePR}
	if err := f.st.Save("run-s6", snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	final := f.run(t, "run-s6")
	if final.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if f.agent.analyst != 0 || f.agent.planner != 0 {
		t.Errorf("analyze/plan re-executed: %d/%d", f.agent.analyst, f.agent.planner)
	}
	if f.agent.implement != 1 {
		t.Errorf("implement calls = %d, want 1", f.agent.implement)
	}
}

func TestParseTasks(t *testing.T) {
	tasks, err := parseTasks("Sure, here you go:\n```json\n[{\"id\":\"a\",\"description\":\"x\",\"complexity\":\"small\",\"completed\":true}]\n```")
	if err != nil {
		t.Fatalf("parseTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "a" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[0].Completed {
		t.Error("completed flag should reset on load")
	}

	if _, err := parseTasks("no structure here"); err == nil {
		t.Error("expected error for prose output")
	}
	if _, err := parseTasks("[]"); err == nil {
		t.Error("expected error for empty list")
	}
}

package issueproc

import (
	"strings"
	"testing"

	"github.com/foundryhq/foundry/internal/workflow"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestContextFromEnvDefaults(t *testing.T) {
	ctx, err := ContextFromEnv(env(map[string]string{
		"GRAPH_ISSUE_NUMBER": "42",
		"GITHUB_REPOSITORY":  "acme/widgets",
	}))
	if err != nil {
		t.Fatalf("ContextFromEnv: %v", err)
	}
	if ctx[keyIssueNumber] != 42 {
		t.Errorf("issueNumber = %v", ctx[keyIssueNumber])
	}
	if ctx["repoOwner"] != "acme" || ctx["repoName"] != "widgets" {
		t.Errorf("repo split = %v/%v", ctx["repoOwner"], ctx["repoName"])
	}
	if ctx[keyBaseBranch] != "main" || ctx[keyDoneStatus] != "Done" {
		t.Errorf("defaults = %v/%v", ctx[keyBaseBranch], ctx[keyDoneStatus])
	}
	if ctx[keyMaxFixAttempts] != DefaultMaxFixAttempts {
		t.Errorf("maxFixAttempts = %v", ctx[keyMaxFixAttempts])
	}
	if _, ok := ctx[keyActionsRunURL]; ok {
		t.Error("actionsRunUrl set without CI env")
	}
}

func TestContextFromEnvActionsURL(t *testing.T) {
	ctx, err := ContextFromEnv(env(map[string]string{
		"GRAPH_ISSUE_NUMBER": "42",
		"GITHUB_REPOSITORY":  "acme/widgets",
		"GITHUB_SERVER_URL":  "https://github.test",
		"GITHUB_RUN_ID":      "123",
	}))
	if err != nil {
		t.Fatalf("ContextFromEnv: %v", err)
	}
	if got := ctx[keyActionsRunURL]; got != "https://github.test/acme/widgets/actions/runs/123" {
		t.Errorf("actionsRunUrl = %v", got)
	}
}

func TestContextFromEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantSub string
	}{
		{"missing issue number", map[string]string{"GITHUB_REPOSITORY": "a/b"}, "GRAPH_ISSUE_NUMBER"},
		{"non-numeric issue", map[string]string{"GRAPH_ISSUE_NUMBER": "seven", "GITHUB_REPOSITORY": "a/b"}, "GRAPH_ISSUE_NUMBER"},
		{"missing repository", map[string]string{"GRAPH_ISSUE_NUMBER": "1"}, "GITHUB_REPOSITORY"},
		{"bad max attempts", map[string]string{"GRAPH_ISSUE_NUMBER": "1", "GITHUB_REPOSITORY": "a/b", "GRAPH_MAX_FIX_ATTEMPTS": "-1"}, "GRAPH_MAX_FIX_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ContextFromEnv(env(tt.vars))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestTasksFromToleratesJSONShape(t *testing.T) {
	st := workflow.NewState("X", map[string]any{
		keyTasks: []any{
			map[string]any{"id": "t1", "description": "a", "complexity": "small", "completed": true},
			map[string]any{"id": "t2", "description": "b", "complexity": "large"},
		},
		keyCurrentTaskIndex: float64(1),
	})
	tasks := tasksFrom(st)
	if len(tasks) != 2 || !tasks[0].Completed || tasks[1].ID != "t2" {
		t.Fatalf("tasks = %+v", tasks)
	}
	task, idx, ok := currentTask(st)
	if !ok || idx != 1 || task.ID != "t2" {
		t.Errorf("currentTask = %+v/%d/%v", task, idx, ok)
	}
}

func TestMarkVisitedDeduplicates(t *testing.T) {
	st := workflow.NewState("X", map[string]any{
		keyCompletedNodes: []any{"A", "B"},
	})
	got := markVisited(st, "B", "C")
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("visited = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visited = %v, want %v", got, want)
		}
	}
}

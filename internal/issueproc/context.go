// Package issueproc assembles the issue-processor workflow: analyze a GitHub
// issue, plan it into tasks, open a draft PR, then iterate implement/test
// per task with a bounded retry budget, mirroring progress into the PR body.
package issueproc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/foundryhq/foundry/internal/workflow"
)

// Context keys the processor reads and writes.
const (
	keyIssueNumber      = "issueNumber"
	keyIssueTitle       = "issueTitle"
	keyIssueBody        = "issueBody"
	keyRepository       = "repository"
	keyBaseBranch       = "baseBranch"
	keyAnalysisResult   = "analysisResult"
	keyPlanResult       = "planResult"
	keyTasks            = "tasks"
	keyCurrentTaskIndex = "currentTaskIndex"
	keyBranchName       = "branchName"
	keyPRNumber         = "prNumber"
	keyPRURL            = "prUrl"
	keyCompletedNodes   = "completedNodes"
	keyFailedNodes      = "failedNodes"
	keyTestsPassed      = "testsPassed"
	keyAllTasksComplete = "allTasksComplete"
	keyFixAttempts      = "fixAttempts"
	keyMaxFixAttempts   = "maxFixAttempts"
	keyTestCommand      = "testCommand"
	keyCreatePRCommand  = "createPrCommand"
	keyPRBodyMarkdown   = "prBodyMarkdown"
	keyActionsRunURL    = "actionsRunUrl"
	keyDirectoryTree    = "directoryTree"
	keyDoneStatus       = "doneStatus"
)

// DefaultMaxFixAttempts bounds implement/test round-trips per task.
const DefaultMaxFixAttempts = 3

// Task is one unit of work produced by the planning step.
type Task struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Complexity   string   `json:"complexity"` // small|medium|large
	Dependencies []string `json:"dependencies,omitempty"`
	Files        []string `json:"files,omitempty"`
	Completed    bool     `json:"completed"`
}

// ContextFromEnv builds the initial workflow context. Getenv is injectable
// for tests.
func ContextFromEnv(getenv func(string) string) (map[string]any, error) {
	issueRaw := strings.TrimSpace(getenv("GRAPH_ISSUE_NUMBER"))
	issueNumber, err := strconv.Atoi(issueRaw)
	if err != nil || issueNumber <= 0 {
		return nil, fmt.Errorf("GRAPH_ISSUE_NUMBER is required, got %q", issueRaw)
	}
	pair := getenv("GITHUB_REPOSITORY")
	owner, repo, ok := strings.Cut(pair, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("GITHUB_REPOSITORY must be owner/repo, got %q", pair)
	}

	baseBranch := getenv("GRAPH_BASE_BRANCH")
	if baseBranch == "" {
		baseBranch = "main"
	}
	doneStatus := getenv("GRAPH_DONE_STATUS")
	if doneStatus == "" {
		doneStatus = "Done"
	}
	maxFix := DefaultMaxFixAttempts
	if raw := strings.TrimSpace(getenv("GRAPH_MAX_FIX_ATTEMPTS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("GRAPH_MAX_FIX_ATTEMPTS: %q", raw)
		}
		maxFix = n
	}
	testCommand := getenv("GRAPH_TEST_COMMAND")
	if testCommand == "" {
		testCommand = "npm test"
	}

	ctx := map[string]any{
		keyIssueNumber:      issueNumber,
		keyRepository:       pair,
		"repoOwner":         owner,
		"repoName":          repo,
		keyBaseBranch:       baseBranch,
		keyDoneStatus:       doneStatus,
		keyMaxFixAttempts:   maxFix,
		keyTestCommand:      testCommand,
		keyCurrentTaskIndex: 0,
		keyFixAttempts:      0,
		keyTestsPassed:      false,
		keyAllTasksComplete: false,
		keyCompletedNodes:   []string{},
		keyFailedNodes:      []string{},
	}
	if server, runID := getenv("GITHUB_SERVER_URL"), getenv("GITHUB_RUN_ID"); server != "" && runID != "" {
		ctx[keyActionsRunURL] = fmt.Sprintf("%s/%s/actions/runs/%s", server, pair, runID)
	}
	return ctx, nil
}

// tasksFrom decodes the task list from context. JSON round-trips degrade the
// slice to []any of maps, so both representations are accepted.
func tasksFrom(st *workflow.State) []Task {
	v, ok := st.Get(keyTasks)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []Task:
		out := make([]Task, len(list))
		copy(out, list)
		return out
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out []Task
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
}

func currentTask(st *workflow.State) (Task, int, bool) {
	tasks := tasksFrom(st)
	idx := st.GetInt(keyCurrentTaskIndex, 0)
	if idx < 0 || idx >= len(tasks) {
		return Task{}, idx, false
	}
	return tasks[idx], idx, true
}

// stringsFrom reads a []string context value, tolerating the []any shape
// JSON reloads produce.
func stringsFrom(st *workflow.State, key string) []string {
	v, ok := st.Get(key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// markVisited appends names to completedNodes, skipping ones already present.
func markVisited(st *workflow.State, names ...string) []string {
	visited := stringsFrom(st, keyCompletedNodes)
	seen := make(map[string]bool, len(visited))
	for _, n := range visited {
		seen[n] = true
	}
	for _, n := range names {
		if !seen[n] {
			visited = append(visited, n)
			seen[n] = true
		}
	}
	return visited
}

// resultField digs one field out of a node result record in context.
func resultField(st *workflow.State, recordKey, field string) (any, bool) {
	v, ok := st.Get(recordKey)
	if !ok {
		return nil, false
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	f, ok := rec[field]
	return f, ok
}

func resultString(st *workflow.State, recordKey, field string) string {
	v, ok := resultField(st, recordKey, field)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

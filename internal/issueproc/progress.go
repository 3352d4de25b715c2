package issueproc

import (
	"context"
	"fmt"

	"github.com/foundryhq/foundry/internal/dashboard"
	"github.com/foundryhq/foundry/internal/tracker"
	"github.com/foundryhq/foundry/internal/workflow"
)

// markerID keys the PR body dashboard region. The issue number keeps it
// stable across resumed and re-triggered runs.
func markerID(st *workflow.State) string {
	return fmt.Sprintf("issue-%d", st.GetInt(keyIssueNumber, 0))
}

// renderProgress composes the dashboard block for the current state. When
// final is set, every pipeline node renders as visited and no node is
// active.
func renderProgress(st *workflow.State, active string, final bool) string {
	completed := stringsFrom(st, keyCompletedNodes)
	if final {
		completed = pipelineNodes
		active = ""
	}
	title := fmt.Sprintf("Workflow progress — issue #%d", st.GetInt(keyIssueNumber, 0))
	if final {
		title = fmt.Sprintf("Workflow result — issue #%d", st.GetInt(keyIssueNumber, 0))
	}

	task, idx, ok := currentTask(st)
	taskLabel := ""
	if ok {
		taskLabel = fmt.Sprintf("%d/%d: %s", idx+1, len(tasksFrom(st)), task.Description)
	}
	return dashboard.Render(dashboard.Section{
		MarkerID: markerID(st),
		Title:    title,
		Diagram: dashboard.Diagram{
			Nodes:     pipelineNodes,
			Edges:     pipelineEdges,
			Active:    active,
			Completed: completed,
			Failed:    stringsFrom(st, keyFailedNodes),
		},
		CurrentTask: taskLabel,
		Attempt:     st.GetInt(keyFixAttempts, 0) + 1,
		MaxAttempts: st.GetInt(keyMaxFixAttempts, DefaultMaxFixAttempts),
		LogsURL:     st.GetString(keyActionsRunURL, ""),
	})
}

// PopulateIssue fetches the issue's title and body into the initial context.
// Called once before the engine starts.
func PopulateIssue(ctx context.Context, tc *tracker.Client, initial map[string]any) error {
	owner, _ := initial["repoOwner"].(string)
	repo, _ := initial["repoName"].(string)
	number, _ := initial[keyIssueNumber].(int)
	issue, err := tc.GetIssue(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("fetch issue #%d: %w", number, err)
	}
	initial[keyIssueTitle] = issue.Title
	initial[keyIssueBody] = issue.Body
	return nil
}

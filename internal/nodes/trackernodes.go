package nodes

import (
	"context"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/workflow"
)

// funcRuntime is a programmatic node outside the declarative kind set. The
// tracker helper nodes below use it; they are wired by orchestration code,
// not loaded from documents.
type funcRuntime struct {
	name string
	kind workflow.Kind
	next workflow.Transition
	exec func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error)
}

func (f *funcRuntime) Name() string              { return f.name }
func (f *funcRuntime) Kind() workflow.Kind       { return f.kind }
func (f *funcRuntime) Next() workflow.Transition { return f.next }
func (f *funcRuntime) Execute(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
	return f.exec(ctx, st, rc)
}

// NewFunc builds a programmatic runtime from a bare execute function.
func NewFunc(name string, kind workflow.Kind, next workflow.Transition,
	exec func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error)) engine.Runtime {
	return &funcRuntime{name: name, kind: kind, next: next, exec: exec}
}

// NewProjectStatusNode moves the issue's board item to status. Failures are
// recorded, not thrown: a missing or misconfigured board must not fail the
// run that only wanted to mirror progress.
func NewProjectStatusNode(name string, next workflow.Transition, deps Deps, status string) engine.Runtime {
	return &funcRuntime{name: name, kind: "project_status", next: next,
		exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
			rec := map[string]any{"success": false, "status": status}
			if deps.Project == nil {
				rec["skipped"] = "no project configured"
				rec["success"] = true
				return resultDelta(KeyProjectResult, rec), rec, nil
			}
			owner := st.GetString(KeyRepoOwner, "")
			repo := st.GetString(KeyRepoName, "")
			issue := st.GetInt("issueNumber", 0)
			if rc.DryRun {
				rec["success"] = true
				rec["dryRun"] = true
				return resultDelta(KeyProjectResult, rec), rec, nil
			}
			start := time.Now()
			err := deps.Project.UpdateStatus(ctx, owner, repo, issue, status)
			rec["duration"] = time.Since(start).String()
			if err != nil {
				rec["error"] = err.Error()
				rc.Logger.Warn("project status sync failed", "status", status, "error", err)
			} else {
				rec["success"] = true
			}
			return resultDelta(KeyProjectResult, rec), rec, nil
		}}
}

// NewCommentNode posts a comment built from state onto the run's issue.
func NewCommentNode(name string, next workflow.Transition, deps Deps, body func(*workflow.State) string) engine.Runtime {
	return &funcRuntime{name: name, kind: "comment", next: next,
		exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
			owner := st.GetString(KeyRepoOwner, "")
			repo := st.GetString(KeyRepoName, "")
			issue := st.GetInt("issueNumber", 0)
			rec := map[string]any{"success": false}
			if rc.DryRun {
				rec["success"] = true
				rec["dryRun"] = true
				return resultDelta(KeyCommentResult, rec), rec, nil
			}
			start := time.Now()
			err := deps.Tracker.CreateComment(ctx, owner, repo, issue, body(st))
			rec["duration"] = time.Since(start).String()
			if err != nil {
				rec["error"] = err.Error()
				return resultDelta(KeyCommentResult, rec), rec, err
			}
			rec["success"] = true
			return resultDelta(KeyCommentResult, rec), rec, nil
		}}
}

// NewPRVisualizerNode upserts dashboard markdown into the PR body. Failures
// are recorded, not thrown.
func NewPRVisualizerNode(name string, next workflow.Transition, deps Deps,
	upsert func(st *workflow.State, currentBody string) string) engine.Runtime {
	return &funcRuntime{name: name, kind: "pr_visualizer", next: next,
		exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
			owner := st.GetString(KeyRepoOwner, "")
			repo := st.GetString(KeyRepoName, "")
			pr := st.GetInt("prNumber", 0)
			rec := map[string]any{"success": false, "prNumber": pr}
			if rc.DryRun {
				rec["success"] = true
				rec["dryRun"] = true
				return resultDelta(KeyPRVisualizerResult, rec), rec, nil
			}
			start := time.Now()
			current, err := deps.Tracker.GetPullRequestBody(ctx, owner, repo, pr)
			if err == nil {
				next := upsert(st, current)
				if next == current {
					rec["unchanged"] = true
				} else {
					err = deps.Tracker.UpdatePullRequestBody(ctx, owner, repo, pr, next)
				}
			}
			rec["duration"] = time.Since(start).String()
			if err != nil {
				rec["error"] = err.Error()
				rc.Logger.Warn("pr visualizer update failed", "pr", pr, "error", err)
			} else {
				rec["success"] = true
			}
			return resultDelta(KeyPRVisualizerResult, rec), rec, nil
		}}
}

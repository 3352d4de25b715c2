package issueproc

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/foundryhq/foundry/internal/dashboard"
	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/nodes"
	"github.com/foundryhq/foundry/internal/workflow"
)

// Node names, in pipeline order.
const (
	NodeAnalyze        = "ANALYZE"
	NodePlan           = "PLAN"
	NodeCreatePR       = "CREATE_PR"
	NodeParsePR        = "PARSE_PR"
	NodeExplore        = "EXPLORE"
	NodeImplement      = "IMPLEMENT"
	NodeTest           = "TEST"
	NodeSetTestResult  = "SET_TEST_RESULT"
	NodeGenPRStatus    = "GEN_PR_STATUS"
	NodeWritePRStatus  = "WRITE_PR_STATUS"
	NodeIncrementRetry = "INCREMENT_RETRY"
	NodeNextTask       = "NEXT_TASK"
	NodeGenFinalPR     = "GEN_FINAL_PR"
	NodeWriteFinalPR   = "WRITE_FINAL_PR"
	NodeSetDoneStatus  = "SET_DONE_STATUS"
	NodeReport         = "REPORT"
)

// pipelineNodes drives dashboard rendering order.
var pipelineNodes = []string{
	NodeAnalyze, NodePlan, NodeCreatePR, NodeParsePR, NodeExplore,
	NodeImplement, NodeTest, NodeSetTestResult, NodeGenPRStatus,
	NodeWritePRStatus, NodeNextTask, NodeGenFinalPR, NodeWriteFinalPR,
	NodeSetDoneStatus, NodeReport, "END",
}

var pipelineEdges = []dashboard.Edge{
	{From: NodeAnalyze, To: NodePlan},
	{From: NodePlan, To: NodeCreatePR},
	{From: NodeCreatePR, To: NodeParsePR},
	{From: NodeParsePR, To: NodeExplore},
	{From: NodeExplore, To: NodeImplement},
	{From: NodeImplement, To: NodeTest},
	{From: NodeTest, To: NodeSetTestResult},
	{From: NodeSetTestResult, To: NodeGenPRStatus},
	{From: NodeGenPRStatus, To: NodeWritePRStatus},
	{From: NodeWritePRStatus, To: NodeNextTask},
	{From: NodeNextTask, To: NodeImplement},
	{From: NodeNextTask, To: NodeGenFinalPR},
	{From: NodeGenFinalPR, To: NodeWriteFinalPR},
	{From: NodeWriteFinalPR, To: NodeSetDoneStatus},
	{From: NodeSetDoneStatus, To: NodeReport},
	{From: NodeReport, To: "END"},
}

// Options configure the processor beyond what the context carries.
type Options struct {
	// Model names the agent model for the analyze/plan/implement steps.
	Model string
	// DoneStatus is the board column to move the issue to at the end.
	DoneStatus string
}

// Runtimes assembles the full node table. The declarative node kinds come
// from the nodes package; the tracker-backed tail nodes are programmatic.
func Runtimes(deps nodes.Deps, opts Options) ([]engine.Runtime, error) {
	if opts.DoneStatus == "" {
		opts.DoneStatus = "Done"
	}

	defs := []workflow.Definition{
		analyzeDef(opts),
		planDef(opts),
		createPRDef(),
		parsePRDef(),
		implementDef(opts),
		testDef(),
		setTestResultDef(),
		genPRStatusDef(),
		incrementRetryDef(),
		nextTaskDef(),
		genFinalPRDef(),
	}

	out := make([]engine.Runtime, 0, len(defs)+5)
	for _, def := range defs {
		rt, err := nodes.BuildNode(def, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	out = append(out,
		exploreNode(),
		writePRStatusNode(deps),
		writeFinalPRNode(deps),
		nodes.NewProjectStatusNode(NodeSetDoneStatus, workflow.Goto(NodeReport), deps, opts.DoneStatus),
		nodes.NewCommentNode(NodeReport, workflow.Goto(workflow.SentinelEnd), deps, reportBody),
	)
	return out, nil
}

func analyzeDef(opts Options) workflow.Definition {
	return workflow.Definition{
		Name:        NodeAnalyze,
		Kind:        workflow.KindAgent,
		ThenLiteral: NodePlan,
		Agent: &workflow.AgentConfig{
			Role:  "analyst",
			Model: opts.Model,
			SystemPrompt: "You analyze GitHub issues before implementation. " +
				"Summarize the problem, the affected area of the codebase, and the acceptance criteria.",
			Prompt: "Analyze issue #{{issueNumber}} in {{repository}}.\n\n" +
				"Title: {{issueTitle}}\n\n{{issueBody}}",
			ResultKey: keyAnalysisResult,
		},
	}
}

func planDef(opts Options) workflow.Definition {
	return workflow.Definition{
		Name:        NodePlan,
		Kind:        workflow.KindAgent,
		ThenLiteral: NodeCreatePR,
		Agent: &workflow.AgentConfig{
			Role:  "planner",
			Model: opts.Model,
			SystemPrompt: "You split an analyzed issue into implementation tasks. " +
				"Respond with a JSON array of objects {id, description, complexity, dependencies, files}. " +
				"Complexity is one of small, medium, large.",
			Prompt:    "Plan the implementation for issue #{{issueNumber}}.\n\nAnalysis:\n{{analysisResult.output}}",
			ResultKey: keyPlanResult,
		},
	}
}

func createPRDef() workflow.Definition {
	return workflow.Definition{
		Name:        NodeCreatePR,
		Kind:        workflow.KindDynamicCommand,
		ThenLiteral: NodeParsePR,
		DynamicCommand: &workflow.DynamicCommandConfig{
			Command: func(st *workflow.State) string {
				// An explicit createPrCommand in context replaces the gh
				// invocation; its output must carry the same markers.
				if custom := st.GetString(keyCreatePRCommand, ""); custom != "" {
					return custom
				}
				issue := st.GetInt(keyIssueNumber, 0)
				branch := fmt.Sprintf("foundry/issue-%d", issue)
				title := fmt.Sprintf("Issue #%d: %s", issue, st.GetString(keyIssueTitle, ""))
				return fmt.Sprintf(
					"git checkout -b %s && git push -u origin %s && "+
						"gh pr create --draft --base %s --title %s --body %s && echo branch=%s",
					branch, branch,
					shellQuote(st.GetString(keyBaseBranch, "main")),
					shellQuote(title),
					shellQuote(fmt.Sprintf("Work in progress for #%d.", issue)),
					branch)
			},
			Cwd: func(st *workflow.State) string {
				return st.GetString(nodes.KeyWorkDir, "")
			},
			Timeout: 120 * time.Second,
		},
	}
}

var (
	prURLPattern  = regexp.MustCompile(`https://\S+/pull/(\d+)`)
	branchPattern = regexp.MustCompile(`(?m)^branch=(\S+)$`)
)

// parsePRDef extracts the PR coordinates from the create step's stdout and
// decodes the planner's task list. Both must be present to continue.
func parsePRDef() workflow.Definition {
	return workflow.Definition{
		Name:        NodeParsePR,
		Kind:        workflow.KindEval,
		ThenLiteral: NodeExplore,
		Eval: &workflow.EvalConfig{Transform: func(st *workflow.State) (map[string]any, error) {
			out := resultString(st, nodes.KeyDynamicCommandResult, "output")
			urlMatch := prURLPattern.FindStringSubmatch(out)
			if urlMatch == nil {
				return nil, fmt.Errorf("no pull request url in create output")
			}
			prNumber, err := strconv.Atoi(urlMatch[1])
			if err != nil {
				return nil, fmt.Errorf("pull request number %q: %w", urlMatch[1], err)
			}
			branchMatch := branchPattern.FindStringSubmatch(out)
			if branchMatch == nil {
				return nil, fmt.Errorf("no branch marker in create output")
			}

			tasks, err := parseTasks(resultString(st, keyPlanResult, "output"))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				keyPRNumber:       prNumber,
				keyPRURL:          urlMatch[0],
				keyBranchName:     branchMatch[1],
				keyTasks:          tasks,
				keyCompletedNodes: markVisited(st, NodeAnalyze, NodePlan, NodeCreatePR, NodeParsePR),
			}, nil
		}},
	}
}

// parseTasks accepts a bare JSON array or one wrapped in prose or a fenced
// code block.
func parseTasks(output string) ([]Task, error) {
	start := strings.Index(output, "[")
	end := strings.LastIndex(output, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("plan output contains no task array")
	}
	var tasks []Task
	if err := json.Unmarshal([]byte(output[start:end+1]), &tasks); err != nil {
		return nil, fmt.Errorf("decode task array: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("plan produced an empty task list")
	}
	for i := range tasks {
		tasks[i].Completed = false
		if tasks[i].ID == "" {
			tasks[i].ID = fmt.Sprintf("t%d", i+1)
		}
	}
	return tasks, nil
}

// exploreNode records the checkout's directory tree. Exploration is advisory:
// a failure is recorded and the run continues to IMPLEMENT regardless.
func exploreNode() engine.Runtime {
	return nodes.NewFunc(NodeExplore, workflow.KindCommand, workflow.Goto(NodeImplement),
		func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
			start := time.Now()
			tree, err := BuildTree(st.GetString(nodes.KeyWorkDir, "."), nil)
			rec := map[string]any{
				"success":  err == nil,
				"duration": time.Since(start).String(),
			}
			delta := workflow.Delta{Context: map[string]any{nodes.KeyCommandResult: rec}}
			if err != nil {
				rec["error"] = err.Error()
				rc.Logger.Warn("directory exploration failed", "error", err)
				return delta, rec, nil
			}
			delta.Context[keyDirectoryTree] = tree
			return delta, rec, nil
		})
}

func implementDef(opts Options) workflow.Definition {
	return workflow.Definition{
		Name:        NodeImplement,
		Kind:        workflow.KindDynamicAgent,
		ThenLiteral: NodeTest,
		DynamicAgent: &workflow.DynamicAgentConfig{
			Model: func(*workflow.State) string { return opts.Model },
			System: func(*workflow.State) string {
				return "You implement one planned task in the checked-out repository. " +
					"Make the smallest change that satisfies the task, then stop."
			},
			Prompt: func(st *workflow.State) string {
				task, idx, ok := currentTask(st)
				var b strings.Builder
				fmt.Fprintf(&b, "Issue #%d: %s\n\n", st.GetInt(keyIssueNumber, 0), st.GetString(keyIssueTitle, ""))
				if ok {
					fmt.Fprintf(&b, "Task %d (%s): %s\n", idx+1, task.Complexity, task.Description)
					if len(task.Files) > 0 {
						fmt.Fprintf(&b, "Likely files: %s\n", strings.Join(task.Files, ", "))
					}
				}
				if tree := st.GetString(keyDirectoryTree, ""); tree != "" {
					fmt.Fprintf(&b, "\nRepository layout:\n%s", tree)
				}
				if st.GetInt(keyFixAttempts, 0) > 0 {
					fmt.Fprintf(&b, "\nThe previous attempt failed its tests. Output:\n%s\n",
						resultString(st, nodes.KeyCommandResult, "output"))
					if stderr := resultString(st, nodes.KeyCommandResult, "stderr"); stderr != "" {
						fmt.Fprintf(&b, "%s\n", stderr)
					}
				}
				return b.String()
			},
		},
	}
}

func testDef() workflow.Definition {
	throw := false
	return workflow.Definition{
		Name:        NodeTest,
		Kind:        workflow.KindCommand,
		ThenLiteral: NodeSetTestResult,
		Command: &workflow.CommandConfig{
			Command:      "{{testCommand}}",
			ThrowOnError: &throw,
		},
	}
}

// setTestResultDef translates the test command outcome into testsPassed and
// maintains the failed-node set: TEST turns red on failure and green again
// once a later attempt passes.
func setTestResultDef() workflow.Definition {
	return workflow.Definition{
		Name:        NodeSetTestResult,
		Kind:        workflow.KindEval,
		ThenLiteral: NodeGenPRStatus,
		Eval: &workflow.EvalConfig{Transform: func(st *workflow.State) (map[string]any, error) {
			passed := false
			if v, ok := resultField(st, nodes.KeyCommandResult, "success"); ok {
				passed, _ = v.(bool)
			}
			failed := stringsFrom(st, keyFailedNodes)
			if passed {
				kept := failed[:0]
				for _, n := range failed {
					if n != NodeTest {
						kept = append(kept, n)
					}
				}
				failed = kept
			} else if !contains(failed, NodeTest) {
				failed = append(failed, NodeTest)
			}
			return map[string]any{
				keyTestsPassed:    passed,
				keyFailedNodes:    failed,
				keyCompletedNodes: markVisited(st, NodeExplore, NodeImplement, NodeTest, NodeSetTestResult),
			}, nil
		}},
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func genPRStatusDef() workflow.Definition {
	return workflow.Definition{
		Name:        NodeGenPRStatus,
		Kind:        workflow.KindEval,
		ThenLiteral: NodeWritePRStatus,
		Eval: &workflow.EvalConfig{Transform: func(st *workflow.State) (map[string]any, error) {
			active := NodeImplement
			if st.GetBool(keyTestsPassed, false) {
				active = NodeNextTask
			}
			return map[string]any{
				keyPRBodyMarkdown: renderProgress(st, active, false),
				keyCompletedNodes: markVisited(st, NodeGenPRStatus),
			}, nil
		}},
	}
}

// writePRStatusNode patches the dashboard into the PR body, then routes on
// the test verdict.
func writePRStatusNode(deps nodes.Deps) engine.Runtime {
	next := workflow.If(func(st *workflow.State) bool {
		return st.GetBool(keyTestsPassed, false)
	}, NodeNextTask, NodeIncrementRetry)
	return nodes.NewPRVisualizerNode(NodeWritePRStatus, next, deps, upsertDashboard)
}

func upsertDashboard(st *workflow.State, current string) string {
	block := st.GetString(keyPRBodyMarkdown, "")
	if block == "" {
		return current
	}
	body, _ := dashboard.Upsert(current, markerID(st), block, dashboard.Bottom)
	return body
}

func incrementRetryDef() workflow.Definition {
	return workflow.Definition{
		Name: NodeIncrementRetry,
		Kind: workflow.KindEval,
		Then: workflow.If(func(st *workflow.State) bool {
			return st.GetInt(keyFixAttempts, 0) < st.GetInt(keyMaxFixAttempts, DefaultMaxFixAttempts)
		}, NodeImplement, NodeNextTask),
		Eval: &workflow.EvalConfig{Transform: func(st *workflow.State) (map[string]any, error) {
			return map[string]any{
				keyFixAttempts:    st.GetInt(keyFixAttempts, 0) + 1,
				keyCompletedNodes: markVisited(st, NodeWritePRStatus, NodeIncrementRetry),
			}, nil
		}},
	}
}

// nextTaskDef marks the current task done regardless of its final test
// verdict and advances. testsPassed only resets when another task follows.
func nextTaskDef() workflow.Definition {
	return workflow.Definition{
		Name: NodeNextTask,
		Kind: workflow.KindEval,
		Then: workflow.If(func(st *workflow.State) bool {
			return !st.GetBool(keyAllTasksComplete, false)
		}, NodeImplement, NodeGenFinalPR),
		Eval: &workflow.EvalConfig{Transform: func(st *workflow.State) (map[string]any, error) {
			tasks := tasksFrom(st)
			idx := st.GetInt(keyCurrentTaskIndex, 0)
			if idx >= 0 && idx < len(tasks) {
				tasks[idx].Completed = true
			}
			out := map[string]any{
				keyTasks:          tasks,
				keyFixAttempts:    0,
				keyCompletedNodes: markVisited(st, NodeWritePRStatus, NodeNextTask),
			}
			if idx+1 < len(tasks) {
				out[keyCurrentTaskIndex] = idx + 1
				out[keyTestsPassed] = false
				out[keyAllTasksComplete] = false
			} else {
				out[keyAllTasksComplete] = true
			}
			return out, nil
		}},
	}
}

func genFinalPRDef() workflow.Definition {
	return workflow.Definition{
		Name:        NodeGenFinalPR,
		Kind:        workflow.KindEval,
		ThenLiteral: NodeWriteFinalPR,
		Eval: &workflow.EvalConfig{Transform: func(st *workflow.State) (map[string]any, error) {
			return map[string]any{
				keyPRBodyMarkdown: renderProgress(st, "", true),
				keyCompletedNodes: markVisited(st, NodeGenFinalPR),
			}, nil
		}},
	}
}

// writeFinalPRNode patches the final dashboard and flips the draft PR to
// ready. Unlike the in-loop status write, failures here are fatal.
func writeFinalPRNode(deps nodes.Deps) engine.Runtime {
	return nodes.NewFunc(NodeWriteFinalPR, "pr_finalizer", workflow.Goto(NodeSetDoneStatus),
		func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
			owner := st.GetString(nodes.KeyRepoOwner, "")
			repo := st.GetString(nodes.KeyRepoName, "")
			pr := st.GetInt(keyPRNumber, 0)
			rec := map[string]any{"success": false, "prNumber": pr}
			delta := workflow.Delta{Context: map[string]any{
				nodes.KeyPRVisualizerResult: rec,
				keyCompletedNodes:           markVisited(st, NodeWriteFinalPR),
			}}
			if rc.DryRun {
				rec["success"] = true
				rec["dryRun"] = true
				return delta, rec, nil
			}
			start := time.Now()
			current, err := deps.Tracker.GetPullRequestBody(ctx, owner, repo, pr)
			if err == nil {
				body, changed := dashboard.Upsert(current, markerID(st), st.GetString(keyPRBodyMarkdown, ""), dashboard.Bottom)
				if changed {
					err = deps.Tracker.UpdatePullRequestBody(ctx, owner, repo, pr, body)
				}
			}
			if err == nil {
				err = deps.Tracker.MarkPullRequestReady(ctx, owner, repo, pr)
			}
			rec["duration"] = time.Since(start).String()
			if err != nil {
				rec["error"] = err.Error()
				return delta, rec, err
			}
			rec["success"] = true
			return delta, rec, nil
		})
}

// reportBody is the closing comment posted on the issue.
func reportBody(st *workflow.State) string {
	tasks := tasksFrom(st)
	done := 0
	for _, t := range tasks {
		if t.Completed {
			done++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Completed workflow for this issue: %d/%d tasks.\n\n", done, len(tasks))
	if url := st.GetString(keyPRURL, ""); url != "" {
		fmt.Fprintf(&b, "Pull request: %s\n", url)
	}
	if !st.GetBool(keyTestsPassed, false) {
		b.WriteString("\nNote: the final test run did not pass; see the PR dashboard for details.\n")
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

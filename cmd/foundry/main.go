package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"

	"github.com/foundryhq/foundry/internal/dispatch"
	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/issueproc"
	"github.com/foundryhq/foundry/internal/llm"
	"github.com/foundryhq/foundry/internal/llm/providers/openaicompat"
	"github.com/foundryhq/foundry/internal/logging"
	"github.com/foundryhq/foundry/internal/nodes"
	"github.com/foundryhq/foundry/internal/store"
	"github.com/foundryhq/foundry/internal/tracker"
	"github.com/foundryhq/foundry/internal/workflow"
)

func main() {
	// A .env next to the binary is a developer convenience; absence is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "run":
		runWorkflow(os.Args[2:])
	case "dispatch":
		runDispatch(os.Args[2:])
	case "issue":
		runIssue(os.Args[2:])
	case "--help", "-h", "help":
		usage()
		os.Exit(0)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  foundry run <workflow.yaml|json> [--run-id <id>] [--state-dir <dir>] [--dry-run] [--verbose|-v]")
	fmt.Fprintln(os.Stderr, "  foundry dispatch [--verbose|-v]")
	fmt.Fprintln(os.Stderr, "  foundry issue [--run-id <id>] [--state-dir <dir>] [--dry-run] [--verbose|-v]")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func newLogger(verbose bool) *logging.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	format := "text"
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		format = "json"
	}
	return logging.New(os.Stderr, level, format)
}

func newRunID() string {
	return ulid.Make().String()
}

// commonFlags are shared by the run and issue subcommands.
type commonFlags struct {
	runID    string
	stateDir string
	dryRun   bool
	verbose  bool
	rest     []string
}

func parseCommon(args []string) (commonFlags, error) {
	var f commonFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--run-id":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--run-id requires a value")
			}
			f.runID = args[i]
		case "--state-dir":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--state-dir requires a value")
			}
			f.stateDir = args[i]
		case "--dry-run":
			f.dryRun = true
		case "--verbose", "-v":
			f.verbose = true
		default:
			f.rest = append(f.rest, args[i])
		}
	}
	if f.stateDir == "" {
		f.stateDir = ".foundry/state"
	}
	return f, nil
}

// newLLMClient registers one adapter per configured provider key. All three
// upstreams speak the chat-completions surface.
func newLLMClient() *llm.Client {
	c := llm.NewClient()
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Register(openaicompat.NewAdapter(openaicompat.Config{
			Provider: "openai",
			APIKey:   key,
			BaseURL:  "https://api.openai.com",
		}))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Register(openaicompat.NewAdapter(openaicompat.Config{
			Provider: "anthropic",
			APIKey:   key,
			BaseURL:  "https://api.anthropic.com",
		}))
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Register(openaicompat.NewAdapter(openaicompat.Config{
			Provider: "google",
			APIKey:   key,
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta/openai",
			Path:     "/chat/completions",
		}))
	}
	return c
}

func newTracker(log *logging.Logger) (*tracker.Client, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN is required")
	}
	return tracker.NewClient(tracker.Config{Token: token, Logger: log})
}

func runWorkflow(args []string) {
	f, err := parseCommon(args)
	if err != nil {
		fail(err)
	}
	if len(f.rest) != 1 {
		usage()
		os.Exit(1)
	}
	log := newLogger(f.verbose)

	cfg, err := workflow.LoadFile(f.rest[0])
	if err != nil {
		fail(err)
	}
	deps := nodes.Deps{LLM: newLLMClient(), Getenv: os.Getenv}
	if tc, err := newTracker(log); err == nil {
		deps.Tracker = tc
	}
	runtimes, err := nodes.Build(cfg, deps)
	if err != nil {
		fail(err)
	}
	fs, err := store.NewFileStore(f.stateDir)
	if err != nil {
		fail(err)
	}
	eng, err := engine.New(fs, runtimes, engine.Options{
		MaxRetries: 1,
		Logger:     log,
		DryRun:     f.dryRun,
	})
	if err != nil {
		fail(err)
	}

	runID := f.runID
	if runID == "" {
		runID = newRunID()
	}
	final, err := eng.Run(context.Background(), runID, workflow.NewState(cfg.Entry(), cfg.InitialContext))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Printf("run_id=%s\nstatus=failed\n", runID)
		os.Exit(1)
	}
	fmt.Printf("run_id=%s\nstatus=%s\nfinal_node=%s\n", runID, final.Status, final.CurrentNode)
	if final.Status != workflow.StatusCompleted {
		os.Exit(1)
	}
	os.Exit(0)
}

func runDispatch(args []string) {
	verbose := false
	for _, a := range args {
		switch a {
		case "--verbose", "-v":
			verbose = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", a)
			os.Exit(1)
		}
	}
	log := newLogger(verbose)

	cfg, err := dispatch.FromEnv(os.Getenv)
	if err != nil {
		fail(err)
	}
	tc, err := newTracker(log)
	if err != nil {
		fail(err)
	}

	ctx := context.Background()
	var project *tracker.Project
	if cfg.Source == "project" {
		project, err = tc.OpenProject(ctx, tracker.ProjectConfig{
			Owner:         cfg.ProjectOwner,
			Number:        cfg.ProjectNumber,
			PriorityField: cfg.PriorityField,
		})
		if err != nil {
			fail(err)
		}
	}

	res, err := dispatch.NewResolver(tc, project, log).Resolve(ctx, cfg)
	if err != nil {
		fail(err)
	}
	if err := dispatch.Emit(res.Matrix, cfg, os.Getenv); err != nil {
		fail(err)
	}

	// Dispatched project items move to the in-progress column so a second
	// dispatcher run does not pick them up again.
	if project != nil && !cfg.DryRun {
		for _, entry := range res.Matrix.Include {
			owner, repo, _ := strings.Cut(entry.Repository, "/")
			if err := project.UpdateStatus(ctx, owner, repo, entry.IssueNumber, cfg.InProgressStatus); err != nil {
				log.Warn("status update failed", "issue", entry.IssueNumber, "error", err)
			}
		}
	}

	fmt.Printf("ready=%d\nblocked=%d\nclosed=%d\ncycles=%d\ndispatched=%d\n",
		len(res.Ready), len(res.Blocked), len(res.Closed), len(res.Cycles), len(res.Matrix.Include))
	os.Exit(0)
}

func runIssue(args []string) {
	f, err := parseCommon(args)
	if err != nil {
		fail(err)
	}
	if len(f.rest) != 0 {
		fmt.Fprintf(os.Stderr, "unknown arg: %s\n", f.rest[0])
		os.Exit(1)
	}
	log := newLogger(f.verbose)

	initial, err := issueproc.ContextFromEnv(os.Getenv)
	if err != nil {
		fail(err)
	}
	tc, err := newTracker(log)
	if err != nil {
		fail(err)
	}

	ctx := context.Background()
	if err := issueproc.PopulateIssue(ctx, tc, initial); err != nil {
		fail(err)
	}

	deps := nodes.Deps{
		LLM:     newLLMClient(),
		Agent:   newAgentBridge(),
		Tracker: tc,
		Getenv:  os.Getenv,
	}
	if raw := os.Getenv("GRAPH_PROJECT_NUMBER"); raw != "" {
		cfg, err := dispatch.FromEnv(os.Getenv)
		if err == nil && cfg.Source == "project" {
			project, err := tc.OpenProject(ctx, tracker.ProjectConfig{
				Owner:         cfg.ProjectOwner,
				Number:        cfg.ProjectNumber,
				PriorityField: cfg.PriorityField,
			})
			if err != nil {
				fail(err)
			}
			deps.Project = project
		}
	}

	runtimes, err := issueproc.Runtimes(deps, issueproc.Options{
		Model:      modelFromEnv(),
		DoneStatus: os.Getenv("GRAPH_DONE_STATUS"),
	})
	if err != nil {
		fail(err)
	}
	fs, err := store.NewFileStore(f.stateDir)
	if err != nil {
		fail(err)
	}
	eng, err := engine.New(fs, runtimes, engine.Options{
		MaxRetries: 1,
		Logger:     log,
		DryRun:     f.dryRun,
	})
	if err != nil {
		fail(err)
	}

	runID := f.runID
	if runID == "" {
		// A stable id per issue lets a re-triggered CI job resume.
		runID = fmt.Sprintf("issue-%v", initial["issueNumber"])
	}
	final, err := eng.Run(ctx, runID, workflow.NewState(issueproc.NodeAnalyze, initial))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Printf("run_id=%s\nstatus=failed\n", runID)
		os.Exit(1)
	}
	fmt.Printf("run_id=%s\nstatus=%s\nfinal_node=%s\n", runID, final.Status, final.CurrentNode)
	if final.Status != workflow.StatusCompleted {
		os.Exit(1)
	}
	os.Exit(0)
}

func modelFromEnv() string {
	if m := os.Getenv("GRAPH_MODEL"); m != "" {
		return m
	}
	return "claude-sonnet-4"
}

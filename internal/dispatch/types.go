// Package dispatch resolves which queued issues are ready to run and emits
// the CI fan-out matrix.
package dispatch

import (
	"fmt"
	"strconv"
	"strings"
)

// IssueStatus partitions resolved issues.
type IssueStatus string

const (
	StatusReady   IssueStatus = "READY"
	StatusBlocked IssueStatus = "BLOCKED"
	StatusClosed  IssueStatus = "CLOSED"
)

// IssueRef identifies an issue across repositories. Numbers alone are
// ambiguous on project boards whose items span repos.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

// Key is the DAG node id.
func (r IssueRef) Key() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// QueuedIssue is a fetched candidate before dependency resolution.
type QueuedIssue struct {
	Owner           string
	Repo            string
	Number          int
	Title           string
	URL             string
	State           string // "open" or "closed"
	Labels          []string
	ProjectPriority string
	SubIssues       []IssueRef
	ParentNumber    int // 0 when none

	// subStates caches the open/closed state of each sub-issue, keyed by
	// the sub-issue's Key.
	subStates map[string]string
}

// Ref is the issue's own cross-repo identity.
func (q QueuedIssue) Ref() IssueRef {
	return IssueRef{Owner: q.Owner, Repo: q.Repo, Number: q.Number}
}

// Key is the DAG node id.
func (q QueuedIssue) Key() string {
	return q.Ref().Key()
}

// ResolvedIssue carries the dependency verdict for one issue.
type ResolvedIssue struct {
	QueuedIssue
	DependsOn     []IssueRef
	BlockedBy     []IssueRef
	Status        IssueStatus
	IsLeaf        bool
	Priority      string
	PriorityScore int
	InCycle       bool
}

// CycleInfo is one detected dependency cycle, listed in walk order and
// ending at the node that closes the cycle.
type CycleInfo struct {
	Nodes []string
}

func (c CycleInfo) String() string {
	return strings.Join(c.Nodes, " -> ")
}

// MatrixEntry is the wire shape CI consumes.
type MatrixEntry struct {
	IssueNumber       int    `json:"issue_number"`
	Title             string `json:"title"`
	Priority          string `json:"priority"`
	PriorityScore     int    `json:"priority_score"`
	Repository        string `json:"repository"`
	URL               string `json:"url"`
	ParentIssueNumber *int   `json:"parent_issue_number,omitempty"`
}

// Matrix is the emitted artifact: {"include": [...]}.
type Matrix struct {
	Include []MatrixEntry `json:"include"`
}

// Result is the full resolver outcome.
type Result struct {
	Ready   []ResolvedIssue
	Blocked []ResolvedIssue
	Closed  []ResolvedIssue
	Cycles  []CycleInfo
	Matrix  Matrix
}

// Config is the dispatch environment, usually read from GRAPH_* variables.
type Config struct {
	Source           string // "label" or "project"
	Owner            string
	Repo             string
	Label            string
	ProjectOwner     string
	ProjectNumber    int
	ReadyStatus      string
	InProgressStatus string
	PriorityField    string
	MaxConcurrent    int // <=0 means unbounded
	DryRun           bool
	OutputFile       string
}

// FromEnv builds a Config from the environment. Getenv is injectable for
// tests.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Source:           strings.ToLower(strings.TrimSpace(getenv("GRAPH_SOURCE"))),
		Label:            getenv("GRAPH_LABEL"),
		ProjectOwner:     getenv("GRAPH_PROJECT_OWNER"),
		ReadyStatus:      getenv("GRAPH_READY_STATUS"),
		InProgressStatus: getenv("GRAPH_IN_PROGRESS_STATUS"),
		PriorityField:    getenv("GRAPH_PRIORITY_FIELD"),
		OutputFile:       getenv("GRAPH_OUTPUT_FILE"),
	}
	if cfg.Source == "" {
		cfg.Source = "label"
	}
	if cfg.Label == "" {
		cfg.Label = "queue"
	}
	if cfg.ReadyStatus == "" {
		cfg.ReadyStatus = "Ready"
	}
	if cfg.InProgressStatus == "" {
		cfg.InProgressStatus = "In Progress"
	}
	if cfg.PriorityField == "" {
		cfg.PriorityField = "Priority"
	}

	pair := getenv("GITHUB_REPOSITORY")
	owner, repo, ok := strings.Cut(pair, "/")
	if !ok || owner == "" || repo == "" {
		return cfg, fmt.Errorf("GITHUB_REPOSITORY must be owner/repo, got %q", pair)
	}
	cfg.Owner, cfg.Repo = owner, repo

	switch cfg.Source {
	case "label":
	case "project":
		n, err := strconv.Atoi(strings.TrimSpace(getenv("GRAPH_PROJECT_NUMBER")))
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("GRAPH_PROJECT_NUMBER is required for project source")
		}
		cfg.ProjectNumber = n
		if cfg.ProjectOwner == "" {
			cfg.ProjectOwner = owner
		}
	default:
		return cfg, fmt.Errorf("GRAPH_SOURCE must be label or project, got %q", cfg.Source)
	}

	if raw := strings.TrimSpace(getenv("GRAPH_MAX_CONCURRENT")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("GRAPH_MAX_CONCURRENT: %w", err)
		}
		cfg.MaxConcurrent = n
	}
	switch strings.ToLower(strings.TrimSpace(getenv("GRAPH_DRY_RUN"))) {
	case "1", "true", "yes":
		cfg.DryRun = true
	}
	return cfg, nil
}

package dispatch

import (
	"context"
	"strings"

	"github.com/foundryhq/foundry/internal/logging"
	"github.com/foundryhq/foundry/internal/tracker"
)

// Fetcher is the tracker surface the resolver needs. *tracker.Client
// satisfies it; tests use fakes.
type Fetcher interface {
	ListOpenIssuesByLabel(ctx context.Context, owner, repo, label string) ([]tracker.Issue, error)
	SubIssues(ctx context.Context, owner, repo string, number int) ([]tracker.SubIssueRef, error)
}

// ProjectFetcher lists board items by status. *tracker.Project satisfies it.
type ProjectFetcher interface {
	FetchItemsByStatus(ctx context.Context, status string) ([]tracker.ProjectItem, error)
}

type Resolver struct {
	fetcher Fetcher
	project ProjectFetcher // nil for label source
	log     *logging.Logger
}

func NewResolver(fetcher Fetcher, project ProjectFetcher, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Discard()
	}
	return &Resolver{fetcher: fetcher, project: project, log: log}
}

// Resolve runs the full pipeline: fetch, populate sub-issues, resolve
// statuses, detect cycles, partition, and build the matrix.
func (r *Resolver) Resolve(ctx context.Context, cfg Config) (*Result, error) {
	queued, err := r.fetch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.populateSubIssues(ctx, queued); err != nil {
		return nil, err
	}

	// A queued sub-issue of another queued issue carries its parent number
	// into the matrix. Matching is by full owner/repo#number key: bare
	// numbers collide on multi-repo project boards.
	parentOf := map[string]int{}
	for _, q := range queued {
		for _, sub := range q.SubIssues {
			parentOf[sub.Key()] = q.Number
		}
	}
	for i := range queued {
		if p, ok := parentOf[queued[i].Key()]; ok {
			queued[i].ParentNumber = p
		}
	}

	resolved := make([]ResolvedIssue, 0, len(queued))
	for _, q := range queued {
		ri := ResolvedIssue{QueuedIssue: q}
		ri.DependsOn = append(ri.DependsOn, q.SubIssues...)
		for _, sub := range q.SubIssues {
			if strings.EqualFold(q.subStates[sub.Key()], "OPEN") {
				ri.BlockedBy = append(ri.BlockedBy, sub)
			}
		}
		ri.IsLeaf = len(q.SubIssues) == 0
		switch {
		case strings.EqualFold(q.State, "closed"):
			ri.Status = StatusClosed
		case len(ri.BlockedBy) > 0:
			ri.Status = StatusBlocked
		default:
			ri.Status = StatusReady
		}
		ri.Priority, ri.PriorityScore = ResolvePriority(q.ProjectPriority, q.Labels)
		resolved = append(resolved, ri)
	}

	cycles := buildDAG(resolved).detectCycles()
	inCycle := cycleMembers(cycles)
	for _, c := range cycles {
		r.log.Warn("dependency cycle detected", "cycle", c.String())
	}

	res := &Result{Cycles: cycles}
	for i := range resolved {
		ri := resolved[i]
		ri.InCycle = inCycle[ri.Key()]
		switch {
		case ri.Status == StatusClosed:
			res.Closed = append(res.Closed, ri)
		case ri.Status == StatusReady && ri.IsLeaf && !ri.InCycle:
			res.Ready = append(res.Ready, ri)
		default:
			// Non-leaf ready issues are aggregators; cycle members are
			// suppressed from dispatch even when nominally ready.
			res.Blocked = append(res.Blocked, ri)
		}
	}
	sortReady(res.Ready)

	take := len(res.Ready)
	if cfg.MaxConcurrent > 0 && cfg.MaxConcurrent < take {
		take = cfg.MaxConcurrent
	}
	for _, ri := range res.Ready[:take] {
		entry := MatrixEntry{
			IssueNumber:   ri.Number,
			Title:         ri.Title,
			Priority:      ri.Priority,
			PriorityScore: ri.PriorityScore,
			Repository:    ri.Owner + "/" + ri.Repo,
			URL:           ri.URL,
		}
		if ri.ParentNumber > 0 {
			parent := ri.ParentNumber
			entry.ParentIssueNumber = &parent
		}
		res.Matrix.Include = append(res.Matrix.Include, entry)
	}

	r.log.Info("dispatch resolved",
		"ready", len(res.Ready), "blocked", len(res.Blocked),
		"closed", len(res.Closed), "cycles", len(cycles),
		"dispatched", len(res.Matrix.Include))
	return res, nil
}

func (r *Resolver) fetch(ctx context.Context, cfg Config) ([]QueuedIssue, error) {
	switch cfg.Source {
	case "project":
		items, err := r.project.FetchItemsByStatus(ctx, cfg.ReadyStatus)
		if err != nil {
			return nil, err
		}
		out := make([]QueuedIssue, 0, len(items))
		for _, it := range items {
			q := QueuedIssue{
				Owner:           it.Owner,
				Repo:            it.Repo,
				Number:          it.Number,
				Title:           it.Title,
				URL:             it.URL,
				State:           "open",
				ProjectPriority: it.Priority,
			}
			// Labels synthesized from the board priority keep the label
			// fallback path uniform downstream.
			if it.Priority != "" {
				q.Labels = []string{"priority: " + strings.ToLower(it.Priority)}
			}
			out = append(out, q)
		}
		return out, nil
	default:
		issues, err := r.fetcher.ListOpenIssuesByLabel(ctx, cfg.Owner, cfg.Repo, cfg.Label)
		if err != nil {
			return nil, err
		}
		out := make([]QueuedIssue, 0, len(issues))
		for _, iss := range issues {
			out = append(out, QueuedIssue{
				Owner:  cfg.Owner,
				Repo:   cfg.Repo,
				Number: iss.Number,
				Title:  iss.Title,
				URL:    iss.URL,
				State:  iss.State,
				Labels: iss.Labels,
			})
		}
		return out, nil
	}
}

// populateSubIssues fills SubIssues and the state cache. Fetches run
// serially; the tracker already soft-fails per issue. Refs missing a
// repository default to the parent's.
func (r *Resolver) populateSubIssues(ctx context.Context, queued []QueuedIssue) error {
	for i := range queued {
		q := &queued[i]
		if q.SubIssues != nil {
			continue
		}
		subs, err := r.fetcher.SubIssues(ctx, q.Owner, q.Repo, q.Number)
		if err != nil {
			return err
		}
		q.subStates = map[string]string{}
		q.SubIssues = []IssueRef{}
		for _, s := range subs {
			ref := IssueRef{Owner: s.Owner, Repo: s.Repo, Number: s.Number}
			if ref.Owner == "" || ref.Repo == "" {
				ref.Owner, ref.Repo = q.Owner, q.Repo
			}
			q.SubIssues = append(q.SubIssues, ref)
			q.subStates[ref.Key()] = s.State
		}
	}
	return nil
}

// Package engine executes declarative workflows node by node, persisting a
// snapshot after every step so a killed run resumes where it stopped.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/foundryhq/foundry/internal/logging"
	"github.com/foundryhq/foundry/internal/workflow"
)

// Runtime is one executable node. Execute returns a shallow-merge delta plus
// advisory metadata for logging. Next is called after the delta is merged.
type Runtime interface {
	Name() string
	Kind() workflow.Kind
	Execute(ctx context.Context, st *workflow.State, rc *RunContext) (workflow.Delta, map[string]any, error)
	Next() workflow.Transition
}

// RunContext carries run-scoped values into node executes. Node dependencies
// (providers, trackers) are bound at construction, not here.
type RunContext struct {
	RunID  string
	Logger *logging.Logger

	// DryRun skips external side effects in nodes that support it.
	DryRun bool
}

// Store is the snapshot persistence surface the engine needs.
type Store interface {
	Save(id string, st *workflow.State) error
	Load(id string) (*workflow.State, bool, error)
}

// Options configure a run. MaxRetries is the number of additional execute
// attempts after the first failure; zero means a single attempt.
type Options struct {
	MaxRetries int
	Logger     *logging.Logger
	DryRun     bool

	// OnStep, when set, observes every persisted snapshot. Used by callers
	// that mirror progress externally.
	OnStep func(st *workflow.State)
}

// Engine runs one workflow id at a time. Concurrent engines over distinct ids
// are safe; two engines over the same id are a caller bug.
type Engine struct {
	store    Store
	runtimes map[string]Runtime
	names    map[string]struct{}
	opts     Options
}

func New(store Store, runtimes []Runtime, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(runtimes) == 0 {
		return nil, fmt.Errorf("at least one runtime is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	table := make(map[string]Runtime, len(runtimes))
	names := make(map[string]struct{}, len(runtimes))
	for _, rt := range runtimes {
		if _, dup := table[rt.Name()]; dup {
			return nil, fmt.Errorf("duplicate runtime %q", rt.Name())
		}
		table[rt.Name()] = rt
		names[rt.Name()] = struct{}{}
	}
	return &Engine{store: store, runtimes: table, names: names, opts: opts}, nil
}

// Run drives the loop until a terminal sentinel. A prior snapshot for runID
// wins over initial: the run resumes from exactly where the last persisted
// step left off.
func (e *Engine) Run(ctx context.Context, runID string, initial *workflow.State) (*workflow.State, error) {
	log := e.opts.Logger.WithRunID(runID)

	st, found, err := e.store.Load(runID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", runID, err)
	}
	if found {
		log.Info("resuming from snapshot", "node", st.CurrentNode, "status", st.Status)
	} else {
		if initial == nil {
			return nil, fmt.Errorf("run %s: no snapshot and no initial state", runID)
		}
		st = initial
	}
	// Pending covers both a fresh state and a snapshot persisted before the
	// first step ran.
	if st.Status == workflow.StatusPending || st.Status == "" {
		st.Status = workflow.StatusRunning
	}

	rc := &RunContext{RunID: runID, Logger: log, DryRun: e.opts.DryRun}

	for !st.Terminal() {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		rt, ok := e.runtimes[st.CurrentNode]
		if !ok {
			missing := st.CurrentNode
			st.Status = workflow.StatusFailed
			st.CurrentNode = workflow.SentinelError
			st.Touch()
			e.persist(runID, st, log)
			return st, &UnknownNodeError{RunID: runID, Node: missing}
		}

		delta, meta, execErr := e.executeWithRetry(ctx, rt, st, rc)
		if execErr != nil {
			st.Status = workflow.StatusFailed
			st.CurrentNode = workflow.SentinelError
			st.Touch()
			e.persist(runID, st, log)
			return st, execErr
		}
		st.Apply(delta)
		if len(meta) > 0 {
			log.Debug("node metadata", "node", rt.Name(), "meta", meta)
		}

		next, err := workflow.ResolveNext(rt.Name(), rt.Next(), st, e.names)
		if err != nil {
			st.Status = workflow.StatusFailed
			st.CurrentNode = workflow.SentinelError
			st.Touch()
			e.persist(runID, st, log)
			return st, err
		}
		st.CurrentNode = next
		switch next {
		case workflow.SentinelEnd:
			st.Status = workflow.StatusCompleted
		case workflow.SentinelError:
			st.Status = workflow.StatusFailed
		}
		st.Touch()

		if err := e.store.Save(runID, st); err != nil {
			return st, fmt.Errorf("persist snapshot for %s: %w", runID, err)
		}
		if e.opts.OnStep != nil {
			e.opts.OnStep(st)
		}
	}

	log.Info("run finished", "status", st.Status, "node", st.CurrentNode)
	return st, nil
}

// executeWithRetry runs one node with the engine's retry budget. Retries are
// immediate; the budget counts additional attempts after the first.
func (e *Engine) executeWithRetry(ctx context.Context, rt Runtime, st *workflow.State, rc *RunContext) (workflow.Delta, map[string]any, error) {
	log := rc.Logger.WithNode(rt.Name(), string(rt.Kind()))
	attempts := e.opts.MaxRetries + 1

	var lastErr error
	var lastMeta map[string]any
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		log.Info("node start", "attempt", attempt)
		delta, meta, err := rt.Execute(ctx, st, rc)
		dur := time.Since(start)
		if err == nil {
			log.Info("node done", "attempt", attempt, "duration", dur.String())
			return delta, meta, nil
		}
		lastErr, lastMeta = err, meta
		log.Warn("node failed", "attempt", attempt, "duration", dur.String(),
			"signature", failureSignature(rt.Name(), err), "error", err)
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
	}
	return workflow.Delta{}, nil, &NodeExecutionError{
		Node:     rt.Name(),
		Kind:     rt.Kind(),
		Attempts: attempts,
		Err:      lastErr,
		Details:  lastMeta,
	}
}

func (e *Engine) persist(runID string, st *workflow.State, log *logging.Logger) {
	if err := e.store.Save(runID, st); err != nil {
		log.Error("persist failed snapshot", "error", err)
	}
	if e.opts.OnStep != nil {
		e.opts.OnStep(st)
	}
}

// failureSignature is a stable short hash of node+error, so repeated failures
// of the same shape correlate across attempts and runs in the logs.
func failureSignature(node string, err error) string {
	h := blake3.New()
	_, _ = h.Write([]byte(node))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(err.Error()))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

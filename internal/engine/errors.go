package engine

import (
	"fmt"
	"time"

	"github.com/foundryhq/foundry/internal/workflow"
)

// UnknownNodeError reports a currentNode with no registered runtime. The run
// is marked failed before this surfaces.
type UnknownNodeError struct {
	RunID string
	Node  string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("run %s: no runtime registered for node %q", e.RunID, e.Node)
}

// NodeExecutionError reports a node whose execute failed after the retry
// budget was spent. Details carry advisory metadata from the last attempt.
type NodeExecutionError struct {
	Node     string
	Kind     workflow.Kind
	Attempts int
	Err      error
	Details  map[string]any
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed after %d attempt(s): %v", e.Node, e.Kind, e.Attempts, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports a node-owned resource (subprocess, HTTP call) that
// exceeded its deadline and was killed.
type TimeoutError struct {
	Node  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %s", e.Node, e.After)
}

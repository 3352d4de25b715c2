// Package dashboard renders the workflow progress block embedded in PR
// bodies: a Mermaid state diagram plus a status table, delimited by an
// HTML-comment marker pair so re-renders replace only their own region.
package dashboard

import (
	"fmt"
	"strings"
)

// NodeStatus is the CSS class a diagram node carries.
type NodeStatus string

const (
	StatusCompleted NodeStatus = "completed"
	StatusActive    NodeStatus = "active"
	StatusFailed    NodeStatus = "failed"
	StatusPending   NodeStatus = "pending"
)

type Edge struct {
	From string
	To   string
}

// Diagram describes one workflow graph snapshot.
type Diagram struct {
	Nodes     []string
	Edges     []Edge
	Active    string
	Completed []string
	Failed    []string
	Direction string // "TB" (default) or "LR"
}

// statusOf classifies one node. Failed wins over completed; a node can be
// both when a later attempt succeeded, and the red marker should persist.
func statusOf(name string, d Diagram, completed, failed map[string]bool) NodeStatus {
	switch {
	case failed[name]:
		return StatusFailed
	case name == d.Active:
		return StatusActive
	case completed[name]:
		return StatusCompleted
	default:
		return StatusPending
	}
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Mermaid renders a stateDiagram-v2 block. The END sentinel renders as the
// terminal [*] state and never carries a class.
func Mermaid(d Diagram) string {
	dir := d.Direction
	if dir == "" {
		dir = "TB"
	}
	completed := toSet(d.Completed)
	failed := toSet(d.Failed)

	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	fmt.Fprintf(&b, "    direction %s\n", dir)
	b.WriteString("    classDef completed fill:#2da44e,color:#fff\n")
	b.WriteString("    classDef active fill:#bf8700,color:#fff\n")
	b.WriteString("    classDef failed fill:#cf222e,color:#fff\n")
	b.WriteString("    classDef pending fill:#57606a,color:#fff\n")
	for _, e := range d.Edges {
		to := e.To
		if to == "END" {
			to = "[*]"
		}
		fmt.Fprintf(&b, "    %s --> %s\n", e.From, to)
	}
	for _, n := range d.Nodes {
		if n == "END" {
			continue
		}
		fmt.Fprintf(&b, "    class %s %s\n", n, statusOf(n, d, completed, failed))
	}
	return b.String()
}

package dispatch

import "sort"

// dagNode keys are owner/repo#number; edges point at dependencies.
type dag struct {
	order []string
	edges map[string][]string
}

func buildDAG(issues []ResolvedIssue) *dag {
	d := &dag{edges: map[string][]string{}}
	present := map[string]bool{}
	for _, iss := range issues {
		d.order = append(d.order, iss.Key())
		present[iss.Key()] = true
	}
	// Edges attach only to queued nodes, matched by full key so same-numbered
	// issues in different repos stay distinct.
	for _, iss := range issues {
		var deps []string
		for _, ref := range iss.DependsOn {
			if key := ref.Key(); present[key] {
				deps = append(deps, key)
			}
		}
		d.edges[iss.Key()] = deps
	}
	return d
}

// detectCycles runs a DFS with a recursion-stack set. Each back-edge yields
// one CycleInfo listing the walk from the cycle entry back to itself.
func (d *dag) detectCycles() []CycleInfo {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycles []CycleInfo

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		stack = append(stack, node)
		for _, dep := range d.edges[node] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				// Back-edge: slice the stack from the first occurrence of
				// dep and close the loop.
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), dep)
				cycles = append(cycles, CycleInfo{Nodes: cycle})
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for _, node := range d.order {
		if color[node] == white {
			visit(node)
		}
	}
	return cycles
}

// cycleMembers returns the set of node keys participating in any cycle.
func cycleMembers(cycles []CycleInfo) map[string]bool {
	members := map[string]bool{}
	for _, c := range cycles {
		for _, n := range c.Nodes {
			members[n] = true
		}
	}
	return members
}

// sortReady orders by priority score ascending, stable on insertion order.
func sortReady(ready []ResolvedIssue) {
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].PriorityScore < ready[j].PriorityScore
	})
}

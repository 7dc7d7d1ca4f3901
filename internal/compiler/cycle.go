package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/consentstack/internal/ir"
)

// adjacency maps a node to the nodes that depend on it (From → To).
type adjacency map[ir.ResourceID][]ir.ResourceID

// FindCycles returns every cycle in the graph as a closed path,
// e.g. ["A", "B", "A"]. An acyclic graph returns nil.
//
// The algorithm:
//  1. Use Tarjan's algorithm to find strongly connected components
//  2. Report each SCC with size > 1 or a self-loop as a cycle
//
// Nodes are visited in sorted order so the reported paths are stable.
func FindCycles(edges []ir.Edge) [][]ir.ResourceID {
	graph := make(adjacency)
	for _, e := range edges {
		graph[e.From] = append(graph[e.From], e.To)
		if _, ok := graph[e.To]; !ok {
			graph[e.To] = nil
		}
	}
	for id := range graph {
		sortIDs(graph[id])
	}

	var cycles [][]ir.ResourceID
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, reconstructCyclePath(scc, graph))
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// FormatCycle renders a cycle path as "A → B → A".
func FormatCycle(path []ir.ResourceID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " → ")
}

func cycleError(cycles [][]ir.ResourceID) *BuildError {
	be := &BuildError{Cycle: cycles[0]}
	for _, c := range cycles {
		be.Errors = append(be.Errors, ValidationError{
			Field:   string(c[0]),
			Message: fmt.Sprintf("cyclic dependency: %s", FormatCycle(c)),
			Code:    ErrCyclicDependency,
		})
	}
	return be
}

func hasSelfLoop(node ir.ResourceID, graph adjacency) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph adjacency) [][]ir.ResourceID {
	var (
		index   = 0
		stack   []ir.ResourceID
		indices = make(map[ir.ResourceID]int)
		lowlink = make(map[ir.ResourceID]int)
		onStack = make(map[ir.ResourceID]bool)
		sccs    [][]ir.ResourceID
	)

	var strongConnect func(ir.ResourceID)
	strongConnect = func(v ir.ResourceID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []ir.ResourceID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sortIDs(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]ir.ResourceID, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sortIDs(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath walks edges inside the SCC from its smallest member
// until it returns to the start.
func reconstructCyclePath(scc []ir.ResourceID, graph adjacency) []ir.ResourceID {
	start := scc[0]
	if len(scc) == 1 {
		return []ir.ResourceID{start, start}
	}

	member := make(map[ir.ResourceID]bool, len(scc))
	for _, node := range scc {
		member[node] = true
	}

	path := []ir.ResourceID{start}
	visited := map[ir.ResourceID]bool{start: true}
	current := start
	for {
		var next ir.ResourceID
		// Prefer closing the cycle, then the first unvisited member.
		for _, neighbor := range graph[current] {
			if neighbor == start && len(path) > 1 {
				next = start
				break
			}
		}
		if next == "" {
			for _, neighbor := range graph[current] {
				if member[neighbor] && !visited[neighbor] {
					next = neighbor
					break
				}
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}

func sortIDs(ids []ir.ResourceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

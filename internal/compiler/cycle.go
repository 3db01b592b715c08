package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nocozen/nocozenbase/internal/rule"
)

// Warning levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
)

// ChainWarning reports rules that read a collection another rule writes.
//
// Writes made by the engine never produce change records, so a rule whose
// source collection is another rule's target does not fire on those writes.
// Chains and cycles are reported, never rejected: the downstream rule may
// still be meant to fire on user edits.
type ChainWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeChains builds the collection graph of rules (an edge from A to B
// when A writes the collection B reads) and reports each chained pair at
// info level and each strongly connected component at warning level.
//
// Nodes are named "<source collection>/<rule id>". Output is sorted.
func AnalyzeChains(rules []rule.SyncRule) []ChainWarning {
	if len(rules) == 0 {
		return []ChainWarning{}
	}

	graph := buildChainGraph(rules)

	var warnings []ChainWarning
	for _, from := range graph.nodes() {
		for _, to := range graph[from] {
			if from == to {
				continue
			}
			warnings = append(warnings, ChainWarning{
				Path:    []string{from, to},
				Message: fmt.Sprintf("%s writes the source of %s; engine writes do not trigger it", from, to),
				Level:   LevelInfo,
			})
		}
	}

	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleWarning(scc, graph))
		}
	}
	return warnings
}

// chainGraph maps a rule node to the rule nodes reading its target.
type chainGraph map[string][]string

func (g chainGraph) nodes() []string {
	out := make([]string, 0, len(g))
	for n := range g {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func nodeName(r rule.SyncRule) string {
	return r.SourceCollection + "/" + r.ID()
}

func buildChainGraph(rules []rule.SyncRule) chainGraph {
	readers := make(map[string][]string)
	for _, r := range rules {
		readers[r.SourceCollection] = append(readers[r.SourceCollection], nodeName(r))
	}

	graph := make(chainGraph)
	for _, r := range rules {
		n := nodeName(r)
		if graph[n] == nil {
			graph[n] = []string{}
		}
		graph[n] = append(graph[n], readers[r.TargetCollection]...)
		sort.Strings(graph[n])
	}
	return graph
}

func hasSelfLoop(node string, graph chainGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the result is stable.
func tarjanSCC(graph chainGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
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

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range graph.nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleWarning(scc []string, graph chainGraph) ChainWarning {
	if len(scc) == 1 {
		n := scc[0]
		return ChainWarning{
			Path:    []string{n, n},
			Message: fmt.Sprintf("rule writes its own source collection: %s", n),
			Level:   LevelWarning,
		}
	}
	path := cyclePath(scc, graph)
	return ChainWarning{
		Path:    path,
		Message: fmt.Sprintf("collection cycle: %s", strings.Join(path, " → ")),
		Level:   LevelWarning,
	}
}

// cyclePath walks edges inside the component from its first node until it
// returns there.
func cyclePath(scc []string, graph chainGraph) []string {
	member := make(map[string]bool, len(scc))
	for _, n := range scc {
		member[n] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if member[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

package adjacency

import "sort"

// findCycle returns one cycle of g as a closed path ["a", "b", "a"], or nil
// when g is acyclic.
//
// Strongly connected components are found with Tarjan's algorithm; any
// component with more than one item, or a single item with an edge to
// itself, contains a cycle.
func findCycle(g graph) []string {
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(g, scc[0])) {
			return cyclePath(g, scc)
		}
	}
	return nil
}

func hasSelfLoop(g graph, item string) bool {
	for _, e := range g[item] {
		if e.Item == item {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components of g. Items are visited in
// sorted order so the result is deterministic.
func tarjanSCC(g graph) [][]string {
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

		for _, e := range g[v] {
			w := e.Item
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
			sccs = append(sccs, scc)
		}
	}

	items := make([]string, 0, len(g))
	for item := range g {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		if _, visited := indices[item]; !visited {
			strongConnect(item)
		}
	}
	return sccs
}

// cyclePath walks edges inside one component from its smallest item until
// it returns to the start.
func cyclePath(g graph, scc []string) []string {
	members := make(map[string]bool, len(scc))
	for _, item := range scc {
		members[item] = true
	}
	sorted := append([]string(nil), scc...)
	sort.Strings(sorted)
	start := sorted[0]

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, e := range g[current] {
			if e.Item == start {
				return append(path, start)
			}
			if members[e.Item] && !visited[e.Item] && next == "" {
				next = e.Item
			}
		}
		if next == "" {
			return path
		}
		visited[next] = true
		path = append(path, next)
		current = next
	}
}

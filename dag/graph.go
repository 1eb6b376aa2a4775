package dag

import (
	"github.com/kbukum/flowkit/errors"
)

// Graph declares nodes and edges (dependency relationships).
type Graph struct {
	Nodes []string
	Edges []Edge
}

// Edge represents a dependency: To depends on From.
type Edge struct {
	From string
	To   string
}

// AddNode appends a node if it is not already present.
func (g *Graph) AddNode(name string) {
	for _, n := range g.Nodes {
		if n == name {
			return
		}
	}
	g.Nodes = append(g.Nodes, name)
}

// AddEdge records that to depends on from.
func (g *Graph) AddEdge(from, to string) {
	g.Edges = append(g.Edges, Edge{From: from, To: to})
}

// BuildLevels uses Kahn's algorithm to group nodes by dependency level.
// Nodes within a level keep their insertion order.
// Returns pipeline-is-cyclic if a cycle is detected.
func BuildLevels(g *Graph) ([][]string, error) {
	index := make(map[string]int, len(g.Nodes))
	for i, name := range g.Nodes {
		index[name] = i
	}

	inDegree := make([]int, len(g.Nodes))
	dependents := make([][]int, len(g.Nodes))
	for _, e := range g.Edges {
		from, ok := index[e.From]
		if !ok {
			return nil, errors.NoSuchProcess(e.From)
		}
		to, ok := index[e.To]
		if !ok {
			return nil, errors.NoSuchProcess(e.To)
		}
		inDegree[to]++
		dependents[from] = append(dependents[from], to)
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		for i, n := range queue {
			level[i] = g.Nodes[n]
		}
		levels = append(levels, level)
		visited += len(queue)

		ready := make([]bool, len(g.Nodes))
		for _, n := range queue {
			for _, dep := range dependents[n] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					ready[dep] = true
				}
			}
		}
		queue = queue[:0]
		for i, r := range ready {
			if r {
				queue = append(queue, i)
			}
		}
	}

	if visited != len(g.Nodes) {
		return nil, errors.PipelineIsCyclic(FindCycle(g))
	}
	return levels, nil
}

// TopoOrder returns every node after all of its dependencies.
func TopoOrder(g *Graph) ([]string, error) {
	levels, err := BuildLevels(g)
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(g.Nodes))
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// FindCycle returns the nodes of one cycle, first node repeated at the end,
// or nil if the graph is acyclic.
func FindCycle(g *Graph) []string {
	adj := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.Nodes))
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, next := range adj[n] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range g.Nodes {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}

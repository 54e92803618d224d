package schema

import "sort"

// Graph is the undirected join graph stored as an arena: tables are nodes
// addressed by index (sorted by name) and adjacency lists refer to nodes and
// edges by index only.
type Graph struct {
	names []string
	index map[string]int
	adj   [][]Arc
	edges []JoinEdge
}

// Arc is one direction of an undirected join edge.
type Arc struct {
	To   int
	Edge int
}

func newGraph(sortedNames []string, edges []JoinEdge) *Graph {
	g := &Graph{
		names: append([]string(nil), sortedNames...),
		index: make(map[string]int, len(sortedNames)),
		adj:   make([][]Arc, len(sortedNames)),
		edges: append([]JoinEdge(nil), edges...),
	}
	for i, name := range g.names {
		g.index[name] = i
	}
	for i, edge := range g.edges {
		left := g.index[edge.LeftTable]
		right := g.index[edge.RightTable]
		g.adj[left] = append(g.adj[left], Arc{To: right, Edge: i})
		g.adj[right] = append(g.adj[right], Arc{To: left, Edge: i})
	}
	for i := range g.adj {
		arcs := g.adj[i]
		sort.Slice(arcs, func(a, b int) bool {
			if arcs[a].To != arcs[b].To {
				return arcs[a].To < arcs[b].To
			}
			return arcs[a].Edge < arcs[b].Edge
		})
	}
	return g
}

func (g *Graph) Len() int {
	return len(g.names)
}

func (g *Graph) Node(table string) (int, bool) {
	i, ok := g.index[table]
	return i, ok
}

func (g *Graph) Name(node int) string {
	return g.names[node]
}

// Arcs returns the arcs leaving node ordered by neighbour name.
func (g *Graph) Arcs(node int) []Arc {
	return g.adj[node]
}

func (g *Graph) Edge(i int) JoinEdge {
	return g.edges[i]
}

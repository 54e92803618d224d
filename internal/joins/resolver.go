// Package joins computes the join plan a validated query needs: the base
// table, the tables to join, and the ordered join steps connecting them.
package joins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

type Step struct {
	Left     string `json:"left"`
	Right    string `json:"right"`
	LeftKey  string `json:"left_key"`
	RightKey string `json:"right_key"`
}

// Plan lists tables in join order; Tables[0] is Base. Every step's Left table
// appears earlier in the plan than its Right table.
type Plan struct {
	Base   string   `json:"base"`
	Tables []string `json:"tables"`
	Joins  []Step   `json:"joins"`
}

type UnresolvableJoinError struct {
	Tables []string
}

func (e *UnresolvableJoinError) Error() string {
	return fmt.Sprintf("no join path connects tables %s", strings.Join(e.Tables, ", "))
}

func (e *UnresolvableJoinError) Code() string { return "UNRESOLVABLE_JOIN" }

func (e *UnresolvableJoinError) Details() map[string]any {
	return map[string]any{"tables": e.Tables}
}

// RequiredTables returns the sorted distinct tables q references. References
// that do not resolve are ignored; validation reports them.
func RequiredTables(q ast.Query, reg *schema.Registry) []string {
	set := map[string]struct{}{}
	add := func(ref string) {
		if field, ok := reg.Lookup(ref); ok {
			set[field.Table] = struct{}{}
		}
	}
	for _, metric := range q.Metrics {
		add(metric.Field)
	}
	for _, dimension := range q.Dimensions {
		add(dimension.Field)
	}
	for _, filter := range q.Filters {
		add(filter.Field)
	}
	for _, order := range q.OrderBy {
		if q.HasOutputName(order.Field) {
			continue
		}
		add(order.Field)
	}
	out := make([]string, 0, len(set))
	for table := range set {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the join plan for q. The plan is a pure function of the set
// of referenced tables and the registry's join graph.
func Resolve(q ast.Query, reg *schema.Registry) (Plan, error) {
	return ResolveTables(RequiredTables(q, reg), reg)
}

// ResolveTables grows a tree from the smallest required table. Each round runs
// a multi-source BFS from every table already in the tree and attaches the
// first required table reached, together with any pass-through tables on its
// shortest path. Nodes and neighbours are visited in name order so ties are
// broken the same way every time.
func ResolveTables(required []string, reg *schema.Registry) (Plan, error) {
	if len(required) == 0 {
		return Plan{}, fmt.Errorf("resolve joins: query references no tables")
	}
	graph := reg.Graph()
	sorted := append([]string(nil), required...)
	sort.Strings(sorted)

	pending := make(map[int]struct{}, len(sorted))
	for _, table := range sorted {
		node, ok := graph.Node(table)
		if !ok {
			return Plan{}, fmt.Errorf("resolve joins: unknown table %q", table)
		}
		pending[node] = struct{}{}
	}

	base, _ := graph.Node(sorted[0])
	delete(pending, base)
	plan := Plan{Base: sorted[0], Tables: []string{sorted[0]}}
	inTree := make([]bool, graph.Len())
	inTree[base] = true
	tree := []int{base}

	for len(pending) > 0 {
		target, parentArc, found := nearestPending(graph, tree, inTree, pending)
		if !found {
			return Plan{}, &UnresolvableJoinError{Tables: sorted}
		}
		// Walk back from the target to the tree, then attach in tree-to-target order.
		var path []int
		for node := target; !inTree[node]; node = parentArc[node].from {
			path = append(path, node)
		}
		for i := len(path) - 1; i >= 0; i-- {
			node := path[i]
			link := parentArc[node]
			edge := graph.Edge(link.edge)
			plan.Joins = append(plan.Joins, orient(edge, graph.Name(link.from), graph.Name(node)))
			plan.Tables = append(plan.Tables, graph.Name(node))
			inTree[node] = true
			tree = append(tree, node)
			delete(pending, node)
		}
	}
	return plan, nil
}

type link struct {
	from int
	edge int
}

// nearestPending runs a BFS seeded with every tree node and stops at the first
// pending node dequeued.
func nearestPending(graph *schema.Graph, tree []int, inTree []bool, pending map[int]struct{}) (int, map[int]link, bool) {
	seeds := append([]int(nil), tree...)
	sort.Slice(seeds, func(i, j int) bool { return graph.Name(seeds[i]) < graph.Name(seeds[j]) })

	visited := make([]bool, graph.Len())
	parent := map[int]link{}
	queue := make([]int, 0, graph.Len())
	for _, node := range seeds {
		visited[node] = true
		queue = append(queue, node)
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if _, ok := pending[node]; ok && !inTree[node] {
			return node, parent, true
		}
		for _, arc := range graph.Arcs(node) {
			if visited[arc.To] {
				continue
			}
			visited[arc.To] = true
			parent[arc.To] = link{from: node, edge: arc.Edge}
			queue = append(queue, arc.To)
		}
	}
	return 0, nil, false
}

// orient returns the step joining right onto left using edge, whichever
// direction the edge was declared in.
func orient(edge schema.JoinEdge, left, right string) Step {
	if edge.LeftTable == left {
		return Step{Left: left, Right: right, LeftKey: edge.LeftKey, RightKey: edge.RightKey}
	}
	return Step{Left: left, Right: right, LeftKey: edge.RightKey, RightKey: edge.LeftKey}
}

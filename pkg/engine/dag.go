package engine

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DAGBuilder turns component names and the dependencies between them into a
// leveled Graph. A builder is single use; its levels and edges stay available
// after BuildGraph for rendering.
type DAGBuilder struct {
	names []string
	known map[string]struct{}
	edges []GraphEdge

	// downstream and upstream hold the deduplicated neighbours of each node
	// in edge insertion order.
	downstream map[string][]string
	upstream   map[string][]string

	levels [][]string
}

// NewDAGBuilder returns an empty builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		known:      map[string]struct{}{},
		downstream: map[string][]string{},
		upstream:   map[string][]string{},
	}
}

// BuildGraph validates the edges, rejects cycles and assigns every node the
// level one past its deepest dependency. Self edges and repeated edges are
// dropped; the first edge between two nodes keeps its type.
func (b *DAGBuilder) BuildGraph(nodes []string, deps []Dependency) (*Graph, error) {
	if err := b.addNodes(nodes); err != nil {
		return nil, err
	}
	if err := b.addEdges(deps); err != nil {
		return nil, err
	}
	if cycle := b.findCycle(); cycle != nil {
		return nil, NewValueError("circular dependency detected: "+strings.Join(cycle, " -> "), nil).
			WithCode(ErrCodeValidation)
	}
	if err := b.level(); err != nil {
		return nil, err
	}
	return b.graph(), nil
}

func (b *DAGBuilder) addNodes(nodes []string) error {
	for _, id := range nodes {
		if id == "" {
			return NewValueError("graph node has empty name", nil).WithCode(ErrCodeValidation)
		}
		if _, dup := b.known[id]; dup {
			return NewValueError("duplicate graph node: "+id, nil).WithCode(ErrCodeValidation)
		}
		b.known[id] = struct{}{}
		b.names = append(b.names, id)
	}
	sort.Strings(b.names)
	return nil
}

func (b *DAGBuilder) addEdges(deps []Dependency) error {
	seen := map[GraphEdge]bool{}
	for _, dep := range deps {
		for _, end := range [...]string{dep.Source, dep.Target} {
			if _, ok := b.known[end]; !ok {
				msg := fmt.Sprintf("dependency %s -> %s references unknown component %s", dep.Source, dep.Target, end)
				return NewAttributeError(msg, nil).WithCode(ErrCodeNotFound)
			}
		}
		key := GraphEdge{From: dep.Source, To: dep.Target}
		if dep.Source == dep.Target || seen[key] {
			continue
		}
		seen[key] = true

		b.edges = append(b.edges, GraphEdge{From: dep.Source, To: dep.Target, Type: dep.Type})
		b.downstream[dep.Source] = append(b.downstream[dep.Source], dep.Target)
		b.upstream[dep.Target] = append(b.upstream[dep.Target], dep.Source)
	}
	return nil
}

// findCycle returns the first cycle met by a depth-first walk from the nodes
// in name order, closed by repeating its first node, or nil.
func (b *DAGBuilder) findCycle() []string {
	const (
		unvisited = iota
		onPath
		finished
	)
	state := make(map[string]int, len(b.names))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = onPath
		path = append(path, id)
		for _, next := range b.downstream[id] {
			switch state[next] {
			case onPath:
				start := slices.Index(path, next)
				return append(slices.Clone(path[start:]), next)
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = finished
		return nil
	}

	for _, id := range b.names {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// level peels off the nodes whose dependencies are all placed, one level at
// a time.
func (b *DAGBuilder) level() error {
	waiting := make(map[string]int, len(b.names))
	var frontier []string
	for _, id := range b.names {
		waiting[id] = len(b.upstream[id])
		if waiting[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	placed := 0
	for len(frontier) > 0 {
		sort.Strings(frontier)
		b.levels = append(b.levels, frontier)
		placed += len(frontier)

		var next []string
		for _, id := range frontier {
			for _, dep := range b.downstream[id] {
				if waiting[dep]--; waiting[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	if placed != len(b.names) {
		return NewValueError(fmt.Sprintf("placed %d of %d components", placed, len(b.names)), nil).
			WithCode(ErrCodeInternal)
	}
	return nil
}

func (b *DAGBuilder) graph() *Graph {
	g := &Graph{
		Nodes: make(map[string]*GraphNode, len(b.names)),
		Edges: slices.Clone(b.edges),
		Roots: []string{},
		Depth: len(b.levels),
	}
	if g.Edges == nil {
		g.Edges = []GraphEdge{}
	}
	for lvl, ids := range b.levels {
		for _, id := range ids {
			g.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        lvl,
				Dependencies: orEmpty(b.upstream[id]),
				Dependents:   orEmpty(b.downstream[id]),
			}
		}
	}
	if len(b.levels) > 0 {
		g.Roots = slices.Clone(b.levels[0])
	}
	return g
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// GetLevels returns the node names at each level, sorted within a level.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT renders the graph for Graphviz with one cluster per level.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph DependencyGraph {\n  rankdir=LR;\n  node [shape=box, style=rounded];\n\n")
	for lvl, ids := range b.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n    label=\"Level %d\";\n    style=dashed;\n", lvl, lvl)
		for _, id := range ids {
			fmt.Fprintf(&sb, "    %q;\n", id)
		}
		sb.WriteString("  }\n\n")
	}
	for _, e := range b.edges {
		fmt.Fprintf(&sb, "  %q -> %q [%s];\n", e.From, e.To, edgeStyle(e.Type))
	}
	sb.WriteString("}\n")
	return sb.String()
}

// ValidateGraph checks that graph agrees with what the builder computed.
func (b *DAGBuilder) ValidateGraph(graph *Graph) error {
	internal := func(format string, args ...any) error {
		return NewValueError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodeInternal)
	}
	if len(graph.Nodes) != len(b.names) {
		return internal("graph has %d nodes, expected %d", len(graph.Nodes), len(b.names))
	}
	for _, e := range graph.Edges {
		for _, end := range [...]string{e.From, e.To} {
			if _, ok := graph.Nodes[end]; !ok {
				return internal("edge references non-existent node: %s", end)
			}
		}
	}
	for _, id := range graph.Roots {
		if n := graph.Nodes[id]; n == nil || len(n.Dependencies) > 0 {
			return internal("root node %s has dependencies", id)
		}
	}
	return nil
}

func edgeStyle(t DependencyType) string {
	switch t {
	case DependencyParameter:
		return "style=dashed, color=blue"
	case DependencyOrder:
		return "style=dotted, color=gray"
	}
	return "style=solid, color=black"
}

func sortedIDs(m map[string]*GraphNode) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package engine

// DependencyType describes why one component depends on another.
type DependencyType string

const (
	// DependencyData is an explicit connection from an output variable of one
	// component to an input variable of another.
	DependencyData DependencyType = "data"

	// DependencyParameter is implied by a driver parameter: the driver that
	// varies comp.x depends on comp.
	DependencyParameter DependencyType = "parameter"

	// DependencyOrder indicates ordering without data transfer.
	DependencyOrder DependencyType = "order"
)

// Dependency is an edge source -> target reported by a component.
type Dependency struct {
	// Source is the name of the component the edge starts at.
	Source string `json:"source"`

	// Target is the name of the component the edge points to.
	Target string `json:"target"`

	// Type is the dependency type.
	Type DependencyType `json:"type"`
}

// Graph is a leveled dependency graph over component names.
type Graph struct {
	// Nodes maps component names to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists all dependency edges in the graph.
	Edges []GraphEdge `json:"edges"`

	// Roots are the components with no dependencies.
	Roots []string `json:"roots"`

	// Depth is the number of levels in the graph.
	Depth int `json:"depth"`
}

// GraphNode represents a node in the dependency graph.
type GraphNode struct {
	// ID is the component name.
	ID string `json:"id"`

	// Level is the topological level (depth from roots).
	Level int `json:"level"`

	// Dependencies are the incoming edges (components this depends on).
	Dependencies []string `json:"dependencies"`

	// Dependents are the outgoing edges (components that depend on this).
	Dependents []string `json:"dependents"`
}

// GraphEdge represents an edge in the dependency graph.
type GraphEdge struct {
	// From is the upstream component.
	From string `json:"from"`

	// To is the downstream component.
	To string `json:"to"`

	// Type is the dependency type.
	Type DependencyType `json:"type"`
}

// Order returns node IDs level by level; the slice is a valid execution order.
func (g *Graph) Order() []string {
	order := make([]string, 0, len(g.Nodes))
	for level := 0; level < g.Depth; level++ {
		for _, id := range sortedIDs(g.Nodes) {
			if g.Nodes[id].Level == level {
				order = append(order, id)
			}
		}
	}
	return order
}

// Level returns the sorted node IDs at the given level.
func (g *Graph) Level(level int) []string {
	var ids []string
	for _, id := range sortedIDs(g.Nodes) {
		if g.Nodes[id].Level == level {
			ids = append(ids, id)
		}
	}
	return ids
}

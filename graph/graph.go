package graph

import (
	"context"
	"fmt"
	"time"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart NodeType = "start"
	NodeTypeEnd   NodeType = "end"
	NodeTypeStage NodeType = "stage"
)

// NodeFunc is the work executed when the machine enters a node.
type NodeFunc[S any] func(context.Context, S) (S, error)

// Transition describes a completed move into a state.
// From is empty for the start node.
type Transition struct {
	From string
	To   string
	At   time.Time
}

// TransitionFunc observes completed transitions.
type TransitionFunc func(context.Context, Transition)

// Node is a named state of the machine. Execute runs on entry; the node is
// considered reached only when Execute returns without error.
type Node[S any] struct {
	Name    string
	Type    NodeType
	Execute NodeFunc[S]
	Next    string
}

// Graph is a linear state machine over a typed state S.
type Graph[S any] struct {
	nodes     map[string]*Node[S]
	order     []string
	startNode string
	endNode   string
	maxVisits int
	hooks     []TransitionFunc
	now       func() time.Time
}

// NewGraph creates an empty graph.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:     make(map[string]*Node[S]),
		maxVisits: 1,
		now:       time.Now,
	}
}

// AddNode registers a node. It panics on an empty or duplicate name.
func (g *Graph[S]) AddNode(node *Node[S]) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}
	if node.Type == "" {
		node.Type = NodeTypeStage
	}

	g.nodes[node.Name] = node
	g.order = append(g.order, node.Name)

	switch node.Type {
	case NodeTypeStart:
		g.startNode = node.Name
	case NodeTypeEnd:
		g.endNode = node.Name
	}
}

// SetStartNode sets the start node
func (g *Graph[S]) SetStartNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.startNode = name
}

// SetEndNode sets the end node
func (g *Graph[S]) SetEndNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.endNode = name
}

// SetMaxVisits bounds how many times a single node may be entered per run.
func (g *Graph[S]) SetMaxVisits(maxVisits int) {
	if maxVisits > 0 {
		g.maxVisits = maxVisits
	}
}

// OnTransition registers a hook called after each node completes.
func (g *Graph[S]) OnTransition(fn TransitionFunc) {
	if fn != nil {
		g.hooks = append(g.hooks, fn)
	}
}

// Nodes returns node names in registration order.
func (g *Graph[S]) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Execute walks the machine from the start node until the end node has run.
// The first node error aborts the walk; the state returned alongside an error
// is the last state successfully produced.
func (g *Graph[S]) Execute(ctx context.Context, state S) (S, error) {
	if g.startNode == "" {
		return state, fmt.Errorf("start node not set")
	}
	if g.endNode == "" {
		return state, fmt.Errorf("end node not set")
	}

	visited := make(map[string]int, len(g.nodes))
	previous := ""
	current := g.startNode

	for {
		node, exists := g.nodes[current]
		if !exists {
			return state, fmt.Errorf("node %s not found", current)
		}

		visited[current]++
		if visited[current] > g.maxVisits {
			return state, fmt.Errorf("node %s visited more than %d times", current, g.maxVisits)
		}

		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("execute node %s: %w", current, err)
		}

		if node.Execute != nil {
			next, err := node.Execute(ctx, state)
			if err != nil {
				return state, fmt.Errorf("execute node %s: %w", current, err)
			}
			state = next
		}

		tr := Transition{From: previous, To: current, At: g.now()}
		for _, hook := range g.hooks {
			hook(ctx, tr)
		}

		if current == g.endNode {
			return state, nil
		}
		if node.Next == "" {
			return state, fmt.Errorf("no next node specified for node %s", current)
		}
		previous = current
		current = node.Next
	}
}

// GetNode returns a node by name
func (g *Graph[S]) GetNode(name string) (*Node[S], error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Builder helps build graphs fluently
type Builder[S any] struct {
	graph *Graph[S]
}

// NewBuilder creates a new graph builder
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{graph: NewGraph[S]()}
}

// AddNode adds a node to the graph
func (b *Builder[S]) AddNode(name string, nodeType NodeType, execute NodeFunc[S]) *Builder[S] {
	b.graph.AddNode(&Node[S]{
		Name:    name,
		Type:    nodeType,
		Execute: execute,
	})
	return b
}

// AddEdge connects two nodes. A node has a single successor; a second edge
// from the same node panics.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	node, exists := b.graph.nodes[from]
	if !exists {
		panic(fmt.Sprintf("node %s not found", from))
	}
	if node.Next != "" && node.Next != to {
		panic(fmt.Sprintf("node %s already has successor %s", from, node.Next))
	}
	node.Next = to
	return b
}

// SetStart sets the start node
func (b *Builder[S]) SetStart(name string) *Builder[S] {
	b.graph.SetStartNode(name)
	return b
}

// SetEnd sets the end node
func (b *Builder[S]) SetEnd(name string) *Builder[S] {
	b.graph.SetEndNode(name)
	return b
}

// SetMaxVisits sets the per-node visit bound.
func (b *Builder[S]) SetMaxVisits(n int) *Builder[S] {
	b.graph.SetMaxVisits(n)
	return b
}

// OnTransition registers a transition hook.
func (b *Builder[S]) OnTransition(fn TransitionFunc) *Builder[S] {
	b.graph.OnTransition(fn)
	return b
}

// WithClock overrides the transition timestamp source.
func (b *Builder[S]) WithClock(now func() time.Time) *Builder[S] {
	if now != nil {
		b.graph.now = now
	}
	return b
}

// Build returns the constructed graph. Every edge target must exist.
func (b *Builder[S]) Build() *Graph[S] {
	for _, name := range b.graph.order {
		next := b.graph.nodes[name].Next
		if next == "" {
			continue
		}
		if _, ok := b.graph.nodes[next]; !ok {
			panic(fmt.Sprintf("edge %s -> %s targets unknown node", name, next))
		}
	}
	return b.graph
}

// Package dependency models the startup relation between services as a
// directed graph and derives deterministic start and stop orders from it.
package dependency

import (
	"errors"
	"sort"

	"stackctl/internal/deployerr"
)

// NodeID identifies a node in the graph.
type NodeID string

// Kind is informational metadata carried on a node.
type Kind string

// Node is a single vertex. DependsOn lists the nodes that must be healthy
// before this one is started.
type Node struct {
	ID           NodeID
	FriendlyName string
	Kind         Kind
	DependsOn    []NodeID
}

// Graph is a dependency graph. It is not safe for concurrent mutation; build
// it once, then query it.
type Graph struct {
	nodes map[NodeID]*Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(n Node) {
	deps := make([]NodeID, len(n.DependsOn))
	copy(deps, n.DependsOn)
	n.DependsOn = deps
	g.nodes[n.ID] = &n
}

// Get returns the node with the given ID or nil.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Validate reports every dangling edge as an UnknownDependency error.
func (g *Graph) Validate() error {
	var errs []error
	for _, id := range g.sortedIDs() {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				errs = append(errs, deployerr.UnknownDependency(string(id), string(dep)))
			}
		}
	}
	return errors.Join(errs...)
}

// Order returns a start order in which every node comes after all of its
// dependencies. Among nodes that become ready at the same time the one with
// the smallest ID goes first.
func (g *Graph) Order() ([]NodeID, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	indegree := make(map[NodeID]int, len(g.nodes))
	dependents := make(map[NodeID][]NodeID, len(g.nodes))
	for id, n := range g.nodes {
		seen := make(map[NodeID]bool, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []NodeID
	for _, id := range g.sortedIDs() {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]NodeID, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sortIDs(ready)
	}

	if len(order) != len(g.nodes) {
		remaining := make(map[NodeID]bool)
		for id := range g.nodes {
			if indegree[id] > 0 {
				remaining[id] = true
			}
		}
		return nil, deployerr.DependencyCycle(g.findCycle(remaining))
	}
	return order, nil
}

// findCycle walks dependency edges inside the unsorted remainder until a
// node repeats. Every remaining node still has an unsatisfied dependency
// inside the remainder, so the walk always closes a loop.
func (g *Graph) findCycle(remaining map[NodeID]bool) []string {
	ids := make([]NodeID, 0, len(remaining))
	for id := range remaining {
		ids = append(ids, id)
	}
	sortIDs(ids)

	pos := make(map[NodeID]int)
	var path []NodeID
	current := ids[0]
	for {
		if i, seen := pos[current]; seen {
			path = path[i:]
			break
		}
		pos[current] = len(path)
		path = append(path, current)

		var next []NodeID
		for _, dep := range g.nodes[current].DependsOn {
			if remaining[dep] {
				next = append(next, dep)
			}
		}
		sortIDs(next)
		current = next[0]
	}

	// Rotate so the smallest member leads; keeps error output stable.
	start := 0
	for i := range path {
		if path[i] < path[start] {
			start = i
		}
	}
	names := make([]string, 0, len(path))
	for i := range path {
		names = append(names, string(path[(start+i)%len(path)]))
	}
	return names
}

// Reverse returns the reverse of Order, suitable for teardown.
func (g *Graph) Reverse() ([]NodeID, error) {
	order, err := g.Order()
	if err != nil {
		return nil, err
	}
	reversed := make([]NodeID, len(order))
	for i, id := range order {
		reversed[len(order)-1-i] = id
	}
	return reversed, nil
}

// Levels groups nodes by dependency depth: level 0 has no dependencies and
// every node in level n depends only on nodes in levels below n. Nodes inside
// a level share no dependency relation and may be started concurrently.
func (g *Graph) Levels() ([][]NodeID, error) {
	order, err := g.Order()
	if err != nil {
		return nil, err
	}

	depth := make(map[NodeID]int, len(order))
	maxDepth := -1
	for _, id := range order {
		d := 0
		for _, dep := range g.nodes[id].DependsOn {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]NodeID, maxDepth+1)
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	for _, level := range levels {
		sortIDs(level)
	}
	return levels, nil
}

// Dependents returns every node that depends on id directly or transitively,
// sorted by ID.
func (g *Graph) Dependents(id NodeID) []NodeID {
	reverse := make(map[NodeID][]NodeID)
	for nid, n := range g.nodes {
		for _, dep := range n.DependsOn {
			reverse[dep] = append(reverse[dep], nid)
		}
	}

	seen := make(map[NodeID]bool)
	queue := []NodeID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range reverse[current] {
			if !seen[dependent] {
				seen[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}
	delete(seen, id)

	out := make([]NodeID, 0, len(seen))
	for nid := range seen {
		out = append(out, nid)
	}
	sortIDs(out)
	return out
}

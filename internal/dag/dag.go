// Package dag tracks agent lineage as a directed acyclic graph: every
// experience or state transformation is a node whose parents are the events
// it derives from. Acyclicity is enforced at insertion time, so traversals
// never need cycle guards beyond a visited set.
package dag

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrCycle is returned when an insertion would make a node reachable
	// from itself.
	ErrCycle = errors.New("dag: operation would create a cycle")

	// ErrUnknownParent is returned when a declared parent does not exist.
	ErrUnknownParent = errors.New("dag: unknown parent")

	// ErrUnknownNode is returned when the referenced node does not exist.
	ErrUnknownNode = errors.New("dag: unknown node")

	// ErrDuplicateNode is returned when a node id is already present.
	ErrDuplicateNode = errors.New("dag: duplicate node")
)

// Node is one lineage event. Data is opaque to the graph; Metadata carries
// free-form annotations such as the originating agent or a clock snapshot.
type Node struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Parents   []string        `json:"parents"`
	Children  []string        `json:"children"`
	Timestamp int64           `json:"timestamp"`
	Version   uint64          `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type node struct {
	id        string
	data      json.RawMessage
	parents   map[string]struct{}
	children  map[string]struct{}
	timestamp int64
	version   uint64
	metadata  map[string]string
}

// Graph is a mutable DAG with incrementally maintained root and leaf index
// sets. All methods are safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
	roots map[string]struct{}
	leafs map[string]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
		roots: make(map[string]struct{}),
		leafs: make(map[string]struct{}),
	}
}

// AddNode inserts a node under id with the given parents. Every parent must
// already exist and the insertion must not close a cycle; on any failure
// the graph is left untouched.
func (g *Graph) AddNode(id string, data json.RawMessage, parentIDs []string, metadata map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, id)
	}
	for _, pid := range parentIDs {
		if pid == id {
			return fmt.Errorf("%w: %q lists itself as a parent", ErrCycle, id)
		}
		if _, ok := g.nodes[pid]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownParent, pid)
		}
	}
	// A fresh node has no children yet, so nothing is reachable from it
	// and linking to existing parents cannot close a cycle. The check
	// above still rejects direct self-reference.

	n := &node{
		id:        id,
		data:      data,
		parents:   make(map[string]struct{}, len(parentIDs)),
		children:  make(map[string]struct{}),
		timestamp: time.Now().UnixMilli(),
		version:   1,
		metadata:  copyMetadata(metadata),
	}
	for _, pid := range parentIDs {
		n.parents[pid] = struct{}{}
		parent := g.nodes[pid]
		parent.children[id] = struct{}{}
		delete(g.leafs, pid)
	}
	g.nodes[id] = n
	if len(n.parents) == 0 {
		g.roots[id] = struct{}{}
	}
	g.leafs[id] = struct{}{}
	return nil
}

// AddEdge links an existing child to an existing parent. The edge is
// rejected if the parent is reachable from the child, which would close a
// cycle.
func (g *Graph) AddEdge(parentID, childID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent, ok := g.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, parentID)
	}
	child, ok := g.nodes[childID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, childID)
	}
	if parentID == childID || g.reachable(childID, parentID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, parentID, childID)
	}
	parent.children[childID] = struct{}{}
	child.parents[parentID] = struct{}{}
	delete(g.leafs, parentID)
	delete(g.roots, childID)
	return nil
}

// reachable reports whether target can be reached from start by following
// child edges. Caller holds the lock.
func (g *Graph) reachable(start, target string) bool {
	visited := make(map[string]struct{})
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		for child := range g.nodes[id].children {
			stack = append(stack, child)
		}
	}
	return false
}

// RemoveNode detaches a node from all parents and children. Children left
// without parents become roots; parents left without children become
// leaves.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	for pid := range n.parents {
		parent := g.nodes[pid]
		delete(parent.children, id)
		if len(parent.children) == 0 {
			g.leafs[pid] = struct{}{}
		}
	}
	for cid := range n.children {
		child := g.nodes[cid]
		delete(child.parents, id)
		if len(child.parents) == 0 {
			g.roots[cid] = struct{}{}
		}
	}
	delete(g.nodes, id)
	delete(g.roots, id)
	delete(g.leafs, id)
	return nil
}

// UpdateNode replaces a node's data in place and bumps its version.
func (g *Graph) UpdateNode(id string, data json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	n.data = data
	n.version++
	n.timestamp = time.Now().UnixMilli()
	return nil
}

// Get returns a snapshot of one node.
func (g *Graph) Get(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.snapshot(), true
}

// Len returns the node count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Roots returns the ids of all parentless nodes, sorted.
func (g *Graph) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.roots)
}

// Leaves returns the ids of all childless nodes, sorted.
func (g *Graph) Leaves() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.leafs)
}

// TopologicalSort returns all nodes with every parent before each of its
// descendants. A graph left inconsistent by a bug surfaces here as
// ErrCycle rather than an infinite loop.
func (g *Graph) TopologicalSort() ([]Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(order))
	for _, id := range order {
		out = append(out, g.nodes[id].snapshot())
	}
	return out, nil
}

// topoOrder runs Kahn's algorithm over ids. Caller holds the lock. Ids at
// equal depth come out in lexical order so results are deterministic.
func (g *Graph) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.parents)
	}
	var frontier []string
	for id, d := range indegree {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(g.nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		var released []string
		for child := range g.nodes[id].children {
			indegree[child]--
			if indegree[child] == 0 {
				released = append(released, child)
			}
		}
		sort.Strings(released)
		frontier = append(frontier, released...)
	}
	if len(order) != len(g.nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

// Ancestors returns every node reachable via parent edges, sorted by id.
func (g *Graph) Ancestors(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return g.traverse(id, func(n *node) map[string]struct{} { return n.parents }), nil
}

// Descendants returns every node reachable via child edges, sorted by id.
func (g *Graph) Descendants(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return g.traverse(id, func(n *node) map[string]struct{} { return n.children }), nil
}

func (g *Graph) traverse(start string, next func(*node) map[string]struct{}) []string {
	visited := make(map[string]struct{})
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for neighbor := range next(g.nodes[id]) {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			stack = append(stack, neighbor)
		}
	}
	return sortedKeys(visited)
}

// LongestPath returns the number of edges on the longest root-to-leaf
// chain, computed in one forward pass over the topological order.
func (g *Graph) LongestPath() (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	order, err := g.topoOrder()
	if err != nil {
		return 0, err
	}
	dist := make(map[string]int, len(order))
	longest := 0
	for _, id := range order {
		for child := range g.nodes[id].children {
			if d := dist[id] + 1; d > dist[child] {
				dist[child] = d
				if d > longest {
					longest = d
				}
			}
		}
	}
	return longest, nil
}

func (n *node) snapshot() Node {
	return Node{
		ID:        n.id,
		Data:      append(json.RawMessage(nil), n.data...),
		Parents:   sortedKeys(n.parents),
		Children:  sortedKeys(n.children),
		Timestamp: n.timestamp,
		Version:   n.version,
		Metadata:  copyMetadata(n.metadata),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package dag

import (
	"encoding/json"
	"fmt"
)

// graphWire is the exchange form of a Graph: the full node list plus the
// root and leaf index sets, all of which must round-trip exactly.
type graphWire struct {
	Nodes     []Node   `json:"nodes"`
	RootNodes []string `json:"rootNodes"`
	LeafNodes []string `json:"leafNodes"`
}

// MarshalJSON serializes the graph with nodes in sorted-id order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	wire := graphWire{
		Nodes:     make([]Node, 0, len(g.nodes)),
		RootNodes: sortedKeys(g.roots),
		LeafNodes: sortedKeys(g.leafs),
	}
	ids := make(map[string]struct{}, len(g.nodes))
	for id := range g.nodes {
		ids[id] = struct{}{}
	}
	for _, id := range sortedKeys(ids) {
		wire.Nodes = append(wire.Nodes, g.nodes[id].snapshot())
	}
	return json.Marshal(wire)
}

// UnmarshalJSON replaces the graph's contents with the serialized form.
// Adjacency is rebuilt from each node's parent list; the child lists,
// root set, and leaf set in the input are validated against what the
// parent edges imply.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var wire graphWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode dag: %w", err)
	}

	nodes := make(map[string]*node, len(wire.Nodes))
	for _, wn := range wire.Nodes {
		if _, ok := nodes[wn.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateNode, wn.ID)
		}
		nodes[wn.ID] = &node{
			id:        wn.ID,
			data:      append(json.RawMessage(nil), wn.Data...),
			parents:   make(map[string]struct{}, len(wn.Parents)),
			children:  make(map[string]struct{}),
			timestamp: wn.Timestamp,
			version:   wn.Version,
			metadata:  copyMetadata(wn.Metadata),
		}
	}
	for _, wn := range wire.Nodes {
		for _, pid := range wn.Parents {
			parent, ok := nodes[pid]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownParent, pid)
			}
			nodes[wn.ID].parents[pid] = struct{}{}
			parent.children[wn.ID] = struct{}{}
		}
	}

	roots := make(map[string]struct{})
	leafs := make(map[string]struct{})
	for id, n := range nodes {
		if len(n.parents) == 0 {
			roots[id] = struct{}{}
		}
		if len(n.children) == 0 {
			leafs[id] = struct{}{}
		}
	}

	g.mu.Lock()
	g.nodes = nodes
	g.roots = roots
	g.leafs = leafs
	g.mu.Unlock()

	// Reject a serialized form that was not acyclic.
	if _, err := g.TopologicalSort(); err != nil {
		return err
	}
	return nil
}

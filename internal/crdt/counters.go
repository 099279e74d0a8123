// Package crdt implements state-based conflict-free replicated data types.
//
// Every type in this package follows the same contract: local mutators only
// touch the owning replica's partition of state, and Merge folds in another
// replica's state such that merging is commutative, associative, and
// idempotent. No operation coordinates with other replicas; convergence is
// a consequence of the merge algebra alone.
package crdt

// GCounter is a grow-only counter. Each node increments only its own entry;
// the counter value is the sum over all known nodes of the per-node maxima.
type GCounter struct {
	OwnerID string            `json:"owner_id"`
	Counts  map[string]uint64 `json:"counts"`
}

// NewGCounter creates a grow-only counter owned by the given node.
func NewGCounter(ownerID string) *GCounter {
	return &GCounter{
		OwnerID: ownerID,
		Counts:  make(map[string]uint64),
	}
}

// Increment adds delta to the local replica's entry.
func (c *GCounter) Increment(delta uint64) {
	c.Counts[c.OwnerID] += delta
}

// Value returns the total across all known nodes.
func (c *GCounter) Value() uint64 {
	var total uint64
	for _, n := range c.Counts {
		total += n
	}
	return total
}

// Merge folds in another counter, taking the per-node maximum.
func (c *GCounter) Merge(other *GCounter) {
	if other == nil {
		return
	}
	for nodeID, n := range other.Counts {
		if n > c.Counts[nodeID] {
			c.Counts[nodeID] = n
		}
	}
}

// Clone returns a deep copy with the same owner.
func (c *GCounter) Clone() *GCounter {
	out := NewGCounter(c.OwnerID)
	for id, n := range c.Counts {
		out.Counts[id] = n
	}
	return out
}

// PNCounter supports increment and decrement as the difference of two
// grow-only counters.
type PNCounter struct {
	Positive *GCounter `json:"positive"`
	Negative *GCounter `json:"negative"`
}

// NewPNCounter creates a positive-negative counter owned by the given node.
func NewPNCounter(ownerID string) *PNCounter {
	return &PNCounter{
		Positive: NewGCounter(ownerID),
		Negative: NewGCounter(ownerID),
	}
}

// Increment adds delta to the counter.
func (c *PNCounter) Increment(delta uint64) {
	c.Positive.Increment(delta)
}

// Decrement subtracts delta from the counter.
func (c *PNCounter) Decrement(delta uint64) {
	c.Negative.Increment(delta)
}

// Value returns the net count.
func (c *PNCounter) Value() int64 {
	return int64(c.Positive.Value()) - int64(c.Negative.Value())
}

// Merge folds in another counter.
func (c *PNCounter) Merge(other *PNCounter) {
	if other == nil {
		return
	}
	c.Positive.Merge(other.Positive)
	c.Negative.Merge(other.Negative)
}

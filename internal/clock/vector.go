package clock

import "encoding/json"

// Comparison is the causal relationship between two vector clocks.
type Comparison int

const (
	Before     Comparison = iota // receiver happened before the argument
	After                        // receiver happened after the argument
	Concurrent                   // no happens-before relation either way
	Equal                        // identical entries
)

// String returns the comparison name.
func (c Comparison) String() string {
	switch c {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	}
	return "unknown"
}

// Vector is a vector clock owned by a single node. Entries for other nodes
// only ever grow; the owner's entry advances on Tick and on every Merge so
// consecutive merges of the same remote clock remain distinguishable.
type Vector struct {
	ownerID string
	entries map[string]uint64
}

// NewVector creates a vector clock for the given owner with a zero entry
// for the owner itself.
func NewVector(ownerID string) *Vector {
	return &Vector{
		ownerID: ownerID,
		entries: map[string]uint64{ownerID: 0},
	}
}

// FromEntries reconstructs a vector clock from its wire form.
func FromEntries(ownerID string, entries map[string]uint64) *Vector {
	v := NewVector(ownerID)
	for id, c := range entries {
		v.entries[id] = c
	}
	return v
}

// OwnerID returns the owning node's ID.
func (v *Vector) OwnerID() string { return v.ownerID }

// Tick increments the owner's entry and returns its new value.
func (v *Vector) Tick() uint64 {
	v.entries[v.ownerID]++
	return v.entries[v.ownerID]
}

// Get returns the entry for a node (zero if absent).
func (v *Vector) Get(nodeID string) uint64 { return v.entries[nodeID] }

// Merge folds in a remote clock: every entry becomes the pairwise max, then
// the owner's entry is incremented so the merge itself is a local event.
func (v *Vector) Merge(other *Vector) {
	if other != nil {
		for id, c := range other.entries {
			if c > v.entries[id] {
				v.entries[id] = c
			}
		}
	}
	v.entries[v.ownerID]++
}

// Compare determines the causal relation between v and other over the union
// of node IDs present in either clock. A nil other counts as an empty clock,
// matching Merge.
func (v *Vector) Compare(other *Vector) Comparison {
	if other == nil {
		other = &Vector{}
	}
	all := make(map[string]struct{}, len(v.entries)+len(other.entries))
	for id := range v.entries {
		all[id] = struct{}{}
	}
	for id := range other.entries {
		all[id] = struct{}{}
	}

	hasLess := false
	hasGreater := false
	for id := range all {
		a := v.entries[id]
		b := other.entries[id]
		if a < b {
			hasLess = true
		}
		if a > b {
			hasGreater = true
		}
	}

	switch {
	case !hasLess && !hasGreater:
		return Equal
	case hasLess && !hasGreater:
		return Before
	case hasGreater && !hasLess:
		return After
	default:
		return Concurrent
	}
}

// HappenedBefore reports whether v causally precedes other.
func (v *Vector) HappenedBefore(other *Vector) bool { return v.Compare(other) == Before }

// IsConcurrent reports whether v and other are causally unrelated.
func (v *Vector) IsConcurrent(other *Vector) bool { return v.Compare(other) == Concurrent }

// Clone returns a deep copy with the same owner.
func (v *Vector) Clone() *Vector {
	c := &Vector{
		ownerID: v.ownerID,
		entries: make(map[string]uint64, len(v.entries)),
	}
	for id, n := range v.entries {
		c.entries[id] = n
	}
	return c
}

// Entries returns the clock as a node→counter map copy, the wire form
// carried on gossip messages.
func (v *Vector) Entries() map[string]uint64 {
	m := make(map[string]uint64, len(v.entries))
	for id, c := range v.entries {
		m[id] = c
	}
	return m
}

// Nodes returns all node IDs with an entry.
func (v *Vector) Nodes() []string {
	ids := make([]string, 0, len(v.entries))
	for id := range v.entries {
		ids = append(ids, id)
	}
	return ids
}

// Sum returns the sum of all entries, a rough measure of total progress.
func (v *Vector) Sum() uint64 {
	var s uint64
	for _, c := range v.entries {
		s += c
	}
	return s
}

// MarshalJSON encodes the clock as its entry map.
func (v *Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.entries)
}

// UnmarshalJSON decodes an entry map. The owner must be set separately via
// FromEntries when the owner matters; decoding alone is used for inspection.
func (v *Vector) UnmarshalJSON(data []byte) error {
	if v.entries == nil {
		v.entries = make(map[string]uint64)
	}
	return json.Unmarshal(data, &v.entries)
}

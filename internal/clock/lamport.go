// Package clock implements the logical clock primitives used to order
// events across agent instances without synchronized wall clocks.
//
// Two clock families are provided. The Lamport clock gives a cheap total
// preorder: Tick before every local event, Update on every receipt with
// max(own, received)+1. It only approximates causality; ties are broken
// externally by owner ID via TotalOrderLess. The vector clock tracks one
// counter per node and yields the precise happens-before partial order.
//
// Neither type is goroutine-safe. Each node owns its clocks and guards
// them with the node mutex; clocks crossing the wire are copies.
package clock

// Lamport is a scalar logical clock owned by a single node.
type Lamport struct {
	ownerID string
	counter uint64
}

// NewLamport creates a Lamport clock for the given owner.
func NewLamport(ownerID string) *Lamport {
	return &Lamport{ownerID: ownerID}
}

// OwnerID returns the owning node's ID.
func (l *Lamport) OwnerID() string { return l.ownerID }

// Tick increments the clock before a local event and returns the new value.
func (l *Lamport) Tick() uint64 {
	l.counter++
	return l.counter
}

// Update folds in a received timestamp: counter = max(counter, received) + 1.
// Returns the new value.
func (l *Lamport) Update(received uint64) uint64 {
	if received > l.counter {
		l.counter = received
	}
	l.counter++
	return l.counter
}

// Value returns the current counter without advancing it.
func (l *Lamport) Value() uint64 { return l.counter }

// Set seeds the clock, e.g. when restoring from a snapshot.
func (l *Lamport) Set(v uint64) { l.counter = v }

// TotalOrderLess defines the deterministic total order over Lamport-stamped
// events: earlier timestamp first, ties broken lexicographically by owner ID.
// Strict: returns false when both timestamp and owner match.
func TotalOrderLess(tsA uint64, ownerA string, tsB uint64, ownerB string) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return ownerA < ownerB
}

package crdt

import "testing"

func TestGCounterValueSumsPerNodeMaxima(t *testing.T) {
	a := NewGCounter("n1")
	a.Increment(3)

	b := NewGCounter("n2")
	b.Increment(2)

	a.Merge(b)
	if got := a.Value(); got != 5 {
		t.Errorf("Value() = %d, want 5", got)
	}
}

func TestGCounterMergeCommutative(t *testing.T) {
	a := NewGCounter("n1")
	a.Increment(3)
	b := NewGCounter("n2")
	b.Increment(7)

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	if ab.Value() != ba.Value() {
		t.Errorf("merge not commutative: %d vs %d", ab.Value(), ba.Value())
	}
}

func TestGCounterMergeIdempotent(t *testing.T) {
	a := NewGCounter("n1")
	a.Increment(4)
	b := NewGCounter("n2")
	b.Increment(1)

	a.Merge(b)
	once := a.Value()
	a.Merge(b)
	if a.Value() != once {
		t.Errorf("second merge changed value: %d vs %d", a.Value(), once)
	}
}

func TestGCounterMergeTakesMaxNotSum(t *testing.T) {
	a := NewGCounter("n1")
	a.Increment(5)

	// A stale copy of n1's state must not double-count.
	stale := NewGCounter("n1")
	stale.Increment(3)

	a.Merge(stale)
	if got := a.Value(); got != 5 {
		t.Errorf("Value() = %d, want 5 (per-node max, not sum)", got)
	}
}

func TestPNCounterValue(t *testing.T) {
	c := NewPNCounter("n1")
	c.Increment(10)
	c.Decrement(4)
	if got := c.Value(); got != 6 {
		t.Errorf("Value() = %d, want 6", got)
	}
}

func TestPNCounterMergeConverges(t *testing.T) {
	a := NewPNCounter("n1")
	a.Increment(10)
	b := NewPNCounter("n2")
	b.Decrement(3)

	a.Merge(b)
	b.Merge(a)

	if a.Value() != b.Value() {
		t.Errorf("replicas diverged: %d vs %d", a.Value(), b.Value())
	}
	if a.Value() != 7 {
		t.Errorf("Value() = %d, want 7", a.Value())
	}
}

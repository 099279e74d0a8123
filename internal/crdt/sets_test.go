package crdt

import (
	"errors"
	"reflect"
	"testing"
)

func TestGSetMergeIsUnion(t *testing.T) {
	a := NewGSet()
	a.Add("m1")
	a.Add("m2")

	b := NewGSet()
	b.Add("m2")
	b.Add("m3")

	a.Merge(b)
	want := []string{"m1", "m2", "m3"}
	if got := a.Items(); !reflect.DeepEqual(got, want) {
		t.Errorf("Items() = %v, want %v", got, want)
	}
}

func TestGSetMergeCommutativeAssociativeIdempotent(t *testing.T) {
	build := func(items ...string) *GSet {
		s := NewGSet()
		for _, i := range items {
			s.Add(i)
		}
		return s
	}

	a := build("x", "y")
	b := build("y", "z")
	c := build("z", "w")

	ab := build()
	ab.Merge(a)
	ab.Merge(b)
	ba := build()
	ba.Merge(b)
	ba.Merge(a)
	if !reflect.DeepEqual(ab.Items(), ba.Items()) {
		t.Error("merge not commutative")
	}

	abc1 := build()
	abc1.Merge(a)
	abc1.Merge(b)
	abc1.Merge(c)
	bc := build()
	bc.Merge(b)
	bc.Merge(c)
	abc2 := build()
	abc2.Merge(a)
	abc2.Merge(bc)
	if !reflect.DeepEqual(abc1.Items(), abc2.Items()) {
		t.Error("merge not associative")
	}

	aa := build()
	aa.Merge(a)
	aa.Merge(a)
	if !reflect.DeepEqual(aa.Items(), a.Items()) {
		t.Error("merge not idempotent")
	}
}

func TestTwoPhaseSetRemoveRequiresAdd(t *testing.T) {
	s := NewTwoPhaseSet()
	if err := s.Remove("ghost"); !errors.Is(err, ErrNotAdded) {
		t.Fatalf("Remove of never-added element: err = %v, want ErrNotAdded", err)
	}
	if s.Removed.Contains("ghost") {
		t.Error("failed remove must not leave a tombstone")
	}
}

func TestTwoPhaseSetTombstoneIsIrrevocable(t *testing.T) {
	s := NewTwoPhaseSet()
	s.Add("e")
	if err := s.Remove("e"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Re-adding a removed element has no visible effect.
	s.Add("e")
	if s.Contains("e") {
		t.Error("removed element must never reappear")
	}
}

func TestTwoPhaseSetMergePropagatesTombstones(t *testing.T) {
	a := NewTwoPhaseSet()
	a.Add("e")

	b := NewTwoPhaseSet()
	b.Add("e")
	if err := b.Remove("e"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	a.Merge(b)
	if a.Contains("e") {
		t.Error("tombstone must win after merge")
	}

	// Merge order does not matter.
	c := NewTwoPhaseSet()
	c.Add("e")
	b.Merge(c)
	if b.Contains("e") {
		t.Error("tombstone must win regardless of merge order")
	}
}

func TestLWWSetLatestTimestampWins(t *testing.T) {
	s := NewLWWSet()
	s.Add("e", 10)
	s.Remove("e", 20)
	if s.Contains("e") {
		t.Error("later remove must win")
	}
	s.Add("e", 30)
	if !s.Contains("e") {
		t.Error("later add must win")
	}
}

func TestLWWSetTiePrefersAbsent(t *testing.T) {
	s := NewLWWSet()
	s.Add("e", 10)
	s.Remove("e", 10)
	if s.Contains("e") {
		t.Error("LWW set resolves ties to removed")
	}
}

func TestAWSetTiePrefersPresent(t *testing.T) {
	s := NewAWSet()
	s.Add("e", 10)
	s.Remove("e", 10)
	if !s.Contains("e") {
		t.Error("add-wins set must keep the element on a tie")
	}
}

func TestAWSetRemoveThenConcurrentAdd(t *testing.T) {
	a := NewAWSet()
	a.Add("e", 5)
	a.Remove("e", 10)

	b := NewAWSet()
	b.Add("e", 10)

	a.Merge(b)
	if !a.Contains("e") {
		t.Error("concurrent add at equal timestamp must survive merge")
	}

	b.Merge(a)
	if !reflect.DeepEqual(a.Items(), b.Items()) {
		t.Error("replicas diverged after symmetric merge")
	}
}

func TestLWWSetMergeConverges(t *testing.T) {
	a := NewLWWSet()
	a.Add("x", 1)
	a.Add("y", 5)

	b := NewLWWSet()
	b.Remove("y", 7)
	b.Add("z", 2)

	a.Merge(b)
	b.Merge(a)

	if !reflect.DeepEqual(a.Items(), b.Items()) {
		t.Errorf("replicas diverged: %v vs %v", a.Items(), b.Items())
	}
	want := []string{"x", "z"}
	if !reflect.DeepEqual(a.Items(), want) {
		t.Errorf("Items() = %v, want %v", a.Items(), want)
	}
}

package crdt

import (
	"errors"
	"sort"
)

// ErrNotAdded is returned by TwoPhaseSet.Remove when the element was never
// added, which would otherwise leave a dangling tombstone.
var ErrNotAdded = errors.New("crdt: element was never added")

// GSet is a grow-only set of strings. Elements can only be added; merge is
// set union.
type GSet struct {
	Elements map[string]struct{} `json:"elements"`
}

// NewGSet creates an empty grow-only set.
func NewGSet() *GSet {
	return &GSet{Elements: make(map[string]struct{})}
}

// Add inserts an element.
func (s *GSet) Add(e string) {
	s.Elements[e] = struct{}{}
}

// Contains reports membership.
func (s *GSet) Contains(e string) bool {
	_, ok := s.Elements[e]
	return ok
}

// Items returns the elements in sorted order.
func (s *GSet) Items() []string {
	items := make([]string, 0, len(s.Elements))
	for e := range s.Elements {
		items = append(items, e)
	}
	sort.Strings(items)
	return items
}

// Len returns the number of elements.
func (s *GSet) Len() int { return len(s.Elements) }

// Merge folds in another set (union).
func (s *GSet) Merge(other *GSet) {
	if other == nil {
		return
	}
	for e := range other.Elements {
		s.Elements[e] = struct{}{}
	}
}

// TwoPhaseSet is an add-set minus a remove-set. Removal is only effective
// for previously added elements and is irrevocable: once removed, an element
// can never be re-added. This tombstone permanence is the documented cost of
// coordination-free removal, not a defect.
type TwoPhaseSet struct {
	Added   *GSet `json:"added"`
	Removed *GSet `json:"removed"`
}

// NewTwoPhaseSet creates an empty two-phase set.
func NewTwoPhaseSet() *TwoPhaseSet {
	return &TwoPhaseSet{Added: NewGSet(), Removed: NewGSet()}
}

// Add inserts an element. Adding a removed element has no visible effect.
func (s *TwoPhaseSet) Add(e string) {
	s.Added.Add(e)
}

// Remove tombstones an element. Fails if the element was never added.
func (s *TwoPhaseSet) Remove(e string) error {
	if !s.Added.Contains(e) {
		return ErrNotAdded
	}
	s.Removed.Add(e)
	return nil
}

// Contains reports effective membership: added and not removed.
func (s *TwoPhaseSet) Contains(e string) bool {
	return s.Added.Contains(e) && !s.Removed.Contains(e)
}

// Items returns the effective members in sorted order.
func (s *TwoPhaseSet) Items() []string {
	var items []string
	for e := range s.Added.Elements {
		if !s.Removed.Contains(e) {
			items = append(items, e)
		}
	}
	sort.Strings(items)
	return items
}

// Merge folds in another set: union of adds, union of tombstones.
func (s *TwoPhaseSet) Merge(other *TwoPhaseSet) {
	if other == nil {
		return
	}
	s.Added.Merge(other.Added)
	s.Removed.Merge(other.Removed)
}

// lwwEntry tracks the latest add and remove timestamps for one element.
type lwwEntry struct {
	AddedAt   int64 `json:"added_at"`
	RemovedAt int64 `json:"removed_at"`
}

// LWWSet decides membership per element by the latest operation timestamp.
// Timestamps are supplied by the caller (typically epoch milliseconds); on a
// tie the element is considered removed, making this the remove-biased
// counterpart of AWSet.
type LWWSet struct {
	Entries map[string]lwwEntry `json:"entries"`
}

// NewLWWSet creates an empty last-write-wins set.
func NewLWWSet() *LWWSet {
	return &LWWSet{Entries: make(map[string]lwwEntry)}
}

// Add records an add at the given timestamp.
func (s *LWWSet) Add(e string, ts int64) {
	entry := s.Entries[e]
	if ts > entry.AddedAt {
		entry.AddedAt = ts
	}
	s.Entries[e] = entry
}

// Remove records a remove at the given timestamp.
func (s *LWWSet) Remove(e string, ts int64) {
	entry := s.Entries[e]
	if ts > entry.RemovedAt {
		entry.RemovedAt = ts
	}
	s.Entries[e] = entry
}

// Contains reports whether the latest operation on e was an add.
func (s *LWWSet) Contains(e string) bool {
	entry, ok := s.Entries[e]
	if !ok {
		return false
	}
	return entry.AddedAt > entry.RemovedAt
}

// Items returns the current members in sorted order.
func (s *LWWSet) Items() []string {
	var items []string
	for e := range s.Entries {
		if s.Contains(e) {
			items = append(items, e)
		}
	}
	sort.Strings(items)
	return items
}

// Merge folds in another set, taking the per-element timestamp maxima.
func (s *LWWSet) Merge(other *LWWSet) {
	if other == nil {
		return
	}
	for e, oe := range other.Entries {
		entry := s.Entries[e]
		if oe.AddedAt > entry.AddedAt {
			entry.AddedAt = oe.AddedAt
		}
		if oe.RemovedAt > entry.RemovedAt {
			entry.RemovedAt = oe.RemovedAt
		}
		s.Entries[e] = entry
	}
}

// AWSet is the add-wins variant of LWWSet: on a timestamp tie between an
// add and a remove, the element stays present. This availability bias keeps
// concurrently re-added elements visible.
type AWSet struct {
	Entries map[string]lwwEntry `json:"entries"`
}

// NewAWSet creates an empty add-wins set.
func NewAWSet() *AWSet {
	return &AWSet{Entries: make(map[string]lwwEntry)}
}

// Add records an add at the given timestamp.
func (s *AWSet) Add(e string, ts int64) {
	entry := s.Entries[e]
	if ts > entry.AddedAt {
		entry.AddedAt = ts
	}
	s.Entries[e] = entry
}

// Remove records a remove at the given timestamp.
func (s *AWSet) Remove(e string, ts int64) {
	entry := s.Entries[e]
	if ts > entry.RemovedAt {
		entry.RemovedAt = ts
	}
	s.Entries[e] = entry
}

// Contains reports membership; ties between add and remove prefer present.
func (s *AWSet) Contains(e string) bool {
	entry, ok := s.Entries[e]
	if !ok {
		return false
	}
	return entry.AddedAt > 0 && entry.AddedAt >= entry.RemovedAt
}

// Items returns the current members in sorted order.
func (s *AWSet) Items() []string {
	var items []string
	for e := range s.Entries {
		if s.Contains(e) {
			items = append(items, e)
		}
	}
	sort.Strings(items)
	return items
}

// Merge folds in another set, taking the per-element timestamp maxima.
func (s *AWSet) Merge(other *AWSet) {
	if other == nil {
		return
	}
	for e, oe := range other.Entries {
		entry := s.Entries[e]
		if oe.AddedAt > entry.AddedAt {
			entry.AddedAt = oe.AddedAt
		}
		if oe.RemovedAt > entry.RemovedAt {
			entry.RemovedAt = oe.RemovedAt
		}
		s.Entries[e] = entry
	}
}

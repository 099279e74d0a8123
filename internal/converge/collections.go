package converge

import (
	"fmt"
	"sort"
	"sync"
)

// ConvergentSet is a string set whose Merge applies a registry strategy
// (union or intersection) to reconcile two replicas.
type ConvergentSet struct {
	mu       sync.RWMutex
	strategy string
	merge    MergeFunc
	items    map[string]struct{}
}

// NewConvergentSet builds a set bound to a set-valued strategy.
func NewConvergentSet(registry *Registry, strategy string) (*ConvergentSet, error) {
	fn, err := registry.Lookup(strategy)
	if err != nil {
		return nil, err
	}
	return &ConvergentSet{
		strategy: strategy,
		merge:    fn,
		items:    make(map[string]struct{}),
	}, nil
}

// Add inserts an item.
func (s *ConvergentSet) Add(item string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item] = struct{}{}
}

// Contains reports membership.
func (s *ConvergentSet) Contains(item string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[item]
	return ok
}

// Items returns the members in sorted order.
func (s *ConvergentSet) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// Len returns the member count.
func (s *ConvergentSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Merge folds another replica into this one using the bound strategy.
func (s *ConvergentSet) Merge(other *ConvergentSet) error {
	if other == nil || other == s {
		return nil
	}
	theirs := other.Items()
	s.mu.Lock()
	defer s.mu.Unlock()
	ours := make([]string, 0, len(s.items))
	for item := range s.items {
		ours = append(ours, item)
	}
	merged, err := s.merge(ours, theirs)
	if err != nil {
		return fmt.Errorf("merge set with strategy %q: %w", s.strategy, err)
	}
	items, ok := merged.([]string)
	if !ok {
		return fmt.Errorf("%w: strategy %q produced %T, want []string", ErrTypeMismatch, s.strategy, merged)
	}
	s.items = make(map[string]struct{}, len(items))
	for _, item := range items {
		s.items[item] = struct{}{}
	}
	return nil
}

// ConvergentMap is a string-keyed map whose Merge reconciles each key with
// a per-map strategy.
type ConvergentMap struct {
	mu       sync.RWMutex
	strategy string
	merge    MergeFunc
	entries  map[string]any
}

// NewConvergentMap builds a map bound to a strategy applied per key on
// merge.
func NewConvergentMap(registry *Registry, strategy string) (*ConvergentMap, error) {
	fn, err := registry.Lookup(strategy)
	if err != nil {
		return nil, err
	}
	return &ConvergentMap{
		strategy: strategy,
		merge:    fn,
		entries:  make(map[string]any),
	}, nil
}

// Set stores a value under a key.
func (m *ConvergentMap) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

// Get returns the value for a key.
func (m *ConvergentMap) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// Keys returns the keys in sorted order.
func (m *ConvergentMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the entry count.
func (m *ConvergentMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Snapshot returns a shallow copy of the entries.
func (m *ConvergentMap) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Merge folds another replica into this one. Keys present on only one
// side are taken as-is; shared keys go through the strategy.
func (m *ConvergentMap) Merge(other *ConvergentMap) error {
	if other == nil || other == m {
		return nil
	}
	theirs := other.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, incoming := range theirs {
		current, ok := m.entries[key]
		if !ok {
			m.entries[key] = incoming
			continue
		}
		merged, err := m.merge(current, incoming)
		if err != nil {
			return fmt.Errorf("merge key %q with strategy %q: %w", key, m.strategy, err)
		}
		m.entries[key] = merged
	}
	return nil
}

// Package converge generalizes CRDT-style merging into a registry of named
// strategies plus composite managers that apply a strategy per state field.
//
// Every registered strategy, built-in or custom, must be a pure two-argument
// function that commutes and is idempotent; the ConvergentSet/ConvergentMap
// wrappers rely on that contract and do not re-verify it at merge time.
package converge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/crdt"
)

// Strategy names resolvable through a Registry.
const (
	StrategyMax             = "max"
	StrategyMin             = "min"
	StrategyAverage         = "average"
	StrategyUnion           = "union"
	StrategyIntersection    = "intersection"
	StrategyMerge           = "merge"
	StrategyFirst           = "first"
	StrategyLast            = "last"
	StrategyWeightedAverage = "weighted_average"
	StrategyMaxConfidence   = "max_confidence"
)

var (
	// ErrUnknownStrategy is returned when a name has no registered merge
	// function.
	ErrUnknownStrategy = errors.New("converge: unknown strategy")

	// ErrTypeMismatch is returned when a strategy receives operands it
	// cannot merge.
	ErrTypeMismatch = errors.New("converge: operand type mismatch")
)

// MergeFunc merges a current and an incoming value into one. It must be
// pure: no side effects, same output for same inputs regardless of call
// order or repetition.
type MergeFunc func(current, incoming any) (any, error)

// WeightedValue carries a value with its aggregation weight for the
// weighted_average strategy.
type WeightedValue struct {
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// Registry maps strategy names to merge functions.
type Registry struct {
	strategies map[string]MergeFunc
}

// NewRegistry creates a registry preloaded with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]MergeFunc)}
	r.Register(StrategyMax, mergeMax)
	r.Register(StrategyMin, mergeMin)
	r.Register(StrategyAverage, mergeAverage)
	r.Register(StrategyUnion, mergeUnion)
	r.Register(StrategyIntersection, mergeIntersection)
	r.Register(StrategyMerge, mergeMaps)
	r.Register(StrategyFirst, mergeFirst)
	r.Register(StrategyLast, mergeLast)
	r.Register(StrategyWeightedAverage, mergeWeightedAverage)
	r.Register(StrategyMaxConfidence, mergeMaxConfidence)
	return r
}

// Register installs a strategy under a name, replacing any existing one.
// The function must honor the package merge contract.
func (r *Registry) Register(name string, fn MergeFunc) {
	r.strategies[name] = fn
}

// Lookup resolves a strategy by name.
func (r *Registry) Lookup(name string) (MergeFunc, error) {
	fn, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return fn, nil
}

// Names returns all registered strategy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func mergeMax(current, incoming any) (any, error) {
	a, okA := asFloat(current)
	b, okB := asFloat(incoming)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: max wants numbers, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	if b > a {
		return b, nil
	}
	return a, nil
}

func mergeMin(current, incoming any) (any, error) {
	a, okA := asFloat(current)
	b, okB := asFloat(incoming)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: min wants numbers, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	if b < a {
		return b, nil
	}
	return a, nil
}

func mergeAverage(current, incoming any) (any, error) {
	a, okA := asFloat(current)
	b, okB := asFloat(incoming)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: average wants numbers, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	return (a + b) / 2, nil
}

func asStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func mergeUnion(current, incoming any) (any, error) {
	a, okA := asStringSlice(current)
	b, okB := asStringSlice(incoming)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: union wants string slices, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, e := range a {
		set[e] = struct{}{}
	}
	for _, e := range b {
		set[e] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out, nil
}

func mergeIntersection(current, incoming any) (any, error) {
	a, okA := asStringSlice(current)
	b, okB := asStringSlice(incoming)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: intersection wants string slices, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	inB := make(map[string]struct{}, len(b))
	for _, e := range b {
		inB[e] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, e := range a {
		if _, ok := inB[e]; ok {
			if _, dup := seen[e]; !dup {
				out = append(out, e)
				seen[e] = struct{}{}
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// mergeMaps union-merges two string-keyed maps; on key conflict the
// lexicographically ordered walk keeps the incoming entry, matching the
// overwrite-union policy of knowledge maps.
func mergeMaps(current, incoming any) (any, error) {
	a, okA := current.(map[string]any)
	b, okB := incoming.(map[string]any)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: merge wants maps, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out, nil
}

func mergeFirst(current, _ any) (any, error) {
	return current, nil
}

func mergeLast(_, incoming any) (any, error) {
	return incoming, nil
}

func mergeWeightedAverage(current, incoming any) (any, error) {
	a, okA := current.(WeightedValue)
	b, okB := incoming.(WeightedValue)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: weighted_average wants WeightedValue, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	total := a.Weight + b.Weight
	if total == 0 {
		return WeightedValue{}, nil
	}
	return WeightedValue{
		Value:  (a.Value*a.Weight + b.Value*b.Weight) / total,
		Weight: total,
	}, nil
}

func mergeMaxConfidence(current, incoming any) (any, error) {
	a, okA := current.(crdt.Belief)
	b, okB := incoming.(crdt.Belief)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: max_confidence wants beliefs, got %T and %T", ErrTypeMismatch, current, incoming)
	}
	if b.Confidence > a.Confidence {
		return b, nil
	}
	if b.Confidence == a.Confidence && b.Source < a.Source {
		return b, nil
	}
	return a, nil
}

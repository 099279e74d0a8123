package converge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/crdt"
)

func TestRegistryHasAllBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		StrategyMax, StrategyMin, StrategyAverage, StrategyUnion,
		StrategyIntersection, StrategyMerge, StrategyFirst, StrategyLast,
		StrategyWeightedAverage, StrategyMaxConfidence,
	} {
		_, err := r.Lookup(name)
		assert.NoError(t, err, name)
	}
}

func TestRegistryUnknownStrategy(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("majority")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRegistryCustomStrategy(t *testing.T) {
	r := NewRegistry()
	r.Register("concat", func(current, incoming any) (any, error) {
		return current.(string) + incoming.(string), nil
	})
	fn, err := r.Lookup("concat")
	require.NoError(t, err)
	out, err := fn("a", "b")
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestNumericStrategies(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		strategy string
		a, b     float64
		want     float64
	}{
		{StrategyMax, 3, 7, 7},
		{StrategyMax, 7, 3, 7},
		{StrategyMin, 3, 7, 3},
		{StrategyAverage, 4, 6, 5},
	}
	for _, tt := range tests {
		fn, err := r.Lookup(tt.strategy)
		require.NoError(t, err)
		out, err := fn(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out, tt.strategy)
	}
}

func TestNumericStrategyRejectsNonNumbers(t *testing.T) {
	r := NewRegistry()
	fn, err := r.Lookup(StrategyMax)
	require.NoError(t, err)
	_, err = fn("three", 7.0)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestUnionAndIntersection(t *testing.T) {
	r := NewRegistry()
	union, err := r.Lookup(StrategyUnion)
	require.NoError(t, err)
	out, err := union([]string{"a", "b"}, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)

	inter, err := r.Lookup(StrategyIntersection)
	require.NoError(t, err)
	out, err = inter([]string{"a", "b"}, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, out)
}

func TestFirstAndLast(t *testing.T) {
	r := NewRegistry()
	first, _ := r.Lookup(StrategyFirst)
	last, _ := r.Lookup(StrategyLast)

	out, err := first("ours", "theirs")
	require.NoError(t, err)
	assert.Equal(t, "ours", out)

	out, err = last("ours", "theirs")
	require.NoError(t, err)
	assert.Equal(t, "theirs", out)
}

func TestMergeMapsOverwriteUnion(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.Lookup(StrategyMerge)
	out, err := fn(
		map[string]any{"a": 1, "b": 1},
		map[string]any{"b": 2, "c": 2},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 2}, out)
}

func TestWeightedAverageCombinesWeights(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.Lookup(StrategyWeightedAverage)
	out, err := fn(
		WeightedValue{Value: 10, Weight: 1},
		WeightedValue{Value: 20, Weight: 3},
	)
	require.NoError(t, err)
	wv := out.(WeightedValue)
	assert.InDelta(t, 17.5, wv.Value, 1e-9)
	assert.Equal(t, 4.0, wv.Weight)
}

func TestWeightedAverageZeroWeights(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.Lookup(StrategyWeightedAverage)
	out, err := fn(WeightedValue{Value: 10}, WeightedValue{Value: 20})
	require.NoError(t, err)
	assert.Equal(t, WeightedValue{}, out)
}

func TestMaxConfidenceKeepsStrongerBelief(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.Lookup(StrategyMaxConfidence)

	weak := crdt.Belief{ID: "b1", Content: "maybe", Confidence: 0.4, Source: "n1"}
	strong := crdt.Belief{ID: "b1", Content: "surely", Confidence: 0.9, Source: "n2"}

	out, err := fn(weak, strong)
	require.NoError(t, err)
	assert.Equal(t, strong, out)

	out, err = fn(strong, weak)
	require.NoError(t, err)
	assert.Equal(t, strong, out)
}

func TestMaxConfidenceTieBreaksBySource(t *testing.T) {
	r := NewRegistry()
	fn, _ := r.Lookup(StrategyMaxConfidence)

	a := crdt.Belief{ID: "b1", Content: "alpha", Confidence: 0.8, Source: "n1"}
	b := crdt.Belief{ID: "b1", Content: "beta", Confidence: 0.8, Source: "n2"}

	outAB, err := fn(a, b)
	require.NoError(t, err)
	outBA, err := fn(b, a)
	require.NoError(t, err)
	assert.Equal(t, outAB, outBA, "tie break must not depend on argument order")
	assert.Equal(t, a, outAB)
}

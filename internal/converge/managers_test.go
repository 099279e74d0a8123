package converge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/crdt"
)

func TestBeliefManagerKeepsHigherConfidence(t *testing.T) {
	m := NewBeliefManager(0.7)

	m.Assert(crdt.Belief{ID: "door", Content: "locked", Confidence: 0.6, Source: "n1"})
	m.MergeRemote([]crdt.Belief{
		{ID: "door", Content: "open", Confidence: 0.9, Source: "n2"},
	})

	b, ok := m.Get("door")
	require.True(t, ok)
	assert.Equal(t, "open", b.Content)
	assert.Equal(t, 0.9, b.Confidence)
}

func TestBeliefManagerAccumulatesSources(t *testing.T) {
	m := NewBeliefManager(0.7)

	m.Assert(crdt.Belief{ID: "door", Content: "locked", Confidence: 0.6, Source: "n1"})
	m.MergeRemote([]crdt.Belief{
		{ID: "door", Content: "open", Confidence: 0.9, Source: "n2"},
		{ID: "door", Content: "locked", Confidence: 0.5, Source: "n3"},
	})

	// losers keep their provenance even though their content is gone
	assert.Equal(t, []string{"n1", "n2", "n3"}, m.Sources("door"))
}

func TestBeliefManagerConvergedFiltersByThreshold(t *testing.T) {
	m := NewBeliefManager(0.7)

	m.Assert(crdt.Belief{ID: "a", Confidence: 0.71, Source: "n1"})
	m.Assert(crdt.Belief{ID: "b", Confidence: 0.7, Source: "n1"})
	m.Assert(crdt.Belief{ID: "c", Confidence: 0.69, Source: "n1"})

	converged := m.Converged()
	require.Len(t, converged, 2)
	assert.Equal(t, "a", converged[0].ID)
	assert.Equal(t, "b", converged[1].ID, "threshold is inclusive")
	assert.Len(t, m.All(), 3)
}

func TestBeliefManagerInvalidThresholdFallsBack(t *testing.T) {
	assert.Equal(t, DefaultConvergenceThreshold, NewBeliefManager(0).Threshold())
	assert.Equal(t, DefaultConvergenceThreshold, NewBeliefManager(1.5).Threshold())
	assert.Equal(t, 0.5, NewBeliefManager(0.5).Threshold())
}

func TestBeliefManagerTieIsOrderIndependent(t *testing.T) {
	a := NewBeliefManager(0.7)
	b := NewBeliefManager(0.7)

	x := crdt.Belief{ID: "k", Content: "alpha", Confidence: 0.8, Source: "n1"}
	y := crdt.Belief{ID: "k", Content: "beta", Confidence: 0.8, Source: "n2"}

	a.Assert(x)
	a.MergeRemote([]crdt.Belief{y})
	b.Assert(y)
	b.MergeRemote([]crdt.Belief{x})

	ba, _ := a.Get("k")
	bb, _ := b.Get("k")
	assert.Equal(t, ba.Content, bb.Content)
}

func TestSkillManagerMaxMerge(t *testing.T) {
	m := NewSkillManager()

	m.Observe("planning", 0.4)
	m.Observe("planning", 0.2) // regression ignored
	m.MergeRemote(map[string]float64{"planning": 0.8, "search": 0.3})

	level, ok := m.Level("planning")
	require.True(t, ok)
	assert.Equal(t, 0.8, level)

	level, ok = m.Level("search")
	require.True(t, ok)
	assert.Equal(t, 0.3, level)

	m.MergeRemote(map[string]float64{"search": 0.1})
	level, _ = m.Level("search")
	assert.Equal(t, 0.3, level, "remote regression ignored")
}

func TestSkillManagerSnapshotIsACopy(t *testing.T) {
	m := NewSkillManager()
	m.Observe("planning", 0.4)

	snap := m.Snapshot()
	snap["planning"] = 0.0

	level, _ := m.Level("planning")
	assert.Equal(t, 0.4, level)
}

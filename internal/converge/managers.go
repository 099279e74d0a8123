package converge

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/crdt"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/logger"
)

// DefaultConvergenceThreshold is the minimum confidence a belief needs to
// count as converged swarm knowledge.
const DefaultConvergenceThreshold = 0.7

// BeliefManager holds the agent-local belief map and reconciles remote
// beliefs by confidence. It accumulates the set of sources that ever
// asserted a belief, so provenance survives even when a lower-confidence
// assertion loses the merge.
type BeliefManager struct {
	mu        sync.RWMutex
	threshold float64
	beliefs   map[string]crdt.Belief
	sources   map[string]map[string]struct{}
	log       *logrus.Entry
}

// NewBeliefManager creates a manager with the given convergence threshold.
// Thresholds outside (0, 1] fall back to the default.
func NewBeliefManager(threshold float64) *BeliefManager {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConvergenceThreshold
	}
	return &BeliefManager{
		threshold: threshold,
		beliefs:   make(map[string]crdt.Belief),
		sources:   make(map[string]map[string]struct{}),
		log:       logger.NewForComponent("belief-manager"),
	}
}

// Assert records a local belief, keeping the higher-confidence version if
// one already exists under the same ID.
func (m *BeliefManager) Assert(belief crdt.Belief) {
	if belief.Timestamp == 0 {
		belief.Timestamp = time.Now().UnixMilli()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absorb(belief)
}

// MergeRemote folds a batch of beliefs from another agent into the local
// map.
func (m *BeliefManager) MergeRemote(beliefs []crdt.Belief) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range beliefs {
		m.absorb(b)
	}
}

// absorb applies the max-confidence policy for one belief. Caller holds
// the lock.
func (m *BeliefManager) absorb(belief crdt.Belief) {
	if belief.Source != "" {
		set, ok := m.sources[belief.ID]
		if !ok {
			set = make(map[string]struct{})
			m.sources[belief.ID] = set
		}
		set[belief.Source] = struct{}{}
	}
	existing, ok := m.beliefs[belief.ID]
	if !ok || crdt.BeliefWins(belief, existing) {
		m.beliefs[belief.ID] = belief
		m.log.WithFields(logrus.Fields{
			"belief_id":  belief.ID,
			"confidence": belief.Confidence,
			"source":     belief.Source,
		}).Debug("Belief updated")
	}
}

// Get returns the current winning belief for an ID.
func (m *BeliefManager) Get(id string) (crdt.Belief, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.beliefs[id]
	return b, ok
}

// Sources returns every agent that ever asserted the belief, sorted.
func (m *BeliefManager) Sources(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.sources[id]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Converged returns the beliefs whose confidence meets the threshold,
// sorted by ID for stable iteration.
func (m *BeliefManager) Converged() []crdt.Belief {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crdt.Belief, 0, len(m.beliefs))
	for _, b := range m.beliefs {
		if b.Confidence >= m.threshold {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every belief regardless of confidence, sorted by ID.
func (m *BeliefManager) All() []crdt.Belief {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crdt.Belief, 0, len(m.beliefs))
	for _, b := range m.beliefs {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Threshold returns the configured convergence threshold.
func (m *BeliefManager) Threshold() float64 {
	return m.threshold
}

// SkillManager tracks skill proficiency levels and reconciles them with a
// max merge: proficiency only ever improves.
type SkillManager struct {
	mu     sync.RWMutex
	skills map[string]float64
	log    *logrus.Entry
}

// NewSkillManager creates an empty skill manager.
func NewSkillManager() *SkillManager {
	return &SkillManager{
		skills: make(map[string]float64),
		log:    logger.NewForComponent("skill-manager"),
	}
}

// Observe records a proficiency level; lower observations are ignored.
func (m *SkillManager) Observe(name string, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.skills[name]; ok && current >= level {
		return
	}
	m.skills[name] = level
	m.log.WithFields(logrus.Fields{"skill": name, "level": level}).Debug("Skill level raised")
}

// MergeRemote folds another agent's skill map in, keeping per-skill max.
func (m *SkillManager) MergeRemote(skills map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, level := range skills {
		if current, ok := m.skills[name]; !ok || level > current {
			m.skills[name] = level
		}
	}
}

// Level returns the current proficiency for a skill.
func (m *SkillManager) Level(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	level, ok := m.skills[name]
	return level, ok
}

// Snapshot returns a copy of the skill map.
func (m *SkillManager) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.skills))
	for k, v := range m.skills {
		out[k] = v
	}
	return out
}

package crdt

import (
	"encoding/json"
	"time"
)

// Memory is one remembered item, deduplicated across replicas by ID.
type Memory struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Source    string `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Belief is a held proposition with a confidence score. On merge the
// higher-confidence variant wins per belief ID.
type Belief struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// KnowledgeEntry is a fact keyed by topic. The value is opaque to the
// merge; only timestamp and source decide which entry survives. Merge
// keeps the entry with the later timestamp; ties break by source so both
// replicas agree.
type KnowledgeEntry struct {
	Value     json.RawMessage `json:"value"`
	Source    string          `json:"source,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// AgentState is the composite replicated state of one agent instance.
// Each field merges under its own policy; Merge never drops data present in
// either input. Version and Timestamp advance monotonically on every local
// mutation and on every merge.
type AgentState struct {
	OwnerID   string                    `json:"owner_id"`
	Memories  []Memory                  `json:"memories"`
	Skills    map[string]float64        `json:"skills"`
	Knowledge map[string]KnowledgeEntry `json:"knowledge"`
	Beliefs   map[string]Belief         `json:"beliefs"`
	Version   uint64                    `json:"version"`
	Timestamp int64                     `json:"timestamp"`
}

// NewAgentState creates empty state owned by the given node.
func NewAgentState(ownerID string) *AgentState {
	return &AgentState{
		OwnerID:   ownerID,
		Memories:  make([]Memory, 0),
		Skills:    make(map[string]float64),
		Knowledge: make(map[string]KnowledgeEntry),
		Beliefs:   make(map[string]Belief),
	}
}

func (s *AgentState) touch() {
	s.Version++
	s.Timestamp = time.Now().UnixMilli()
}

// AddMemory records a memory; a duplicate ID is ignored.
func (s *AgentState) AddMemory(m Memory) {
	for _, existing := range s.Memories {
		if existing.ID == m.ID {
			return
		}
	}
	s.Memories = append(s.Memories, m)
	s.touch()
}

// SetSkill records a skill level; levels only ever increase.
func (s *AgentState) SetSkill(name string, level float64) {
	if level > s.Skills[name] {
		s.Skills[name] = level
		s.touch()
	}
}

// SetKnowledge records or overwrites a fact.
func (s *AgentState) SetKnowledge(key string, entry KnowledgeEntry) {
	s.Knowledge[key] = entry
	s.touch()
}

// MergeKnowledge folds in a remote entry under the last-writer-wins
// rule, unlike SetKnowledge which overwrites unconditionally.
func (s *AgentState) MergeKnowledge(key string, entry KnowledgeEntry) {
	if existing, ok := s.Knowledge[key]; ok && !knowledgeWins(entry, existing) {
		return
	}
	s.Knowledge[key] = entry
	s.touch()
}

// SetBelief records a belief; a lower-confidence duplicate is ignored.
func (s *AgentState) SetBelief(b Belief) {
	if existing, ok := s.Beliefs[b.ID]; ok && !BeliefWins(b, existing) {
		return
	}
	s.Beliefs[b.ID] = b
	s.touch()
}

// BeliefWins decides whether candidate replaces incumbent: higher confidence
// wins; on equal confidence the lexicographically smaller source wins so all
// replicas pick the same variant. The loser's provenance is dropped.
func BeliefWins(candidate, incumbent Belief) bool {
	if candidate.Confidence != incumbent.Confidence {
		return candidate.Confidence > incumbent.Confidence
	}
	return candidate.Source < incumbent.Source
}

// knowledgeWins is the LWW rule for knowledge entries: later timestamp wins,
// ties break by source.
func knowledgeWins(candidate, incumbent KnowledgeEntry) bool {
	if candidate.Timestamp != incumbent.Timestamp {
		return candidate.Timestamp > incumbent.Timestamp
	}
	return candidate.Source < incumbent.Source
}

// Merge folds in another replica's state field by field: memory union by ID,
// per-skill maximum, knowledge LWW overwrite-union, per-belief maximum
// confidence. Version advances past both inputs.
func (s *AgentState) Merge(other *AgentState) {
	if other == nil {
		return
	}

	seen := make(map[string]struct{}, len(s.Memories))
	for _, m := range s.Memories {
		seen[m.ID] = struct{}{}
	}
	for _, m := range other.Memories {
		if _, ok := seen[m.ID]; !ok {
			s.Memories = append(s.Memories, m)
			seen[m.ID] = struct{}{}
		}
	}

	for name, level := range other.Skills {
		if level > s.Skills[name] {
			s.Skills[name] = level
		}
	}

	for key, entry := range other.Knowledge {
		if existing, ok := s.Knowledge[key]; !ok || knowledgeWins(entry, existing) {
			s.Knowledge[key] = entry
		}
	}

	for id, b := range other.Beliefs {
		if existing, ok := s.Beliefs[id]; !ok || BeliefWins(b, existing) {
			s.Beliefs[id] = b
		}
	}

	if other.Version > s.Version {
		s.Version = other.Version
	}
	s.touch()
}

// Clone returns a deep copy.
func (s *AgentState) Clone() *AgentState {
	out := NewAgentState(s.OwnerID)
	out.Memories = append(out.Memories, s.Memories...)
	for k, v := range s.Skills {
		out.Skills[k] = v
	}
	for k, v := range s.Knowledge {
		out.Knowledge[k] = v
	}
	for k, v := range s.Beliefs {
		out.Beliefs[k] = v
	}
	out.Version = s.Version
	out.Timestamp = s.Timestamp
	return out
}

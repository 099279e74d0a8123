// Package node assembles one swarm member: its identity, replicated
// agent state, lineage graph, gossip engine, and voting manager behind a
// single mutex. There are no package-level singletons; every operation
// goes through an explicit *Node.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/byzantine"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/config"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/converge"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/crdt"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/dag"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/gossip"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/identity"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/logger"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/transport"
)

// Node is one running swarm member.
type Node struct {
	id      string
	cfg     *config.Config
	ident   *identity.Identity
	keyring *identity.Keyring

	stateMu sync.Mutex
	state   *crdt.AgentState

	lineage *dag.Graph
	beliefs *converge.BeliefManager
	skills  *converge.SkillManager
	gossip  *gossip.Protocol
	voting  *byzantine.Voting

	log *logrus.Entry

	runMu     sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	startedAt time.Time
}

// New builds a node from its configuration. The keyring starts with only
// our own key; peer keys are registered as peers join.
func New(cfg *config.Config) (*Node, error) {
	ident, err := identity.New(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("create node identity: %w", err)
	}
	keyring := identity.NewKeyring()
	keyring.Register(cfg.NodeID, ident.PublicKey())

	n := &Node{
		id:      cfg.NodeID,
		cfg:     cfg,
		ident:   ident,
		keyring: keyring,
		state:   crdt.NewAgentState(cfg.NodeID),
		lineage: dag.New(),
		beliefs: converge.NewBeliefManager(cfg.Convergence.Threshold),
		skills:  converge.NewSkillManager(),
		voting:  byzantine.NewVoting(cfg.NodeID, cfg.Consensus.TotalNodes),
		log:     logger.NewForNode(cfg.NodeID, "node"),
	}
	n.gossip = gossip.New(cfg.NodeID, cfg.Gossip, ident, keyring, identity.ContentHash, (*stateProvider)(n))

	n.gossip.RegisterHandler(gossip.TopicState, n.onRemoteState)
	n.gossip.RegisterHandler(gossip.TopicKnowledge, n.onRemoteKnowledge)
	n.gossip.RegisterHandler(gossip.TopicMemories, n.onRemoteMemories)
	n.gossip.RegisterHandler(gossip.TopicExperiences, n.onRemoteExperience)
	return n, nil
}

// ID returns the node id.
func (n *Node) ID() string {
	return n.id
}

// PublicKey exposes the verification key to share with peers.
func (n *Node) PublicKey() []byte {
	return n.ident.PublicKey()
}

// Gossip returns the node's gossip engine.
func (n *Node) Gossip() *gossip.Protocol {
	return n.gossip
}

// Voting returns the node's consensus manager.
func (n *Node) Voting() *byzantine.Voting {
	return n.voting
}

// Lineage returns the node's experience graph.
func (n *Node) Lineage() *dag.Graph {
	return n.lineage
}

// Beliefs returns the node's belief convergence manager.
func (n *Node) Beliefs() *converge.BeliefManager {
	return n.beliefs
}

// Skills returns the node's skill convergence manager.
func (n *Node) Skills() *converge.SkillManager {
	return n.skills
}

// Attach wires the message transport. Must be called before Start.
func (n *Node) Attach(tr transport.Transport) {
	n.gossip.Attach(tr)
}

// HandleInbound decodes one wire message and feeds it to the gossip
// engine. It is the transport's receive callback.
func (n *Node) HandleInbound(from string, data []byte) {
	var msg gossip.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		n.log.WithError(err).Debug("Undecodable message dropped")
		return
	}
	n.gossip.ReceiveGossip(context.Background(), &msg)
}

// Start launches the gossip loops and the periodic state broadcast.
func (n *Node) Start(ctx context.Context) error {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.running {
		return fmt.Errorf("node already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := n.gossip.Start(runCtx); err != nil {
		cancel()
		return err
	}
	n.cancel = cancel
	n.running = true
	n.startedAt = time.Now()

	n.wg.Add(1)
	go n.broadcastLoop(runCtx)

	n.log.Info("Node started successfully")
	return nil
}

// Stop shuts the node down and waits for its loops.
func (n *Node) Stop() error {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if !n.running {
		return nil
	}
	n.cancel()
	n.gossip.Stop()
	n.wg.Wait()
	n.running = false
	n.log.Info("Node stopped")
	return nil
}

// broadcastLoop pushes the full state snapshot on a gossip round cadence
// so peers converge even if individual mutation broadcasts were lost.
func (n *Node) broadcastLoop(ctx context.Context) {
	defer n.wg.Done()
	interval := n.cfg.Gossip.AntiEntropyInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.broadcastState()
		}
	}
}

func (n *Node) broadcastState() {
	snapshot, err := n.StateJSON()
	if err != nil {
		n.log.WithError(err).Warn("Failed to snapshot state")
		return
	}
	if _, err := n.gossip.SendGossip(gossip.KindPush, gossip.TopicState, snapshot); err != nil {
		n.log.WithError(err).Warn("Failed to broadcast state")
	}
}

// RegisterPeer adds a peer with its verification key.
func (n *Node) RegisterPeer(id, address string, publicKey []byte) {
	if len(publicKey) > 0 {
		n.keyring.Register(id, publicKey)
	}
	n.gossip.AddPeer(id, address)
}

// RemovePeer drops a peer and forgets its key.
func (n *Node) RemovePeer(id string) bool {
	n.keyring.Remove(id)
	return n.gossip.RemovePeer(id)
}

// State returns a deep copy of the replicated agent state.
func (n *Node) State() *crdt.AgentState {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Clone()
}

// StateJSON returns the serialized agent state.
func (n *Node) StateJSON() (json.RawMessage, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	data, err := json.Marshal(n.state)
	if err != nil {
		return nil, fmt.Errorf("encode agent state: %w", err)
	}
	return data, nil
}

// RecordMemory stores a memory locally, links it into the lineage graph,
// and gossips it to the swarm.
func (n *Node) RecordMemory(content string, parents []string) (crdt.Memory, error) {
	mem := crdt.Memory{
		ID:        uuid.NewString(),
		Content:   content,
		Source:    n.id,
		Timestamp: time.Now().UnixMilli(),
	}

	data, err := json.Marshal(mem)
	if err != nil {
		return crdt.Memory{}, fmt.Errorf("encode memory: %w", err)
	}
	// Lineage insertion goes first: a structural rejection (unknown
	// parent, cycle) must leave the replicated state untouched.
	if err := n.lineage.AddNode(mem.ID, data, parents, map[string]string{"agent": n.id, "kind": "memory"}); err != nil {
		return crdt.Memory{}, err
	}

	n.stateMu.Lock()
	n.state.AddMemory(mem)
	n.stateMu.Unlock()

	n.gossipExperience(mem.ID, data, parents)
	if _, err := n.gossip.SendGossip(gossip.KindPush, gossip.TopicMemories, data); err != nil {
		return crdt.Memory{}, err
	}
	return mem, nil
}

// ObserveSkill raises a skill level locally and gossips the whole skill
// map as part of state.
func (n *Node) ObserveSkill(name string, level float64) {
	n.stateMu.Lock()
	n.state.SetSkill(name, level)
	n.stateMu.Unlock()
	n.skills.Observe(name, level)
	n.broadcastState()
}

// AssertBelief records a belief with this node as its source.
func (n *Node) AssertBelief(id, content string, confidence float64) crdt.Belief {
	belief := crdt.Belief{
		ID:         id,
		Content:    content,
		Confidence: confidence,
		Source:     n.id,
		Timestamp:  time.Now().UnixMilli(),
	}
	n.stateMu.Lock()
	n.state.SetBelief(belief)
	n.stateMu.Unlock()
	n.beliefs.Assert(belief)
	n.broadcastState()
	return belief
}

// SetKnowledge records a fact and gossips it.
func (n *Node) SetKnowledge(key string, value json.RawMessage) error {
	entry := crdt.KnowledgeEntry{
		Value:     value,
		Source:    n.id,
		Timestamp: time.Now().UnixMilli(),
	}
	n.stateMu.Lock()
	n.state.SetKnowledge(key, entry)
	n.stateMu.Unlock()

	payload, err := json.Marshal(map[string]crdt.KnowledgeEntry{key: entry})
	if err != nil {
		return fmt.Errorf("encode knowledge: %w", err)
	}
	_, err = n.gossip.SendGossip(gossip.KindPush, gossip.TopicKnowledge, payload)
	return err
}

// experienceWire is the lineage event payload exchanged between nodes.
type experienceWire struct {
	ID       string            `json:"id"`
	Data     json.RawMessage   `json:"data"`
	Parents  []string          `json:"parents,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (n *Node) gossipExperience(id string, data json.RawMessage, parents []string) {
	wire := experienceWire{
		ID:       id,
		Data:     data,
		Parents:  parents,
		Metadata: map[string]string{"agent": n.id},
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		n.log.WithError(err).Warn("Failed to encode experience")
		return
	}
	if _, err := n.gossip.SendGossip(gossip.KindPush, gossip.TopicExperiences, payload); err != nil {
		n.log.WithError(err).Warn("Failed to gossip experience")
	}
}

// Propose opens a consensus round with this node's vote already cast.
func (n *Node) Propose(value json.RawMessage) (byzantine.ConsensusResult, error) {
	return n.voting.Propose(value)
}

// CastVote records another participant's vote for a round.
func (n *Node) CastVote(round uint64, nodeID string, value json.RawMessage) error {
	return n.voting.CastVote(round, byzantine.Vote{
		NodeID:    nodeID,
		Value:     value,
		Timestamp: time.Now(),
	})
}

// onRemoteState merges a peer's full agent state.
func (n *Node) onRemoteState(senderID string, data json.RawMessage) {
	var remote crdt.AgentState
	if err := json.Unmarshal(data, &remote); err != nil {
		n.log.WithError(err).WithField("sender", senderID).Debug("Bad state payload")
		return
	}
	n.stateMu.Lock()
	n.state.Merge(&remote)
	n.stateMu.Unlock()

	beliefs := make([]crdt.Belief, 0, len(remote.Beliefs))
	for _, b := range remote.Beliefs {
		beliefs = append(beliefs, b)
	}
	n.beliefs.MergeRemote(beliefs)
	n.skills.MergeRemote(remote.Skills)
}

// onRemoteKnowledge merges a batch of knowledge entries.
func (n *Node) onRemoteKnowledge(senderID string, data json.RawMessage) {
	var entries map[string]crdt.KnowledgeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		n.log.WithError(err).WithField("sender", senderID).Debug("Bad knowledge payload")
		return
	}
	n.stateMu.Lock()
	for key, entry := range entries {
		n.state.MergeKnowledge(key, entry)
	}
	n.stateMu.Unlock()
}

// onRemoteMemories merges a single gossiped memory.
func (n *Node) onRemoteMemories(senderID string, data json.RawMessage) {
	var mem crdt.Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		n.log.WithError(err).WithField("sender", senderID).Debug("Bad memory payload")
		return
	}
	n.stateMu.Lock()
	n.state.AddMemory(mem)
	n.stateMu.Unlock()
}

// onRemoteExperience inserts a peer's lineage event. Duplicates and
// events whose parents have not arrived yet are skipped quietly; the
// periodic state exchange eventually fills the gaps.
func (n *Node) onRemoteExperience(senderID string, data json.RawMessage) {
	var wire experienceWire
	if err := json.Unmarshal(data, &wire); err != nil {
		n.log.WithError(err).WithField("sender", senderID).Debug("Bad experience payload")
		return
	}
	if err := n.lineage.AddNode(wire.ID, wire.Data, wire.Parents, wire.Metadata); err != nil {
		n.log.WithError(err).WithField("sender", senderID).Debug("Experience not inserted")
	}
}

// Health reports the node's component status for the health endpoint.
func (n *Node) Health() map[string]interface{} {
	n.runMu.RLock()
	running := n.running
	startedAt := n.startedAt
	n.runMu.RUnlock()

	peers := n.gossip.Peers()
	activePeers := 0
	for _, p := range peers {
		if p.Status == gossip.PeerActive {
			activePeers++
		}
	}

	health := map[string]interface{}{
		"node_id":      n.id,
		"running":      running,
		"peers":        len(peers),
		"active_peers": activePeers,
		"lineage_size": n.lineage.Len(),
		"faults_seen":  len(n.gossip.Faults()),
	}
	if running {
		health["uptime"] = time.Since(startedAt).String()
	}
	return health
}

// stateProvider adapts the node to the gossip StateProvider interface
// without exporting those methods on Node itself.
type stateProvider Node

func (s *stateProvider) Snapshot() (json.RawMessage, error) {
	return (*Node)(s).StateJSON()
}

func (s *stateProvider) Digest() (string, error) {
	data, err := (*Node)(s).StateJSON()
	if err != nil {
		return "", err
	}
	return identity.ContentHash(data), nil
}

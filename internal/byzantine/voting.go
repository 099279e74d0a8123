package byzantine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/logger"
)

var (
	// ErrUnknownRound is returned for a round id never started.
	ErrUnknownRound = errors.New("byzantine: unknown round")

	// ErrConflictingVote is returned when a node votes twice with
	// different values in the same round.
	ErrConflictingVote = errors.New("byzantine: conflicting vote")

	// ErrTimeout is returned when a consensus wait is cancelled.
	ErrTimeout = errors.New("byzantine: consensus wait cancelled")
)

// Vote is one node's value for a consensus round.
type Vote struct {
	NodeID    string          `json:"nodeId"`
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	Signature []byte          `json:"signature,omitempty"`
}

// ConsensusResult is the externally visible outcome of a round. A round
// with Achieved false is a valid terminal state, not an error.
type ConsensusResult struct {
	Achieved   bool            `json:"achieved"`
	Value      json.RawMessage `json:"value,omitempty"`
	VoteCount  int             `json:"voteCount"`
	TotalNodes int             `json:"totalNodes"`
	Round      uint64          `json:"round"`
}

// Voting runs supermajority consensus rounds. A value wins a round once it
// collects RequiredVotes(totalNodes) votes; a node that sends two
// different values in one round is rejected as equivocating.
type Voting struct {
	mu           sync.RWMutex
	nodeID       string
	totalNodes   int
	currentRound uint64
	votes        map[uint64]map[string]Vote
	log          *logrus.Entry
}

// NewVoting creates a voting manager for a swarm of totalNodes members.
func NewVoting(nodeID string, totalNodes int) *Voting {
	return &Voting{
		nodeID:     nodeID,
		totalNodes: totalNodes,
		votes:      make(map[uint64]map[string]Vote),
		log:        logger.NewForNode(nodeID, "voting"),
	}
}

// TotalNodes returns the configured swarm size.
func (v *Voting) TotalNodes() int {
	return v.totalNodes
}

// StartRound opens a new round and returns its id.
func (v *Voting) StartRound() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currentRound++
	v.votes[v.currentRound] = make(map[string]Vote)
	v.log.WithField("round", v.currentRound).Info("Consensus round started")
	return v.currentRound
}

// CurrentRound returns the most recently started round id.
func (v *Voting) CurrentRound() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.currentRound
}

// CastVote records a vote. An identical duplicate is ignored; a different
// value from the same node is an equivocation and is rejected.
func (v *Voting) CastVote(round uint64, vote Vote) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	roundVotes, ok := v.votes[round]
	if !ok {
		return ErrUnknownRound
	}
	if existing, voted := roundVotes[vote.NodeID]; voted {
		if string(existing.Value) != string(vote.Value) {
			v.log.WithFields(logrus.Fields{
				"node":  vote.NodeID,
				"round": round,
			}).Warn("Conflicting vote rejected")
			return ErrConflictingVote
		}
		return nil
	}
	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now()
	}
	roundVotes[vote.NodeID] = vote
	v.log.WithFields(logrus.Fields{
		"node":  vote.NodeID,
		"round": round,
		"votes": len(roundVotes),
	}).Debug("Vote recorded")
	return nil
}

// CheckConsensus reports the current outcome of a round.
func (v *Voting) CheckConsensus(round uint64) (ConsensusResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	roundVotes, ok := v.votes[round]
	if !ok {
		return ConsensusResult{}, ErrUnknownRound
	}
	votes := make([]Vote, 0, len(roundVotes))
	for _, vote := range roundVotes {
		votes = append(votes, vote)
	}
	result := ConsensusResult{
		VoteCount:  len(votes),
		TotalNodes: v.totalNodes,
		Round:      round,
	}
	if winner := Agreement(votes, v.totalNodes); winner != nil {
		result.Achieved = true
		result.Value = winner
		count := 0
		for _, vote := range votes {
			if string(vote.Value) == string(winner) {
				count++
			}
		}
		result.VoteCount = count
	}
	return result, nil
}

// WaitForConsensus polls a round until it is achieved or the context is
// done.
func (v *Voting) WaitForConsensus(ctx context.Context, round uint64) (ConsensusResult, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ConsensusResult{}, ErrTimeout
		case <-ticker.C:
			result, err := v.CheckConsensus(round)
			if err != nil {
				return ConsensusResult{}, err
			}
			if result.Achieved {
				return result, nil
			}
		}
	}
}

// GetVotes returns the votes cast so far in a round.
func (v *Voting) GetVotes(round uint64) ([]Vote, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	roundVotes, ok := v.votes[round]
	if !ok {
		return nil, ErrUnknownRound
	}
	out := make([]Vote, 0, len(roundVotes))
	for _, vote := range roundVotes {
		out = append(out, vote)
	}
	return out, nil
}

// Propose opens a round and casts this node's own vote for value.
func (v *Voting) Propose(value json.RawMessage) (ConsensusResult, error) {
	round := v.StartRound()
	vote := Vote{NodeID: v.nodeID, Value: value, Timestamp: time.Now()}
	if err := v.CastVote(round, vote); err != nil {
		return ConsensusResult{}, err
	}
	return v.CheckConsensus(round)
}

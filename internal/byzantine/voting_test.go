package byzantine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVotingRoundLifecycle(t *testing.T) {
	v := NewVoting("n1", 4)

	round := v.StartRound()
	assert.Equal(t, uint64(1), round)
	assert.Equal(t, round, v.CurrentRound())

	require.NoError(t, v.CastVote(round, voteFor("n1", "commit")))
	require.NoError(t, v.CastVote(round, voteFor("n2", "commit")))

	result, err := v.CheckConsensus(round)
	require.NoError(t, err)
	assert.False(t, result.Achieved, "2 of 4 is below ceil(8/3)=3")
	assert.Equal(t, 2, result.VoteCount)
	assert.Equal(t, 4, result.TotalNodes)

	require.NoError(t, v.CastVote(round, voteFor("n3", "commit")))
	result, err = v.CheckConsensus(round)
	require.NoError(t, err)
	assert.True(t, result.Achieved)
	assert.Equal(t, json.RawMessage(`"commit"`), result.Value)
	assert.Equal(t, 3, result.VoteCount)
}

func TestVotingUnknownRound(t *testing.T) {
	v := NewVoting("n1", 4)
	assert.ErrorIs(t, v.CastVote(99, voteFor("n1", "x")), ErrUnknownRound)
	_, err := v.CheckConsensus(99)
	assert.ErrorIs(t, err, ErrUnknownRound)
	_, err = v.GetVotes(99)
	assert.ErrorIs(t, err, ErrUnknownRound)
}

func TestVotingRejectsEquivocation(t *testing.T) {
	v := NewVoting("n1", 4)
	round := v.StartRound()

	require.NoError(t, v.CastVote(round, voteFor("n2", "commit")))
	// Identical duplicate is ignored, not an error.
	require.NoError(t, v.CastVote(round, voteFor("n2", "commit")))
	// Different value from the same node is equivocation.
	assert.ErrorIs(t, v.CastVote(round, voteFor("n2", "abort")), ErrConflictingVote)

	votes, err := v.GetVotes(round)
	require.NoError(t, err)
	assert.Len(t, votes, 1)
}

func TestVotingMixedValuesNoConsensus(t *testing.T) {
	v := NewVoting("n1", 7)
	round := v.StartRound()

	for _, vote := range []Vote{
		voteFor("n1", "A"), voteFor("n2", "A"), voteFor("n3", "A"),
		voteFor("n4", "A"), voteFor("n5", "B"), voteFor("n6", "B"),
		voteFor("n7", "C"),
	} {
		require.NoError(t, v.CastVote(round, vote))
	}

	result, err := v.CheckConsensus(round)
	require.NoError(t, err)
	assert.False(t, result.Achieved)
	assert.Equal(t, 7, result.VoteCount)
}

func TestWaitForConsensusResolves(t *testing.T) {
	v := NewVoting("n1", 3)
	round := v.StartRound()
	require.NoError(t, v.CastVote(round, voteFor("n1", "go")))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = v.CastVote(round, voteFor("n2", "go"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := v.WaitForConsensus(ctx, round)
	require.NoError(t, err)
	assert.True(t, result.Achieved)
	assert.Equal(t, json.RawMessage(`"go"`), result.Value)
}

func TestWaitForConsensusTimesOut(t *testing.T) {
	v := NewVoting("n1", 3)
	round := v.StartRound()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := v.WaitForConsensus(ctx, round)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestProposeCastsOwnVote(t *testing.T) {
	v := NewVoting("n1", 3)
	result, err := v.Propose(json.RawMessage(`"plan-b"`))
	require.NoError(t, err)
	assert.False(t, result.Achieved)
	assert.Equal(t, 1, result.VoteCount)
	assert.Equal(t, uint64(1), result.Round)

	votes, err := v.GetVotes(result.Round)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "n1", votes[0].NodeID)
}

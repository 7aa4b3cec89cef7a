package debate

import (
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seats(ids ...string) []models.Participant {
	out := make([]models.Participant, len(ids))
	for i, id := range ids {
		out[i] = models.Participant{AgentID: id, Weight: 1}
	}
	return out
}

func TestInitiateRequiresMinimumSeats(t *testing.T) {
	e := NewEngine(Config{})
	_, err := e.Initiate("budget breach", seats("a", "b"), models.SimpleMajority, 0)
	assert.ErrorIs(t, err, ErrInsufficientParticipants)

	s, err := e.Initiate("budget breach", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DebateOpen, s.State)
	assert.Equal(t, 10*time.Minute, s.MaxDuration)
}

func TestInitiateDefaultsAlgorithm(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), "", 0)
	require.NoError(t, err)
	assert.Equal(t, models.SimpleMajority, s.Algorithm)
}

func TestArgumentsAreSequenced(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)

	require.NoError(t, e.SubmitArgument(s.ID, "a", "the budget was exceeded", []string{"trace://1"}, 0.9))
	require.NoError(t, e.SubmitArgument(s.ID, "b", "the overage was approved", nil, 0.7))

	got, err := e.Get(s.ID)
	require.NoError(t, err)
	require.Len(t, got.Arguments, 2)
	assert.Equal(t, int64(1), got.Arguments[0].Seq)
	assert.Equal(t, int64(2), got.Arguments[1].Seq)
	assert.Equal(t, "a", got.Arguments[0].AgentID)
}

func TestNonParticipantRejected(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)

	err = e.SubmitArgument(s.ID, "intruder", "claim", nil, 1)
	assert.ErrorIs(t, err, ErrNotParticipant)
	err = e.SubmitVote(s.ID, "intruder", "uphold", 1, "")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestVoteResubmissionOverwrites(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)

	require.NoError(t, e.SubmitVote(s.ID, "a", "uphold", 0.6, "first read"))
	require.NoError(t, e.SubmitVote(s.ID, "a", "dismiss", 0.9, "changed my mind"))
	require.NoError(t, e.SubmitVote(s.ID, "b", "dismiss", 0.8, ""))

	got, err := e.Get(s.ID)
	require.NoError(t, err)
	require.Len(t, got.Votes, 2)
	assert.Equal(t, "dismiss", got.Votes[0].Position)
	assert.Equal(t, 0.9, got.Votes[0].Confidence)
}

func TestConfidenceClamped(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)

	require.NoError(t, e.SubmitVote(s.ID, "a", "uphold", 1.7, ""))
	require.NoError(t, e.SubmitVote(s.ID, "b", "uphold", -0.3, ""))

	got, err := e.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Votes[0].Confidence)
	assert.Equal(t, 0.0, got.Votes[1].Confidence)
}

func TestFormConsensusFreezesVotes(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)

	require.NoError(t, e.SubmitVote(s.ID, "a", "uphold", 1, ""))
	require.NoError(t, e.SubmitVote(s.ID, "b", "uphold", 1, ""))

	result, err := e.FormConsensus(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "uphold", result.Outcome)
	assert.False(t, result.Forced)

	// The round is finalized; late submissions are rejected, not merged.
	err = e.SubmitVote(s.ID, "c", "dismiss", 1, "too late")
	assert.ErrorIs(t, err, ErrSessionClosed)
	err = e.SubmitArgument(s.ID, "c", "late claim", nil, 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = e.FormConsensus(s.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDeadlineRejectsSubmissions(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	err = e.SubmitVote(s.ID, "a", "uphold", 1, "")
	assert.ErrorIs(t, err, ErrDurationExceeded)

	expired, err := e.Expired(s.ID)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestForcedFinalizationPastDeadline(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, e.SubmitVote(s.ID, "a", "uphold", 1, ""))
	require.NoError(t, e.SubmitVote(s.ID, "b", "uphold", 1, ""))

	time.Sleep(60 * time.Millisecond)

	// Consensus still forms over the votes cast in time, flagged as forced.
	result, err := e.FormConsensus(s.ID)
	require.NoError(t, err)
	assert.True(t, result.Forced)
	assert.Equal(t, "uphold", result.Outcome)
}

func TestAbandon(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)

	require.NoError(t, e.Abandon(s.ID))

	got, err := e.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DebateAbandoned, got.State)

	err = e.Abandon(s.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = e.FormConsensus(s.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestUnknownSession(t *testing.T) {
	e := NewEngine(Config{})
	_, err := e.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	err = e.SubmitVote("nope", "a", "uphold", 1, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	e := NewEngine(Config{})
	s, err := e.Initiate("topic", seats("a", "b", "c"), models.SimpleMajority, 0)
	require.NoError(t, err)

	before, err := e.Get(s.ID)
	require.NoError(t, err)
	require.NoError(t, e.SubmitArgument(s.ID, "a", "claim", nil, 1))

	assert.Empty(t, before.Arguments)
}

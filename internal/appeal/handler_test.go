package appeal

import (
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitOpensLevelOne(t *testing.T) {
	h := NewHandler(0)
	a, err := h.Submit("sess-1", "agent-7", "new logs surfaced", map[string]interface{}{"log": "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, a.Level)
	assert.Equal(t, models.AppealPending, a.Outcome)
	require.Len(t, a.Reviews, 1)
	assert.Equal(t, models.SimpleMajority, a.Reviews[0].Algorithm)
	assert.Equal(t, models.AppealPending, a.Reviews[0].Outcome)
}

func TestEscalateRequiresTerminalLevel(t *testing.T) {
	h := NewHandler(3)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	_, err = h.Escalate(a.ID, "still unconvinced")
	assert.ErrorIs(t, err, ErrLevelOpen)

	_, err = h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)

	got, err := h.Escalate(a.ID, "still unconvinced")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Level)
	assert.Equal(t, models.WeightedVoting, got.Reviews[1].Algorithm)
}

func TestEscalationAlgorithmsPerLevel(t *testing.T) {
	h := NewHandler(3)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	_, err = h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)
	_, err = h.Escalate(a.ID, "to level 2")
	require.NoError(t, err)
	_, err = h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)
	got, err := h.Escalate(a.ID, "to level 3")
	require.NoError(t, err)

	require.Len(t, got.Reviews, 3)
	assert.Equal(t, models.SimpleMajority, got.Reviews[0].Algorithm)
	assert.Equal(t, models.WeightedVoting, got.Reviews[1].Algorithm)
	assert.Equal(t, models.Unanimous, got.Reviews[2].Algorithm)
}

func TestEscalatePastCap(t *testing.T) {
	h := NewHandler(1)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	// At maxLevel 1 the first level already uses the strictest algorithm.
	assert.Equal(t, models.Unanimous, a.Reviews[0].Algorithm)

	// Affirmed at the cap closes the appeal outright.
	got, err := h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)
	assert.Equal(t, models.AppealAffirmed, got.Outcome)

	_, err = h.Escalate(a.ID, "beyond the cap")
	assert.ErrorIs(t, err, ErrAppealClosed)
}

func TestEscalateAtCapStaysOpen(t *testing.T) {
	h := NewHandler(2)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	_, err = h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)
	_, err = h.Escalate(a.ID, "to the cap")
	require.NoError(t, err)
	_, err = h.ResolveLevel(a.ID, models.AppealEscalated)
	require.NoError(t, err)

	_, err = h.Escalate(a.ID, "one past the cap")
	assert.ErrorIs(t, err, ErrMaxLevelExceeded)
}

func TestAffirmedBelowCapLeavesAppealOpen(t *testing.T) {
	h := NewHandler(3)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	got, err := h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)
	// The level is terminal but the appeal is not; escalation remains possible.
	assert.Equal(t, models.AppealPending, got.Outcome)
	assert.Equal(t, models.AppealAffirmed, got.Reviews[0].Outcome)
	require.NotNil(t, got.Reviews[0].ClosedAt)
}

func TestOverturnedClosesAppeal(t *testing.T) {
	h := NewHandler(3)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	got, err := h.ResolveLevel(a.ID, models.AppealOverturned)
	require.NoError(t, err)
	assert.Equal(t, models.AppealOverturned, got.Outcome)

	_, err = h.ResolveLevel(a.ID, models.AppealAffirmed)
	assert.ErrorIs(t, err, ErrAppealClosed)
	_, err = h.Escalate(a.ID, "moot")
	assert.ErrorIs(t, err, ErrAppealClosed)
}

func TestAcceptClosesAffirmedLevel(t *testing.T) {
	h := NewHandler(3)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	// Accepting an open level is not allowed.
	_, err = h.Accept(a.ID)
	assert.ErrorIs(t, err, ErrLevelOpen)

	_, err = h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)

	got, err := h.Accept(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppealAffirmed, got.Outcome)

	_, err = h.Escalate(a.ID, "too late")
	assert.ErrorIs(t, err, ErrAppealClosed)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	h := NewHandler(3)
	a, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)

	before, err := h.Get(a.ID)
	require.NoError(t, err)

	_, err = h.ResolveLevel(a.ID, models.AppealAffirmed)
	require.NoError(t, err)

	// The earlier snapshot must not reflect the later resolution.
	assert.Equal(t, models.AppealPending, before.Reviews[0].Outcome)
}

func TestUnknownAppeal(t *testing.T) {
	h := NewHandler(0)
	_, err := h.Get("nope")
	assert.ErrorIs(t, err, ErrAppealNotFound)
	_, err = h.Escalate("nope", "reason")
	assert.ErrorIs(t, err, ErrAppealNotFound)
	_, err = h.ResolveLevel("nope", models.AppealAffirmed)
	assert.ErrorIs(t, err, ErrAppealNotFound)
}

func TestBySession(t *testing.T) {
	h := NewHandler(0)
	_, err := h.Submit("sess-1", "agent-7", "grounds", nil)
	require.NoError(t, err)
	_, err = h.Submit("sess-2", "agent-8", "grounds", nil)
	require.NoError(t, err)

	assert.Len(t, h.BySession("sess-1"), 1)
	assert.Empty(t, h.BySession("sess-3"))
}

func TestBySessionOrderedBySubmission(t *testing.T) {
	h := NewHandler(0)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Submit out of chronological order so map iteration cannot pass by luck.
	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		at := base.Add(offset)
		h.now = func() time.Time { return at }
		_, err := h.Submit("session-1", "agent-7", "contested", nil)
		require.NoError(t, err)
	}
	h.now = func() time.Time { return base }
	_, err := h.Submit("session-2", "agent-8", "other session", nil)
	require.NoError(t, err)

	out := h.BySession("session-1")
	require.Len(t, out, 3)
	assert.Equal(t, base, out[0].SubmittedAt)
	assert.Equal(t, base.Add(time.Hour), out[1].SubmittedAt)
	assert.Equal(t, base.Add(2*time.Hour), out[2].SubmittedAt)
}

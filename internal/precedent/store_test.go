package precedent

import (
	"testing"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verdict(id string, citations []string, reasoning ...string) models.Verdict {
	return models.Verdict{ID: id, RuleCitations: citations, Reasoning: reasoning}
}

func TestRecordAndGet(t *testing.T) {
	s := NewStore()
	p := s.Record(verdict("verdict-1", []string{"rule-a"}, "budget exceeded by 20%"), []string{"budget"})

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "verdict-1", got.VerdictID)
	assert.Equal(t, "budget exceeded by 20%", got.Summary)
	assert.Equal(t, []string{"rule-a"}, got.RuleIDs)
	assert.False(t, got.RecordedAt.IsZero())
}

func TestRecordNearDuplicateReturnsExisting(t *testing.T) {
	s := NewStore()
	first := s.Record(verdict("verdict-1", []string{"rule-a", "rule-b"}), []string{"budget", "safety"})
	// Same rules and tags in a different order is the same precedent.
	second := s.Record(verdict("verdict-2", []string{"rule-b", "rule-a"}), []string{"safety", "budget"})

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "verdict-1", second.VerdictID)

	// A different tag set is novel.
	third := s.Record(verdict("verdict-3", []string{"rule-a", "rule-b"}), []string{"budget"})
	assert.NotEqual(t, first.ID, third.ID)
}

func TestFindRanksByCitationsThenRecency(t *testing.T) {
	s := NewStore()
	old := s.Record(verdict("v1", []string{"rule-a"}), []string{"budget"})
	recent := s.Record(verdict("v2", []string{"rule-b"}), []string{"budget"})
	cited := s.Record(verdict("v3", []string{"rule-c"}), []string{"budget"})

	_, err := s.Cite(cited.ID)
	require.NoError(t, err)

	out := s.Find([]string{"budget"}, 0, 0)
	require.Len(t, out, 3)
	assert.Equal(t, cited.ID, out[0].ID)
	assert.Equal(t, recent.ID, out[1].ID)
	assert.Equal(t, old.ID, out[2].ID)
}

func TestFindFiltersByTagAndMinCitations(t *testing.T) {
	s := NewStore()
	budget := s.Record(verdict("v1", []string{"rule-a"}), []string{"budget"})
	s.Record(verdict("v2", []string{"rule-b"}), []string{"safety"})

	out := s.Find([]string{"budget"}, 0, 0)
	require.Len(t, out, 1)
	assert.Equal(t, budget.ID, out[0].ID)

	// Nothing has been cited yet.
	assert.Empty(t, s.Find([]string{"budget"}, 1, 0))

	_, err := s.Cite(budget.ID)
	require.NoError(t, err)
	assert.Len(t, s.Find([]string{"budget"}, 1, 0), 1)
}

func TestFindLimit(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Record(verdict("v", []string{string(rune('a' + i))}), []string{"budget"})
	}
	assert.Len(t, s.Find([]string{"budget"}, 0, 2), 2)
}

func TestTopSimilarRanksByOverlap(t *testing.T) {
	s := NewStore()
	exact := s.Record(verdict("v1", []string{"rule-a"}), []string{"budget", "tokens"})
	partial := s.Record(verdict("v2", []string{"rule-b"}), []string{"budget", "safety"})
	s.Record(verdict("v3", []string{"rule-c"}), []string{"privacy"})

	out := s.TopSimilar([]string{"budget", "tokens"}, 5)
	require.Len(t, out, 2)
	assert.Equal(t, exact.ID, out[0].ID)
	assert.Equal(t, partial.ID, out[1].ID)

	assert.Len(t, s.TopSimilar([]string{"budget", "tokens"}, 1), 1)
}

func TestCiteUnknownPrecedent(t *testing.T) {
	s := NewStore()
	_, err := s.Cite("nope")
	assert.ErrorIs(t, err, ErrPrecedentNotFound)
}

func TestCiteIncrements(t *testing.T) {
	s := NewStore()
	p := s.Record(verdict("v1", []string{"rule-a"}), []string{"budget"})

	got, err := s.Cite(p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CitationCount)

	got, err = s.Cite(p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CitationCount)
}

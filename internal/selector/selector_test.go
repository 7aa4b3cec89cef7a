package selector

import (
	"math"
	"testing"

	"github.com/arbiterhq/arbiter/governance-core/internal/registry"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplorationBonus(t *testing.T) {
	tests := []struct {
		name        string
		totalRouted int64
		taskCount   int64
		want        float64
	}{
		{"untested agent gets max bonus", 1000, 0, 1.0},
		{"untested agent regardless of total", 0, 0, 1.0},
		{"one task, no routing yet", 0, 1, 0},
		{"formula applies past zero", 99, 1, math.Sqrt(2 * math.Log(100) / 2)},
		{"bonus shrinks with history", 99, 49, math.Sqrt(2 * math.Log(100) / 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ExplorationBonus(tt.totalRouted, tt.taskCount), 1e-9)
		})
	}
}

func TestSelectPrefersUntestedAgent(t *testing.T) {
	reg := registry.New(0)
	mustRegister(t, reg, "veteran")
	mustRegister(t, reg, "rookie")

	// Veteran: perfect record over 20 tasks. Rookie: no history.
	for i := 0; i < 20; i++ {
		_, err := reg.RecordOutcome("veteran", models.OutcomeMetrics{Success: true})
		require.NoError(t, err)
	}

	s := New(reg)
	// Early on, the rookie's 0.8 seed + 1.0 bonus beats 1.0 + small bonus.
	res, err := s.Select(models.RoutingQuery{TaskType: "codegen"})
	require.NoError(t, err)
	assert.Equal(t, "rookie", res.AgentID)
	assert.Equal(t, 1.0, res.Exploration)
	assert.Equal(t, int64(1), s.TotalRouted())
}

func TestSelectDeterministicTieBreak(t *testing.T) {
	reg := registry.New(0)
	mustRegister(t, reg, "bravo")
	mustRegister(t, reg, "alpha")

	s := New(reg)
	// Identical seeds, identical (zero) history: tie on score and
	// utilization falls through to lexicographic id.
	res, err := s.Select(models.RoutingQuery{TaskType: "codegen"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.AgentID)

	// Same registry state and the counter only moved forward; the choice
	// must not flip.
	res2, err := s.Select(models.RoutingQuery{TaskType: "codegen"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", res2.AgentID)
}

func TestSelectTieBreakOnUtilization(t *testing.T) {
	reg := registry.New(0)
	mustRegister(t, reg, "alpha")
	mustRegister(t, reg, "zulu")

	_, err := reg.UpdateLoad("alpha", 4, 0)
	require.NoError(t, err)

	s := New(reg)
	res, err := s.Select(models.RoutingQuery{TaskType: "codegen"})
	require.NoError(t, err)
	assert.Equal(t, "zulu", res.AgentID)
}

func TestSelectNoCandidates(t *testing.T) {
	reg := registry.New(0)
	s := New(reg)
	_, err := s.Select(models.RoutingQuery{TaskType: "codegen"})
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Equal(t, int64(0), s.TotalRouted(), "failed routes must not advance the counter")
}

func TestSelectJustificationNamesAgent(t *testing.T) {
	reg := registry.New(0)
	mustRegister(t, reg, "alpha")

	s := New(reg)
	res, err := s.Select(models.RoutingQuery{TaskType: "codegen"})
	require.NoError(t, err)
	assert.Contains(t, res.Justification, "alpha")
}

func mustRegister(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	_, err := reg.Register(id, models.AgentCapabilities{TaskTypes: []string{"codegen"}})
	require.NoError(t, err)
}

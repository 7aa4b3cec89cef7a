package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSeedsOptimisticRate(t *testing.T) {
	r := New(0)
	rec, err := r.Register("agent-a", models.AgentCapabilities{TaskTypes: []string{"codegen"}})
	require.NoError(t, err)
	assert.Equal(t, OptimisticSuccessRate, rec.Performance.SuccessRate)
	assert.Equal(t, int64(0), rec.Performance.TaskCount)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New(0)
	_, err := r.Register("agent-a", models.AgentCapabilities{})
	require.NoError(t, err)
	_, err = r.Register("agent-a", models.AgentCapabilities{})
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestRegisterCapacity(t *testing.T) {
	r := New(2)
	_, err := r.Register("a", models.AgentCapabilities{})
	require.NoError(t, err)
	_, err = r.Register("b", models.AgentCapabilities{})
	require.NoError(t, err)
	_, err = r.Register("c", models.AgentCapabilities{})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestFirstOutcomeReplacesSeed(t *testing.T) {
	r := New(0)
	_, err := r.Register("agent-a", models.AgentCapabilities{})
	require.NoError(t, err)

	// A failed first task must drop the rate to exactly 0, not blend with
	// the optimistic seed.
	rec, err := r.RecordOutcome("agent-a", models.OutcomeMetrics{Success: false, QualityScore: 0.4, LatencyMs: 120})
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Performance.SuccessRate)
	assert.Equal(t, 0.4, rec.Performance.AvgQuality)
	assert.Equal(t, 120.0, rec.Performance.AvgLatency)
	assert.Equal(t, int64(1), rec.Performance.TaskCount)
}

func TestIncrementalAverageIsTrueMean(t *testing.T) {
	r := New(0)
	_, err := r.Register("agent-a", models.AgentCapabilities{})
	require.NoError(t, err)

	// 10 successes then 10 failures: rate must land on exactly 0.5.
	var rec models.AgentRecord
	for i := 0; i < 10; i++ {
		rec, err = r.RecordOutcome("agent-a", models.OutcomeMetrics{Success: true, QualityScore: 1})
		require.NoError(t, err)
	}
	assert.InDelta(t, 1.0, rec.Performance.SuccessRate, 1e-9)

	for i := 0; i < 10; i++ {
		rec, err = r.RecordOutcome("agent-a", models.OutcomeMetrics{Success: false})
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.5, rec.Performance.SuccessRate, 1e-9)
	assert.Equal(t, int64(20), rec.Performance.TaskCount)
}

func TestRecordOutcomeConcurrent(t *testing.T) {
	r := New(0)
	_, err := r.Register("agent-a", models.AgentCapabilities{})
	require.NoError(t, err)

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := r.RecordOutcome("agent-a", models.OutcomeMetrics{Success: true})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	rec, err := r.Get("agent-a")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), rec.Performance.TaskCount)
	assert.InDelta(t, 1.0, rec.Performance.SuccessRate, 1e-9)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	r := New(0)
	before, err := r.Register("agent-a", models.AgentCapabilities{})
	require.NoError(t, err)

	_, err = r.RecordOutcome("agent-a", models.OutcomeMetrics{Success: false})
	require.NoError(t, err)

	// The earlier snapshot must not see the update.
	assert.Equal(t, OptimisticSuccessRate, before.Performance.SuccessRate)
}

func TestQueryFiltersAndRanks(t *testing.T) {
	r := New(0)
	mustRegister(t, r, "steady", models.AgentCapabilities{TaskTypes: []string{"codegen"}, Languages: []string{"go", "rust"}})
	mustRegister(t, r, "novice", models.AgentCapabilities{TaskTypes: []string{"codegen"}, Languages: []string{"go"}})
	mustRegister(t, r, "other", models.AgentCapabilities{TaskTypes: []string{"review"}})

	// Give steady a long, strong history.
	for i := 0; i < 9; i++ {
		_, err := r.RecordOutcome("steady", models.OutcomeMetrics{Success: true, QualityScore: 0.9})
		require.NoError(t, err)
	}
	_, err := r.RecordOutcome("steady", models.OutcomeMetrics{Success: false})
	require.NoError(t, err)

	got := r.Query(models.RoutingQuery{TaskType: "codegen", Languages: []string{"go"}})
	require.Len(t, got, 2)
	// steady: 0.9 actual vs novice: 0.8 optimistic seed
	assert.Equal(t, "steady", got[0].Agent.ID)
	assert.Equal(t, "novice", got[1].Agent.ID)
	assert.Greater(t, got[0].MatchScore, 0.0)

	min := 0.85
	filtered := r.Query(models.RoutingQuery{TaskType: "codegen", MinSuccessRate: &min})
	require.Len(t, filtered, 1)
	assert.Equal(t, "steady", filtered[0].Agent.ID)
}

func TestQueryTieBreaksOnUtilization(t *testing.T) {
	r := New(0)
	mustRegister(t, r, "busy", models.AgentCapabilities{TaskTypes: []string{"codegen"}})
	mustRegister(t, r, "idle", models.AgentCapabilities{TaskTypes: []string{"codegen"}})

	_, err := r.UpdateLoad("busy", 5, 2)
	require.NoError(t, err)

	got := r.Query(models.RoutingQuery{TaskType: "codegen"})
	require.Len(t, got, 2)
	assert.Equal(t, "idle", got[0].Agent.ID)
}

func TestUpdateLoadClampsAndComputesUtilization(t *testing.T) {
	r := New(0)
	mustRegister(t, r, "a", models.AgentCapabilities{})

	rec, err := r.UpdateLoad("a", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Load.ActiveTasks)
	assert.Equal(t, 2, rec.Load.QueuedTasks)
	assert.InDelta(t, 50.0, rec.Load.UtilizationPct, 1e-9)

	rec, err = r.UpdateLoad("a", -10, -10)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Load.ActiveTasks)
	assert.Equal(t, 0, rec.Load.QueuedTasks)

	_, err = r.UpdateLoad("ghost", 1, 0)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestArchiveStale(t *testing.T) {
	now := time.Now().UTC()
	clock := now
	r := New(0, WithClock(func() time.Time { return clock }))

	mustRegister(t, r, "old", models.AgentCapabilities{TaskTypes: []string{"codegen"}})
	clock = now.Add(48 * time.Hour)
	mustRegister(t, r, "fresh", models.AgentCapabilities{TaskTypes: []string{"codegen"}})

	archived := r.ArchiveStale(24 * time.Hour)
	assert.Equal(t, []string{"old"}, archived)

	// Archived agents drop out of queries but remain fetchable.
	got := r.Query(models.RoutingQuery{TaskType: "codegen"})
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Agent.ID)

	rec, err := r.Get("old")
	require.NoError(t, err)
	assert.True(t, rec.Archived)
}

func mustRegister(t *testing.T, r *Registry, id string, caps models.AgentCapabilities) {
	t.Helper()
	_, err := r.Register(id, caps)
	require.NoError(t, err)
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	r := New(0)
	_, err := r.Register("", models.AgentCapabilities{TaskTypes: []string{"codegen"}})
	assert.ErrorIs(t, err, ErrInvalidAgent)
	assert.NotErrorIs(t, err, ErrAgentNotFound)
}

package retention

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/internal/store"
	"github.com/arbiterhq/arbiter/governance-core/internal/waiver"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingArchive rejects every session write, simulating a broken archive.
type failingArchive struct {
	store.Archiver
}

func (f *failingArchive) ArchiveSession(context.Context, *models.ArbitrationSession) error {
	return errors.New("disk full")
}

func closedSession(id string, closedAgo time.Duration) *models.ArbitrationSession {
	closedAt := time.Now().UTC().Add(-closedAgo)
	return &models.ArbitrationSession{
		ID:        id,
		Violation: models.Violation{ID: "violation-" + id},
		State:     models.SessionClosed,
		OpenedAt:  closedAt.Add(-time.Minute),
		ClosedAt:  &closedAt,
	}
}

func newHotStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	hot := store.NewMemoryStore()
	t.Cleanup(func() { hot.Close() })
	return hot
}

func newArchive(t *testing.T) *store.SQLiteArchive {
	t.Helper()
	a, err := store.NewSQLiteArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSweepArchivesAndPurgesExpiredSessions(t *testing.T) {
	hot := newHotStore(t)
	archive := newArchive(t)
	ctx := context.Background()

	require.NoError(t, hot.CreateSession(ctx, closedSession("old", 48*time.Hour)))
	require.NoError(t, hot.CreateSession(ctx, closedSession("fresh", time.Hour)))

	live := &models.ArbitrationSession{ID: "live", State: models.SessionOpened}
	require.NoError(t, hot.CreateSession(ctx, live))

	j := NewJanitor(hot, archive, nil, nil, nil, time.Minute, 24*time.Hour, 0)
	stats := j.RunCycle(ctx)

	assert.Equal(t, 1, stats.SessionsArchived)
	assert.Equal(t, 1, stats.SessionsPurged)
	assert.Empty(t, stats.Errors)

	// The expired session is gone from the hot store but lives in the archive.
	_, err := hot.GetSession(ctx, "old")
	var nf *store.ErrNotFound
	assert.ErrorAs(t, err, &nf)

	// The recently closed and the live session stay put.
	_, err = hot.GetSession(ctx, "fresh")
	assert.NoError(t, err)
	_, err = hot.GetSession(ctx, "live")
	assert.NoError(t, err)

	// A second cycle has nothing left to do.
	stats = j.RunCycle(ctx)
	assert.Zero(t, stats.SessionsArchived)
}

func TestSweepCoversCancelledSessions(t *testing.T) {
	hot := newHotStore(t)
	archive := newArchive(t)
	ctx := context.Background()

	s := closedSession("cancelled", 48*time.Hour)
	s.State = models.SessionCancelled
	require.NoError(t, hot.CreateSession(ctx, s))

	j := NewJanitor(hot, archive, nil, nil, nil, time.Minute, 24*time.Hour, 0)
	stats := j.RunCycle(ctx)
	assert.Equal(t, 1, stats.SessionsPurged)
}

func TestFailedArchiveKeepsSessionInHotStore(t *testing.T) {
	hot := newHotStore(t)
	ctx := context.Background()

	require.NoError(t, hot.CreateSession(ctx, closedSession("old", 48*time.Hour)))

	j := NewJanitor(hot, &failingArchive{}, nil, nil, nil, time.Minute, 24*time.Hour, 0)
	stats := j.RunCycle(ctx)

	assert.Zero(t, stats.SessionsArchived)
	assert.Zero(t, stats.SessionsPurged)
	assert.Len(t, stats.Errors, 1)

	// Fail-safe: the session waits for the next cycle.
	_, err := hot.GetSession(ctx, "old")
	assert.NoError(t, err)
}

func TestNoArchiveMeansNoPurge(t *testing.T) {
	hot := newHotStore(t)
	ctx := context.Background()

	require.NoError(t, hot.CreateSession(ctx, closedSession("old", 48*time.Hour)))

	j := NewJanitor(hot, nil, nil, nil, nil, time.Minute, 24*time.Hour, 0)
	stats := j.RunCycle(ctx)

	assert.Zero(t, stats.SessionsPurged)
	_, err := hot.GetSession(ctx, "old")
	assert.NoError(t, err)
}

func TestCycleReconcilesWaivers(t *testing.T) {
	hot := newHotStore(t)
	now := time.Now()
	waivers := waiver.NewManager(0, waiver.WithClock(func() time.Time { return now }))

	dec, err := waivers.Request("rule-a", "agent-1", "ops", "window", nil, time.Minute)
	require.NoError(t, err)
	_, err = waivers.Approve(dec.WaiverID, "lead")
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)

	j := NewJanitor(hot, nil, nil, waivers, nil, time.Minute, 0, 0)
	stats := j.RunCycle(context.Background())
	assert.Equal(t, 1, stats.WaiversExpired)
}

// stubFinalizer stands in for the orchestrator's expired-debate sweep.
type stubFinalizer struct {
	swept []string
	calls int
}

func (f *stubFinalizer) SweepExpiredDebates(context.Context) []string {
	f.calls++
	return f.swept
}

func TestRunCycleFinalizesExpiredDebates(t *testing.T) {
	hot := newHotStore(t)
	fin := &stubFinalizer{swept: []string{"session-1", "session-2"}}

	j := NewJanitor(hot, nil, nil, nil, fin, time.Minute, 0, 0)
	stats := j.RunCycle(context.Background())

	assert.Equal(t, 1, fin.calls)
	assert.Equal(t, 2, stats.DebatesFinalized)
}

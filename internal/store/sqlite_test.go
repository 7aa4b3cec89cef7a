package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "archive", "governance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveAndFetchVerdict(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()

	v := &models.Verdict{
		ID:            "verdict-1",
		SessionID:     "sess-1",
		Outcome:       models.VerdictUpheld,
		RuleCitations: []string{"rule-a@1"},
		Confidence:    0.9,
		IssuedAt:      time.Now().UTC(),
	}
	v.Signature = v.ContentHash()
	require.NoError(t, a.ArchiveVerdict(ctx, v))

	got, err := a.FetchVerdict(ctx, "verdict-1")
	require.NoError(t, err)
	assert.Equal(t, v.Outcome, got.Outcome)
	assert.Equal(t, v.Signature, got.Signature)

	byHash, err := a.FetchVerdictByHash(ctx, v.Signature)
	require.NoError(t, err)
	assert.Equal(t, "verdict-1", byHash.ID)
}

func TestArchiveVerdictIdempotent(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()

	v := &models.Verdict{ID: "verdict-1", SessionID: "sess-1", IssuedAt: time.Now()}
	v.Signature = v.ContentHash()
	require.NoError(t, a.ArchiveVerdict(ctx, v))
	require.NoError(t, a.ArchiveVerdict(ctx, v))

	got, err := a.FetchVerdict(ctx, "verdict-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestFetchVerdictNotFound(t *testing.T) {
	a := newArchive(t)

	_, err := a.FetchVerdict(context.Background(), "ghost")
	var nf *ErrNotFound
	assert.ErrorAs(t, err, &nf)

	_, err = a.FetchVerdictByHash(context.Background(), "deadbeef")
	assert.ErrorAs(t, err, &nf)
}

func TestArchiveSessionAndPrecedent(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()

	closedAt := time.Now().UTC()
	s := &models.ArbitrationSession{
		ID:        "sess-1",
		Violation: models.Violation{ID: "v1"},
		State:     models.SessionClosed,
		ClosedAt:  &closedAt,
	}
	require.NoError(t, a.ArchiveSession(ctx, s))
	require.NoError(t, a.ArchiveSession(ctx, s)) // idempotent

	p := &models.Precedent{
		ID:         "prec-1",
		VerdictID:  "verdict-1",
		RuleIDs:    []string{"rule-a", "rule-b"},
		RecordedAt: time.Now().UTC(),
	}
	require.NoError(t, a.ArchivePrecedent(ctx, p))
}

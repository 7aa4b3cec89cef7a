// Package retention implements the background janitor of the governance
// core. It periodically archives closed arbitration sessions out of the hot
// store, reconciles waiver expiry, archives agents idle past their TTL, and
// forcibly finalizes debates that outlived their deadline.
//
// Archive failures are fail-safe: a session is NOT deleted from the hot
// store if its archival fails.
package retention

import (
	"context"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/internal/registry"
	"github.com/arbiterhq/arbiter/governance-core/internal/store"
	"github.com/arbiterhq/arbiter/governance-core/internal/waiver"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is how often the janitor sweeps.
const DefaultInterval = 10 * time.Minute

// DebateFinalizer forcibly completes debates whose deadline has elapsed.
// Implemented by the arbitration orchestrator.
type DebateFinalizer interface {
	SweepExpiredDebates(ctx context.Context) []string
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	SessionsArchived int
	SessionsPurged   int
	WaiversExpired   int
	AgentsArchived   int
	DebatesFinalized int
	Errors           []error
}

// Janitor periodically sweeps expired governance state.
type Janitor struct {
	store    store.Store
	archive  store.Archiver // nil = sessions stay in the hot store
	registry *registry.Registry
	waivers  *waiver.Manager
	debates  DebateFinalizer // nil = expired debates are not swept

	interval time.Duration
	window   time.Duration // retention window for closed sessions
	agentTTL time.Duration
}

// NewJanitor creates a retention janitor that runs on the given interval.
func NewJanitor(s store.Store, archive store.Archiver, reg *registry.Registry, waivers *waiver.Manager, debates DebateFinalizer, interval, window, agentTTL time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Janitor{
		store:    s,
		archive:  archive,
		registry: reg,
		waivers:  waivers,
		debates:  debates,
		interval: interval,
		window:   window,
		agentTTL: agentTTL,
	}
}

// Start runs the janitor in a background goroutine. It blocks until ctx is
// canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("retention_window", j.window).
		Dur("agent_ttl", j.agentTTL).
		Bool("archive", j.archive != nil).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	if j.waivers != nil {
		stats.WaiversExpired = j.waivers.Reconcile()
	}
	if j.registry != nil && j.agentTTL > 0 {
		stats.AgentsArchived = len(j.registry.ArchiveStale(j.agentTTL))
	}
	if j.debates != nil {
		stats.DebatesFinalized = len(j.debates.SweepExpiredDebates(ctx))
	}
	j.sweepSessions(ctx, &stats)

	log.Info().
		Int("sessions_archived", stats.SessionsArchived).
		Int("sessions_purged", stats.SessionsPurged).
		Int("waivers_expired", stats.WaiversExpired).
		Int("agents_archived", stats.AgentsArchived).
		Int("debates_finalized", stats.DebatesFinalized).
		Int("errors", len(stats.Errors)).
		Dur("took", time.Since(start)).
		Msg("Retention cycle complete")
	return stats
}

// sweepSessions moves terminal sessions past the retention window into the
// archive, then purges them from the hot store. A failed archive write
// leaves the session in place for the next cycle.
func (j *Janitor) sweepSessions(ctx context.Context, stats *CycleStats) {
	if j.window <= 0 || j.archive == nil {
		return
	}
	cutoff := time.Now().UTC().Add(-j.window)

	for _, state := range []models.SessionState{models.SessionClosed, models.SessionCancelled} {
		sessions, err := j.store.ListSessions(ctx, state, 0)
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			log.Warn().Err(err).Msg("Retention janitor: failed to list sessions")
			continue
		}
		for i := range sessions {
			s := sessions[i]
			if s.ClosedAt == nil || s.ClosedAt.After(cutoff) {
				continue
			}
			if err := j.archive.ArchiveSession(ctx, &s); err != nil {
				stats.Errors = append(stats.Errors, err)
				log.Warn().Err(err).Str("session", s.ID).Msg("Session archival failed, keeping in hot store")
				continue
			}
			stats.SessionsArchived++
			if err := j.store.DeleteSession(ctx, s.ID); err != nil {
				stats.Errors = append(stats.Errors, err)
				continue
			}
			stats.SessionsPurged++
		}
	}
}

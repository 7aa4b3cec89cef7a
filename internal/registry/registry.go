// Package registry implements the agent registry: a catalog of agents with
// declared capabilities and running performance statistics.
//
// Records are versioned and replaced copy-on-write under a per-agent lock,
// so concurrent outcome recording for different agents never contends and
// readers always see a consistent snapshot. There is deliberately no global
// write lock around outcome recording — only the index map itself is guarded,
// briefly, during registration and lookup.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Errors ──────────────────────────────────────────────────

var (
	// ErrDuplicateAgent is returned when the agent id is already registered.
	ErrDuplicateAgent = errors.New("registry: duplicate agent")
	// ErrAgentNotFound is returned for operations on unknown agents.
	ErrAgentNotFound = errors.New("registry: agent not found")
	// ErrCapacityExceeded is returned when the registry is at its configured max.
	ErrCapacityExceeded = errors.New("registry: capacity exceeded")
	// ErrInvalidAgent is returned when a registration is malformed.
	ErrInvalidAgent = errors.New("registry: invalid agent")
)

// OptimisticSuccessRate seeds new agents so the selector explores them.
const OptimisticSuccessRate = 0.8

// Match-score weights. Renormalized over the criteria a query supplies.
const (
	weightTaskType       = 0.3
	weightLanguages      = 0.3
	weightSpecialization = 0.2
	weightSuccessRate    = 0.2
)

// entry is one slot in the agent arena. The record pointer is replaced
// wholesale on write; it is never mutated in place.
type entry struct {
	mu     sync.Mutex // serializes writes for this agent only
	record *models.AgentRecord
}

// Registry is the shared agent catalog.
type Registry struct {
	mu        sync.RWMutex // guards the index map, not the records
	agents    map[string]*entry
	maxAgents int
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry capped at maxAgents (0 = unbounded).
func New(maxAgents int, opts ...Option) *Registry {
	r := &Registry{
		agents:    make(map[string]*entry),
		maxAgents: maxAgents,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a new agent and returns its initial snapshot.
// New agents start with an optimistic success rate so the selector gives
// them a fair shot before real history accumulates.
func (r *Registry) Register(id string, caps models.AgentCapabilities) (models.AgentRecord, error) {
	if id == "" {
		return models.AgentRecord{}, fmt.Errorf("%w: empty id", ErrInvalidAgent)
	}

	now := r.now().UTC()
	rec := &models.AgentRecord{
		ID:           id,
		Capabilities: caps,
		Performance: models.PerformanceHistory{
			SuccessRate: OptimisticSuccessRate,
		},
		RegisteredAt: now,
		LastActive:   now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return models.AgentRecord{}, fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}
	if r.maxAgents > 0 && len(r.agents) >= r.maxAgents {
		return models.AgentRecord{}, fmt.Errorf("%w: max %d agents", ErrCapacityExceeded, r.maxAgents)
	}
	r.agents[id] = &entry{record: rec}

	log.Info().
		Str("agent", id).
		Strs("task_types", caps.TaskTypes).
		Msg("Agent registered")

	return *rec, nil
}

// Get returns a snapshot of one agent.
func (r *Registry) Get(id string) (models.AgentRecord, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.AgentRecord{}, err
	}
	e.mu.Lock()
	snap := *e.record
	e.mu.Unlock()
	return snap, nil
}

// List returns snapshots of all non-archived agents.
func (r *Registry) List() []models.AgentRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.AgentRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rec := *e.record
		e.mu.Unlock()
		if !rec.Archived {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query filters agents by the mandatory task type plus optional criteria and
// returns ranked candidates: sorted by success rate descending, ties broken
// by lower current utilization.
func (r *Registry) Query(q models.RoutingQuery) []models.RoutingCandidate {
	var out []models.RoutingCandidate
	for _, rec := range r.List() {
		if !models.ContainsFold(rec.Capabilities.TaskTypes, q.TaskType) {
			continue
		}
		if q.MaxUtilization != nil && rec.Load.UtilizationPct > *q.MaxUtilization {
			continue
		}
		if q.MinSuccessRate != nil && rec.Performance.SuccessRate < *q.MinSuccessRate {
			continue
		}
		score, why := matchScore(rec, q)
		out = append(out, models.RoutingCandidate{
			Agent:         rec,
			MatchScore:    score,
			Justification: why,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Agent, out[j].Agent
		if a.Performance.SuccessRate != b.Performance.SuccessRate {
			return a.Performance.SuccessRate > b.Performance.SuccessRate
		}
		return a.Load.UtilizationPct < b.Load.UtilizationPct
	})
	return out
}

// matchScore blends task-type match, language overlap, specialization
// overlap, and success rate, renormalizing weights over only the criteria
// the query actually supplied.
func matchScore(rec models.AgentRecord, q models.RoutingQuery) (float64, string) {
	type component struct {
		name   string
		weight float64
		value  float64
	}

	comps := []component{
		{"task type", weightTaskType, 1.0}, // candidate already matched the mandatory type
		{"success rate", weightSuccessRate, rec.Performance.SuccessRate},
	}
	if len(q.Languages) > 0 {
		comps = append(comps, component{
			"language overlap", weightLanguages,
			models.OverlapFraction(rec.Capabilities.Languages, q.Languages),
		})
	}
	if len(q.Specializations) > 0 {
		comps = append(comps, component{
			"specialization overlap", weightSpecialization,
			models.OverlapFraction(rec.Capabilities.Specializations, q.Specializations),
		})
	}

	var total, score float64
	for _, c := range comps {
		total += c.weight
	}
	why := fmt.Sprintf("%s matches %q", rec.ID, q.TaskType)
	for _, c := range comps {
		score += (c.weight / total) * c.value
		if c.name != "task type" {
			why += fmt.Sprintf("; %s %.2f", c.name, c.value)
		}
	}
	return score, why
}

// RecordOutcome folds a completion event into the agent's running averages
// using the incremental-average update, atomically per agent. The resulting
// success rate is the exact arithmetic mean of the boolean outcomes supplied.
func (r *Registry) RecordOutcome(id string, m models.OutcomeMetrics) (models.AgentRecord, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.AgentRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.record
	count := old.Performance.TaskCount

	success := 0.0
	if m.Success {
		success = 1.0
	}
	// At count 0 the formula collapses to the reported value, so the first
	// real outcome cleanly replaces the optimistic registration seed and the
	// rate stays the true mean of reported outcomes thereafter.
	perf := old.Performance
	perf.SuccessRate = incAvg(perf.SuccessRate, success, count)
	perf.AvgQuality = incAvg(perf.AvgQuality, m.QualityScore, count)
	perf.AvgLatency = incAvg(perf.AvgLatency, m.LatencyMs, count)
	perf.TaskCount = count + 1

	updated := *old
	updated.Performance = perf
	updated.LastActive = r.now().UTC()
	e.record = &updated

	return updated, nil
}

// incAvg applies newAvg = oldAvg + (value - oldAvg) / (count + 1).
func incAvg(oldAvg, value float64, count int64) float64 {
	return oldAvg + (value-oldAvg)/float64(count+1)
}

// UpdateLoad adjusts active/queued task counts and recomputes utilization.
func (r *Registry) UpdateLoad(id string, activeDelta, queuedDelta int) (models.AgentRecord, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.AgentRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := *e.record
	updated.Load.ActiveTasks = max(0, updated.Load.ActiveTasks+activeDelta)
	updated.Load.QueuedTasks = max(0, updated.Load.QueuedTasks+queuedDelta)
	updated.Load.UtilizationPct = utilization(updated.Load)
	updated.LastActive = r.now().UTC()
	e.record = &updated

	return updated, nil
}

// Archive marks an agent stale. Archived agents are excluded from queries
// but retained for audit; archiving is idempotent.
func (r *Registry) Archive(id string) (models.AgentRecord, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.AgentRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := *e.record
	updated.Archived = true
	e.record = &updated
	return updated, nil
}

// ArchiveStale archives every agent idle past ttl and returns their ids.
func (r *Registry) ArchiveStale(ttl time.Duration) []string {
	cutoff := r.now().UTC().Add(-ttl)
	var archived []string
	for _, rec := range r.List() {
		if rec.LastActive.Before(cutoff) {
			if _, err := r.Archive(rec.ID); err == nil {
				archived = append(archived, rec.ID)
			}
		}
	}
	if len(archived) > 0 {
		log.Info().Strs("agents", archived).Msg("Archived stale agents")
	}
	return archived
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return e, nil
}

// utilization derives a 0–100 percentage from load counts. Ten concurrent
// tasks is treated as saturation.
func utilization(l models.CurrentLoad) float64 {
	const saturation = 10.0
	pct := float64(l.ActiveTasks+l.QueuedTasks) / saturation * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

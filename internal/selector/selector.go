// Package selector implements the multi-armed bandit router that picks an
// agent for a task using an upper-confidence-bound score: known performance
// plus an exploration bonus that shrinks as an agent accumulates history.
package selector

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/arbiterhq/arbiter/governance-core/internal/registry"
	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrNoCandidates is returned when no registered agent matches the query's
// mandatory task type. Routing fails fast rather than picking a fallback —
// a bad choice is cheaply retried upstream, a silent one is not.
var ErrNoCandidates = errors.New("selector: no candidates for task type")

// Selector routes tasks over registry candidates.
//
// totalRouted is the only shared mutable state: a process-wide monotonic
// counter incremented once per routing decision, updated atomically.
type Selector struct {
	reg         *registry.Registry
	totalRouted atomic.Int64
}

// New creates a selector over the given registry.
func New(reg *registry.Registry) *Selector {
	return &Selector{reg: reg}
}

// TotalRouted reports how many routing decisions have been made.
func (s *Selector) TotalRouted() int64 {
	return s.totalRouted.Load()
}

// Select picks the best agent for the query. Deterministic given identical
// registry state and counter value: ties on score prefer lower utilization,
// then lexicographic id order.
func (s *Selector) Select(q models.RoutingQuery) (models.RoutingResult, error) {
	candidates := s.reg.Query(q)
	if len(candidates) == 0 {
		return models.RoutingResult{}, fmt.Errorf("%w: %q", ErrNoCandidates, q.TaskType)
	}

	total := s.totalRouted.Load()

	var best models.RoutingCandidate
	var bestScore, bestBonus float64
	picked := false
	for _, c := range candidates {
		bonus := ExplorationBonus(total, c.Agent.Performance.TaskCount)
		score := c.Agent.Performance.SuccessRate + bonus
		if !picked || better(score, c, bestScore, best) {
			best, bestScore, bestBonus = c, score, bonus
			picked = true
		}
	}

	s.totalRouted.Add(1)

	result := models.RoutingResult{
		AgentID:     best.Agent.ID,
		Score:       bestScore,
		Exploration: bestBonus,
		Justification: fmt.Sprintf(
			"selected %s: success rate %.2f + exploration bonus %.2f over %d tasks (%s)",
			best.Agent.ID, best.Agent.Performance.SuccessRate, bestBonus,
			best.Agent.Performance.TaskCount, best.Justification),
	}

	log.Debug().
		Str("agent", result.AgentID).
		Float64("score", result.Score).
		Float64("bonus", result.Exploration).
		Msg("Routing decision")

	return result, nil
}

// ExplorationBonus computes sqrt(2·ln(total+1) / (taskCount+1)).
// An agent with no history gets the maximum bonus of exactly 1.0 — pure
// exploration for untested agents.
func ExplorationBonus(totalRouted, taskCount int64) float64 {
	if taskCount == 0 {
		return 1.0
	}
	return math.Sqrt((2 * math.Log(float64(totalRouted)+1)) / float64(taskCount+1))
}

// better reports whether (score, c) beats the current (bestScore, best):
// higher score, then lower utilization, then lexicographic id.
func better(score float64, c models.RoutingCandidate, bestScore float64, best models.RoutingCandidate) bool {
	if score != bestScore {
		return score > bestScore
	}
	if c.Agent.Load.UtilizationPct != best.Agent.Load.UtilizationPct {
		return c.Agent.Load.UtilizationPct < best.Agent.Load.UtilizationPct
	}
	return c.Agent.ID < best.Agent.ID
}

// Package appeal manages escalation of contested verdicts through review
// levels. Levels are strictly increasing and bounded; each level is a linked
// sub-review that must reach a terminal outcome before the next opens.
package appeal

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAppealNotFound is returned for unknown appeal ids.
	ErrAppealNotFound = errors.New("appeal: not found")
	// ErrMaxLevelExceeded is returned when escalation would pass the cap.
	// The last verdict stands.
	ErrMaxLevelExceeded = errors.New("appeal: max level exceeded")
	// ErrLevelOpen is returned when escalating while the current level's
	// review has not reached a terminal outcome.
	ErrLevelOpen = errors.New("appeal: current level still open")
	// ErrAppealClosed is returned for operations on a terminal appeal.
	ErrAppealClosed = errors.New("appeal: already closed")
)

// DefaultMaxLevel is the default escalation cap.
const DefaultMaxLevel = 3

// Handler tracks appeals across sessions.
type Handler struct {
	mu       sync.Mutex
	appeals  map[string]*models.Appeal
	maxLevel int
	now      func() time.Time
}

// NewHandler creates an appeal handler. maxLevel <= 0 uses the default cap.
func NewHandler(maxLevel int) *Handler {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	return &Handler{
		appeals:  make(map[string]*models.Appeal),
		maxLevel: maxLevel,
		now:      time.Now,
	}
}

// MaxLevel reports the configured escalation cap.
func (h *Handler) MaxLevel() int { return h.maxLevel }

// snapshot copies an appeal so later level resolutions don't show through
// records already handed out.
func snapshot(a *models.Appeal) models.Appeal {
	out := *a
	out.Reviews = append([]models.AppealReview(nil), a.Reviews...)
	return out
}

// Submit opens a level-1 appeal against a session's verdict.
func (h *Handler) Submit(sessionID, appellant, grounds string, newEvidence map[string]interface{}) (models.Appeal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now().UTC()
	a := &models.Appeal{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Appellant:   appellant,
		Grounds:     grounds,
		NewEvidence: newEvidence,
		Level:       1,
		Outcome:     models.AppealPending,
		SubmittedAt: now,
		Reviews: []models.AppealReview{{
			Level:     1,
			Reason:    grounds,
			Algorithm: models.AlgorithmForLevel(1, h.maxLevel),
			Outcome:   models.AppealPending,
			OpenedAt:  now,
		}},
	}
	h.appeals[a.ID] = a

	log.Info().
		Str("appeal", a.ID).
		Str("session", sessionID).
		Str("appellant", appellant).
		Msg("Appeal submitted")

	return snapshot(a), nil
}

// Escalate opens the next review level. Fails with ErrMaxLevelExceeded
// beyond the configured cap and with ErrLevelOpen while the current level
// has no terminal outcome.
func (h *Handler) Escalate(appealID, reason string) (models.Appeal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.appeals[appealID]
	if !ok {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrAppealNotFound, appealID)
	}
	if a.Outcome != models.AppealPending {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrAppealClosed, appealID)
	}
	current := &a.Reviews[len(a.Reviews)-1]
	if current.Outcome == models.AppealPending {
		return models.Appeal{}, fmt.Errorf("%w: level %d", ErrLevelOpen, current.Level)
	}
	if a.Level+1 > h.maxLevel {
		return models.Appeal{}, fmt.Errorf("%w: level %d is the cap", ErrMaxLevelExceeded, h.maxLevel)
	}

	now := h.now().UTC()
	a.Level++
	a.Reviews = append(a.Reviews, models.AppealReview{
		Level:     a.Level,
		Reason:    reason,
		Algorithm: models.AlgorithmForLevel(a.Level, h.maxLevel),
		Outcome:   models.AppealPending,
		OpenedAt:  now,
	})

	log.Info().
		Str("appeal", appealID).
		Int("level", a.Level).
		Str("algorithm", string(models.AlgorithmForLevel(a.Level, h.maxLevel))).
		Msg("Appeal escalated")

	return snapshot(a), nil
}

// ResolveLevel records the terminal outcome of the current review level.
// An overturned outcome closes the appeal (the verdict is replaced). An
// affirmed outcome closes the appeal only at the level cap; below it the
// appeal stays open so the appellant may still escalate. An escalated
// outcome leaves the appeal pending for the next level.
func (h *Handler) ResolveLevel(appealID string, outcome models.AppealOutcome) (models.Appeal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.appeals[appealID]
	if !ok {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrAppealNotFound, appealID)
	}
	if a.Outcome != models.AppealPending {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrAppealClosed, appealID)
	}

	now := h.now().UTC()
	current := &a.Reviews[len(a.Reviews)-1]
	current.Outcome = outcome
	current.ClosedAt = &now

	if outcome == models.AppealOverturned {
		a.Outcome = outcome
	}
	if outcome == models.AppealAffirmed && a.Level >= h.maxLevel {
		a.Outcome = outcome
	}

	log.Info().
		Str("appeal", appealID).
		Int("level", current.Level).
		Str("outcome", string(outcome)).
		Msg("Appeal level resolved")

	return snapshot(a), nil
}

// Accept closes an appeal whose latest level was affirmed below the cap.
// The appellant chose not to escalate; the standing verdict is final.
func (h *Handler) Accept(appealID string) (models.Appeal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.appeals[appealID]
	if !ok {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrAppealNotFound, appealID)
	}
	if a.Outcome != models.AppealPending {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrAppealClosed, appealID)
	}
	current := a.Reviews[len(a.Reviews)-1]
	if current.Outcome == models.AppealPending {
		return models.Appeal{}, fmt.Errorf("%w: level %d", ErrLevelOpen, current.Level)
	}
	a.Outcome = models.AppealAffirmed
	return snapshot(a), nil
}

// Get fetches one appeal by id.
func (h *Handler) Get(appealID string) (models.Appeal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.appeals[appealID]
	if !ok {
		return models.Appeal{}, fmt.Errorf("%w: %s", ErrAppealNotFound, appealID)
	}
	return snapshot(a), nil
}

// BySession returns the appeals filed against a session, oldest first.
func (h *Handler) BySession(sessionID string) []models.Appeal {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []models.Appeal
	for _, a := range h.appeals {
		if a.SessionID == sessionID {
			out = append(out, snapshot(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Package waiver manages time-boxed exceptions to constitutional rules.
// Waivers move through explicit status transitions only — pending to active
// to expired or revoked — and expire by timestamp: lazily on every read and
// periodically via the retention janitor, so an elapsed waiver is reported
// expired even if no background job has run yet.
package waiver

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
	// ErrWaiverNotFound is returned for unknown waiver ids.
	ErrWaiverNotFound = errors.New("waiver: not found")
	// ErrRateLimited is returned when a requester has too many pending
	// requests. Surfaced as an explicit rejection reason, not a generic failure.
	ErrRateLimited = errors.New("waiver: too many pending requests for requester")
	// ErrInvalidTransition is returned for status changes the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("waiver: invalid status transition")
)

// DefaultMaxPending is the per-requester pending-request cap.
const DefaultMaxPending = 5

// Manager evaluates and tracks waivers.
type Manager struct {
	mu         sync.Mutex
	waivers    map[string]*models.Waiver
	maxPending int
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a waiver manager. maxPending <= 0 uses the default cap.
func NewManager(maxPending int, opts ...Option) *Manager {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	m := &Manager{
		waivers:    make(map[string]*models.Waiver),
		maxPending: maxPending,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request files a new waiver request. Enforces the per-requester pending cap
// to prevent override spam.
func (m *Manager) Request(ruleID, subject, requester, justification string, evidenceRefs []string, duration time.Duration) (models.WaiverDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconcileLocked()

	pending := 0
	for _, w := range m.waivers {
		if w.Requester == requester && w.Status == models.WaiverPending {
			pending++
		}
	}
	if pending >= m.maxPending {
		return models.WaiverDecision{
			Status: models.WaiverRejected,
			Reason: fmt.Sprintf("requester %s has %d pending requests (limit %d)", requester, pending, m.maxPending),
		}, fmt.Errorf("%w: %s", ErrRateLimited, requester)
	}

	w := &models.Waiver{
		ID:            uuid.New().String(),
		RuleID:        ruleID,
		Subject:       subject,
		Requester:     requester,
		Justification: justification,
		EvidenceRefs:  append([]string(nil), evidenceRefs...),
		Duration:      duration,
		Status:        models.WaiverPending,
		RequestedAt:   m.now().UTC(),
	}
	m.waivers[w.ID] = w

	log.Info().
		Str("waiver", w.ID).
		Str("rule", ruleID).
		Str("requester", requester).
		Dur("duration", duration).
		Msg("Waiver requested")

	return models.WaiverDecision{WaiverID: w.ID, Status: models.WaiverPending}, nil
}

// Approve activates a pending waiver; the expiry clock starts now.
func (m *Manager) Approve(id, approver string) (models.WaiverDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waivers[id]
	if !ok {
		return models.WaiverDecision{}, fmt.Errorf("%w: %s", ErrWaiverNotFound, id)
	}
	if w.Status != models.WaiverPending {
		return models.WaiverDecision{}, fmt.Errorf("%w: %s is %s, not pending", ErrInvalidTransition, id, w.Status)
	}

	now := m.now().UTC()
	w.Status = models.WaiverActive
	w.Approver = approver
	w.ActivatedAt = &now

	return models.WaiverDecision{
		WaiverID: id,
		Status:   models.WaiverActive,
		Reason:   fmt.Sprintf("approved by %s until %s", approver, w.ExpiresAt().Format(time.RFC3339)),
	}, nil
}

// Reject declines a pending waiver.
func (m *Manager) Reject(id, approver, reason string) (models.WaiverDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waivers[id]
	if !ok {
		return models.WaiverDecision{}, fmt.Errorf("%w: %s", ErrWaiverNotFound, id)
	}
	if w.Status != models.WaiverPending {
		return models.WaiverDecision{}, fmt.Errorf("%w: %s is %s, not pending", ErrInvalidTransition, id, w.Status)
	}
	w.Status = models.WaiverRejected
	w.Approver = approver
	return models.WaiverDecision{WaiverID: id, Status: models.WaiverRejected, Reason: reason}, nil
}

// Revoke withdraws an active waiver before its window elapses.
func (m *Manager) Revoke(id, approver string) (models.WaiverDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waivers[id]
	if !ok {
		return models.WaiverDecision{}, fmt.Errorf("%w: %s", ErrWaiverNotFound, id)
	}
	if m.expireIfDueLocked(w); w.Status != models.WaiverActive {
		return models.WaiverDecision{}, fmt.Errorf("%w: %s is %s, not active", ErrInvalidTransition, id, w.Status)
	}
	w.Status = models.WaiverRevoked
	w.Approver = approver
	return models.WaiverDecision{WaiverID: id, Status: models.WaiverRevoked}, nil
}

// Get returns a snapshot, lazily expiring the waiver first.
func (m *Manager) Get(id string) (models.Waiver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waivers[id]
	if !ok {
		return models.Waiver{}, fmt.Errorf("%w: %s", ErrWaiverNotFound, id)
	}
	m.expireIfDueLocked(w)
	return *w, nil
}

// ActiveFor returns the active waivers covering a rule and subject. A
// waiver with an empty subject covers every subject of its rule.
func (m *Manager) ActiveFor(ruleID, subject string) []models.Waiver {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconcileLocked()

	var out []models.Waiver
	for _, w := range m.waivers {
		if w.Status != models.WaiverActive || w.RuleID != ruleID {
			continue
		}
		if w.Subject != "" && w.Subject != subject {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// List returns snapshots of all waivers, lazily expired.
func (m *Manager) List() []models.Waiver {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconcileLocked()

	out := make([]models.Waiver, 0, len(m.waivers))
	for _, w := range m.waivers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Reconcile expires every active waiver whose window has elapsed and
// returns how many flipped. Called periodically by the retention janitor.
func (m *Manager) Reconcile() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconcileLocked()
}

func (m *Manager) reconcileLocked() int {
	expired := 0
	for _, w := range m.waivers {
		if m.expireIfDueLocked(w) {
			expired++
		}
	}
	if expired > 0 {
		log.Debug().Int("count", expired).Msg("Expired waivers reconciled")
	}
	return expired
}

func (m *Manager) expireIfDueLocked(w *models.Waiver) bool {
	if w.ExpiredBy(m.now().UTC()) {
		w.Status = models.WaiverExpired
		return true
	}
	return false
}

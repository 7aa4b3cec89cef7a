// Package store — in-memory Store implementation.
// Serves local dev and tests; supports file-based snapshot persistence so
// the hot store survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Rules      map[string][]*models.ConstitutionalRule `json:"rules"` // id → version history, oldest first
	Violations map[string]*models.Violation            `json:"violations"`
	Sessions   map[string]*models.ArbitrationSession   `json:"sessions"`
	Verdicts   map[string]*models.Verdict              `json:"verdicts"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu         sync.RWMutex
	rules      map[string][]*models.ConstitutionalRule // key: id → version history
	violations map[string]*models.Violation            // key: id
	sessions   map[string]*models.ArbitrationSession   // key: id
	verdicts   map[string]*models.Verdict              // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store.
// If ARBITER_DATA_DIR is set, data is persisted to a JSON file in that
// directory; otherwise the store is purely in-memory.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		rules:      make(map[string][]*models.ConstitutionalRule),
		violations: make(map[string]*models.Violation),
		sessions:   make(map[string]*models.ArbitrationSession),
		verdicts:   make(map[string]*models.Verdict),
		saveCh:     make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}

	if dataDir := os.Getenv("ARBITER_DATA_DIR"); dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "governance.json")
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// Ping always succeeds for the memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and flushes a final snapshot.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

// ── Rule Store ──────────────────────────────────────────────

// PutRule appends a rule version. Version 0 auto-assigns the next number.
func (m *MemoryStore) PutRule(_ context.Context, rule *models.ConstitutionalRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.rules[rule.ID]
	if rule.Version == 0 {
		rule.Version = len(history) + 1
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	m.rules[rule.ID] = append(history, rule)
	m.requestSave()
	return nil
}

// ListRules returns the latest version of every rule.
func (m *MemoryStore) ListRules(_ context.Context) ([]models.ConstitutionalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ConstitutionalRule, 0, len(m.rules))
	for _, history := range m.rules {
		out = append(out, *history[len(history)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRule returns the latest version of a rule.
func (m *MemoryStore) GetRule(_ context.Context, id string) (*models.ConstitutionalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.rules[id]
	if !ok || len(history) == 0 {
		return nil, &ErrNotFound{Entity: "rule", Key: id}
	}
	cp := *history[len(history)-1]
	return &cp, nil
}

// GetRuleVersion returns a specific retained version.
func (m *MemoryStore) GetRuleVersion(_ context.Context, id string, version int) (*models.ConstitutionalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rules[id] {
		if r.Version == version {
			cp := *r
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "rule version", Key: id}
}

// ── Violation Store ─────────────────────────────────────────

func (m *MemoryStore) CreateViolation(_ context.Context, v *models.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *v
	m.violations[v.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetViolation(_ context.Context, id string) (*models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.violations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "violation", Key: id}
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListViolations(_ context.Context, limit int) ([]models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Violation, 0, len(m.violations))
	for _, v := range m.violations {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.After(out[j].ReportedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Session Store ───────────────────────────────────────────

func (m *MemoryStore) CreateSession(_ context.Context, s *models.ArbitrationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[s.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *models.ArbitrationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return &ErrNotFound{Entity: "session", Key: s.ID}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.ArbitrationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	cp := *s
	return &cp, nil
}

// FindSessionByViolation returns the live (non-terminal) session for a
// violation, if any. Enforces one live session per violation.
func (m *MemoryStore) FindSessionByViolation(_ context.Context, violationID string) (*models.ArbitrationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Violation.ID == violationID && !s.State.Terminal() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "session for violation", Key: violationID}
}

func (m *MemoryStore) ListSessions(_ context.Context, state models.SessionState, limit int) ([]models.ArbitrationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ArbitrationSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if state != "" && s.State != state {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession removes a session from the hot store. Only the retention
// janitor calls this, after the session has been archived.
func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return &ErrNotFound{Entity: "session", Key: id}
	}
	delete(m.sessions, id)
	m.requestSave()
	return nil
}

// ── Verdict Store ───────────────────────────────────────────

func (m *MemoryStore) CreateVerdict(_ context.Context, v *models.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *v
	m.verdicts[v.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetVerdict(_ context.Context, id string) (*models.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.verdicts[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "verdict", Key: id}
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListVerdicts(_ context.Context, sessionID string) ([]models.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Verdict
	for _, v := range m.verdicts {
		if sessionID == "" || v.SessionID == sessionID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

// ── Persistence ─────────────────────────────────────────────

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Rules:      m.rules,
		Violations: m.violations,
		Sessions:   m.sessions,
		Verdicts:   m.verdicts,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Corrupt snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Rules != nil {
		m.rules = snap.Rules
	}
	if snap.Violations != nil {
		m.violations = snap.Violations
	}
	if snap.Sessions != nil {
		m.sessions = snap.Sessions
	}
	if snap.Verdicts != nil {
		m.verdicts = snap.Verdicts
	}

	log.Info().
		Int("rules", len(m.rules)).
		Int("sessions", len(m.sessions)).
		Int("verdicts", len(m.verdicts)).
		Msg("Loaded snapshot")
}

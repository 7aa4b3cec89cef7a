// Package store provides the storage contracts and implementations for the
// governance core. The hot store keeps live sessions and reference data;
// published immutable documents (verdicts, precedents, closed sessions) are
// additionally written to the durable archive for audit and provenance.
package store

import (
	"context"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
)

// Store is the primary storage interface. All orchestration code depends on
// this interface so the in-memory implementation serves tests and local dev
// while the archive handles durability.
type Store interface {
	RuleStore
	ViolationStore
	SessionStore
	VerdictStore

	// Ping checks the store is usable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Rule Store ──────────────────────────────────────────────

// RuleStore holds the versioned constitution. Rules are never updated in
// place: a change appends a new version and the old version is retained.
type RuleStore interface {
	ListRules(ctx context.Context) ([]models.ConstitutionalRule, error)
	GetRule(ctx context.Context, id string) (*models.ConstitutionalRule, error)
	GetRuleVersion(ctx context.Context, id string, version int) (*models.ConstitutionalRule, error)
	PutRule(ctx context.Context, rule *models.ConstitutionalRule) error // appends a version
}

// ── Violation Store ─────────────────────────────────────────

type ViolationStore interface {
	GetViolation(ctx context.Context, id string) (*models.Violation, error)
	CreateViolation(ctx context.Context, v *models.Violation) error
	ListViolations(ctx context.Context, limit int) ([]models.Violation, error)
}

// ── Session Store ───────────────────────────────────────────

type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.ArbitrationSession, error)
	CreateSession(ctx context.Context, s *models.ArbitrationSession) error
	UpdateSession(ctx context.Context, s *models.ArbitrationSession) error
	// FindSessionByViolation enforces one live session per violation.
	FindSessionByViolation(ctx context.Context, violationID string) (*models.ArbitrationSession, error)
	ListSessions(ctx context.Context, state models.SessionState, limit int) ([]models.ArbitrationSession, error)
	// DeleteSession removes a session from the hot store. Callers must
	// archive the session first; the retention janitor is the only caller.
	DeleteSession(ctx context.Context, id string) error
}

// ── Verdict Store ───────────────────────────────────────────

// VerdictStore holds issued verdicts, fetchable by id. Verdicts are
// immutable once published; there is deliberately no update operation.
type VerdictStore interface {
	GetVerdict(ctx context.Context, id string) (*models.Verdict, error)
	CreateVerdict(ctx context.Context, v *models.Verdict) error
	ListVerdicts(ctx context.Context, sessionID string) ([]models.Verdict, error)
}

// ── Archive ─────────────────────────────────────────────────

// Archiver receives published immutable documents for durable retention.
// Implementations must be append-only; nothing is ever rewritten.
type Archiver interface {
	ArchiveVerdict(ctx context.Context, v *models.Verdict) error
	ArchiveSession(ctx context.Context, s *models.ArbitrationSession) error
	ArchivePrecedent(ctx context.Context, p *models.Precedent) error

	// FetchVerdict retrieves an archived verdict by id.
	FetchVerdict(ctx context.Context, id string) (*models.Verdict, error)
	// FetchVerdictByHash retrieves a verdict by its content hash — the key
	// the external provenance trail links against.
	FetchVerdictByHash(ctx context.Context, hash string) (*models.Verdict, error)

	Close() error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

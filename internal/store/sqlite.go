package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS archived_verdicts (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	content_hash TEXT NOT NULL UNIQUE,
	issued_at    TEXT NOT NULL,
	doc          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_session ON archived_verdicts(session_id);

CREATE TABLE IF NOT EXISTS archived_sessions (
	id           TEXT PRIMARY KEY,
	violation_id TEXT NOT NULL,
	state        TEXT NOT NULL,
	closed_at    TEXT NOT NULL,
	doc          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS archived_precedents (
	id          TEXT PRIMARY KEY,
	rule_ids    TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	doc         TEXT NOT NULL
);
`

// SQLiteArchive implements Archiver on a local SQLite database. The archive
// is append-only: rows are inserted once and never rewritten; re-archiving
// an existing id is a no-op so janitor retries stay idempotent.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (or creates) the archive database at path.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	// WAL mode for concurrent readers while the janitor writes
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}

	if _, err := db.Exec(archiveSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("applying archive schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("applying archive schema: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// ArchiveVerdict inserts a verdict. Archiving the same verdict twice is a
// no-op so janitor retries stay idempotent.
func (a *SQLiteArchive) ArchiveVerdict(ctx context.Context, v *models.Verdict) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling verdict: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archived_verdicts (id, session_id, content_hash, issued_at, doc)
		 VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.SessionID, v.Signature, v.IssuedAt.UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("archiving verdict %s: %w", v.ID, err)
	}
	return nil
}

// ArchiveSession inserts a terminal session snapshot.
func (a *SQLiteArchive) ArchiveSession(ctx context.Context, s *models.ArbitrationSession) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	closedAt := ""
	if s.ClosedAt != nil {
		closedAt = s.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archived_sessions (id, violation_id, state, closed_at, doc)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Violation.ID, string(s.State), closedAt, string(doc))
	if err != nil {
		return fmt.Errorf("archiving session %s: %w", s.ID, err)
	}
	return nil
}

// ArchivePrecedent inserts a precedent snapshot.
func (a *SQLiteArchive) ArchivePrecedent(ctx context.Context, p *models.Precedent) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling precedent: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archived_precedents (id, rule_ids, recorded_at, doc)
		 VALUES (?, ?, ?, ?)`,
		p.ID, strings.Join(p.RuleIDs, ","), p.RecordedAt.UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("archiving precedent %s: %w", p.ID, err)
	}
	return nil
}

// FetchVerdict retrieves an archived verdict by id.
func (a *SQLiteArchive) FetchVerdict(ctx context.Context, id string) (*models.Verdict, error) {
	return a.fetchVerdict(ctx, `SELECT doc FROM archived_verdicts WHERE id = ?`, id, "verdict")
}

// FetchVerdictByHash retrieves a verdict by its content hash.
func (a *SQLiteArchive) FetchVerdictByHash(ctx context.Context, hash string) (*models.Verdict, error) {
	return a.fetchVerdict(ctx, `SELECT doc FROM archived_verdicts WHERE content_hash = ?`, hash, "verdict by hash")
}

func (a *SQLiteArchive) fetchVerdict(ctx context.Context, query, key, entity string) (*models.Verdict, error) {
	var doc string
	err := a.db.QueryRowContext(ctx, query, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: entity, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s: %w", entity, key, err)
	}

	var v models.Verdict
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("decoding archived verdict %s: %w", key, err)
	}
	return &v, nil
}

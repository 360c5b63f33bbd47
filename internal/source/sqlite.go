package source

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added lookup indexes on interactions and tracked_events
const currentSchemaVersion = 1

// timeLayout stores timestamps as sortable UTC text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite stores snapshots and tracked events in a local SQLite database.
// Uses WAL mode so inspect commands can read while an engine writes.
type SQLite struct {
	path string
	now  func() time.Time

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLite creates a SQLite source for the database at path. The file is
// created by Initialize if it does not exist.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path, now: time.Now}
}

// OpenSQLite creates and initializes a SQLite source.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	s := NewSQLite(path)
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Name() string { return "sqlite" }

// Initialize opens the database and applies pragmas and migrations.
// Idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func (s *SQLite) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLite) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// Destroy closes the database.
func (s *SQLite) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

// PushData replaces the user's snapshot and appends any interactions not
// yet logged, in one transaction.
func (s *SQLite) PushData(ctx context.Context, userID string, snap ir.SyncSnapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return syncer.ErrNotReady
	}

	snap.Normalize()
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("push data: %w", err)
	}
	digest, err := ir.SnapshotDigest(snap)
	if err != nil {
		return fmt.Errorf("push data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("push data: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (user_id, payload, digest, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			digest = excluded.digest,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, userID, string(payload), digest, snap.Version, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("push data: write snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO interactions
		(user_id, interaction_key, element_id, area, category, action, seq, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("push data: prepare: %w", err)
	}
	defer stmt.Close()

	for _, h := range snap.UsageHistory {
		for _, in := range h.Interactions {
			_, err := stmt.ExecContext(ctx,
				userID,
				in.Key(),
				in.ElementID,
				h.Area,
				in.Category.String(),
				in.Action,
				in.Seq,
				in.At.UTC().Format(timeLayout),
			)
			if err != nil {
				return fmt.Errorf("push data: write interaction %s: %w", in.Key(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("push data: commit: %w", err)
	}
	return nil
}

// PullData returns the user's last snapshot, or ir.EmptySnapshot.
func (s *SQLite) PullData(ctx context.Context, userID string) (ir.SyncSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ir.SyncSnapshot{}, syncer.ErrNotReady
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE user_id = ?`, userID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.EmptySnapshot(), nil
	}
	if err != nil {
		return ir.SyncSnapshot{}, fmt.Errorf("pull data: %w", err)
	}

	var snap ir.SyncSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return ir.SyncSnapshot{}, fmt.Errorf("pull data: decode snapshot: %w", err)
	}
	snap.Normalize()
	return snap, nil
}

// TrackEvent appends a tracked event.
func (s *SQLite) TrackEvent(ctx context.Context, userID string, ev ir.TrackedEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return syncer.ErrNotReady
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_events (user_id, element_id, area, category, action, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, ev.ElementID, ev.Area, ev.Category.String(), ev.Action, ev.At.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("track event: %w", err)
	}
	return nil
}

// SnapshotInfo describes a stored snapshot without decoding it.
type SnapshotInfo struct {
	UserID    string
	Digest    string
	Version   int
	UpdatedAt time.Time
}

// Snapshots lists stored snapshots ordered by user ID.
func (s *SQLite) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, syncer.ErrNotReady
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, digest, version, updated_at FROM snapshots ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info    SnapshotInfo
			updated string
		)
		if err := rows.Scan(&info.UserID, &info.Digest, &info.Version, &updated); err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		info.UpdatedAt, err = time.Parse(timeLayout, updated)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: parse updated_at: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// TrackedEvents returns a user's tracked events in arrival order.
func (s *SQLite) TrackedEvents(ctx context.Context, userID string) ([]ir.TrackedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, syncer.ErrNotReady
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT element_id, area, category, action, at
		FROM tracked_events
		WHERE user_id = ?
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("read tracked events: %w", err)
	}
	defer rows.Close()

	var out []ir.TrackedEvent
	for rows.Next() {
		var (
			ev       ir.TrackedEvent
			category string
			at       string
		)
		if err := rows.Scan(&ev.ElementID, &ev.Area, &category, &ev.Action, &at); err != nil {
			return nil, fmt.Errorf("read tracked events: %w", err)
		}
		if ev.Category, err = ir.ParseCategory(category); err != nil {
			return nil, fmt.Errorf("read tracked events: %w", err)
		}
		if ev.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("read tracked events: parse at: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InteractionCount returns the number of logged interactions for a user.
func (s *SQLite) InteractionCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, syncer.ErrNotReady
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE user_id = ?`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_interactions_user_at ON interactions(user_id, at);
		CREATE INDEX IF NOT EXISTS idx_tracked_events_user ON tracked_events(user_id, id);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

const (
	postgresSnapshotTable    = "reveal_snapshots"
	postgresEventTable       = "reveal_tracked_events"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Postgres stores snapshots and tracked events in PostgreSQL. Every call
// runs under its own timeout in addition to the caller's context.
type Postgres struct {
	dsn           string
	snapshotTable string
	eventTable    string
	openDB        sqlOpenFunc

	mu sync.RWMutex
	db *sql.DB
}

// NewPostgres creates a Postgres source. The connection is opened by
// Initialize.
func NewPostgres(dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: "sources.postgres.dsn", Message: "dsn is required"}
	}
	return &Postgres{
		dsn:           dsn,
		snapshotTable: postgresSnapshotTable,
		eventTable:    postgresEventTable,
		openDB:        sql.Open,
	}, nil
}

func (p *Postgres) Name() string { return "postgres" }

// Initialize connects and creates the tables if needed. Idempotent.
func (p *Postgres) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return nil
	}

	db, err := p.openDB("postgres", p.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id TEXT PRIMARY KEY,
				payload TEXT NOT NULL,
				digest TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(p.snapshotTable)),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				user_id TEXT NOT NULL,
				element_id TEXT NOT NULL,
				area TEXT NOT NULL,
				category TEXT NOT NULL,
				action TEXT NOT NULL,
				at TIMESTAMPTZ NOT NULL
			)`, postgresQuoteIdentifier(p.eventTable)),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("create postgres tables: %w", err)
		}
	}
	p.db = db
	return nil
}

func (p *Postgres) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db != nil
}

func (p *Postgres) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		_ = p.db.Close()
		p.db = nil
	}
}

// PushData upserts the user's snapshot.
func (p *Postgres) PushData(ctx context.Context, userID string, snap ir.SyncSnapshot) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
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

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, payload, digest, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET payload = EXCLUDED.payload, digest = EXCLUDED.digest, updated_at = NOW()`,
		postgresQuoteIdentifier(p.snapshotTable))
	if _, err := p.db.ExecContext(ctx, query, userID, string(payload), digest); err != nil {
		return fmt.Errorf("push data: %w", err)
	}
	return nil
}

// PullData returns the user's snapshot, or ir.EmptySnapshot.
func (p *Postgres) PullData(ctx context.Context, userID string) (ir.SyncSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return ir.SyncSnapshot{}, syncer.ErrNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE user_id = $1", postgresQuoteIdentifier(p.snapshotTable))
	var payload string
	err := p.db.QueryRowContext(ctx, query, userID).Scan(&payload)
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
func (p *Postgres) TrackEvent(ctx context.Context, userID string, ev ir.TrackedEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return syncer.ErrNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, element_id, area, category, action, at)
		VALUES ($1, $2, $3, $4, $5, $6)`, postgresQuoteIdentifier(p.eventTable))
	_, err := p.db.ExecContext(ctx, query,
		userID, ev.ElementID, ev.Area, ev.Category.String(), ev.Action, ev.At.UTC())
	if err != nil {
		return fmt.Errorf("track event: %w", err)
	}
	return nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

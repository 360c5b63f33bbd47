// Package syncer reconciles live engine state with external data sources.
//
// One source is primary and serves pulls. Every source, primary included,
// receives pushes and tracked events independently: a failing source never
// blocks the others. There is no distributed consistency guarantee; the
// merge policy is last-writer-wins per field with a union of histories.
package syncer

import (
	"context"
	"errors"

	"github.com/roach88/reveal/internal/ir"
)

// ErrNotReady is returned for calls made to a source that has not been
// initialized, failed to initialize, or was destroyed.
var ErrNotReady = errors.New("source not ready")

// ErrWriteOnly is returned by mirrors that cannot serve pulls.
var ErrWriteOnly = errors.New("source is write-only")

// DataSource is the push/pull/track capability a storage backend provides.
//
// Implementations must be safe for concurrent use: pushes fan out across
// sources in parallel and may overlap with tracked events.
type DataSource interface {
	// Name identifies the source in logs, diagnostics and sync events.
	Name() string

	// Initialize prepares the source. It is called once before any other
	// call except IsReady and Destroy.
	Initialize(ctx context.Context) error

	// IsReady reports whether the source can serve calls.
	IsReady() bool

	// PushData stores the full snapshot for a user.
	PushData(ctx context.Context, userID string, snap ir.SyncSnapshot) error

	// PullData returns the last stored snapshot for a user. A user with no
	// stored state yields ir.EmptySnapshot and no error.
	PullData(ctx context.Context, userID string) (ir.SyncSnapshot, error)

	// TrackEvent forwards a single interaction.
	TrackEvent(ctx context.Context, userID string, ev ir.TrackedEvent) error

	// Destroy releases resources. Further calls fail with ErrNotReady.
	Destroy()
}

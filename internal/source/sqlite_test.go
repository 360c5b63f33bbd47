package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

// createTestSQLite opens a fresh database in a temp dir.
func createTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "reveal.db"))
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}

func TestSQLite_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reveal.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer s.Destroy()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.True(t, s.IsReady())
}

func TestSQLite_Pragmas(t *testing.T) {
	s := createTestSQLite(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestSQLite_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reveal.db")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(ctx, path)
		require.NoError(t, err, "open iteration %d", i)
		require.NoError(t, s.Initialize(ctx))
		s.Destroy()
	}
}

func TestSQLite_PullUnknownUserIsEmpty(t *testing.T) {
	s := createTestSQLite(t)
	snap, err := s.PullData(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
}

func TestSQLite_PushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestSQLite(t)
	want := testSnapshot()

	require.NoError(t, s.PushData(ctx, "u1", want))
	got, err := s.PullData(ctx, "u1")
	require.NoError(t, err)

	want.Normalize()
	assert.Equal(t, want, got)
}

func TestSQLite_PushLogsInteractionsOnce(t *testing.T) {
	ctx := context.Background()
	s := createTestSQLite(t)
	snap := testSnapshot()

	require.NoError(t, s.PushData(ctx, "u1", snap))
	require.NoError(t, s.PushData(ctx, "u1", snap))

	n, err := s.InteractionCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	infos, err := s.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	digest, err := ir.SnapshotDigest(snap)
	require.NoError(t, err)
	assert.Equal(t, digest, infos[0].Digest)
	assert.Equal(t, ir.SnapshotVersion, infos[0].Version)
}

func TestSQLite_TrackedEvents(t *testing.T) {
	ctx := context.Background()
	s := createTestSQLite(t)

	first := testEvent()
	second := testEvent()
	second.ElementID = "regex"
	second.Category = ir.CategoryAdvanced
	second.At = first.At.Add(time.Second)

	require.NoError(t, s.TrackEvent(ctx, "u1", first))
	require.NoError(t, s.TrackEvent(ctx, "u1", second))
	require.NoError(t, s.TrackEvent(ctx, "u2", first))

	events, err := s.TrackedEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []ir.TrackedEvent{first, second}, events)
}

func TestSQLite_DestroyedSourceNotReady(t *testing.T) {
	s := createTestSQLite(t)
	s.Destroy()
	s.Destroy()

	assert.False(t, s.IsReady())
	_, err := s.PullData(context.Background(), "u1")
	assert.ErrorIs(t, err, syncer.ErrNotReady)
}

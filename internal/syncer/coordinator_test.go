package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reveal/internal/ir"
)

func sampleSnapshot() ir.SyncSnapshot {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	snap := ir.EmptySnapshot()
	snap.Areas["editor"] = ir.AreaSnapshot{Density: 0.4, AdvancedRatio: 0.5}
	snap.UsageHistory = []ir.AreaHistory{{
		Area: "editor",
		Interactions: []ir.Interaction{
			{ID: "i1", ElementID: "save", Area: "editor", At: at},
		},
	}}
	return snap
}

func initialized(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Empty(t, c.Initialize(context.Background()))
}

func TestNew_SkipsNilAndDuplicatePrimary(t *testing.T) {
	primary := newFake("primary")
	c := New(primary, []DataSource{nil, primary, newFake("mirror")})

	var names []string
	for _, s := range c.Sources() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"primary", "mirror"}, names)
}

func TestInitialize_FailureIsPerSource(t *testing.T) {
	bad := newFake("bad")
	bad.initErr = errBoom
	good := newFake("good")
	c := New(good, []DataSource{bad})

	errs := c.Initialize(context.Background())
	require.Len(t, errs, 1)
	assert.True(t, ir.IsSourceError(errs[0]))
	assert.ErrorIs(t, errs[0], errBoom)
	assert.True(t, good.IsReady())
	assert.False(t, bad.IsReady())
}

func TestPush_OneFailureDoesNotBlockOthers(t *testing.T) {
	primary := newFake("primary")
	broken := newFake("broken")
	mirror := newFake("mirror")
	c := New(primary, []DataSource{broken, mirror})
	initialized(t, c)
	broken.pushErr = errBoom

	res := c.Push(context.Background(), "u1", sampleSnapshot())

	assert.Equal(t, []string{"primary", "mirror"}, res.Succeeded)
	assert.Equal(t, []string{"broken"}, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.True(t, ir.IsSourceError(res.Errors[0]))
	assert.True(t, res.OK())
	assert.Contains(t, mirror.stored, "u1")
}

func TestPush_NotReadySourceFails(t *testing.T) {
	primary := newFake("primary")
	c := New(primary, nil)

	res := c.Push(context.Background(), "u1", sampleSnapshot())
	assert.Equal(t, []string{"primary"}, res.Failed)
	assert.ErrorIs(t, res.Errors[0], ErrNotReady)
	assert.Zero(t, primary.pushCount())
}

func TestPull_FailureYieldsEmptySnapshot(t *testing.T) {
	primary := newFake("primary")
	c := New(primary, nil)
	initialized(t, c)
	primary.pullErr = errBoom

	res := c.Pull(context.Background(), "u1")
	require.Error(t, res.Err)
	assert.True(t, ir.IsSourceError(res.Err))
	assert.Equal(t, ir.EmptySnapshot(), res.Snapshot)
	assert.Empty(t, res.Snapshot.Areas)
	assert.Empty(t, res.Snapshot.Overrides)
	assert.Empty(t, res.Snapshot.UsageHistory)
}

func TestPull_NoPrimary(t *testing.T) {
	res := New(nil, []DataSource{newFake("mirror")}).Pull(context.Background(), "u1")
	assert.NoError(t, res.Err)
	assert.True(t, res.Snapshot.IsEmpty())
}

func TestPushPull_RoundTrip(t *testing.T) {
	primary := newFake("primary")
	c := New(primary, nil)
	initialized(t, c)

	want := sampleSnapshot()
	require.Empty(t, c.Push(context.Background(), "u1", want).Failed)

	res := c.Pull(context.Background(), "u1")
	require.NoError(t, res.Err)
	assert.Equal(t, "primary", res.Source)
	assert.Equal(t, want.Areas, res.Snapshot.Areas)
	assert.Equal(t, want.UsageHistory, res.Snapshot.UsageHistory)
}

func TestTrack_FanOut(t *testing.T) {
	primary := newFake("primary")
	mirror := newFake("mirror")
	mirror.trackErr = errBoom
	c := New(primary, []DataSource{mirror}, WithParallelism(1))
	initialized(t, c)

	ev := ir.TrackedEvent{ElementID: "save", Area: "editor", Action: "click"}
	res := c.Track(context.Background(), "u1", ev)

	assert.Equal(t, []string{"primary"}, res.Succeeded)
	assert.Equal(t, []string{"mirror"}, res.Failed)
	assert.Equal(t, []ir.TrackedEvent{ev}, primary.tracked)
}

func TestDestroy(t *testing.T) {
	primary := newFake("primary")
	mirror := newFake("mirror")
	c := New(primary, []DataSource{mirror})
	initialized(t, c)

	c.Destroy()
	assert.False(t, primary.IsReady())
	assert.False(t, mirror.IsReady())
}

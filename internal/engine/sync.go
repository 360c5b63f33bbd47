package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/roach88/reveal/internal/density"
	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

// Init initializes every data source, pulls the primary source's snapshot
// and seeds state from it, then starts background sync.
//
// Source failures never fail Init: they are reported as diagnostics and
// the engine continues with its defaults. Later calls are no-ops.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = true
	coord := e.coord
	e.mu.Unlock()

	pulled := syncer.PullResult{Snapshot: ir.EmptySnapshot()}
	var initErrs []error
	if coord != nil {
		ctx, cancel := e.syncContext(ctx)
		initErrs = coord.Initialize(ctx)
		pulled = coord.Pull(ctx, e.userID)
		cancel()
	}

	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return ErrDestroyed
	}
	for _, err := range initErrs {
		e.sourceFailureLocked(err)
	}
	e.pullResultLocked(pulled)
	e.applySnapshotLocked(pulled.Snapshot, true)
	e.seeded = true

	if e.worker != nil {
		// The worker outlives ctx; Destroy stops it.
		e.worker.Start(context.Background())
		e.schedulePushLocked()
	}
	e.logger.Info("engine initialized",
		"user", e.userID,
		"source", pulled.Source,
		"pulled", !pulled.Snapshot.IsEmpty(),
	)
	return nil
}

// Snapshot returns the serializable state of the engine.
func (e *Engine) Snapshot() ir.SyncSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Restore merges a snapshot into live state as a pull after startup would,
// without involving any data source.
func (e *Engine) Restore(snap ir.SyncSnapshot) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	e.applySnapshotLocked(snap, false)
}

// Push sends the current snapshot to every source and waits for the
// result. Failures are reported as for background pushes.
func (e *Engine) Push(ctx context.Context) syncer.PushResult {
	e.mu.Lock()
	if e.closed || e.coord == nil {
		e.mu.Unlock()
		return syncer.PushResult{}
	}
	snap := e.snapshotLocked()
	coord := e.coord
	e.mu.Unlock()

	ctx, cancel := e.syncContext(ctx)
	defer cancel()
	res := coord.Push(ctx, e.userID, snap)

	e.mu.Lock()
	defer e.unlockAndDispatch()
	if !e.closed {
		e.pushResultLocked(res)
	}
	return res
}

// Flush forwards tracked events held back because background sync is off,
// then pushes the current snapshot.
func (e *Engine) Flush(ctx context.Context) syncer.PushResult {
	e.mu.Lock()
	if e.closed || e.coord == nil {
		e.mu.Unlock()
		return syncer.PushResult{}
	}
	tracks := e.pendingTracks
	e.pendingTracks = nil
	coord := e.coord
	e.mu.Unlock()

	tctx, cancel := e.syncContext(ctx)
	for _, ev := range tracks {
		res := coord.Track(tctx, e.userID, ev)
		e.mu.Lock()
		if !e.closed {
			e.trackResultLocked(ev, res)
		}
		e.unlockAndDispatch()
	}
	cancel()

	return e.Push(ctx)
}

// Pull fetches the primary source's snapshot and merges it without
// discarding local interactions.
func (e *Engine) Pull(ctx context.Context) {
	e.mu.Lock()
	if e.closed || e.coord == nil {
		e.mu.Unlock()
		return
	}
	coord := e.coord
	e.mu.Unlock()

	ctx, cancel := e.syncContext(ctx)
	pulled := coord.Pull(ctx, e.userID)
	cancel()

	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	e.pullResultLocked(pulled)
	if pulled.Err == nil {
		e.applySnapshotLocked(pulled.Snapshot, false)
	}
}

func (e *Engine) syncContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.settings.SyncTimeout > 0 {
		return context.WithTimeout(ctx, e.settings.SyncTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) snapshotLocked() ir.SyncSnapshot {
	snap := ir.EmptySnapshot()
	for _, id := range e.areaOrder {
		st := e.areas[id]
		snap.Areas[id] = ir.AreaSnapshot{Density: st.Density, AdvancedRatio: st.AdvancedRatio}
		if st.Override == nil {
			continue
		}
		snap.Overrides[id] = st.Override.Density
		if !st.Override.SetAt.IsZero() {
			if snap.OverrideSetAt == nil {
				snap.OverrideSetAt = make(map[string]time.Time)
			}
			snap.OverrideSetAt[id] = st.Override.SetAt
		}
	}
	for _, area := range e.usage.Areas() {
		if history := slices.Collect(e.usage.History(area)); len(history) > 0 {
			snap.UsageHistory = append(snap.UsageHistory, ir.AreaHistory{Area: area, Interactions: history})
		}
		if counters := e.usage.Counters(area); len(counters) > 0 {
			if snap.Counters == nil {
				snap.Counters = make(map[string]map[string]ir.Counter)
			}
			snap.Counters[area] = counters
		}
	}
	snap.Unlocked = e.deps.Latched()
	snap.ForcedCategories = e.deps.ForcedCategories()
	snap.FiredRules = e.rules.Fired()
	snap.Normalize()
	return snap
}

// applySnapshotLocked merges remote into live state. At startup the merge
// seeds state silently; afterwards transitions emit events as usual.
func (e *Engine) applySnapshotLocked(remote ir.SyncSnapshot, startup bool) {
	merged := syncer.Merge(e.snapshotLocked(), remote, startup)

	previous := make(map[string]float64, len(e.areas))
	for id, st := range e.areas {
		previous[id] = st.Effective()
	}

	for area, as := range merged.Areas {
		st, ok := e.areas[area]
		if !ok {
			e.logger.Debug("snapshot area not configured", "area", area)
			continue
		}
		st.Density = density.Clamp(as.Density)
		st.AdvancedRatio = as.AdvancedRatio
	}
	for area, d := range merged.Overrides {
		st, ok := e.areas[area]
		if !ok {
			continue
		}
		st.Override = &ir.Override{Density: density.Clamp(d), SetAt: merged.OverrideSetAt[area]}
	}

	areas := make(map[string]bool)
	for _, h := range merged.UsageHistory {
		areas[h.Area] = true
		for _, in := range h.Interactions {
			e.clock.Observe(in.Seq)
		}
	}
	for area := range merged.Counters {
		areas[area] = true
	}
	for _, area := range sortedKeys(areas) {
		e.usage.Merge(area, merged.History(area), merged.Counters[area])
	}

	for _, id := range merged.Unlocked {
		e.deps.Latch(id)
	}
	for _, fc := range merged.ForcedCategories {
		e.deps.Force(fc.Area, fc.Category)
	}
	e.rules.MarkFired(merged.FiredRules...)
	e.deps.InvalidateAll()

	for _, id := range e.areaOrder {
		st := e.areas[id]
		cur := st.Effective()
		e.metrics.setDensity(id, cur)
		if !startup && cur != previous[id] {
			e.emit(Event{Kind: EventDensityChanged, Density: &DensityPayload{
				Area:          id,
				Density:       cur,
				Previous:      previous[id],
				AdvancedRatio: st.AdvancedRatio,
			}})
		}
	}

	e.refreshLocked(e.deps.Elements(), startup)
	e.fireLocked(e.rules.Evaluate(nil))
}

func (e *Engine) schedulePushLocked() {
	if e.worker == nil || !e.seeded || e.closed {
		return
	}
	e.worker.Enqueue(syncer.Job{Type: syncer.JobPush, Snapshot: e.snapshotLocked()})
}

func (e *Engine) enqueueTrackLocked(ev ir.TrackedEvent) {
	switch {
	case e.coord == nil:
	case e.worker != nil:
		e.worker.Enqueue(syncer.Job{Type: syncer.JobTrack, Event: ev})
	default:
		e.pendingTracks = append(e.pendingTracks, ev)
	}
}

func (e *Engine) onWorkerPush(res syncer.PushResult) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	e.pushResultLocked(res)
}

func (e *Engine) onWorkerTrack(ev ir.TrackedEvent, res syncer.PushResult) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	e.trackResultLocked(ev, res)
}

func (e *Engine) pushResultLocked(res syncer.PushResult) {
	if res.Skipped {
		return
	}
	if len(res.Succeeded) > 0 {
		e.emit(Event{Kind: EventSyncSuccess, Sync: &SyncPayload{Op: "push", Sources: res.Succeeded}})
	}
	e.syncFailuresLocked("push", res)
}

// trackResultLocked reports failed tracking calls. Successful tracking is
// not announced; it happens once per interaction.
func (e *Engine) trackResultLocked(ev ir.TrackedEvent, res syncer.PushResult) {
	if len(res.Failed) > 0 {
		e.logger.Debug("track failed", "element_id", ev.ElementID, "sources", res.Failed)
	}
	e.syncFailuresLocked("track", res)
}

func (e *Engine) pullResultLocked(res syncer.PullResult) {
	switch {
	case res.Err != nil:
		e.sourceFailureLocked(res.Err)
		e.emit(Event{Kind: EventSyncFailed, Sync: &SyncPayload{
			Op:      "pull",
			Sources: []string{res.Source},
			Errors:  []string{res.Err.Error()},
		}})
	case res.Source != "":
		e.emit(Event{Kind: EventSyncSuccess, Sync: &SyncPayload{Op: "pull", Sources: []string{res.Source}}})
	}
}

func (e *Engine) syncFailuresLocked(op string, res syncer.PushResult) {
	if len(res.Failed) == 0 {
		return
	}
	msgs := make([]string, 0, len(res.Errors))
	for _, err := range res.Errors {
		e.sourceFailureLocked(err)
		msgs = append(msgs, err.Error())
	}
	e.emit(Event{Kind: EventSyncFailed, Sync: &SyncPayload{Op: op, Sources: res.Failed, Errors: msgs}})
}

func (e *Engine) sourceFailureLocked(err error) {
	var se *ir.SourceError
	if errors.As(err, &se) {
		e.metrics.sourceFailed(se.Source, se.Op)
	}
	e.report(ir.DiagnosticFrom(err))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

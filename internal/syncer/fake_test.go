package syncer

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/reveal/internal/ir"
)

var errBoom = errors.New("boom")

// fakeSource is an in-memory DataSource with injectable failures.
type fakeSource struct {
	name string

	mu        sync.Mutex
	ready     bool
	initErr   error
	pushErr   error
	pullErr   error
	trackErr  error
	stored    map[string]ir.SyncSnapshot
	pushes    int
	tracked   []ir.TrackedEvent
	destroyed bool
	block     chan struct{} // when set, PushData waits on it or ctx
}

func newFake(name string) *fakeSource {
	return &fakeSource{name: name, stored: make(map[string]ir.SyncSnapshot)}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.ready = true
	return nil
}

func (f *fakeSource) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready && !f.destroyed
}

func (f *fakeSource) PushData(ctx context.Context, userID string, snap ir.SyncSnapshot) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.pushErr != nil {
		return f.pushErr
	}
	f.stored[userID] = snap.Clone()
	return nil
}

func (f *fakeSource) PullData(_ context.Context, userID string) (ir.SyncSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return ir.SyncSnapshot{}, f.pullErr
	}
	snap, ok := f.stored[userID]
	if !ok {
		return ir.EmptySnapshot(), nil
	}
	return snap.Clone(), nil
}

func (f *fakeSource) TrackEvent(_ context.Context, _ string, ev ir.TrackedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return f.trackErr
	}
	f.tracked = append(f.tracked, ev)
	return nil
}

func (f *fakeSource) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *fakeSource) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

package source

import (
	"context"
	"sync"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

// Op names a DataSource call for failure injection.
type Op string

const (
	OpInitialize Op = "initialize"
	OpPush       Op = "push"
	OpPull       Op = "pull"
	OpTrack      Op = "track"
)

// Memory keeps snapshots and tracked events in process memory.
type Memory struct {
	name string

	mu        sync.Mutex
	ready     bool
	snapshots map[string]ir.SyncSnapshot
	events    map[string][]ir.TrackedEvent
	failures  map[Op]error
	pushes    int
}

// NewMemory creates an empty memory source.
func NewMemory(name string) *Memory {
	if name == "" {
		name = "memory"
	}
	return &Memory{
		name:      name,
		snapshots: make(map[string]ir.SyncSnapshot),
		events:    make(map[string][]ir.TrackedEvent),
		failures:  make(map[Op]error),
	}
}

// Fail makes every subsequent op call return err. A nil err clears it.
func (m *Memory) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Seed stores a snapshot for a user without going through PushData.
func (m *Memory) Seed(userID string, snap ir.SyncSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[userID] = snap.Clone()
}

// Stored returns the last snapshot pushed for a user.
func (m *Memory) Stored(userID string) (ir.SyncSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[userID]
	if !ok {
		return ir.SyncSnapshot{}, false
	}
	return snap.Clone(), true
}

// Events returns the events tracked for a user.
func (m *Memory) Events(userID string) []ir.TrackedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ir.TrackedEvent(nil), m.events[userID]...)
}

// Pushes returns the number of successful pushes.
func (m *Memory) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Initialize(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpInitialize]; err != nil {
		return err
	}
	m.ready = true
	return nil
}

func (m *Memory) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Memory) PushData(ctx context.Context, userID string, snap ir.SyncSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpPush); err != nil {
		return err
	}
	m.snapshots[userID] = snap.Clone()
	m.pushes++
	return nil
}

func (m *Memory) PullData(ctx context.Context, userID string) (ir.SyncSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpPull); err != nil {
		return ir.SyncSnapshot{}, err
	}
	snap, ok := m.snapshots[userID]
	if !ok {
		return ir.EmptySnapshot(), nil
	}
	return snap.Clone(), nil
}

func (m *Memory) TrackEvent(ctx context.Context, userID string, ev ir.TrackedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpTrack); err != nil {
		return err
	}
	m.events[userID] = append(m.events[userID], ev)
	return nil
}

func (m *Memory) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = false
}

func (m *Memory) check(ctx context.Context, op Op) error {
	if !m.ready {
		return syncer.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failures[op]
}

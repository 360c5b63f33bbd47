package syncer

import (
	"sync"

	"github.com/roach88/reveal/internal/ir"
)

// JobType distinguishes between job kinds.
type JobType int

const (
	// JobPush pushes a full snapshot to every source.
	JobPush JobType = iota + 1
	// JobTrack forwards one tracked event to every source.
	JobTrack
)

func (t JobType) String() string {
	switch t {
	case JobPush:
		return "push"
	case JobTrack:
		return "track"
	default:
		return "unknown"
	}
}

// Job is a unit of background sync work.
type Job struct {
	Type     JobType
	Snapshot ir.SyncSnapshot
	Event    ir.TrackedEvent
}

// jobQueue is an unbounded FIFO of jobs.
//
// Enqueue never blocks so the engine can hand off work while holding its
// state lock. The signal channel is buffered with size 1 and coalesces
// wakeups; it is closed by Close to wake the worker for shutdown.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []Job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]Job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking. A push job absorbs
// every push queued directly behind it; only the newest snapshot is kept.
func (q *jobQueue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.pop()
	if j.Type == JobPush {
		for len(q.jobs) > 0 && q.jobs[0].Type == JobPush {
			j = q.pop()
		}
	}
	return j, true
}

func (q *jobQueue) pop() Job {
	j := q.jobs[0]
	// Release the snapshot held by the slot.
	q.jobs[0] = Job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j
}

// Wait returns a channel that signals when jobs may be available.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs and wakes the worker.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

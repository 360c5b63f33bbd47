package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/reveal/internal/ir"
)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// OnPush sets the callback invoked after each push job, from the worker
// goroutine.
func OnPush(fn func(PushResult)) WorkerOption {
	return func(w *Worker) { w.onPush = fn }
}

// OnTrack sets the callback invoked after each track job, from the worker
// goroutine.
func OnTrack(fn func(ir.TrackedEvent, PushResult)) WorkerOption {
	return func(w *Worker) { w.onTrack = fn }
}

// Worker runs sync jobs in FIFO order on a single goroutine.
//
// Consecutive pushes are coalesced and a snapshot whose digest matches the
// last snapshot every source accepted is not pushed again.
type Worker struct {
	coord  *Coordinator
	userID string
	queue  *jobQueue
	logger *slog.Logger
	last   lastDigest

	onPush  func(PushResult)
	onTrack func(ir.TrackedEvent, PushResult)

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWorker creates a stopped worker for one user.
func NewWorker(coord *Coordinator, userID string, opts ...WorkerOption) *Worker {
	w := &Worker{
		coord:   coord,
		userID:  userID,
		queue:   newJobQueue(),
		logger:  coord.logger,
		onPush:  func(PushResult) {},
		onTrack: func(ir.TrackedEvent, PushResult) {},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker goroutine. Later calls are no-ops.
// Jobs run under a context derived from ctx that Stop cancels.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.run(ctx)
	})
}

// Enqueue submits a job. Returns false once the worker is stopped.
// Safe from any goroutine; never blocks.
func (w *Worker) Enqueue(j Job) bool {
	return w.queue.Enqueue(j)
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	return w.queue.Len()
}

// Stop cancels in-flight source calls, drops queued jobs and waits for the
// worker goroutine to exit. No callback runs after Stop returns.
// Idempotent.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		// Claim Start so a late Start cannot spawn a goroutine.
		w.startOnce.Do(func() { close(w.done) })
		if w.cancel != nil {
			w.cancel()
		}
		w.queue.Close()
		<-w.done
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Debug("sync worker starting", "user", w.userID)

	for {
		if ctx.Err() != nil {
			w.logger.Debug("sync worker stopping", "user", w.userID)
			return
		}
		if job, ok := w.queue.TryDequeue(); ok {
			w.process(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Debug("sync worker stopping", "user", w.userID)
			return
		case _, open := <-w.queue.Wait():
			if !open && w.queue.Len() == 0 {
				w.logger.Debug("sync worker stopping: queue closed", "user", w.userID)
				return
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	switch job.Type {
	case JobPush:
		digest, err := ir.SnapshotDigest(job.Snapshot)
		if err != nil {
			w.logger.Warn("snapshot digest failed", "error", err)
			digest = ""
		}
		if w.last.matches(digest) {
			w.logger.Debug("push skipped: snapshot unchanged", "digest", digest)
			w.deliver(ctx, func() { w.onPush(PushResult{Skipped: true}) })
			return
		}
		res := w.coord.Push(ctx, w.userID, job.Snapshot)
		if len(res.Failed) == 0 {
			w.last.set(digest)
		}
		w.deliver(ctx, func() { w.onPush(res) })

	case JobTrack:
		res := w.coord.Track(ctx, w.userID, job.Event)
		w.deliver(ctx, func() { w.onTrack(job.Event, res) })

	default:
		w.logger.Error("unknown sync job", "type", job.Type)
	}
}

// deliver runs a callback unless the worker has been stopped.
func (w *Worker) deliver(ctx context.Context, fn func()) {
	if ctx.Err() != nil {
		return
	}
	fn()
}

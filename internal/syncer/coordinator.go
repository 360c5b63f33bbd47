package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/reveal/internal/ir"
)

// PushResult reports the outcome of a push fan-out. Succeeded and Failed
// list source names in registration order.
type PushResult struct {
	Succeeded []string
	Failed    []string
	Errors    []error // one *ir.SourceError per failed source
	Skipped   bool    // snapshot unchanged since the last full success
}

// OK reports whether at least one source stored the snapshot.
func (r PushResult) OK() bool {
	return len(r.Succeeded) > 0
}

// PullResult reports the outcome of a pull. Snapshot is always usable:
// on failure it is ir.EmptySnapshot.
type PullResult struct {
	Snapshot ir.SyncSnapshot
	Source   string
	Err      error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithParallelism caps concurrent source calls during a fan-out.
// Values below 1 mean unbounded.
func WithParallelism(n int) Option {
	return func(c *Coordinator) {
		c.parallelism = n
	}
}

// Coordinator fans calls out to data sources.
// Safe for concurrent use.
type Coordinator struct {
	primary     DataSource
	sources     []DataSource
	logger      *slog.Logger
	parallelism int
}

// New creates a Coordinator. primary may be nil, in which case pulls yield
// an empty snapshot. Nil mirrors are ignored, as is a mirror that is the
// primary itself.
func New(primary DataSource, mirrors []DataSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		primary: primary,
		logger:  slog.Default(),
	}
	if primary != nil {
		c.sources = append(c.sources, primary)
	}
	for _, m := range mirrors {
		if m == nil || m == primary {
			continue
		}
		c.sources = append(c.sources, m)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sources returns every registered source, primary first.
func (c *Coordinator) Sources() []DataSource {
	return append([]DataSource(nil), c.sources...)
}

// Primary returns the primary source, or nil.
func (c *Coordinator) Primary() DataSource {
	return c.primary
}

// Initialize initializes every source independently and returns one
// *ir.SourceError per failure. A failed source stays registered but is
// skipped while it reports not ready.
func (c *Coordinator) Initialize(ctx context.Context) []error {
	return c.fanOut(ctx, "initialize", func(ctx context.Context, s DataSource) error {
		return s.Initialize(ctx)
	}).Errors
}

// Pull fetches the user's snapshot from the primary source. It never fails:
// any error degrades to ir.EmptySnapshot and is reported in the result.
func (c *Coordinator) Pull(ctx context.Context, userID string) PullResult {
	if c.primary == nil {
		return PullResult{Snapshot: ir.EmptySnapshot()}
	}
	name := c.primary.Name()
	res := PullResult{Source: name, Snapshot: ir.EmptySnapshot()}

	if !c.primary.IsReady() {
		res.Err = &ir.SourceError{Source: name, Op: "pull", Err: ErrNotReady}
		c.logger.Warn("pull skipped", "source", name, "error", ErrNotReady)
		return res
	}

	snap, err := c.primary.PullData(ctx, userID)
	if err != nil {
		res.Err = &ir.SourceError{Source: name, Op: "pull", Err: err}
		c.logger.Error("pull failed", "source", name, "user", userID, "error", err)
		return res
	}
	snap.Normalize()
	res.Snapshot = snap
	c.logger.Debug("pull complete",
		"source", name,
		"user", userID,
		"areas", len(snap.Areas),
		"history_areas", len(snap.UsageHistory),
	)
	return res
}

// Push sends the snapshot to every source. Failures are logged and
// collected per source; they never cancel the other sources' calls.
func (c *Coordinator) Push(ctx context.Context, userID string, snap ir.SyncSnapshot) PushResult {
	return c.fanOut(ctx, "push", func(ctx context.Context, s DataSource) error {
		// Each source gets its own copy; implementations may normalize in place.
		return s.PushData(ctx, userID, snap.Clone())
	})
}

// Track forwards one tracked event to every source, best-effort.
func (c *Coordinator) Track(ctx context.Context, userID string, ev ir.TrackedEvent) PushResult {
	return c.fanOut(ctx, "track", func(ctx context.Context, s DataSource) error {
		return s.TrackEvent(ctx, userID, ev)
	})
}

// Destroy destroys every source.
func (c *Coordinator) Destroy() {
	for _, s := range c.sources {
		s.Destroy()
	}
}

func (c *Coordinator) fanOut(ctx context.Context, op string, call func(context.Context, DataSource) error) PushResult {
	errs := make([]error, len(c.sources))

	var g errgroup.Group
	if c.parallelism > 0 {
		g.SetLimit(c.parallelism)
	}
	for i, s := range c.sources {
		g.Go(func() error {
			if op != "initialize" && !s.IsReady() {
				errs[i] = ErrNotReady
				return nil
			}
			errs[i] = call(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	var res PushResult
	for i, s := range c.sources {
		name := s.Name()
		if errs[i] == nil {
			res.Succeeded = append(res.Succeeded, name)
			continue
		}
		res.Failed = append(res.Failed, name)
		res.Errors = append(res.Errors, &ir.SourceError{Source: name, Op: op, Err: errs[i]})
		c.logger.Error(fmt.Sprintf("%s failed", op), "source", name, "error", errs[i])
	}
	return res
}

// lastDigest remembers the digest of the last snapshot every source stored.
type lastDigest struct {
	mu     sync.Mutex
	digest string
}

func (d *lastDigest) matches(digest string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return digest != "" && d.digest == digest
}

func (d *lastDigest) set(digest string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digest = digest
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/reveal/internal/config"
	"github.com/roach88/reveal/internal/engine"
	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/source"
	"github.com/roach88/reveal/internal/testutil"
)

// SourceName is the name of the in-memory data source scenarios sync to.
const SourceName = config.SourceMemory

// errInjected is returned by source operations a scenario makes fail.
var errInjected = errors.New("injected failure")

// Harness executes scenarios against a real engine.
//
// Every run gets a fresh engine with a fake clock, sequential interaction
// IDs, manual sync and an in-memory data source, so the same scenario
// always produces the same trace.
type Harness struct {
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the engine. Scenarios run silently
// by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default Harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(context.Background(), scenario)
}

// run is the state of one scenario execution.
type run struct {
	scenario *Scenario
	eng      *engine.Engine
	clock    *testutil.FakeClock
	memory   *source.Memory
	result   *Result
	step     int
}

// Run executes a scenario and returns the result.
//
// An error is returned only when the scenario cannot be executed at all:
// its document does not compile, its settings are invalid or the engine
// cannot be built. Failed expectations and assertions are recorded in the
// result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	doc, err := loadDocument(scenario.Document)
	if err != nil {
		return nil, err
	}

	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}

	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}
	clock := testutil.NewFakeClock(start)
	memory := source.NewMemory(SourceName)

	r := &run{scenario: scenario, clock: clock, memory: memory, result: NewResult()}
	r.seedRemote(cfg.UserID)

	eng, err := engine.New(doc,
		engine.WithSettings(engine.SettingsFrom(cfg)),
		engine.WithUserID(cfg.UserID),
		engine.WithNow(clock.Now),
		engine.WithAfterFunc(func(d time.Duration, f func()) engine.Timer { return clock.AfterFunc(d, f) }),
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator("sim")),
		engine.WithLogger(h.logger),
		engine.WithSources(memory),
		engine.WithBackgroundSync(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Destroy()
	r.eng = eng

	// Handlers run on the goroutine that triggered the event, which is
	// always this one: sync is manual and the fake clock fires timers
	// inside Advance.
	eng.Subscribe(func(ev engine.Event) {
		r.result.AddEvent(r.step, ev)
	})

	if err := eng.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	for i, step := range scenario.Steps {
		r.step = i + 1
		if err := r.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Expect != nil {
			for _, msg := range r.checkExpect(step.Expect) {
				r.result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
			}
		}
	}

	for _, msg := range EvaluateAssertions(r.result, scenario.Assertions, eng) {
		r.result.AddError(msg)
	}
	r.result.State = captureState(eng)

	h.logger.Debug("scenario complete",
		"scenario", scenario.Name,
		"steps", len(scenario.Steps),
		"events", len(r.result.Trace),
		"pass", r.result.Pass,
	)
	return r.result, nil
}

func loadDocument(ref DocumentRef) (*ir.Document, error) {
	var (
		res *config.DocumentResult
		err error
	)
	if ref.Path != "" {
		res, err = config.LoadDocument(ref.Path)
	} else {
		res, err = config.DocumentFromValue("inline", ref.Inline)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if !res.OK() {
		if len(res.CompileErrors) > 0 {
			return nil, fmt.Errorf("document has %d compile errors, first: %w", len(res.CompileErrors), res.CompileErrors[0])
		}
		return nil, fmt.Errorf("document did not compile")
	}
	return res.Document, nil
}

// scenarioConfig applies the scenario's settings block over the defaults.
func scenarioConfig(s *Scenario) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if s.Settings.Kind != 0 {
		if err := s.Settings.Decode(cfg); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}
	if s.User != "" {
		cfg.UserID = s.User
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func (r *run) seedRemote(userID string) {
	remote := r.scenario.Remote
	if remote == nil {
		return
	}
	snap := ir.EmptySnapshot()
	for area, d := range remote.Densities {
		snap.Areas[area] = ir.AreaSnapshot{Density: d}
	}
	for area, d := range remote.Overrides {
		snap.Overrides[area] = d
	}
	snap.Unlocked = append(snap.Unlocked, remote.Unlocked...)
	snap.FiredRules = append(snap.FiredRules, remote.Fired...)
	snap.Normalize()
	if !snap.IsEmpty() {
		r.memory.Seed(userID, snap)
	}
	for _, op := range remote.Fail {
		r.memory.Fail(source.Op(op), errInjected)
	}
}

// execute performs the single action of a step.
func (r *run) execute(ctx context.Context, st Step) error {
	switch {
	case st.Record != "":
		for range max(st.Times, 1) {
			r.eng.RecordInteraction(ir.Interaction{
				ElementID: st.Record,
				Area:      st.Area,
				Action:    st.Action,
			})
		}
	case st.Advance > 0:
		r.clock.Advance(st.Advance)
	case st.Override != nil:
		r.eng.SetOverride(st.Override.Area, st.Override.Density)
	case st.ClearOverride != "":
		r.eng.ClearOverride(st.ClearOverride)
	case st.Seen != "":
		r.eng.MarkSeen(st.Seen)
	case st.Categorize != nil:
		c := st.Categorize
		cat, err := ir.ParseCategory(c.Category)
		if err != nil {
			return err
		}
		r.eng.Categorize(ir.ElementDescriptor{
			ElementID: c.Element,
			Area:      c.Area,
			Category:  cat,
			HelpText:  c.HelpText,
		})
	case st.Evaluate:
		r.eng.EvaluateRules()
	case st.Pull:
		r.eng.Pull(ctx)
	case st.Push:
		r.eng.Push(ctx)
	case st.Flush:
		r.eng.Flush(ctx)
	case st.Fail != "":
		r.memory.Fail(source.Op(st.Fail), errInjected)
	case st.Recover != "":
		r.memory.Fail(source.Op(st.Recover), nil)
	}
	return nil
}

// checkExpect compares live engine state with a step's expectations.
func (r *run) checkExpect(x *Expect) []string {
	var errs []string
	for _, area := range slices.Sorted(maps.Keys(x.Density)) {
		want := x.Density[area]
		st, ok := r.eng.Area(area)
		if !ok {
			errs = append(errs, fmt.Sprintf("density: unknown area %q", area))
			continue
		}
		if got := round(st.Effective()); got != round(want) {
			errs = append(errs, fmt.Sprintf("density of %s: expected %v, got %v", area, round(want), got))
		}
	}

	check := func(label string, ids []string, want bool, get func(string) bool) {
		for _, id := range ids {
			if get(id) != want {
				errs = append(errs, fmt.Sprintf("expected %s to be %s", id, label))
			}
		}
	}
	check("visible", x.Visible, true, r.eng.IsVisible)
	check("hidden", x.Hidden, false, r.eng.IsVisible)
	check("unlocked", x.Unlocked, true, r.eng.IsUnlocked)
	check("locked", x.Locked, false, r.eng.IsUnlocked)
	check("new", x.New, true, r.eng.IsNew)
	return errs
}

// captureState summarizes final area and element state for reports.
func captureState(eng *engine.Engine) map[string]any {
	areas := make(map[string]any)
	for _, id := range eng.Areas() {
		st, _ := eng.Area(id)
		entry := map[string]any{"density": round(st.Effective())}
		if st.Override != nil {
			entry["override"] = round(st.Override.Density)
		}
		areas[id] = entry
	}
	elements := make(map[string]any)
	for _, v := range eng.Elements("") {
		elements[v.ElementID] = map[string]any{
			"unlocked": v.Unlocked,
			"visible":  v.Visible,
			"new":      v.New,
		}
	}
	return map[string]any{"areas": areas, "elements": elements}
}

package engine

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/reveal/internal/deps"
	"github.com/roach88/reveal/internal/density"
	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/rules"
	"github.com/roach88/reveal/internal/syncer"
	"github.com/roach88/reveal/internal/usage"
)

// DefaultAreaDensity is the starting density of an area created by
// Categorize rather than declared in the document.
const DefaultAreaDensity = 0.5

// maxCascadeRounds bounds how many times unlock_category consequences may
// re-trigger rule evaluation within one operation.
const maxCascadeRounds = 32

// Engine is the adaptation engine for one user.
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// serialized; see the package documentation for event delivery.
type Engine struct {
	mu          sync.Mutex
	outbox      []Event
	dispatching bool
	closed      bool
	stopped     atomic.Bool // mirrors closed for lock-free checks during delivery
	initialized bool
	seeded      bool // startup snapshot applied; pushes may start

	settings  Settings
	logger    *slog.Logger
	now       func() time.Time
	afterFunc AfterFunc
	ids       IDGenerator
	clock     *Clock // interaction seq
	events    *Clock // event seq
	metrics   *Metrics

	usage   *usage.Store
	density *density.Calculator
	deps    *deps.Evaluator
	rules   *rules.Engine

	areas         map[string]*ir.AreaState
	areaOrder     []string
	timeDependent []string
	wasUnlocked   map[string]bool
	everVisible   map[string]bool
	seen          map[string]bool
	highlights    map[string]*highlight

	subs     []*subscription
	diags    []ir.Diagnostic
	reported map[string]bool

	userID        string
	primary       syncer.DataSource
	mirrors       []syncer.DataSource
	coord         *syncer.Coordinator
	worker        *syncer.Worker
	background    bool
	pendingTracks []ir.TrackedEvent
}

// ElementView is the observable state of one registered element.
type ElementView struct {
	ir.ElementDescriptor
	Unlocked bool `json:"unlocked"`
	Visible  bool `json:"visible"`
	New      bool `json:"new"`
}

// New creates an engine executing doc.
//
// Malformed elements and rules in doc are skipped and reported as
// diagnostics. New fails only for a nil document, a document without
// areas or invalid settings.
func New(doc *ir.Document, opts ...Option) (*Engine, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if len(doc.Areas) == 0 {
		return nil, ErrNoAreas
	}

	e := &Engine{
		settings:    DefaultSettings(),
		logger:      slog.Default(),
		now:         time.Now,
		afterFunc:   realAfterFunc,
		ids:         UUIDv7Generator{},
		clock:       NewClock(),
		events:      NewClock(),
		areas:       make(map[string]*ir.AreaState),
		wasUnlocked: make(map[string]bool),
		everVisible: make(map[string]bool),
		seen:        make(map[string]bool),
		highlights:  make(map[string]*highlight),
		reported:    make(map[string]bool),
		userID:      "default",
		background:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := validateSettings(e.settings); err != nil {
		return nil, err
	}

	e.usage = usage.New(
		usage.WithMaxEntries(e.settings.MaxEntries),
		usage.WithMaxAge(e.settings.MaxAge),
	)
	e.density = density.New(
		density.WithLearningRate(e.settings.LearningRate),
		density.WithEpsilon(e.settings.Epsilon),
		density.WithWindow(e.settings.Window),
	)
	e.deps = deps.New(e.usage, e.now, e.report)
	e.rules = rules.New(e.deps, e.report)

	if e.primary != nil || len(e.mirrors) > 0 {
		e.coord = syncer.New(e.primary, e.mirrors,
			syncer.WithLogger(e.logger),
			syncer.WithParallelism(e.settings.Parallelism),
		)
		if e.background {
			e.worker = syncer.NewWorker(e.coord, e.userID,
				syncer.OnPush(e.onWorkerPush),
				syncer.OnTrack(e.onWorkerTrack),
			)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, area := range doc.Areas {
		e.ensureAreaLocked(area.ID, area.DefaultDensity)
	}
	for _, area := range doc.Areas {
		for _, desc := range area.Elements {
			if desc.Area == "" {
				desc.Area = area.ID
			}
			e.registerLocked(desc)
		}
	}
	for _, rule := range doc.Rules {
		if err := e.rules.Register(rule); err != nil {
			e.report(ir.DiagnosticFrom(err))
			continue
		}
		if rule.Trigger != nil {
			e.retainLocked(rule.Trigger)
		}
	}

	e.refreshLocked(e.deps.Elements(), true)
	e.logger.Info("engine created",
		"areas", len(e.areaOrder),
		"elements", len(e.deps.Elements()),
		"rules", len(e.rules.Rules()),
		"user", e.userID,
	)
	// Nobody can have subscribed yet; construction events are not replayed.
	e.outbox = nil
	return e, nil
}

// ensureAreaLocked returns the state of an area, creating it at its
// default density.
func (e *Engine) ensureAreaLocked(id string, defaultDensity float64) *ir.AreaState {
	if st, ok := e.areas[id]; ok {
		return st
	}
	d := density.Clamp(defaultDensity)
	st := &ir.AreaState{AreaID: id, Density: d, DefaultDensity: d}
	e.areas[id] = st
	e.areaOrder = append(e.areaOrder, id)
	e.metrics.setDensity(id, d)
	return st
}

// registerLocked registers an element and returns the IDs whose unlock
// state may have changed. The registered element itself is first.
func (e *Engine) registerLocked(desc ir.ElementDescriptor) []string {
	invalidated, err := e.deps.Register(desc)
	if err != nil {
		e.report(ir.DiagnosticFrom(err))
		return nil
	}
	timed := false
	for _, dep := range desc.Dependencies {
		if dep != nil && ir.TimeDependent(dep) {
			e.retainLocked(dep)
			timed = true
		}
	}
	if timed {
		e.timeDependent = append(e.timeDependent, desc.ElementID)
	}
	return append([]string{desc.ElementID}, invalidated...)
}

// retainLocked keeps the history a time-windowed predicate reads out of
// reach of retention pruning.
func (e *Engine) retainLocked(p ir.Predicate) {
	h := ir.Horizon(p)
	if h <= 0 {
		return
	}
	for _, ref := range p.Refs() {
		e.usage.Retain(ref, h)
	}
}

// timeCandidatesLocked returns the elements whose unlock state can change
// with time alone: time-gated elements and everything that references them.
func (e *Engine) timeCandidatesLocked() []string {
	out := slices.Clone(e.timeDependent)
	for _, id := range e.timeDependent {
		out = append(out, e.deps.Dependents(id)...)
	}
	return out
}

// Categorize registers an element at runtime. An element in an area the
// document did not declare creates that area at the default density.
// Registration failures are reported as diagnostics.
func (e *Engine) Categorize(desc ir.ElementDescriptor) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	if desc.Area == "" {
		e.report(ir.DiagnosticFrom(&ir.ConfigError{
			Code:    ir.ErrCodeConfigInvalid,
			Path:    "elements." + desc.ElementID,
			Message: "element area is required",
		}))
		return
	}
	if _, ok := e.areas[desc.Area]; !ok {
		e.ensureAreaLocked(desc.Area, DefaultAreaDensity)
	}
	changed := e.registerLocked(desc)
	if len(changed) == 0 {
		return
	}
	// The new element is observed for the first time; only elements that
	// depended on it can transition.
	e.refreshLocked(changed[:1], true)
	e.refreshLocked(changed[1:], false)
	e.fireLocked(e.rules.Evaluate(changed))
	e.schedulePushLocked()
}

// Record records an interaction with a registered element and returns the
// element's interaction count in its area.
func (e *Engine) Record(elementID string) int {
	return e.RecordInteraction(ir.Interaction{ElementID: elementID})
}

// RecordInteraction records an interaction. Area and Category default to
// the registered descriptor's; ID, Seq and At are assigned when zero.
// Interactions with an unregistered element are recorded only when they
// name a configured area.
//
// Returns the element's interaction count in the area, or 0 when the
// interaction was rejected.
func (e *Engine) RecordInteraction(in ir.Interaction) int {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return 0
	}
	return e.recordLocked(in)
}

func (e *Engine) recordLocked(in ir.Interaction) int {
	if desc, ok := e.deps.Element(in.ElementID); ok {
		if in.Area == "" {
			in.Area = desc.Area
		}
		in.Category = desc.Category
	} else if in.Area == "" {
		e.report(ir.DiagnosticFrom(&ir.StateError{
			Code:    ir.ErrCodeUnknownElement,
			Subject: in.ElementID,
			Message: "interaction with an unregistered element and no area",
		}))
		return 0
	}
	if _, ok := e.areas[in.Area]; !ok {
		e.report(ir.DiagnosticFrom(&ir.StateError{
			Code:    ir.ErrCodeUnknownArea,
			Subject: in.Area,
			Message: "interaction in an unconfigured area",
		}))
		return 0
	}

	if in.ID == "" {
		in.ID = e.ids.Generate()
	}
	in.Seq = e.clock.Next()
	if in.At.IsZero() {
		in.At = e.now()
	}
	if in.Action == "" {
		in.Action = ir.DefaultAction
	}

	count := e.usage.Record(in)
	e.metrics.interaction(in.Area, in.Category.String())
	e.logger.Debug("interaction recorded",
		"element_id", in.ElementID,
		"area", in.Area,
		"category", in.Category,
		"count", count,
		"seq", in.Seq,
	)

	dependents := e.deps.Invalidate(in.ElementID)
	e.rules.Observe(in)

	candidates := slices.Concat(dependents, e.timeCandidatesLocked())
	if e.recomputeLocked(in.Area) {
		candidates = append(candidates, e.areaElementsLocked(in.Area)...)
	}
	e.refreshLocked(candidates, false)

	e.seen[in.ElementID] = true
	e.dismissLocked(in.ElementID, "interacted")

	e.fireLocked(e.rules.Evaluate(append([]string{in.ElementID}, dependents...)))

	e.enqueueTrackLocked(ir.TrackedEventFrom(in))
	e.schedulePushLocked()
	return count
}

// recomputeLocked runs the density calculator for an area and reports
// whether the effective density moved.
func (e *Engine) recomputeLocked(area string) bool {
	st := e.areas[area]
	prev := st.Effective()
	res := e.density.Compute(st, e.usage.History(area))
	if res.Overridden || !res.Changed {
		return false
	}

	e.metrics.setDensity(area, res.Density)
	payload := &DensityPayload{
		Area:          area,
		Density:       res.Density,
		Previous:      prev,
		AdvancedRatio: res.AdvancedRatio,
	}
	if res.Adapted {
		e.logger.Info("density adapted",
			"area", area,
			"density", res.Density,
			"previous", prev,
			"advanced_ratio", res.AdvancedRatio,
		)
		e.emit(Event{Kind: EventAdaptation, Density: payload})
	}
	e.emit(Event{Kind: EventDensityChanged, Density: payload})
	return true
}

// Density returns the effective density of an area. Unknown areas report
// a diagnostic and return 0.
func (e *Engine) Density(area string) float64 {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	st, ok := e.areaLocked(area)
	if !ok {
		return 0
	}
	return st.Effective()
}

// Area returns a copy of an area's state.
func (e *Engine) Area(area string) (ir.AreaState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.areas[area]
	if !ok {
		return ir.AreaState{}, false
	}
	out := *st
	if st.Override != nil {
		o := *st.Override
		out.Override = &o
	}
	return out, true
}

// Areas returns the area IDs in declaration order.
func (e *Engine) Areas() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.areaOrder)
}

// SetOverride freezes an area's density at d (clamped to [0,1]) until
// ClearOverride.
func (e *Engine) SetOverride(area string, d float64) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	st, ok := e.areaLocked(area)
	if !ok {
		return
	}

	d = density.Clamp(d)
	prev := st.Effective()
	st.Override = &ir.Override{Density: d, SetAt: e.now()}
	e.logger.Info("override applied", "area", area, "density", d)
	e.emit(Event{Kind: EventOverrideApplied, Override: &OverridePayload{Area: area, Density: d}})
	e.effectiveChangedLocked(st, prev)
	e.schedulePushLocked()
}

// ClearOverride resumes adaptation for an area. No-op without an override.
func (e *Engine) ClearOverride(area string) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	st, ok := e.areaLocked(area)
	if !ok || st.Override == nil {
		return
	}

	prev := st.Effective()
	st.Override = nil
	e.logger.Info("override cleared", "area", area)
	e.emit(Event{Kind: EventOverrideCleared, Override: &OverridePayload{Area: area}})
	e.effectiveChangedLocked(st, prev)
	e.schedulePushLocked()
}

// effectiveChangedLocked emits density-changed and refreshes the area's
// elements when its effective density differs from prev.
func (e *Engine) effectiveChangedLocked(st *ir.AreaState, prev float64) {
	cur := st.Effective()
	if cur == prev {
		return
	}
	e.metrics.setDensity(st.AreaID, cur)
	e.emit(Event{Kind: EventDensityChanged, Density: &DensityPayload{
		Area:          st.AreaID,
		Density:       cur,
		Previous:      prev,
		AdvancedRatio: st.AdvancedRatio,
	}})
	e.refreshLocked(e.areaElementsLocked(st.AreaID), false)
}

func (e *Engine) areaLocked(area string) (*ir.AreaState, bool) {
	st, ok := e.areas[area]
	if !ok {
		e.report(ir.DiagnosticFrom(&ir.StateError{
			Code:    ir.ErrCodeUnknownArea,
			Subject: area,
			Message: "area is not configured",
		}))
	}
	return st, ok
}

func (e *Engine) areaElementsLocked(area string) []string {
	var out []string
	for _, id := range e.deps.Elements() {
		if desc, _ := e.deps.Element(id); desc.Area == area {
			out = append(out, id)
		}
	}
	return out
}

// EvaluateRules re-checks time-dependent elements and every rule against
// the current time. Hosts call it periodically so that time_based and
// usage_pattern conditions are noticed without a new interaction.
func (e *Engine) EvaluateRules() {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	e.usage.Prune(e.now())
	e.refreshLocked(e.timeCandidatesLocked(), false)
	e.fireLocked(e.rules.Evaluate(nil))
}

// fireLocked executes rule firings and any firings their consequences
// cause, in declaration order.
func (e *Engine) fireLocked(firings []rules.Firing) {
	for round := 0; len(firings) > 0; round++ {
		if round == maxCascadeRounds {
			e.logger.Warn("rule cascade truncated", "rounds", round, "pending", len(firings))
			return
		}
		var changed []string
		for _, f := range firings {
			e.logger.Info("rule fired", "rule", f.Rule.Name, "action", ir.DescribeAction(f.Action))
			e.metrics.ruleFired(f.Rule.Name, f.Action.Kind())
			e.emit(Event{Kind: EventRuleFired, Rule: rulePayload(f.Rule.Name, f.Action)})

			act, ok := f.Action.(ir.UnlockCategory)
			if !ok {
				continue
			}
			if _, known := e.areaLocked(act.Area); !known {
				continue
			}
			for _, id := range e.deps.Force(act.Area, act.Category) {
				changed = append(changed, id)
				changed = append(changed, e.deps.Invalidate(id)...)
			}
		}
		if len(changed) == 0 {
			return
		}
		e.refreshLocked(changed, false)
		e.schedulePushLocked()
		firings = e.rules.Evaluate(changed)
	}
}

// IsUnlocked reports whether an element's dependencies are satisfied or
// its category was force-unlocked. Unknown elements are locked.
func (e *Engine) IsUnlocked(id string) bool {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return false
	}
	e.refreshLocked([]string{id}, false)
	return e.deps.IsUnlocked(id)
}

// IsVisible reports whether an element should be shown: its category is
// forced, or it is unlocked and its area's density reaches the category
// threshold.
func (e *Engine) IsVisible(id string) bool {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return false
	}
	e.refreshLocked([]string{id}, false)
	desc, ok := e.deps.Element(id)
	return ok && e.visibleLocked(desc)
}

// Element returns the state of a registered element.
func (e *Engine) Element(id string) (ElementView, bool) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if _, ok := e.deps.Element(id); !ok || e.closed {
		return ElementView{}, false
	}
	e.refreshLocked([]string{id}, false)
	return e.viewLocked(id), true
}

// Elements returns the state of every element in area, in registration
// order. An empty area lists all elements.
func (e *Engine) Elements(area string) []ElementView {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return nil
	}
	ids := e.deps.Elements()
	if area != "" {
		ids = e.areaElementsLocked(area)
	}
	e.refreshLocked(ids, false)
	out := make([]ElementView, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.viewLocked(id))
	}
	return out
}

func (e *Engine) viewLocked(id string) ElementView {
	desc, _ := e.deps.Element(id)
	desc.Dependencies = slices.Clone(desc.Dependencies)
	return ElementView{
		ElementDescriptor: desc,
		Unlocked:          e.deps.IsUnlocked(id),
		Visible:           e.visibleLocked(desc),
		New:               e.highlights[id] != nil,
	}
}

// threshold returns the minimum effective density at which a category
// is shown.
func (e *Engine) threshold(c ir.Category) float64 {
	switch c {
	case ir.CategoryAdvanced:
		return e.settings.AdvancedThreshold
	case ir.CategoryExpert:
		return e.settings.ExpertThreshold
	default:
		return 0
	}
}

func (e *Engine) visibleLocked(desc ir.ElementDescriptor) bool {
	if e.deps.Forced(desc.Area, desc.Category) {
		return true
	}
	st, ok := e.areas[desc.Area]
	if !ok || !e.deps.IsUnlocked(desc.ElementID) {
		return false
	}
	return st.Effective() >= e.threshold(desc.Category)
}

// refreshLocked re-evaluates elements and emits element-unlocked and
// highlight-added for transitions. A baseline refresh records the current
// state without emitting anything.
func (e *Engine) refreshLocked(ids []string, baseline bool) {
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		if done[id] {
			continue
		}
		done[id] = true
		desc, ok := e.deps.Element(id)
		if !ok {
			continue
		}

		if e.deps.IsUnlocked(id) && !e.wasUnlocked[id] {
			e.wasUnlocked[id] = true
			if !baseline {
				e.logger.Info("element unlocked", "element_id", id, "area", desc.Area)
				e.metrics.unlocked(desc.Area)
				e.emit(Event{Kind: EventElementUnlocked, Element: elementPayload(desc, "")})
			}
		}

		if e.visibleLocked(desc) && !e.everVisible[id] {
			e.everVisible[id] = true
			if !baseline && e.settings.Highlights && !e.seen[id] {
				e.addHighlightLocked(desc)
			}
		}
	}
}

func elementPayload(desc ir.ElementDescriptor, reason string) *ElementPayload {
	return &ElementPayload{
		ElementID: desc.ElementID,
		Area:      desc.Area,
		Category:  desc.Category,
		HelpText:  desc.HelpText,
		Reason:    reason,
	}
}

// Subscribe registers a handler for the given kinds, or for every kind
// when none are given. The returned function unsubscribes; it is safe to
// call more than once.
func (e *Engine) Subscribe(h Handler, kinds ...EventKind) (unsubscribe func()) {
	sub := &subscription{kinds: slices.Clone(kinds), handler: h}
	e.mu.Lock()
	if !e.closed {
		e.subs = append(e.subs, sub)
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.removed.Store(true)
			e.mu.Lock()
			defer e.mu.Unlock()
			e.subs = slices.DeleteFunc(e.subs, func(s *subscription) bool { return s == sub })
		})
	}
}

// Diagnostics returns every diagnostic reported so far, in report order.
func (e *Engine) Diagnostics() []ir.Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.diags)
}

// report records a diagnostic once per (kind, code, subject) and emits it.
// Called with the lock held, including from the evaluators.
func (e *Engine) report(d ir.Diagnostic) {
	key := d.Key()
	if e.reported[key] {
		return
	}
	e.reported[key] = true
	e.diags = append(e.diags, d)
	e.logger.Warn("diagnostic",
		"kind", d.Kind,
		"code", d.Code,
		"subject", d.Subject,
		"message", d.Message,
	)
	e.metrics.diagnostic(string(d.Kind), string(d.Code))
	e.emit(Event{Kind: EventDiagnostic, Diagnostic: &d})
}

// emit stamps an event and queues it for delivery.
func (e *Engine) emit(ev Event) {
	if e.closed {
		return
	}
	ev.Seq = e.events.Next()
	e.outbox = append(e.outbox, ev)
}

// unlockAndDispatch releases the lock and delivers queued events.
//
// Only one goroutine delivers at a time. Events queued by other goroutines
// or by handlers while delivery is in progress are picked up by the
// delivering goroutine, preserving Seq order.
func (e *Engine) unlockAndDispatch() {
	if e.dispatching {
		e.mu.Unlock()
		return
	}
	e.dispatching = true
	for len(e.outbox) > 0 && !e.closed {
		ev := e.outbox[0]
		e.outbox = e.outbox[1:]
		subs := slices.Clone(e.subs)
		e.mu.Unlock()

		for _, s := range subs {
			if e.stopped.Load() {
				break
			}
			if s.wants(ev.Kind) {
				s.handler(ev)
			}
		}

		e.mu.Lock()
	}
	e.dispatching = false
	e.mu.Unlock()
}

// Destroy stops the engine. Pending highlight timers are cancelled, the
// sync worker is stopped, every source is destroyed and subscribers are
// dropped. Idempotent.
//
// Destroy waits for in-flight sync calls to return, so it must not be
// called from a handler of a sync-success or sync-failed event.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopped.Store(true)
	for id, h := range e.highlights {
		if h.timer != nil {
			h.timer.Stop()
		}
		delete(e.highlights, id)
	}
	e.subs = nil
	e.outbox = nil
	e.pendingTracks = nil
	worker, coord := e.worker, e.coord
	e.mu.Unlock()

	if worker != nil {
		worker.Stop()
	}
	if coord != nil {
		coord.Destroy()
	}
	e.logger.Debug("engine destroyed", "user", e.userID)
}

package deps

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/roach88/reveal/internal/ir"
)

// UsageReader is the read side of the usage store.
type UsageReader interface {
	Count(area, element string) int
	CountSince(area, element string, since time.Time) int
	FirstTimestamp(area, element string) (time.Time, bool)
	Between(area, element string, after, until time.Time) bool
}

// ReportFunc receives diagnostics. The caller is responsible for
// report-once deduplication.
type ReportFunc func(ir.Diagnostic)

type forceKey struct {
	area     string
	category ir.Category
}

// Evaluator owns element registration and unlock state.
// Not safe for concurrent use; the engine serializes access.
type Evaluator struct {
	usage  UsageReader
	now    func() time.Time
	report ReportFunc

	elements   map[string]ir.ElementDescriptor
	order      []string
	dependents map[string][]string

	memo     map[string]bool
	latched  map[string]bool
	forced   map[forceKey]bool
	visiting map[string]bool
}

// New creates an Evaluator. now and report may be nil.
func New(usage UsageReader, now func() time.Time, report ReportFunc) *Evaluator {
	if now == nil {
		now = time.Now
	}
	if report == nil {
		report = func(ir.Diagnostic) {}
	}
	return &Evaluator{
		usage:      usage,
		now:        now,
		report:     report,
		elements:   make(map[string]ir.ElementDescriptor),
		dependents: make(map[string][]string),
		memo:       make(map[string]bool),
		latched:    make(map[string]bool),
		forced:     make(map[forceKey]bool),
		visiting:   make(map[string]bool),
	}
}

// Register adds an element. Registering the same ID twice is a
// configuration error; the first registration wins.
//
// Register returns the elements whose memoized result was invalidated
// because they referenced the new element.
func (e *Evaluator) Register(desc ir.ElementDescriptor) ([]string, error) {
	if desc.ElementID == "" {
		return nil, &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: "element", Message: "element id is required"}
	}
	if _, exists := e.elements[desc.ElementID]; exists {
		return nil, &ir.ConfigError{
			Code:    ir.ErrCodeConfigInvalid,
			Path:    "elements." + desc.ElementID,
			Message: "element already registered",
		}
	}

	desc.Dependencies = slices.Clone(desc.Dependencies)
	e.elements[desc.ElementID] = desc
	e.order = append(e.order, desc.ElementID)

	for _, dep := range desc.Dependencies {
		if dep == nil {
			continue
		}
		for _, ref := range dep.Refs() {
			if !slices.Contains(e.dependents[ref], desc.ElementID) {
				e.dependents[ref] = append(e.dependents[ref], desc.ElementID)
			}
		}
	}

	return e.Invalidate(desc.ElementID), nil
}

// Element returns a registered descriptor.
func (e *Evaluator) Element(id string) (ir.ElementDescriptor, bool) {
	desc, ok := e.elements[id]
	return desc, ok
}

// Elements returns registered element IDs in registration order.
func (e *Evaluator) Elements() []string {
	return slices.Clone(e.order)
}

// Dependents returns the elements that transitively reference id, in
// registration order. id itself is included only when it references itself,
// directly or through a cycle.
func (e *Evaluator) Dependents(id string) []string {
	reached := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range e.dependents[cur] {
			if !reached[dep] {
				reached[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	out := make([]string, 0, len(reached))
	for _, el := range e.order {
		if reached[el] {
			out = append(out, el)
		}
	}
	return out
}

// Invalidate drops memoized results for every transitive dependent of id
// and returns them in registration order.
func (e *Evaluator) Invalidate(id string) []string {
	deps := e.Dependents(id)
	for _, el := range deps {
		delete(e.memo, el)
	}
	return deps
}

// InvalidateAll drops every memoized result.
func (e *Evaluator) InvalidateAll() {
	clear(e.memo)
}

// IsUnlocked reports whether an element's gate is open. Unknown elements
// are locked.
func (e *Evaluator) IsUnlocked(id string) bool {
	ok, _ := e.unlocked(id)
	return ok
}

// Satisfied evaluates a single predicate at the current time.
func (e *Evaluator) Satisfied(p ir.Predicate) bool {
	ok, _ := e.satisfied(p, "predicate")
	return ok
}

// Force bypasses dependency evaluation for every element of category in
// area and returns the registered elements affected.
func (e *Evaluator) Force(area string, category ir.Category) []string {
	e.forced[forceKey{area, category}] = true
	var affected []string
	for _, id := range e.order {
		desc := e.elements[id]
		if desc.Area == area && desc.Category == category {
			affected = append(affected, id)
		}
	}
	return affected
}

// Forced reports whether (area, category) has been force-unlocked.
func (e *Evaluator) Forced(area string, category ir.Category) bool {
	return e.forced[forceKey{area, category}]
}

// ForcedCategories lists every force-unlocked (area, category) pair.
func (e *Evaluator) ForcedCategories() []ir.ForcedCategory {
	out := make([]ir.ForcedCategory, 0, len(e.forced))
	for k := range e.forced {
		out = append(out, ir.ForcedCategory{Area: k.area, Category: k.category})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Area != out[j].Area {
			return out[i].Area < out[j].Area
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Latch marks an element permanently unlocked.
func (e *Evaluator) Latch(id string) {
	e.latched[id] = true
}

// IsLatched reports whether an element has been permanently unlocked.
func (e *Evaluator) IsLatched(id string) bool {
	return e.latched[id]
}

// Latched returns the permanently unlocked elements, sorted.
func (e *Evaluator) Latched() []string {
	out := make([]string, 0, len(e.latched))
	for id := range e.latched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// unlocked evaluates an element and reports whether the result may be
// memoized.
func (e *Evaluator) unlocked(id string) (ok bool, cacheable bool) {
	desc, known := e.elements[id]
	if !known {
		e.report(ir.DiagnosticFrom(&ir.StateError{
			Code:    ir.ErrCodeUnknownElement,
			Subject: id,
			Message: "referenced element is not registered",
		}))
		return false, false
	}
	if e.latched[id] || e.forced[forceKey{desc.Area, desc.Category}] {
		return true, true
	}
	if unlocked, hit := e.memo[id]; hit {
		return unlocked, true
	}
	if e.visiting[id] {
		e.report(ir.DiagnosticFrom(&ir.StateError{
			Code:    ir.ErrCodeCycle,
			Subject: id,
			Message: "dependency cycle through element",
		}))
		return false, false
	}

	e.visiting[id] = true
	defer delete(e.visiting, id)

	cacheable = true
	for i, dep := range desc.Dependencies {
		sat, c := e.satisfied(dep, fmt.Sprintf("elements.%s.dependencies[%d]", id, i))
		cacheable = cacheable && c
		if !sat {
			if cacheable {
				e.memo[id] = false
			}
			return false, cacheable
		}
	}

	e.latched[id] = true
	delete(e.memo, id)
	return true, true
}

// satisfied evaluates one predicate. path names the predicate in
// diagnostics.
func (e *Evaluator) satisfied(p ir.Predicate, path string) (ok bool, cacheable bool) {
	switch pred := p.(type) {
	case ir.UsageCount:
		if _, known := e.lookup(pred.ElementID); !known {
			return false, false
		}
		return e.usage.Count("", pred.ElementID) >= pred.Threshold, true

	case ir.LogicalAnd:
		if len(pred.Elements) == 0 {
			e.reportConfig(path, "logical_and requires at least one element")
			return false, true
		}
		cacheable = true
		for _, id := range pred.Elements {
			sat, c := e.unlocked(id)
			cacheable = cacheable && c
			if !sat {
				return false, cacheable
			}
		}
		return true, cacheable

	case ir.TimeBased:
		if _, known := e.lookup(pred.ElementID); !known {
			return false, false
		}
		since := e.now().Add(-pred.Window)
		return e.usage.CountSince("", pred.ElementID, since) >= pred.MinUsage, false

	case ir.Sequence:
		if len(pred.Elements) == 0 {
			e.reportConfig(path, "sequence requires at least one element")
			return false, true
		}
		var prev time.Time
		for i, id := range pred.Elements {
			if _, known := e.lookup(id); !known {
				return false, false
			}
			first, used := e.usage.FirstTimestamp("", id)
			if !used {
				return false, true
			}
			if i > 0 && !prev.Before(first) {
				return false, true
			}
			prev = first
		}
		return true, true

	case ir.UsagePattern:
		buckets := pred.Buckets()
		if buckets <= 0 || len(pred.Elements) == 0 {
			e.reportConfig(path, "usage_pattern requires elements and a duration of at least one frequency period")
			return false, true
		}
		now := e.now()
		for _, id := range pred.Elements {
			if _, known := e.lookup(id); !known {
				return false, false
			}
			for i := 0; i < buckets; i++ {
				until := now.Add(-time.Duration(i) * pred.Frequency)
				after := until.Add(-pred.Frequency)
				if !e.usage.Between("", id, after, until) {
					return false, false
				}
			}
		}
		return true, false

	case ir.ElementInteraction:
		e.reportConfig(path, "element_interaction is only valid as a rule trigger")
		return false, true

	case ir.Malformed:
		e.report(ir.Diagnostic{
			Kind:    ir.DiagConfig,
			Code:    ir.ErrCodeUnknownKind,
			Subject: path,
			Message: pred.Reason,
		})
		return false, true

	default:
		e.report(ir.Diagnostic{
			Kind:    ir.DiagConfig,
			Code:    ir.ErrCodeUnknownKind,
			Subject: path,
			Message: fmt.Sprintf("unsupported predicate %T", p),
		})
		return false, true
	}
}

func (e *Evaluator) lookup(id string) (ir.ElementDescriptor, bool) {
	desc, ok := e.elements[id]
	if !ok {
		e.report(ir.DiagnosticFrom(&ir.StateError{
			Code:    ir.ErrCodeUnknownElement,
			Subject: id,
			Message: "referenced element is not registered",
		}))
	}
	return desc, ok
}

func (e *Evaluator) reportConfig(path, msg string) {
	e.report(ir.DiagnosticFrom(&ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: path, Message: msg}))
}

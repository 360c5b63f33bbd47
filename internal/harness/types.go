package harness

import (
	"math"

	"github.com/roach88/reveal/internal/engine"
)

// TraceEvent is one engine event observed while a scenario ran.
type TraceEvent struct {
	// Step is the index of the step that raised the event. Events raised
	// while the engine initialized have step 0; steps count from 1.
	Step int `json:"step"`

	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`

	// Subject is what the event is about: an area for density and
	// override events, an element for unlock and highlight events, a rule
	// name, a sync operation or a diagnostic subject.
	Subject string `json:"subject"`

	Detail map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// State is the final state per area and element, for reports.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an engine event to the trace.
func (r *Result) AddEvent(step int, ev engine.Event) {
	r.Trace = append(r.Trace, traceEventFrom(step, ev))
}

func traceEventFrom(step int, ev engine.Event) TraceEvent {
	te := TraceEvent{Step: step, Seq: ev.Seq, Kind: string(ev.Kind)}
	switch {
	case ev.Density != nil:
		te.Subject = ev.Density.Area
		te.Detail = map[string]any{
			"density":        round(ev.Density.Density),
			"previous":       round(ev.Density.Previous),
			"advanced_ratio": round(ev.Density.AdvancedRatio),
		}
	case ev.Override != nil:
		te.Subject = ev.Override.Area
		if ev.Kind == engine.EventOverrideApplied {
			te.Detail = map[string]any{"density": round(ev.Override.Density)}
		}
	case ev.Rule != nil:
		te.Subject = ev.Rule.Name
		te.Detail = map[string]any{"action": ev.Rule.Kind}
		if ev.Rule.Area != "" {
			te.Detail["area"] = ev.Rule.Area
			te.Detail["category"] = ev.Rule.Target
		}
		for k, v := range ev.Rule.Data {
			te.Detail["data."+k] = v
		}
	case ev.Element != nil:
		te.Subject = ev.Element.ElementID
		te.Detail = map[string]any{
			"area":     ev.Element.Area,
			"category": ev.Element.Category.String(),
		}
		if ev.Element.Reason != "" {
			te.Detail["reason"] = ev.Element.Reason
		}
	case ev.Sync != nil:
		te.Subject = ev.Sync.Op
		te.Detail = map[string]any{"sources": ev.Sync.Sources}
		if len(ev.Sync.Errors) > 0 {
			te.Detail["errors"] = ev.Sync.Errors
		}
	case ev.Diagnostic != nil:
		te.Subject = ev.Diagnostic.Subject
		te.Detail = map[string]any{
			"kind": string(ev.Diagnostic.Kind),
			"code": string(ev.Diagnostic.Code),
		}
	}
	return te
}

// round keeps four decimals so traces do not depend on float formatting
// of long fractions.
func round(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}

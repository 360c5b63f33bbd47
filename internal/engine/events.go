package engine

import (
	"slices"
	"sync/atomic"

	"github.com/roach88/reveal/internal/ir"
)

// EventKind names an engine event.
type EventKind string

const (
	EventAdaptation       EventKind = "adaptation"
	EventDensityChanged   EventKind = "density-changed"
	EventOverrideApplied  EventKind = "override-applied"
	EventOverrideCleared  EventKind = "override-cleared"
	EventRuleFired        EventKind = "rule-fired"
	EventSyncSuccess      EventKind = "sync-success"
	EventSyncFailed       EventKind = "sync-failed"
	EventElementUnlocked  EventKind = "element-unlocked"
	EventHighlightAdded   EventKind = "highlight-added"
	EventHighlightRemoved EventKind = "highlight-removed"
	EventDiagnostic       EventKind = "diagnostic"
)

// EventKinds lists every event kind.
var EventKinds = []EventKind{
	EventAdaptation, EventDensityChanged, EventOverrideApplied, EventOverrideCleared,
	EventRuleFired, EventSyncSuccess, EventSyncFailed, EventElementUnlocked,
	EventHighlightAdded, EventHighlightRemoved, EventDiagnostic,
}

// Event is delivered to subscribers. Exactly one payload pointer is set,
// matching Kind.
type Event struct {
	Seq  int64     `json:"seq"`
	Kind EventKind `json:"kind"`

	Density    *DensityPayload  `json:"density,omitempty"`
	Override   *OverridePayload `json:"override,omitempty"`
	Rule       *RulePayload     `json:"rule,omitempty"`
	Element    *ElementPayload  `json:"element,omitempty"`
	Sync       *SyncPayload     `json:"sync,omitempty"`
	Diagnostic *ir.Diagnostic   `json:"diagnostic,omitempty"`
}

// DensityPayload carries adaptation and density-changed details.
type DensityPayload struct {
	Area          string  `json:"area"`
	Density       float64 `json:"density"`
	Previous      float64 `json:"previous"`
	AdvancedRatio float64 `json:"advancedRatio"`
}

// OverridePayload carries override-applied and override-cleared details.
// Density is zero for override-cleared.
type OverridePayload struct {
	Area    string  `json:"area"`
	Density float64 `json:"density,omitempty"`
}

// RulePayload carries rule-fired details.
type RulePayload struct {
	Name   string         `json:"ruleName"`
	Kind   string         `json:"actionType"`
	Area   string         `json:"area,omitempty"`
	Target string         `json:"category,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// ElementPayload carries element-unlocked and highlight details.
type ElementPayload struct {
	ElementID string      `json:"elementId"`
	Area      string      `json:"area"`
	Category  ir.Category `json:"category"`
	HelpText  string      `json:"helpText,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// SyncPayload carries sync-success and sync-failed details.
type SyncPayload struct {
	Op      string   `json:"op"`
	Sources []string `json:"sources"`
	Errors  []string `json:"errors,omitempty"`
}

// Handler receives events. Handlers run without the engine lock held and
// may call back into the engine; events raised by such calls are delivered
// after the current one.
type Handler func(Event)

type subscription struct {
	kinds   []EventKind // empty means all kinds
	handler Handler
	removed atomic.Bool
}

func (s *subscription) wants(kind EventKind) bool {
	if s.removed.Load() {
		return false
	}
	return len(s.kinds) == 0 || slices.Contains(s.kinds, kind)
}

func rulePayload(name string, action ir.Action) *RulePayload {
	p := &RulePayload{Name: name}
	if action == nil {
		return p
	}
	p.Kind = action.Kind()
	switch act := action.(type) {
	case ir.UnlockCategory:
		p.Area = act.Area
		p.Target = act.Category.String()
	case ir.ShowTutorial:
		p.Data = act.Data
	}
	return p
}

package engine

import "github.com/roach88/reveal/internal/ir"

// highlight marks an element as new until it is seen, interacted with or
// its auto-dismiss timer fires.
type highlight struct {
	desc  ir.ElementDescriptor
	timer Timer
}

func (e *Engine) addHighlightLocked(desc ir.ElementDescriptor) {
	if _, exists := e.highlights[desc.ElementID]; exists {
		return
	}
	h := &highlight{desc: desc}
	e.highlights[desc.ElementID] = h
	e.logger.Debug("highlight added", "element_id", desc.ElementID, "area", desc.Area)
	e.emit(Event{Kind: EventHighlightAdded, Element: elementPayload(desc, "")})

	if d := e.settings.HighlightDuration; d > 0 {
		id := desc.ElementID
		h.timer = e.afterFunc(d, func() { e.expireHighlight(id, h) })
	}
}

// expireHighlight runs on the timer goroutine. The highlight pointer
// guards against a newer highlight for the same element.
func (e *Engine) expireHighlight(id string, h *highlight) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed || e.highlights[id] != h {
		return
	}
	e.removeHighlightLocked(id, "expired")
}

// dismissLocked clears an element's highlight, if any.
func (e *Engine) dismissLocked(id, reason string) {
	h, ok := e.highlights[id]
	if !ok {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	e.removeHighlightLocked(id, reason)
}

func (e *Engine) removeHighlightLocked(id, reason string) {
	h := e.highlights[id]
	delete(e.highlights, id)
	e.logger.Debug("highlight removed", "element_id", id, "reason", reason)
	e.emit(Event{Kind: EventHighlightRemoved, Element: elementPayload(h.desc, reason)})
}

// IsNew reports whether an element is highlighted as newly revealed.
func (e *Engine) IsNew(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.highlights[id] != nil
}

// MarkSeen clears an element's highlight and prevents it from being
// highlighted later.
func (e *Engine) MarkSeen(id string) {
	e.mu.Lock()
	defer e.unlockAndDispatch()
	if e.closed {
		return
	}
	e.seen[id] = true
	e.dismissLocked(id, "seen")
}

// Highlighted returns the highlighted element IDs in registration order.
func (e *Engine) Highlighted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, id := range e.deps.Elements() {
		if e.highlights[id] != nil {
			out = append(out, id)
		}
	}
	return out
}

// Package rules evaluates trigger/action rules.
//
// Rules are evaluated in declaration order. A rule whose trigger is
// satisfied yields a Firing; the caller executes the action. Firing is
// guarded by a fired set, so a non-repeatable rule fires at most once per
// engine even if its trigger stays satisfied. Repeatable rules fire on each
// false→true edge of their trigger.
//
// element_interaction triggers are edge-triggered: Observe arms them and
// the next evaluation consumes the arm.
package rules

import (
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/reveal/internal/ir"
)

// PredicateEvaluator evaluates level-triggered predicates.
// Implemented by *deps.Evaluator.
type PredicateEvaluator interface {
	Satisfied(p ir.Predicate) bool
}

// Firing is a rule whose action must be executed.
type Firing struct {
	Rule   ir.Rule
	Action ir.Action
}

// Engine holds registered rules and their firing state.
// Not safe for concurrent use; the engine serializes access.
type Engine struct {
	eval   PredicateEvaluator
	report func(ir.Diagnostic)

	rules []ir.Rule
	names map[string]bool
	fired map[string]bool
	level map[string]bool // last trigger level, repeatable rules only
	armed map[string]bool // element_interaction rules with a pending edge
}

// New creates a rule engine. report may be nil.
func New(eval PredicateEvaluator, report func(ir.Diagnostic)) *Engine {
	if report == nil {
		report = func(ir.Diagnostic) {}
	}
	return &Engine{
		eval:   eval,
		report: report,
		names:  make(map[string]bool),
		fired:  make(map[string]bool),
		level:  make(map[string]bool),
		armed:  make(map[string]bool),
	}
}

// Register adds a rule. Rules without a name, trigger or action, and
// duplicate names, are rejected.
func (e *Engine) Register(rule ir.Rule) error {
	path := fmt.Sprintf("rules.%s", rule.Name)
	switch {
	case rule.Name == "":
		return &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: "rules", Message: "rule name is required"}
	case e.names[rule.Name]:
		return &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: path, Message: "duplicate rule name"}
	case rule.Trigger == nil:
		return &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: path + ".trigger", Message: "trigger is required"}
	case rule.Action == nil:
		return &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: path + ".action", Message: "action is required"}
	}
	e.names[rule.Name] = true
	e.rules = append(e.rules, rule)
	return nil
}

// Rules returns the registered rules in declaration order.
func (e *Engine) Rules() []ir.Rule {
	return slices.Clone(e.rules)
}

// Observe arms element_interaction triggers that list the interaction's
// element and returns the names of rules armed.
func (e *Engine) Observe(in ir.Interaction) []string {
	var armed []string
	for _, rule := range e.rules {
		trig, ok := rule.Trigger.(ir.ElementInteraction)
		if !ok || (e.fired[rule.Name] && !rule.Repeatable) {
			continue
		}
		if slices.Contains(trig.Elements, in.ElementID) {
			e.armed[rule.Name] = true
			armed = append(armed, rule.Name)
		}
	}
	return armed
}

// Evaluate checks rules whose trigger references any element in changed.
// A nil changed slice evaluates every rule. Firings are returned in
// declaration order and are already recorded in the fired set.
func (e *Engine) Evaluate(changed []string) []Firing {
	var firings []Firing
	for _, rule := range e.rules {
		if e.fired[rule.Name] && !rule.Repeatable {
			continue
		}
		if changed != nil && !touches(rule.Trigger, changed) {
			continue
		}

		sat := e.triggered(rule)
		if rule.Repeatable {
			prev := e.level[rule.Name]
			e.level[rule.Name] = sat
			if !sat || prev {
				continue
			}
		} else if !sat {
			continue
		}

		e.fired[rule.Name] = true
		firings = append(firings, Firing{Rule: rule, Action: rule.Action})
	}
	return firings
}

func (e *Engine) triggered(rule ir.Rule) bool {
	if _, ok := rule.Trigger.(ir.ElementInteraction); ok {
		if !e.armed[rule.Name] {
			return false
		}
		delete(e.armed, rule.Name)
		if rule.Repeatable {
			// Each observed interaction is its own edge.
			e.level[rule.Name] = false
		}
		return true
	}
	return e.eval.Satisfied(rule.Trigger)
}

// MarkFired records rules as already fired, e.g. when restoring a snapshot.
// Unknown names are kept so they apply if the rule is registered later.
func (e *Engine) MarkFired(names ...string) {
	for _, n := range names {
		e.fired[n] = true
	}
}

// HasFired reports whether a rule has fired.
func (e *Engine) HasFired(name string) bool {
	return e.fired[name]
}

// Fired returns the fired rule names, sorted.
func (e *Engine) Fired() []string {
	out := make([]string, 0, len(e.fired))
	for n := range e.fired {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func touches(p ir.Predicate, changed []string) bool {
	if p == nil {
		return false
	}
	for _, ref := range p.Refs() {
		if slices.Contains(changed, ref) {
			return true
		}
	}
	return false
}

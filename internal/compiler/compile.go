package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/reveal/internal/ir"
)

// DefaultDensity is the starting density of an area that does not declare
// defaultDensity.
const DefaultDensity = 0.5

// CompileDocument parses a CUE value into a Document.
//
// The value is the whole configuration document:
//
//	areas: editor: {
//		defaultDensity: 0.4
//		elements: [
//			{id: "save", category: "basic"},
//			{id: "macro", category: "expert", dependencies: [
//				{type: "usage_count", elementId: "save", threshold: 5},
//			]},
//		]
//	}
//	rules: [{
//		name: "unlock-advanced"
//		trigger: {type: "usage_count", elementId: "save", threshold: 10}
//		action: {type: "unlock_category", area: "editor", category: "advanced"}
//	}]
//
// A malformed entry is reported in the returned slice and skipped; the rest
// of the document still compiles. A malformed dependency is kept as an
// ir.Malformed so its element stays locked. The error result is reserved
// for documents that cannot be read at all.
func CompileDocument(v cue.Value) (*ir.Document, []*CompileError, error) {
	if err := v.Err(); err != nil {
		return nil, nil, formatCUEError("document", err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, nil, &CompileError{
			Code:    ErrDocumentInvalid,
			Field:   "document",
			Message: "document must be a struct",
			Pos:     v.Pos(),
		}
	}

	areasVal := v.LookupPath(cue.ParsePath("areas"))
	if !areasVal.Exists() {
		return nil, nil, &CompileError{
			Code:    ErrDocumentInvalid,
			Field:   "areas",
			Message: "areas is required",
			Pos:     v.Pos(),
		}
	}

	c := &docCompiler{seen: make(map[string]string)}
	doc := &ir.Document{}

	iter, err := areasVal.Fields()
	if err != nil {
		return nil, nil, formatCUEError("areas", err)
	}
	for iter.Next() {
		if area, ok := c.area(iter.Label(), iter.Value()); ok {
			doc.Areas = append(doc.Areas, area)
		}
	}
	if len(doc.Areas) == 0 {
		c.fail(ErrDocumentInvalid, "areas", "document declares no usable areas", areasVal.Pos())
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if rulesVal.Exists() {
		list, err := rulesVal.List()
		if err != nil {
			c.add(formatCUEError("rules", err))
		} else {
			names := make(map[string]bool)
			for i := 0; list.Next(); i++ {
				rule, ok := c.rule(fmt.Sprintf("rules[%d]", i), list.Value())
				if !ok {
					continue
				}
				if names[rule.Name] {
					c.fail(ErrDuplicateRule, fmt.Sprintf("rules[%d]", i),
						fmt.Sprintf("rule %q is already declared", rule.Name), list.Value().Pos())
					continue
				}
				names[rule.Name] = true
				doc.Rules = append(doc.Rules, rule)
			}
		}
	}

	return doc, c.errs, nil
}

type docCompiler struct {
	errs []*CompileError
	seen map[string]string // element id -> declaring area
}

func (c *docCompiler) add(err *CompileError) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *docCompiler) fail(code, field, msg string, pos token.Pos) {
	c.errs = append(c.errs, &CompileError{Code: code, Field: field, Message: msg, Pos: pos})
}

func (c *docCompiler) area(id string, v cue.Value) (ir.AreaConfig, bool) {
	path := "areas." + id
	area := ir.AreaConfig{ID: id, DefaultDensity: DefaultDensity}

	if strings.TrimSpace(id) == "" {
		c.fail(ErrAreaInvalid, path, "area id must be non-empty", v.Pos())
		return area, false
	}

	if dv := v.LookupPath(cue.ParsePath("defaultDensity")); dv.Exists() {
		d, err := dv.Float64()
		switch {
		case err != nil:
			c.add(withCode(ErrAreaInvalid, formatCUEError(path+".defaultDensity", err)))
		case d < 0 || d > 1:
			c.fail(ErrAreaInvalid, path+".defaultDensity",
				fmt.Sprintf("density %v outside [0,1], using %v", d, DefaultDensity), dv.Pos())
		default:
			area.DefaultDensity = d
		}
	}

	ev := v.LookupPath(cue.ParsePath("elements"))
	if !ev.Exists() {
		return area, true
	}
	list, err := ev.List()
	if err != nil {
		c.add(withCode(ErrAreaInvalid, formatCUEError(path+".elements", err)))
		return area, true
	}
	for i := 0; list.Next(); i++ {
		if desc, ok := c.element(id, fmt.Sprintf("%s.elements[%d]", path, i), list.Value()); ok {
			area.Elements = append(area.Elements, desc)
		}
	}
	return area, true
}

func (c *docCompiler) element(area, path string, v cue.Value) (ir.ElementDescriptor, bool) {
	desc := ir.ElementDescriptor{Area: area, Category: ir.CategoryBasic}

	id, ok := c.requiredString(v, path, "id", ErrElementInvalid)
	if !ok {
		return desc, false
	}
	desc.ElementID = id
	path = fmt.Sprintf("areas.%s.elements.%s", area, id)

	if prev, dup := c.seen[id]; dup {
		c.fail(ErrDuplicateElement, path,
			fmt.Sprintf("element %q is already declared in area %q", id, prev), v.Pos())
		return desc, false
	}

	if cv := v.LookupPath(cue.ParsePath("category")); cv.Exists() {
		s, err := cv.String()
		if err != nil {
			c.add(withCode(ErrElementInvalid, formatCUEError(path+".category", err)))
			return desc, false
		}
		cat, err := ir.ParseCategory(s)
		if err != nil {
			c.fail(ErrElementInvalid, path+".category", err.Error(), cv.Pos())
			return desc, false
		}
		desc.Category = cat
	}

	if hv := v.LookupPath(cue.ParsePath("helpText")); hv.Exists() {
		s, err := hv.String()
		if err != nil {
			c.add(withCode(ErrElementInvalid, formatCUEError(path+".helpText", err)))
		} else {
			desc.HelpText = s
		}
	}

	if dv := v.LookupPath(cue.ParsePath("dependencies")); dv.Exists() {
		list, err := dv.List()
		if err != nil {
			c.add(withCode(ErrPredicateInvalid, formatCUEError(path+".dependencies", err)))
			desc.Dependencies = append(desc.Dependencies, ir.Malformed{Reason: "dependencies must be a list"})
		} else {
			for i := 0; list.Next(); i++ {
				desc.Dependencies = append(desc.Dependencies,
					c.dependency(fmt.Sprintf("%s.dependencies[%d]", path, i), list.Value()))
			}
		}
	}

	c.seen[id] = area
	return desc, true
}

// dependency compiles one element dependency. Rejected entries become
// ir.Malformed rather than disappearing.
func (c *docCompiler) dependency(path string, v cue.Value) ir.Predicate {
	p, err := compilePredicate(path, v)
	if err == nil && p.Kind() == ir.KindElementInteraction {
		err = &CompileError{
			Code:    ErrTriggerOnlyKind,
			Field:   path,
			Message: "element_interaction is only valid as a rule trigger",
			Pos:     v.Pos(),
		}
	}
	if err != nil {
		c.add(err)
		kind, _ := v.LookupPath(cue.ParsePath("type")).String()
		return ir.Malformed{Declared: kind, Reason: err.Message}
	}
	return p
}

func (c *docCompiler) rule(path string, v cue.Value) (ir.Rule, bool) {
	var rule ir.Rule

	name, ok := c.requiredString(v, path, "name", ErrRuleInvalid)
	if !ok {
		return rule, false
	}
	rule.Name = name
	path = "rules." + name

	tv := v.LookupPath(cue.ParsePath("trigger"))
	if !tv.Exists() {
		c.fail(ErrRuleInvalid, path+".trigger", "trigger is required", v.Pos())
		return rule, false
	}
	trigger, err := compilePredicate(path+".trigger", tv)
	if err != nil {
		c.add(err)
		return rule, false
	}
	rule.Trigger = trigger

	av := v.LookupPath(cue.ParsePath("action"))
	if !av.Exists() {
		c.fail(ErrRuleInvalid, path+".action", "action is required", v.Pos())
		return rule, false
	}
	action, err := compileAction(path+".action", av)
	if err != nil {
		c.add(err)
		return rule, false
	}
	rule.Action = action

	if rv := v.LookupPath(cue.ParsePath("repeatable")); rv.Exists() {
		b, err := rv.Bool()
		if err != nil {
			c.add(withCode(ErrRuleInvalid, formatCUEError(path+".repeatable", err)))
			return rule, false
		}
		rule.Repeatable = b
	}

	return rule, true
}

func (c *docCompiler) requiredString(v cue.Value, path, field, code string) (string, bool) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		c.fail(code, path+"."+field, field+" is required", v.Pos())
		return "", false
	}
	s, err := fv.String()
	if err != nil {
		c.add(withCode(code, formatCUEError(path+"."+field, err)))
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		c.fail(code, path+"."+field, field+" must be non-empty", fv.Pos())
		return "", false
	}
	return s, true
}

// compilePredicate parses a dependency or trigger struct keyed by its type
// field.
func compilePredicate(path string, v cue.Value) (ir.Predicate, *CompileError) {
	invalid := func(at cue.Value, format string, args ...any) *CompileError {
		return &CompileError{
			Code:    ErrPredicateInvalid,
			Field:   path,
			Message: fmt.Sprintf(format, args...),
			Pos:     at.Pos(),
		}
	}

	tv := v.LookupPath(cue.ParsePath("type"))
	if !tv.Exists() {
		return nil, invalid(v, "type is required")
	}
	kind, err := tv.String()
	if err != nil {
		return nil, withCode(ErrPredicateInvalid, formatCUEError(path+".type", err))
	}

	switch kind {
	case ir.KindUsageCount:
		id, err := stringField(v, "elementId")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		n, err := intField(v, "threshold", 0)
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		return ir.UsageCount{ElementID: id, Threshold: n}, nil

	case ir.KindLogicalAnd, ir.KindSequence, ir.KindElementInteraction:
		elems, err := stringList(v, "elements")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		switch kind {
		case ir.KindLogicalAnd:
			return ir.LogicalAnd{Elements: elems}, nil
		case ir.KindSequence:
			return ir.Sequence{Elements: elems}, nil
		default:
			return ir.ElementInteraction{Elements: elems}, nil
		}

	case ir.KindTimeBased:
		id, err := stringField(v, "elementId")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		window, err := windowField(v, "timeWindow")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		n, err := intField(v, "minUsage", 0)
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		return ir.TimeBased{ElementID: id, Window: window, MinUsage: n}, nil

	case ir.KindUsagePattern:
		elems, err := stringList(v, "elements")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		freq, err := windowField(v, "frequency")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		dur, err := windowField(v, "duration")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		if dur < freq {
			return nil, invalid(v, "duration %v is shorter than frequency %v", dur, freq)
		}
		return ir.UsagePattern{Elements: elems, Frequency: freq, Duration: dur}, nil

	default:
		return nil, &CompileError{
			Code:    ErrUnknownKind,
			Field:   path,
			Message: fmt.Sprintf("unknown type %q", kind),
			Pos:     tv.Pos(),
		}
	}
}

func compileAction(path string, v cue.Value) (ir.Action, *CompileError) {
	invalid := func(at cue.Value, format string, args ...any) *CompileError {
		return &CompileError{
			Code:    ErrActionInvalid,
			Field:   path,
			Message: fmt.Sprintf(format, args...),
			Pos:     at.Pos(),
		}
	}

	tv := v.LookupPath(cue.ParsePath("type"))
	if !tv.Exists() {
		return nil, invalid(v, "type is required")
	}
	kind, err := tv.String()
	if err != nil {
		return nil, withCode(ErrActionInvalid, formatCUEError(path+".type", err))
	}

	switch kind {
	case ir.ActionUnlockCategory:
		area, err := stringField(v, "area")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		s, err := stringField(v, "category")
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		cat, err := ir.ParseCategory(s)
		if err != nil {
			return nil, invalid(v, "%v", err)
		}
		return ir.UnlockCategory{Area: area, Category: cat}, nil

	case ir.ActionShowTutorial:
		data := map[string]any{}
		if dv := v.LookupPath(cue.ParsePath("data")); dv.Exists() {
			raw, err := dv.MarshalJSON()
			if err != nil {
				return nil, withCode(ErrActionInvalid, formatCUEError(path+".data", err))
			}
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, invalid(dv, "data must be a struct: %v", err)
			}
		}
		return ir.ShowTutorial{Data: data}, nil

	default:
		return nil, &CompileError{
			Code:    ErrUnknownKind,
			Field:   path,
			Message: fmt.Sprintf("unknown action type %q", kind),
			Pos:     tv.Pos(),
		}
	}
}

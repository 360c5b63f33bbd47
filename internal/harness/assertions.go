package harness

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/reveal/internal/engine"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [step %d, seq %d] %s %s\n", event.Step, event.Seq, event.Kind, event.Subject)
		}
	}

	return buf.String()
}

// matches reports whether an event has the given kind and, when given,
// subject.
func matches(event TraceEvent, kind, subject string) bool {
	return event.Kind == kind && (subject == "" || event.Subject == subject)
}

// describe renders a kind and optional subject.
func describe(kind, subject string) string {
	if subject == "" {
		return kind
	}
	return kind + ":" + subject
}

// assertTraceContains checks if the trace contains an event matching the
// kind, subject and detail (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion.Kind, assertion.Subject) && matchDetail(event.Detail, assertion.Detail) {
			return nil
		}
	}

	expected := describe(assertion.Kind, assertion.Subject)
	if len(assertion.Detail) > 0 {
		expected += fmt.Sprintf(" with detail %v", assertion.Detail)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events first occur in the given order.
// Events don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make([]int, len(assertion.Events))
	for i, want := range assertion.Events {
		kind, subject, _ := strings.Cut(want, ":")
		positions[i] = slices.IndexFunc(trace, func(ev TraceEvent) bool {
			return matches(ev, kind, subject)
		})
		if positions[i] < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", want),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(positions); i++ {
		if positions[i-1] >= positions[i] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					assertion.Events[i-1], positions[i-1]+1, assertion.Events[i], positions[i]+1),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if an event occurs exactly the specified number
// of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion.Kind, assertion.Subject) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s occurs %d times", describe(assertion.Kind, assertion.Subject), assertion.Count),
			Actual:   fmt.Sprintf("occurs %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares an area's or element's final state with the
// expected fields. Areas expose density and override; elements expose
// unlocked, visible and new.
func assertFinalState(eng *engine.Engine, assertion Assertion) error {
	var (
		actual map[string]any
		target string
	)
	if assertion.Area != "" {
		target = "area " + assertion.Area
		st, ok := eng.Area(assertion.Area)
		if !ok {
			return &AssertionError{Type: AssertFinalState, Expected: target, Actual: "area not configured"}
		}
		actual = map[string]any{"density": round(st.Effective())}
		if st.Override != nil {
			actual["override"] = round(st.Override.Density)
		} else {
			actual["override"] = nil
		}
	} else {
		target = "element " + assertion.Element
		v, ok := eng.Element(assertion.Element)
		if !ok {
			return &AssertionError{Type: AssertFinalState, Expected: target, Actual: "element not registered"}
		}
		actual = map[string]any{"unlocked": v.Unlocked, "visible": v.Visible, "new": v.New}
	}

	for _, field := range slices.Sorted(maps.Keys(assertion.Expect)) {
		want := assertion.Expect[field]
		got, known := actual[field]
		if !known {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s field %s", target, field),
				Actual:   "unknown field",
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %s=%v", target, field, want),
				Actual:   fmt.Sprintf("%s=%v", field, got),
			}
		}
	}
	return nil
}

// matchDetail checks if actual detail contains all expected fields
// (subset match). Extra keys in actual are ignored.
func matchDetail(actual, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists || !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares a traced or state value with a value decoded from
// YAML. YAML integers compare equal to floats of the same value, and
// string slices compare equal to YAML sequences.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if a, ok := toFloat(actual); ok {
		e, ok := toFloat(expected)
		return ok && round(a) == round(e)
	}

	if a, ok := actual.([]string); ok {
		e, ok := expected.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range a {
			if s, ok := e[i].(string); !ok || s != a[i] {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// EvaluateAssertions evaluates all assertions against the result and the
// engine's final state. Returns a message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, eng *engine.Engine) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if eng == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires an engine", i)
			} else {
				err = assertFinalState(eng, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

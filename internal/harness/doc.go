// Package harness runs scenario files against the adaptation engine.
//
// A scenario loads a configuration document, drives an engine through a
// list of steps and checks the resulting event trace and final state.
// Scenarios are regression fixtures for tests and the input of
// "reveal simulate".
//
// # Scenario Format
//
//	name: power_user
//	description: "Saving often unlocks the expert tier"
//	document: ../documents/editor.cue   # or an inline mapping
//	settings:
//	  adaptation: { learning_rate: 1 }
//	remote:
//	  densities: { editor: 0.4 }
//	steps:
//	  - record: save
//	    times: 5
//	  - advance: 24h
//	  - evaluate: true
//	  - override: { area: editor, density: 0.9 }
//	  - expect:
//	      density: { editor: 0.9 }
//	      visible: [macros]
//	assertions:
//	  - type: trace_contains
//	    kind: rule-fired
//	    subject: power-user
//	  - type: trace_order
//	    events: [rule-fired:power-user, element-unlocked:macros]
//	  - type: final_state
//	    element: macros
//	    expect: { visible: true }
//
// # Steps
//
// Each step performs one action: record (with optional area, action and
// times), advance, override, clear_override, seen, categorize, evaluate,
// pull, push, flush, fail or recover. fail and recover inject and clear
// failures of one in-memory data source operation. A step may carry an
// expect block, checked right after its action, or consist of an expect
// block alone.
//
// # Assertion Types
//
//   - trace_contains: an event of a kind, optionally with subject and
//     detail fields, occurred
//   - trace_order: events occurred in the given order
//   - trace_count: an event occurred exactly N times
//   - final_state: an area or element ended in the expected state
//
// # Deterministic Execution
//
// Every run uses a fresh engine with:
//   - a fake wall clock starting at scenario.start (testutil.FakeClock);
//     advance steps fire highlight timers synchronously
//   - sequential interaction IDs (testutil.SequentialIDGenerator)
//   - an in-memory data source synced only by pull, push and flush steps
//
// so the same scenario always produces the same trace, which golden files
// under testdata/golden pin down.
package harness

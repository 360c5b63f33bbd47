// Package deps decides whether gated elements are unlocked.
//
// An element is unlocked when every entry of its dependency list is
// satisfied (implicit AND). Each entry is one of the closed ir.Predicate
// kinds and is evaluated by an exhaustive type switch.
//
// # Fail closed
//
// A predicate that references an unregistered element, forms a reference
// cycle, or has a kind the evaluator cannot handle is never satisfied. The
// problem is reported through the diagnostics callback instead of being
// returned, so one bad entry cannot stop evaluation of its siblings.
//
// Usage is read across every area: an interaction recorded against an
// element under another area still counts toward its gates.
//
// # Memoization
//
// Results are memoized per element. A reverse index (referenced element →
// dependent elements) is built at registration time; Invalidate walks it
// transitively so only elements whose inputs changed are re-evaluated.
// Results that depend on the passage of time (time_based, usage_pattern,
// anywhere in the reference closure) are never memoized as false.
//
// # Latch
//
// Once an element is unlocked it stays unlocked. The latch is kept apart
// from raw history because history is pruned.
package deps

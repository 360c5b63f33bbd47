// Package engine wires the usage store, density calculator, dependency
// evaluator, rule engine and sync coordinator into one adaptation engine.
//
// Single writer:
// Every mutation (Record, Categorize, overrides, snapshot merges) runs under
// one mutex, and an interaction is fully applied (density recomputed,
// dependents re-evaluated, rules fired) before the next one is accepted.
// Evaluators never observe a half-applied interaction.
//
// Events:
// State changes append events to an outbox. The goroutine that produced
// them delivers them after releasing the lock, in order, so handlers may
// call back into the engine. Events raised by a handler are delivered after
// the event being handled. Event.Seq comes from a logical Clock and is
// strictly increasing.
//
// Sync:
// Data-source I/O never runs under the lock. Init pulls the primary source
// once; afterwards pushes and tracked events go through a background
// syncer.Worker (or are held until Flush when background sync is off).
// Source failures never reach the caller; they become diagnostics and
// sync-failed events.
//
// Lifecycle:
// Destroy cancels highlight timers, stops the worker and destroys sources.
// No handler is invoked after Destroy returns on the destroying goroutine.
package engine

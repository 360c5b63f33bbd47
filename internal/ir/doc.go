// Package ir provides the data model shared by every reveal component.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Interactions are immutable once recorded
//   - Predicate and Action are closed sum types; evaluators switch over them
//     exhaustively so a new kind is a compile-time change
//   - Snapshot JSON uses camelCase keys to match the data-source wire format
//   - Seq is the logical arrival order; At is the wall-clock time used only
//     for time windows
package ir

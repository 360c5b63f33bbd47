// Package source provides concrete data sources for the sync coordinator.
//
//   - Memory: in-process map, used by tests and simulations
//   - SQLite: local durable store (mattn/go-sqlite3, WAL mode)
//   - Postgres: shared durable store (lib/pq)
//   - API: remote HTTP service with retries and schema-validated pulls
//   - WebSocketMirror: write-only live mirror (nhooyr.io/websocket)
//
// Every source implements syncer.DataSource and is safe for concurrent use.
// Calls made before Initialize or after Destroy fail with syncer.ErrNotReady.
package source

import "github.com/roach88/reveal/internal/syncer"

var (
	_ syncer.DataSource = (*Memory)(nil)
	_ syncer.DataSource = (*SQLite)(nil)
	_ syncer.DataSource = (*Postgres)(nil)
	_ syncer.DataSource = (*API)(nil)
	_ syncer.DataSource = (*WebSocketMirror)(nil)
)
